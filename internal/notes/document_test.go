package notes

import "testing"

func TestParse_Lossless(t *testing.T) {
	t.Parallel()

	inputs := []string{
		"",
		"just text",
		"preamble\n\n## 2025-01-01\nbody\n",
		"## 2025-01-01\n- a\n- b\n\n## 2025-01-02 \r\nwindows\r\n### sub\n",
		"\n## 2025-10-07 09:30:00\nx\n##\nnot a header\n",
		"## last without newline",
	}
	for _, in := range inputs {
		if got := Parse(in).String(); got != in {
			t.Errorf("round trip of %q = %q", in, got)
		}
	}
}

func TestParse_Sections(t *testing.T) {
	t.Parallel()

	doc := Parse("intro\n## 2025-01-01\nalpha\n### detail\n##2025-01-02\nbeta\n")
	if doc.Preamble != "intro\n" {
		t.Errorf("preamble = %q", doc.Preamble)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(doc.Sections))
	}
	if doc.Sections[0].Key != "2025-01-01" || doc.Sections[0].Body != "alpha\n### detail\n" {
		t.Errorf("section 0 = %+v", doc.Sections[0])
	}
	if doc.Sections[1].Key != "2025-01-02" {
		t.Errorf("section 1 key = %q", doc.Sections[1].Key)
	}
	if doc.Find("2025-01-02") != 1 || doc.Find("2025-01-03") != -1 {
		t.Error("Find returned wrong index")
	}
}

func TestParse_OnlyDatesOpenSections(t *testing.T) {
	t.Parallel()

	doc := Parse("## Ideas\nfree\n## 2025-10-07\n## Shopping\n- milk\n## 2025-10-07 18:00:00\nlate\n")
	if doc.Preamble != "## Ideas\nfree\n" {
		t.Errorf("preamble = %q", doc.Preamble)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2: %+v", len(doc.Sections), doc.Sections)
	}
	if doc.Sections[0].Body != "## Shopping\n- milk\n" {
		t.Errorf("body = %q, want the heading kept as text", doc.Sections[0].Body)
	}
	if doc.Sections[1].Key != "2025-10-07 18:00:00" {
		t.Errorf("second key = %q", doc.Sections[1].Key)
	}

	for key, want := range map[string]bool{
		"2025-10-07":          true,
		"2025-10-07 09:30:00": true,
		"2025-10-07-notes":    false,
		"Shopping":            false,
		"25-10-07":            false,
	} {
		if got := IsDateKey(key); got != want {
			t.Errorf("IsDateKey(%q) = %v, want %v", key, got, want)
		}
	}
}

func TestDocument_AddToEmpty(t *testing.T) {
	t.Parallel()

	var doc Document
	doc.Add("2025-01-01", "  hello  ")
	if got, want := doc.String(), "\n## 2025-01-01\nhello\n"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

func TestBlankTail(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"":         "",
		"a\n":      "",
		"a\n\n":    "\n",
		"a\n\n\n":  "\n\n",
		"\n\n":     "",
		"a":        "",
		"a\nb\n\n": "\n",
	}
	for in, want := range tests {
		if got := blankTail(in); got != want {
			t.Errorf("blankTail(%q) = %q, want %q", in, got, want)
		}
	}
}
