package notes

import (
	"regexp"
	"strings"
)

// Section is one dated block of a note document: a header line of the form
// "## <date>" and everything after it up to the next header or end of file.
// A "##" line whose text is not a date key is ordinary body text.
type Section struct {
	// Key is the trimmed header text after the "##" marker.
	Key string

	// Header is the raw header line including its line terminator.
	Header string

	// Body is the raw text following the header, up to the next header.
	Body string
}

// Document is the parsed form of a note file. Rendering a parsed document
// with [Document.String] reproduces the input byte for byte.
type Document struct {
	// Preamble is the text before the first header.
	Preamble string

	// Sections are the dated sections in file order.
	Sections []Section
}

// isoDate matches keys that open with a YYYY-MM-DD stamp, optionally followed
// by a time.
var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}(\s|$)`)

// IsDateKey reports whether key starts with a YYYY-MM-DD date stamp.
func IsDateKey(key string) bool { return isoDate.MatchString(key) }

// Parse splits content into a preamble and sections keyed by
// [IsDateKey] dates.
func Parse(content string) Document {
	return ParseFunc(content, IsDateKey)
}

// ParseFunc is [Parse] with a custom test for which header keys open a
// section.
func ParseFunc(content string, isKey func(string) bool) Document {
	var doc Document
	cur := -1
	for _, line := range strings.SplitAfter(content, "\n") {
		if line == "" {
			continue
		}
		if key, ok := headerKey(line); ok && isKey(key) {
			doc.Sections = append(doc.Sections, Section{Key: key, Header: line})
			cur = len(doc.Sections) - 1
			continue
		}
		if cur < 0 {
			doc.Preamble += line
		} else {
			doc.Sections[cur].Body += line
		}
	}
	return doc
}

// headerKey returns the text of a level-two heading line. Deeper markdown
// headings ("###") are body text.
func headerKey(line string) (string, bool) {
	if !strings.HasPrefix(line, "##") || strings.HasPrefix(line, "###") {
		return "", false
	}
	key := strings.TrimSpace(line[2:])
	if key == "" {
		return "", false
	}
	return key, true
}

// String renders the document back to text.
func (d Document) String() string {
	var b strings.Builder
	b.WriteString(d.Preamble)
	for _, s := range d.Sections {
		b.WriteString(s.Header)
		b.WriteString(s.Body)
	}
	return b.String()
}

// Find returns the index of the section with the given key, or -1.
func (d Document) Find(key string) int {
	for i, s := range d.Sections {
		if s.Key == key {
			return i
		}
	}
	return -1
}

// Replace swaps the body of section i for text. Blank lines that separated
// the old body from the following section are kept.
func (d *Document) Replace(i int, text string) {
	old := d.Sections[i].Body
	d.Sections[i] = Section{
		Key:    d.Sections[i].Key,
		Header: "## " + d.Sections[i].Key + "\n",
		Body:   strings.TrimSpace(text) + "\n" + blankTail(old),
	}
}

// Add appends a new section after a blank separator line.
func (d *Document) Add(key, text string) {
	if n := len(d.Sections); n > 0 {
		d.Sections[n-1].Body += "\n"
	} else {
		d.Preamble += "\n"
	}
	d.Sections = append(d.Sections, Section{
		Key:    key,
		Header: "## " + key + "\n",
		Body:   strings.TrimSpace(text) + "\n",
	})
}

// Remove deletes section i, header and body.
func (d *Document) Remove(i int) {
	d.Sections = append(d.Sections[:i], d.Sections[i+1:]...)
}

// blankTail returns the run of empty lines at the end of body, excluding the
// terminator of its last content line.
func blankTail(body string) string {
	trimmed := strings.TrimRight(body, "\n")
	if trimmed == "" {
		return ""
	}
	n := len(body) - len(trimmed)
	if n <= 1 {
		return ""
	}
	return strings.Repeat("\n", n-1)
}
