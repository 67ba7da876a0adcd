package session

// DefaultHistorySize is the number of transcripts a session remembers.
const DefaultHistorySize = 10

// History is a bounded list of the most recent transcripts, oldest first.
// It is not safe for concurrent use.
type History struct {
	size    int
	entries []string
}

// NewHistory returns a History that keeps at most size entries. A
// non-positive size selects [DefaultHistorySize].
func NewHistory(size int) *History {
	if size <= 0 {
		size = DefaultHistorySize
	}
	return &History{size: size, entries: make([]string, 0, size)}
}

// Add appends text, evicting the oldest entry when full.
func (h *History) Add(text string) {
	if len(h.entries) == h.size {
		copy(h.entries, h.entries[1:])
		h.entries = h.entries[:h.size-1]
	}
	h.entries = append(h.entries, text)
}

// Last returns up to n of the most recent entries, oldest first.
func (h *History) Last(n int) []string {
	if n <= 0 {
		return nil
	}
	start := max(len(h.entries)-n, 0)
	out := make([]string, len(h.entries)-start)
	copy(out, h.entries[start:])
	return out
}

// Len returns the number of stored entries.
func (h *History) Len() int { return len(h.entries) }

// Clear drops every entry.
func (h *History) Clear() {
	clear(h.entries)
	h.entries = h.entries[:0]
}
