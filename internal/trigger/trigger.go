// Package trigger detects the spoken phrases that turn the recent
// transcripts of a session into an instruction.
//
// Matching is a case-insensitive substring test. In fuzzy mode the detector
// also slides a window of the phrase's length over the words of the
// transcript and accepts a window whose words sound like the phrase words
// (Double Metaphone) and whose text is close to the phrase (Jaro-Winkler).
// That tolerates recognizer slips such as "safe that" for "save that".
package trigger

import (
	"strings"
	"sync"
	"unicode"

	"github.com/antzucaro/matchr"
)

// DefaultHistory is the number of transcripts joined into an instruction.
const DefaultHistory = 3

// DefaultFuzzyThreshold is the minimum Jaro-Winkler similarity between a
// window of the transcript and a phrase in fuzzy mode.
const DefaultFuzzyThreshold = 0.9

// DefaultPhrases returns the built-in trigger phrases.
func DefaultPhrases() []string {
	return []string{"confirm and submit", "process notes", "save that", "add to notes"}
}

// History is the transcript buffer an instruction is drawn from.
type History interface {
	Last(n int) []string
	Clear()
}

type phrase struct {
	text   string
	tokens []string
	codes  []map[string]struct{}
}

// Detector matches transcripts against trigger phrases. It is safe for
// concurrent use; phrases and mode can be swapped while sessions run.
type Detector struct {
	mu        sync.RWMutex
	phrases   []phrase
	fuzzy     bool
	threshold float64
	history   int
}

// Option configures a [Detector].
type Option func(*Detector)

// WithFuzzy enables phonetic matching.
func WithFuzzy(on bool) Option {
	return func(d *Detector) { d.fuzzy = on }
}

// WithFuzzyThreshold overrides [DefaultFuzzyThreshold].
func WithFuzzyThreshold(t float64) Option {
	return func(d *Detector) {
		if t > 0 {
			d.threshold = t
		}
	}
}

// WithHistory sets how many transcripts make up an instruction.
func WithHistory(n int) Option {
	return func(d *Detector) {
		if n > 0 {
			d.history = n
		}
	}
}

// New returns a Detector for phrases. An empty list selects
// [DefaultPhrases].
func New(phrases []string, opts ...Option) *Detector {
	d := &Detector{
		threshold: DefaultFuzzyThreshold,
		history:   DefaultHistory,
	}
	for _, o := range opts {
		o(d)
	}
	d.SetPhrases(phrases)
	return d
}

// SetPhrases replaces the trigger phrases. Blank entries are ignored and an
// empty list selects [DefaultPhrases].
func (d *Detector) SetPhrases(phrases []string) {
	compiled := compile(phrases)
	if len(compiled) == 0 {
		compiled = compile(DefaultPhrases())
	}
	d.mu.Lock()
	d.phrases = compiled
	d.mu.Unlock()
}

// SetFuzzy toggles phonetic matching.
func (d *Detector) SetFuzzy(on bool) {
	d.mu.Lock()
	d.fuzzy = on
	d.mu.Unlock()
}

// SetHistory changes how many transcripts make up an instruction. Values
// below one are ignored.
func (d *Detector) SetHistory(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	d.history = n
	d.mu.Unlock()
}

// Phrases returns the active phrases.
func (d *Detector) Phrases() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]string, len(d.phrases))
	for i, p := range d.phrases {
		out[i] = p.text
	}
	return out
}

// Match reports the first phrase contained in text.
func (d *Detector) Match(text string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	lower := strings.ToLower(text)
	for _, p := range d.phrases {
		if strings.Contains(lower, p.text) {
			return p.text, true
		}
	}
	if !d.fuzzy {
		return "", false
	}

	words := tokenize(lower)
	for _, p := range d.phrases {
		if d.fuzzyMatch(words, p) {
			return p.text, true
		}
	}
	return "", false
}

// Check matches text and, on a match, drains h: it returns the last
// transcripts joined by spaces and clears the buffer. The caller adds text
// to h before calling Check, so the instruction includes the trigger
// utterance itself.
func (d *Detector) Check(text string, h History) (instruction, matched string, ok bool) {
	matched, ok = d.Match(text)
	if !ok {
		return "", "", false
	}
	d.mu.RLock()
	n := d.history
	d.mu.RUnlock()

	instruction = strings.Join(h.Last(n), " ")
	h.Clear()
	return instruction, matched, true
}

func (d *Detector) fuzzyMatch(words []string, p phrase) bool {
	k := len(p.tokens)
	for i := 0; i+k <= len(words); i++ {
		window := words[i : i+k]
		if !soundsAlike(window, p.codes) {
			continue
		}
		if matchr.JaroWinkler(strings.Join(window, " "), p.text, false) >= d.threshold {
			return true
		}
	}
	return false
}

// soundsAlike reports whether every word shares a phonetic code with the
// phrase word at the same position.
func soundsAlike(window []string, codes []map[string]struct{}) bool {
	for i, w := range window {
		if !overlap(metaphone(w), codes[i]) {
			return false
		}
	}
	return true
}

func compile(phrases []string) []phrase {
	var out []phrase
	for _, raw := range phrases {
		text := strings.Join(strings.Fields(strings.ToLower(raw)), " ")
		if text == "" {
			continue
		}
		tokens := tokenize(text)
		codes := make([]map[string]struct{}, len(tokens))
		for i, t := range tokens {
			codes[i] = metaphone(t)
		}
		out = append(out, phrase{text: text, tokens: tokens, codes: codes})
	}
	return out
}

func tokenize(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// metaphone returns the Double Metaphone codes of word. A word without
// consonant codes is represented by itself so that it only matches exactly.
func metaphone(word string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, s := matchr.DoubleMetaphone(word)
	if p != "" {
		codes[p] = struct{}{}
	}
	if s != "" {
		codes[s] = struct{}{}
	}
	if len(codes) == 0 {
		codes[word] = struct{}{}
	}
	return codes
}

func overlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for c := range a {
		if _, ok := b[c]; ok {
			return true
		}
	}
	return false
}
