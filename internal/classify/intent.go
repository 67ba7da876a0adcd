package classify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/kaptinlin/jsonrepair"
)

// Intent names produced by the model.
const (
	IntentTakeNotes   = "take_notes"
	IntentManageTasks = "manage_tasks"
	IntentUpdateInfo  = "update_info"
	IntentRemoveNotes = "remove_notes"
	IntentReadNotes   = "read_notes"
	IntentSearchNotes = "search_notes"
	IntentCategorize  = "categorize"

	// IntentError marks a result that carries no usable classification.
	IntentError = "error"
)

// Status tells whether an [Intent] holds a classification.
type Status int

const (
	// StatusOK means the model replied with a parseable JSON object.
	StatusOK Status = iota

	// StatusServiceError means the model could not be reached, timed out, or
	// its circuit breaker was open.
	StatusServiceError

	// StatusUnparsed means the model replied but no JSON object could be
	// recovered from the reply.
	StatusUnparsed
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusServiceError:
		return "service_error"
	case StatusUnparsed:
		return "unparsed"
	default:
		return "unknown"
	}
}

// ErrUnparsed is carried by results with [StatusUnparsed].
var ErrUnparsed = errors.New("could not parse JSON from model response")

// Intent is the structured classification of one instruction.
type Intent struct {
	Status Status

	Intent  string
	Context string
	Action  string

	// Text is the note content. A list reply is rendered as one "- item"
	// line per element.
	Text string

	// Items holds the elements of a list reply, trimmed. Nil for a string
	// reply.
	Items []string

	Metadata   map[string]any
	Confidence float64

	// Raw is the sanitized model reply. Set for StatusOK and StatusUnparsed.
	Raw string

	// Err is set for every status other than StatusOK.
	Err error
}

// OK reports whether the classification succeeded.
func (i Intent) OK() bool { return i.Status == StatusOK }

// errorIntent returns the result used when no classification is available.
func errorIntent(status Status, raw string, err error) Intent {
	return Intent{
		Status:   status,
		Intent:   IntentError,
		Context:  "system",
		Action:   "notify",
		Metadata: map[string]any{},
		Raw:      raw,
		Err:      err,
	}
}

// Sanitize drops control and other non-printable runes except newline,
// carriage return and tab, removes Markdown code fences and trims the
// result.
func Sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', '\t':
			return r
		}
		if r == unicode.ReplacementChar || !unicode.IsPrint(r) {
			return -1
		}
		return r
	}, s)
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// Parse recovers an Intent from a model reply. It tries, in order, the
// sanitized reply as strict JSON, a repaired version of it, and the span
// from the first '{' to the last '}' (strict, then repaired). If none yields
// a JSON object the result has [StatusUnparsed].
func Parse(reply string) Intent {
	cleaned := Sanitize(reply)
	obj, ok := decodeObject(cleaned)
	if !ok {
		return errorIntent(StatusUnparsed, cleaned, ErrUnparsed)
	}
	in := fromObject(obj)
	in.Raw = cleaned
	return in
}

// decodeObject walks the recovery ladder described on [Parse].
func decodeObject(s string) (map[string]any, bool) {
	if s == "" {
		return nil, false
	}
	if obj, ok := strictOrRepaired(s); ok {
		return obj, true
	}
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end <= start {
		return nil, false
	}
	return strictOrRepaired(s[start : end+1])
}

func strictOrRepaired(s string) (map[string]any, bool) {
	var obj map[string]any
	if err := json.Unmarshal([]byte(s), &obj); err == nil && obj != nil {
		return obj, true
	}
	fixed, err := jsonrepair.JSONRepair(s)
	if err != nil {
		return nil, false
	}
	obj = nil
	if err := json.Unmarshal([]byte(fixed), &obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// fromObject maps a decoded reply onto an Intent. Missing required fields
// become empty strings.
func fromObject(obj map[string]any) Intent {
	in := Intent{
		Status:     StatusOK,
		Intent:     stringField(obj["intent"]),
		Context:    stringField(obj["context"]),
		Action:     stringField(obj["action"]),
		Confidence: numberField(obj["confidence"]),
		Metadata:   map[string]any{},
	}
	if md, ok := obj["metadata"].(map[string]any); ok {
		in.Metadata = md
	}

	switch text := obj["text"].(type) {
	case []any:
		in.Items = make([]string, 0, len(text))
		lines := make([]string, 0, len(text))
		for _, item := range text {
			s := strings.TrimSpace(stringField(item))
			in.Items = append(in.Items, s)
			lines = append(lines, "- "+s)
		}
		in.Text = strings.Join(lines, "\n")
	default:
		in.Text = strings.TrimSpace(stringField(text))
	}
	return in
}

func stringField(v any) string {
	switch v := v.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func numberField(v any) float64 {
	switch v := v.(type) {
	case float64:
		return v
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}
