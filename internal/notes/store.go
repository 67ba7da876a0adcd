// Package notes persists note-taking operations to one plain-text file per
// topic.
//
// A note file holds free-form appended blocks and dated sections introduced
// by "## <date>" header lines. [Store.Upsert] keeps at most one section per
// date by replacing an existing section in place; [Store.Delete] removes one
// section and leaves every other byte of the file untouched.
//
// Every operation returns a [Result] and never an error: I/O failures and
// unknown actions are reported with Success set to false. Writes replace the
// whole file through a temporary file and rename. Operations on the same
// topic are serialised within the process; concurrent writers in other
// processes are last-writer-wins.
package notes

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
)

// DefaultDateFormat is the Go layout of the date key used when a request does
// not carry an explicit date.
const DefaultDateFormat = "2006-01-02"

// DefaultTopic is used when a request names no topic.
const DefaultTopic = "general"

// Action names understood by [Store.Apply].
const (
	ActionAppend = "append"
	ActionInsert = "insert"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Result is the outcome of a note operation.
type Result struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Intent   string `json:"intent,omitempty"`
	Context  string `json:"context"`
	Action   string `json:"action"`
	FilePath string `json:"filepath,omitempty"`
	Date     string `json:"date,omitempty"`
}

// Request is a note mutation produced by intent classification.
type Request struct {
	Intent   string
	Context  string
	Action   string
	Text     string
	Metadata map[string]any
}

// Store edits note files below a single directory. It is safe for concurrent
// use.
type Store struct {
	dir        string
	dateFormat string
	now        func() time.Time
	metrics    *observe.Metrics

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures a [Store].
type Option func(*Store)

// WithDateFormat sets the Go time layout for default date keys.
func WithDateFormat(layout string) Option {
	return func(s *Store) {
		if layout != "" {
			s.dateFormat = layout
		}
	}
}

// WithClock overrides the time source used for default date keys.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithMetrics records operation latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// New returns a Store rooted at dir. The directory is created lazily.
func New(dir string, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		dateFormat: DefaultDateFormat,
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// IsDateKey reports whether key can head a section: a single line that
// starts with a YYYY-MM-DD stamp or parses with the configured layout.
func (s *Store) IsDateKey(key string) bool {
	if key == "" || strings.ContainsAny(key, "\r\n") || key != strings.TrimSpace(key) {
		return false
	}
	if IsDateKey(key) {
		return true
	}
	_, err := time.Parse(s.dateFormat, key)
	return err == nil
}

func (s *Store) parse(content string) Document {
	return ParseFunc(content, s.IsDateKey)
}

func invalidDate(res Result) Result {
	res.Message = fmt.Sprintf("invalid date %q", res.Date)
	return res
}

// Dir returns the notes directory.
func (s *Store) Dir() string { return s.dir }

// SafeName maps a free-form topic to its file stem: lower-cased, with every
// character outside [a-zA-Z0-9_-] replaced by an underscore.
func SafeName(topic string) string {
	if strings.TrimSpace(topic) == "" {
		topic = DefaultTopic
	}
	var b strings.Builder
	for _, r := range strings.ToLower(topic) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// FilePath returns the file that stores topic and makes sure the notes
// directory exists.
func (s *Store) FilePath(topic string) (string, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", fmt.Errorf("notes: create dir: %w", err)
	}
	return filepath.Join(s.dir, SafeName(topic)+".txt"), nil
}

// Append adds text as a new trailing block that belongs to no dated section.
func (s *Store) Append(topic, text string) Result {
	res := Result{Context: topic, Action: ActionAppend}
	err := s.mutate(topic, &res, func(content string) (string, bool, error) {
		return content + "\n" + strings.TrimSpace(text) + "\n", true, nil
	})
	if err != nil {
		return fail(res, err)
	}
	res.Success = true
	res.Message = "appended to " + res.FilePath
	return res
}

// Upsert replaces the body of the section keyed by date, or appends a new
// section when none exists. Result.Action reports which one happened. A date
// rejected by [Store.IsDateKey] fails without touching the file.
func (s *Store) Upsert(topic, date, text string) Result {
	res := Result{Context: topic, Action: ActionInsert, Date: date}
	if !s.IsDateKey(date) {
		return invalidDate(res)
	}
	err := s.mutate(topic, &res, func(content string) (string, bool, error) {
		doc := s.parse(content)
		if i := doc.Find(date); i >= 0 {
			doc.Replace(i, text)
			res.Action = ActionUpdate
		} else {
			doc.Add(date, text)
		}
		return doc.String(), true, nil
	})
	if err != nil {
		return fail(res, err)
	}
	res.Success = true
	if res.Action == ActionUpdate {
		res.Message = fmt.Sprintf("updated entry for %s", date)
	} else {
		res.Message = fmt.Sprintf("added new entry for %s", date)
	}
	return res
}

// Delete removes the section keyed by date. A missing section is reported
// with Success false and leaves the file unchanged.
func (s *Store) Delete(topic, date string) Result {
	res := Result{Context: topic, Action: ActionDelete, Date: date}
	if !s.IsDateKey(date) {
		return invalidDate(res)
	}
	found := false
	err := s.mutate(topic, &res, func(content string) (string, bool, error) {
		doc := s.parse(content)
		i := doc.Find(date)
		if i < 0 {
			return content, false, nil
		}
		found = true
		doc.Remove(i)
		return doc.String(), true, nil
	})
	if err != nil {
		return fail(res, err)
	}
	if !found {
		res.Message = fmt.Sprintf("no entry found for %s", date)
		return res
	}
	res.Success = true
	res.Message = fmt.Sprintf("deleted entry for %s", date)
	return res
}

// Apply dispatches req by action. The date key is taken from
// req.Metadata["date"] when it is a non-empty string, with runs of
// whitespace (line breaks included) collapsed to one space; otherwise the
// current time is formatted with the configured layout.
func (s *Store) Apply(ctx context.Context, req Request) Result {
	start := time.Now()
	if s.metrics != nil {
		defer func() {
			observe.ObserveSince(ctx, s.metrics.NotesDuration, start, observe.Attr("action", req.Action))
		}()
	}

	date := s.now().Format(s.dateFormat)
	if d, ok := req.Metadata["date"].(string); ok && strings.TrimSpace(d) != "" {
		date = strings.Join(strings.Fields(d), " ")
	}

	var res Result
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case ActionAppend:
		res = s.Append(req.Context, req.Text)
	case ActionInsert, ActionUpdate:
		res = s.Upsert(req.Context, date, req.Text)
	case ActionDelete:
		res = s.Delete(req.Context, date)
	default:
		res = Result{
			Context: req.Context,
			Action:  req.Action,
			Message: fmt.Sprintf("unknown action %q", req.Action),
		}
		if path, err := s.FilePath(req.Context); err == nil {
			res.FilePath = path
		}
	}
	res.Intent = req.Intent
	if !res.Success {
		observe.Logger(ctx).Warn("notes: operation not applied",
			"context", req.Context, "action", req.Action, "message", res.Message)
	}
	return res
}

// Read returns the content of topic's file, or "" when it does not exist.
func (s *Store) Read(topic string) (string, error) {
	path, err := s.FilePath(topic)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("notes: read %s: %w", path, err)
	}
	return string(data), nil
}

// Topics lists the file stems present in the notes directory, sorted.
func (s *Store) Topics() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("notes: list: %w", err)
	}
	topics := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".txt") || strings.HasPrefix(name, ".") {
			continue
		}
		topics = append(topics, strings.TrimSuffix(name, ".txt"))
	}
	sort.Strings(topics)
	return topics, nil
}

// CheckWritable verifies that the notes directory exists and accepts files.
func (s *Store) CheckWritable(_ context.Context) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(s.dir, ".probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// mutate runs fn on the current content of topic's file under the topic
// lock and writes the result when fn reports a change.
func (s *Store) mutate(topic string, res *Result, fn func(content string) (string, bool, error)) error {
	path, err := s.FilePath(topic)
	if err != nil {
		return err
	}
	res.FilePath = path

	lock := s.lockFor(path)
	lock.Lock()
	defer lock.Unlock()

	data, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("notes: read %s: %w", path, err)
	}
	updated, changed, err := fn(string(data))
	if err != nil || !changed {
		return err
	}
	return writeAtomic(path, []byte(updated))
}

func (s *Store) lockFor(path string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[path]
	if !ok {
		l = &sync.Mutex{}
		s.locks[path] = l
	}
	return l
}

// writeAtomic replaces path with data via a temporary file in the same
// directory.
func writeAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("notes: create temp: %w", err)
	}
	name := tmp.Name()
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("notes: chmod temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("notes: write temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("notes: close temp: %w", err)
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return fmt.Errorf("notes: rename: %w", err)
	}
	return nil
}

func fail(res Result, err error) Result {
	res.Success = false
	res.Message = err.Error()
	return res
}
