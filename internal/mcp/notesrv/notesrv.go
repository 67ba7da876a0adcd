// Package notesrv exposes the note store as MCP tools so that assistants
// and editors can browse and edit the same topic files the voice pipeline
// writes.
//
// Five tools are registered by [New]:
//   - "list_topics": names of all topic files.
//   - "read_notes": the full text of one topic.
//   - "append_note": add an undated block to a topic.
//   - "upsert_note": insert or replace the section for a date.
//   - "delete_note": remove the section for a date.
package notesrv

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/voxnote/internal/notes"
)

// Store is the subset of [notes.Store] the tools use.
type Store interface {
	Topics() ([]string, error)
	Read(topic string) (string, error)
	Apply(ctx context.Context, req notes.Request) notes.Result
}

type listTopicsArgs struct{}

type listTopicsResult struct {
	Topics []string `json:"topics"`
}

type readNotesArgs struct {
	Topic string `json:"topic" jsonschema:"topic name, e.g. linux or todolist"`
}

type readNotesResult struct {
	Topic   string `json:"topic"`
	Content string `json:"content"`
}

type appendNoteArgs struct {
	Topic string `json:"topic" jsonschema:"topic to append to"`
	Text  string `json:"text" jsonschema:"note text"`
}

type upsertNoteArgs struct {
	Topic string `json:"topic" jsonschema:"topic to edit"`
	Date  string `json:"date,omitempty" jsonschema:"section date; defaults to today"`
	Text  string `json:"text" jsonschema:"new section body"`
}

type deleteNoteArgs struct {
	Topic string `json:"topic" jsonschema:"topic to edit"`
	Date  string `json:"date" jsonschema:"date of the section to remove"`
}

// New returns an MCP server whose tools operate on store.
func New(store Store, version string) *mcp.Server {
	srv := mcp.NewServer(&mcp.Implementation{Name: "voxnote-notes", Version: version}, nil)
	t := &tools{store: store}

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_topics",
		Description: "List the note topics that have a file.",
	}, t.listTopics)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "read_notes",
		Description: "Return the full text of a topic's notes.",
	}, t.readNotes)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "append_note",
		Description: "Append a block of text to a topic, outside any dated section.",
	}, t.appendNote)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "upsert_note",
		Description: "Insert the section for a date, or replace its body when it exists.",
	}, t.upsertNote)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_note",
		Description: "Delete the section for a date.",
	}, t.deleteNote)
	return srv
}

// Handler serves srv over the Streamable HTTP transport.
func Handler(srv *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)
}

type tools struct {
	store Store
}

func (t *tools) listTopics(_ context.Context, _ *mcp.CallToolRequest, _ listTopicsArgs) (*mcp.CallToolResult, listTopicsResult, error) {
	topics, err := t.store.Topics()
	if err != nil {
		return nil, listTopicsResult{}, err
	}
	if topics == nil {
		topics = []string{}
	}
	return nil, listTopicsResult{Topics: topics}, nil
}

func (t *tools) readNotes(_ context.Context, _ *mcp.CallToolRequest, args readNotesArgs) (*mcp.CallToolResult, readNotesResult, error) {
	if strings.TrimSpace(args.Topic) == "" {
		return nil, readNotesResult{}, errors.New("topic must not be empty")
	}
	content, err := t.store.Read(args.Topic)
	if err != nil {
		return nil, readNotesResult{}, err
	}
	return nil, readNotesResult{Topic: args.Topic, Content: content}, nil
}

func (t *tools) appendNote(ctx context.Context, _ *mcp.CallToolRequest, args appendNoteArgs) (*mcp.CallToolResult, notes.Result, error) {
	return t.apply(ctx, notes.ActionAppend, args.Topic, "", args.Text)
}

func (t *tools) upsertNote(ctx context.Context, _ *mcp.CallToolRequest, args upsertNoteArgs) (*mcp.CallToolResult, notes.Result, error) {
	return t.apply(ctx, notes.ActionInsert, args.Topic, args.Date, args.Text)
}

func (t *tools) deleteNote(ctx context.Context, _ *mcp.CallToolRequest, args deleteNoteArgs) (*mcp.CallToolResult, notes.Result, error) {
	if strings.TrimSpace(args.Date) == "" {
		return nil, notes.Result{}, errors.New("date must not be empty")
	}
	return t.apply(ctx, notes.ActionDelete, args.Topic, args.Date, "")
}

// apply runs one mutation. A result with Success false is reported as a
// tool error carrying the store's message.
func (t *tools) apply(ctx context.Context, action, topic, date, text string) (*mcp.CallToolResult, notes.Result, error) {
	md := map[string]any{}
	if date = strings.TrimSpace(date); date != "" {
		md["date"] = date
	}
	res := t.store.Apply(ctx, notes.Request{
		Context:  topic,
		Action:   action,
		Text:     text,
		Metadata: md,
	})
	if !res.Success {
		return nil, notes.Result{}, errors.New(res.Message)
	}
	return nil, res, nil
}
