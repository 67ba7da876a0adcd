package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/voxnote/pkg/provider/llm"
)

func TestChatMessages(t *testing.T) {
	req := llm.CompletionRequest{
		SystemPrompt: "classify",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "note this"},
			{Role: llm.RoleAssistant, Content: "{}"},
			{Role: llm.RoleSystem, Content: "again"},
		},
	}
	msgs, err := chatMessages(req)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 4 {
		t.Fatalf("len = %d, want 4", len(msgs))
	}
	if msgs[0].OfSystem == nil || msgs[1].OfUser == nil || msgs[2].OfAssistant == nil || msgs[3].OfSystem == nil {
		t.Errorf("roles not mapped in order: %+v", msgs)
	}

	if _, err := chatMessages(llm.CompletionRequest{}); err == nil {
		t.Error("empty request: expected error")
	}
	bad := llm.CompletionRequest{Messages: []llm.Message{{Role: "tool", Content: "x"}}}
	if _, err := chatMessages(bad); err == nil || !strings.Contains(err.Error(), `"tool"`) {
		t.Errorf("unknown role: err = %v", err)
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		model   string
		opts    []Option
		wantErr bool
	}{
		{"hosted", "sk-test", "gpt-4o-mini", nil, false},
		{"hosted without key", "", "gpt-4o-mini", nil, true},
		{"local without key", "", "gemma3:12b", []Option{WithBaseURL("http://localhost:11434/v1/")}, false},
		{"no model", "sk-test", "", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.key, tt.model, tt.opts...)
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// chatServer answers every chat completion with content and captures the
// request body and Authorization header.
func chatServer(t *testing.T, content string) (*httptest.Server, *map[string]any, *string) {
	t.Helper()
	body := map[string]any{}
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			http.NotFound(w, r)
			return
		}
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&body)
		reply, _ := json.Marshal(content)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"m",
			"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":` + string(reply) + `}}],
			"usage":{"prompt_tokens":12,"completion_tokens":5,"total_tokens":17}}`))
	}))
	t.Cleanup(srv.Close)
	return srv, &body, &auth
}

func TestComplete_JSONMode(t *testing.T) {
	srv, body, auth := chatServer(t, `{"intent":"take_notes"}`)
	p, err := New("sk-test", "gpt-4o-mini", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	req := llm.UserPrompt("save that")
	req.Temperature = 0.7
	req.MaxTokens = 500
	req.JSON = true

	resp, err := p.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != `{"intent":"take_notes"}` || resp.Usage.TotalTokens != 17 {
		t.Errorf("resp = %+v", resp)
	}
	got := *body
	if got["model"] != "gpt-4o-mini" || got["temperature"] != 0.7 || got["max_completion_tokens"] != float64(500) {
		t.Errorf("request body = %v", got)
	}
	if rf, ok := got["response_format"].(map[string]any); !ok || rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", got["response_format"])
	}
	if *auth != "Bearer sk-test" {
		t.Errorf("Authorization = %q", *auth)
	}
}

func TestComplete_LocalServer(t *testing.T) {
	srv, body, auth := chatServer(t, "plain text")
	p, err := New("", "gemma3:12b", WithBaseURL(srv.URL+"/v1/"))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.UserPrompt("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "plain text" {
		t.Errorf("content = %q", resp.Content)
	}
	if _, ok := (*body)["response_format"]; ok {
		t.Error("response_format sent without JSON mode")
	}
	if _, ok := (*body)["temperature"]; ok {
		t.Error("zero temperature should be omitted")
	}
	if *auth != "Bearer "+localKey {
		t.Errorf("Authorization = %q", *auth)
	}
}
