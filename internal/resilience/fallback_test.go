package resilience

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/pkg/provider/asr"
	asrmock "github.com/MrWong99/voxnote/pkg/provider/asr/mock"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
	llmmock "github.com/MrWong99/voxnote/pkg/provider/llm/mock"
)

// failures records OnFailure calls as "provider: error".
type failures []string

func (f *failures) record(provider string, err error) {
	kind := "error"
	if errors.Is(err, ErrCircuitOpen) {
		kind = "open"
	}
	*f = append(*f, provider+": "+kind)
}

func TestExecuteWithResult(t *testing.T) {
	tests := []struct {
		name       string
		broken     map[string]bool
		want       string
		wantErr    error
		wantFailed []string
	}{
		{"primary answers", nil, "local", nil, nil},
		{"first fallback answers", map[string]bool{"local": true}, "remote", nil, []string{"local: error"}},
		{"last fallback answers", map[string]bool{"local": true, "remote": true}, "backup", nil,
			[]string{"local: error", "remote: error"}},
		{"all broken", map[string]bool{"local": true, "remote": true, "backup": true}, "", ErrAllFailed,
			[]string{"local: error", "remote: error", "backup: error"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f failures
			g := NewFallbackGroup("local", "local", FallbackConfig{OnFailure: f.record})
			g.AddFallback("remote", "remote")
			g.AddFallback("backup", "backup")

			got, err := ExecuteWithResult(g, func(name string) (string, error) {
				if tt.broken[name] {
					return "", fmt.Errorf("%s down", name)
				}
				return name, nil
			})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("result = %q, want %q", got, tt.want)
			}
			if !slices.Equal(f, tt.wantFailed) {
				t.Errorf("failures = %v, want %v", f, tt.wantFailed)
			}
		})
	}
}

func TestExecuteWithResult_AllFailedKeepsLastError(t *testing.T) {
	g := NewFallbackGroup(1, "one", FallbackConfig{})
	_, err := ExecuteWithResult(g, func(int) (struct{}, error) { return struct{}{}, errProvider })
	if !errors.Is(err, ErrAllFailed) || !errors.Is(err, errProvider) {
		t.Fatalf("err = %v, want both ErrAllFailed and the provider error", err)
	}
}

func TestExecuteWithResult_SkipsOpenMember(t *testing.T) {
	var f failures
	g := NewFallbackGroup("local", "local", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
		OnFailure:      f.record,
	})
	g.AddFallback("remote", "remote")

	var calls []string
	call := func(name string) (string, error) {
		calls = append(calls, name)
		if name == "local" {
			return "", errProvider
		}
		return name, nil
	}
	for range 3 {
		if got, err := ExecuteWithResult(g, call); err != nil || got != "remote" {
			t.Fatalf("got %q, %v", got, err)
		}
	}
	if want := []string{"local", "remote", "remote", "remote"}; !slices.Equal(calls, want) {
		t.Errorf("calls = %v, want %v", calls, want)
	}
	if want := []string{"local: error", "local: open", "local: open"}; !slices.Equal(f, want) {
		t.Errorf("failures = %v, want %v", f, want)
	}
}

func TestExecuteWithResult_CancellationStops(t *testing.T) {
	var f failures
	g := NewFallbackGroup("local", "local", FallbackConfig{OnFailure: f.record})
	g.AddFallback("remote", "remote")

	var calls int
	_, err := ExecuteWithResult(g, func(string) (string, error) {
		calls++
		return "", context.Canceled
	})
	if !errors.Is(err, context.Canceled) || errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want bare context.Canceled", err)
	}
	if calls != 1 || len(f) != 0 {
		t.Errorf("calls = %d, failures = %v; want 1 call and none reported", calls, f)
	}
}

func TestFallbackGroup_BreakerTemplate(t *testing.T) {
	var opened []string
	g := NewFallbackGroup("a", "whisper", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{
			Name:        "ignored",
			MaxFailures: 1,
			OnStateChange: func(name string, _, to State) {
				if to == StateOpen {
					opened = append(opened, name)
				}
			},
		},
	})
	g.AddFallback("openai", "b")

	_, _ = ExecuteWithResult(g, func(string) (int, error) { return 0, errProvider })
	if want := []string{"whisper", "openai"}; !slices.Equal(opened, want) {
		t.Errorf("opened = %v, want %v", opened, want)
	}
	if want := []string{"whisper", "openai"}; !slices.Equal(g.Names(), want) {
		t.Errorf("Names = %v", g.Names())
	}
}

func TestASRFallback(t *testing.T) {
	primary := &asrmock.Recognizer{Err: errProvider}
	backup := &asrmock.Recognizer{Text: "save that"}
	var r asr.Recognizer = func() *ASRFallback {
		f := NewASRFallback(primary, "whisper", FallbackConfig{})
		f.AddFallback("openai", backup)
		return f
	}()

	text, err := r.Recognize(context.Background(), "/tmp/utterance.wav")
	if err != nil || text != "save that" {
		t.Fatalf("Recognize = %q, %v", text, err)
	}
	for _, m := range []*asrmock.Recognizer{primary, backup} {
		if c, ok := m.LastCall(); !ok || c.Path != "/tmp/utterance.wav" {
			t.Errorf("call = %+v, %v", c, ok)
		}
	}
}

func TestLLMFallback(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errProvider}
	backup := &llmmock.Provider{Contents: []string{`{"intent":"take_notes"}`}}
	f := NewLLMFallback(primary, "ollama", FallbackConfig{})
	f.AddFallback("openai", backup)

	req := llm.CompletionRequest{Messages: []llm.Message{{Role: llm.RoleUser, Content: "note this"}}, JSON: true}
	resp, err := f.Complete(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != `{"intent":"take_notes"}` {
		t.Errorf("content = %q", resp.Content)
	}
	if !backup.CompleteCalls[0].Req.JSON {
		t.Error("request not forwarded unchanged")
	}

	primary.CompleteErr = nil
	backup.CompleteErr = errProvider
	if _, err := f.Complete(context.Background(), req); err != nil {
		t.Errorf("recovered primary not used: %v", err)
	}
	if primary.CallCount() != 2 {
		t.Errorf("primary calls = %d, want 2", primary.CallCount())
	}
}
