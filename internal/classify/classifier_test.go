package classify_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/voxnote/internal/classify"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
	"github.com/MrWong99/voxnote/pkg/provider/llm/mock"
)

func TestClassify_SendsPromptWithSampling(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Contents: []string{`{"intent":"take_notes","context":"linux","action":"insert","text":"chmod","confidence":0.9}`}}
	c, err := classify.New(p)
	if err != nil {
		t.Fatal(err)
	}

	in := c.Classify(context.Background(), "note that chmod changes permissions")
	if !in.OK() || in.Intent != classify.IntentTakeNotes || in.Context != "linux" {
		t.Fatalf("intent = %+v", in)
	}

	if len(p.CompleteCalls) != 1 {
		t.Fatalf("calls = %d", len(p.CompleteCalls))
	}
	req := p.CompleteCalls[0].Req
	if req.Temperature != 0.7 || req.MaxTokens != 500 {
		t.Errorf("sampling = %v/%d, want 0.7/500", req.Temperature, req.MaxTokens)
	}
	if len(req.Messages) != 1 || req.Messages[0].Role != llm.RoleUser {
		t.Fatalf("messages = %+v", req.Messages)
	}
	prompt := req.Messages[0].Content
	if !strings.Contains(prompt, `Now analyze: "note that chmod changes permissions"`) {
		t.Errorf("prompt does not embed the text:\n%s", prompt)
	}
	if strings.Contains(prompt, "{text}") {
		t.Error("placeholder left in prompt")
	}
	if _, ok := p.CompleteCalls[0].Ctx.Deadline(); !ok {
		t.Error("model call has no deadline")
	}
}

func TestClassify_ServiceError(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("connection refused")}
	c, _ := classify.New(p)

	in := c.Classify(context.Background(), "x")
	if in.Status != classify.StatusServiceError || in.Intent != classify.IntentError {
		t.Fatalf("intent = %+v", in)
	}
	if in.Err == nil || !strings.Contains(in.Err.Error(), "connection refused") {
		t.Errorf("err = %v", in.Err)
	}
}

func TestClassify_Timeout(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteFunc: func(ctx context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	c, _ := classify.New(p, classify.WithTimeout(20*time.Millisecond))

	start := time.Now()
	in := c.Classify(context.Background(), "x")
	if in.Status != classify.StatusServiceError {
		t.Fatalf("status = %v", in.Status)
	}
	if !errors.Is(in.Err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", in.Err)
	}
	if time.Since(start) > 2*time.Second {
		t.Error("timeout not enforced")
	}
}

func TestClassify_BreakerOpens(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{CompleteErr: errors.New("down")}
	c, _ := classify.New(p, classify.WithCircuitBreaker(resilience.CircuitBreakerConfig{
		MaxFailures:  2,
		ResetTimeout: time.Hour,
	}))

	for range 2 {
		c.Classify(context.Background(), "x")
	}
	in := c.Classify(context.Background(), "x")
	if !errors.Is(in.Err, resilience.ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", in.Err)
	}
	if n := p.CallCount(); n != 2 {
		t.Errorf("provider called %d times, want 2", n)
	}
}

func TestClassify_Unparsed(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Contents: []string{"I am not sure what you mean."}}
	c, _ := classify.New(p)

	in := c.Classify(context.Background(), "x")
	if in.Status != classify.StatusUnparsed || in.Raw != "I am not sure what you mean." {
		t.Fatalf("intent = %+v", in)
	}
}

func TestClassify_CustomTemplateAndJSONMode(t *testing.T) {
	t.Parallel()

	p := &mock.Provider{Contents: []string{`{}`}}
	c, _ := classify.New(p,
		classify.WithPromptTemplate("Classify: {text}"),
		classify.WithJSONMode(true),
		classify.WithTemperature(0.2),
		classify.WithMaxTokens(64),
	)
	c.Classify(context.Background(), "buy milk")

	req := p.CompleteCalls[0].Req
	if req.Messages[0].Content != "Classify: buy milk" {
		t.Errorf("prompt = %q", req.Messages[0].Content)
	}
	if !req.JSON || req.Temperature != 0.2 || req.MaxTokens != 64 {
		t.Errorf("request = %+v", req)
	}
}

func TestNew_NilProvider(t *testing.T) {
	t.Parallel()

	if _, err := classify.New(nil); err == nil {
		t.Fatal("expected error")
	}
}
