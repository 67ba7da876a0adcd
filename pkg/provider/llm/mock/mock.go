// Package mock is a scripted [llm.Provider] for classifier and pipeline
// tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxnote/pkg/provider/llm"
)

// CompleteCall is one recorded Complete invocation.
type CompleteCall struct {
	Ctx context.Context
	Req llm.CompletionRequest
}

// Provider answers Complete from, in order of precedence: CompleteFunc,
// CompleteErr, the next entry of Contents, then Content. Configure it
// before the first call.
type Provider struct {
	CompleteFunc func(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
	CompleteErr  error
	Contents     []string
	Content      string

	// CompleteCalls holds every call. Read it once calls have finished.
	CompleteCalls []CompleteCall

	mu sync.Mutex
}

var _ llm.Provider = (*Provider)(nil)

func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.CompleteCalls = append(p.CompleteCalls, CompleteCall{Ctx: ctx, Req: req})
	if fn := p.CompleteFunc; fn != nil {
		p.mu.Unlock()
		return fn(ctx, req)
	}
	defer p.mu.Unlock()
	if p.CompleteErr != nil {
		return nil, p.CompleteErr
	}
	reply := p.Content
	if len(p.Contents) > 0 {
		reply, p.Contents = p.Contents[0], p.Contents[1:]
	}
	return &llm.CompletionResponse{Content: reply}, nil
}

// CallCount returns how many times Complete ran.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.CompleteCalls)
}
