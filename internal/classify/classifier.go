// Package classify turns a transcribed instruction into a structured
// [Intent] by asking an LLM to reply with JSON.
//
// Model replies are untrusted: they are sanitized, repaired when they are
// almost JSON, and reduced to a tagged result so that callers never see a
// panic or a partially filled struct without knowing it.
package classify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MrWong99/voxnote/internal/observe"
	"github.com/MrWong99/voxnote/internal/resilience"
	"github.com/MrWong99/voxnote/pkg/provider/llm"
)

// Defaults for the model call.
const (
	DefaultTemperature = 0.7
	DefaultMaxTokens   = 500
	DefaultTimeout     = 30 * time.Second
)

// Classifier asks an LLM for the intent of an instruction. It is safe for
// concurrent use.
type Classifier struct {
	provider    llm.Provider
	breaker     *resilience.CircuitBreaker
	template    string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	jsonMode    bool
	metrics     *observe.Metrics
}

// Option configures a [Classifier].
type Option func(*Classifier)

// WithPromptTemplate replaces [DefaultPromptTemplate]. The transcript
// replaces every "{text}" in tmpl.
func WithPromptTemplate(tmpl string) Option {
	return func(c *Classifier) {
		if tmpl != "" {
			c.template = tmpl
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(c *Classifier) { c.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *Classifier) { c.maxTokens = n }
}

// WithTimeout bounds every model call.
func WithTimeout(d time.Duration) Option {
	return func(c *Classifier) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithJSONMode asks the provider to constrain replies to JSON where it can.
func WithJSONMode(on bool) Option {
	return func(c *Classifier) { c.jsonMode = on }
}

// WithCircuitBreaker protects the provider with a breaker built from cfg.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(c *Classifier) {
		if cfg.Name == "" {
			cfg.Name = "classifier"
		}
		c.breaker = resilience.NewCircuitBreaker(cfg)
	}
}

// WithMetrics records classification latency and provider errors on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Classifier) { c.metrics = m }
}

// New returns a Classifier that queries p.
func New(p llm.Provider, opts ...Option) (*Classifier, error) {
	if p == nil {
		return nil, errors.New("classify: nil LLM provider")
	}
	c := &Classifier{
		provider:    p,
		template:    DefaultPromptTemplate,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		timeout:     DefaultTimeout,
	}
	for _, o := range opts {
		o(c)
	}
	if c.breaker == nil {
		c.breaker = resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{Name: "classifier"})
	}
	return c, nil
}

// Classify returns the intent of text. It never returns a partially valid
// result: check [Intent.Status].
func (c *Classifier) Classify(ctx context.Context, text string) Intent {
	ctx, span := observe.StartSpan(ctx, "classify")
	defer span.End()

	start := time.Now()
	reply, err := c.complete(ctx, text)
	if c.metrics != nil {
		observe.ObserveSince(ctx, c.metrics.ClassifyDuration, start)
	}
	log := observe.Logger(ctx)
	if err != nil {
		log.Error("classification request failed", "err", err)
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, "llm", errorKind(err))
		}
		return errorIntent(StatusServiceError, "", err)
	}

	in := Parse(reply)
	if !in.OK() {
		log.Warn("classification reply is not JSON", "reply", truncate(in.Raw, 200))
		if c.metrics != nil {
			c.metrics.RecordProviderError(ctx, "llm", "unparsed")
		}
		return in
	}
	log.Info("classified instruction",
		"intent", in.Intent, "context", in.Context, "action", in.Action,
		"confidence", in.Confidence, "latency", time.Since(start))
	return in
}

func (c *Classifier) complete(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req := llm.UserPrompt(renderPrompt(c.template, text))
	req.Temperature = c.temperature
	req.MaxTokens = c.maxTokens
	req.JSON = c.jsonMode

	var reply string
	err := c.breaker.Execute(func() error {
		resp, err := c.provider.Complete(ctx, req)
		if err != nil {
			return err
		}
		if resp == nil {
			return errors.New("empty response")
		}
		reply = resp.Content
		return nil
	})
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("model query timed out after %s: %w", c.timeout, err)
		}
		return "", fmt.Errorf("model query failed: %w", err)
	}
	return reply, nil
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return "circuit_open"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	default:
		return "request"
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
