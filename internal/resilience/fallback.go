package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed wraps the last error once every member of a [FallbackGroup]
// has failed or been skipped.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig is shared by every member of a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for each member's breaker. Its Name is
	// replaced by the member name.
	CircuitBreaker CircuitBreakerConfig

	// OnFailure observes each failed attempt. A member skipped because its
	// breaker is open is reported with [ErrCircuitOpen].
	OnFailure func(provider string, err error)
}

type member[T any] struct {
	name    string
	impl    T
	breaker *CircuitBreaker
}

// FallbackGroup tries interchangeable providers in the order they were
// added, skipping those whose breaker is open. A canceled context ends the
// walk at once. Members must all be added before the group is shared.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(primaryName, primary)
	return g
}

// AddFallback appends impl behind the existing members.
func (g *FallbackGroup[T]) AddFallback(name string, impl T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, impl: impl, breaker: NewCircuitBreaker(bc)})
}

// Names lists the members in the order they are tried.
func (g *FallbackGroup[T]) Names() []string {
	out := make([]string, 0, len(g.members))
	for _, m := range g.members {
		out = append(out, m.name)
	}
	return out
}

// ExecuteWithResult returns the result of the first member for which fn
// succeeds.
func ExecuteWithResult[T, R any](g *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var zero R
	var last error
	for _, m := range g.members {
		var out R
		err := m.breaker.Execute(func() (err error) {
			out, err = fn(m.impl)
			return err
		})
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, context.Canceled):
			return zero, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("fallback: provider skipped, circuit open", "provider", m.name)
		default:
			slog.Warn("fallback: provider failed", "provider", m.name, "err", err)
		}
		if g.cfg.OnFailure != nil {
			g.cfg.OnFailure(m.name, err)
		}
		last = err
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, last)
}
