// Package pipeline runs a triggered instruction through classification and
// the note store and reports the result to the client.
//
// A run moves through the stages
//
//	start → ack sent → classifying → [note mutating] → feedback sent
//
// or ends in the error stage when no classification is available. Every
// stage boundary checks the run's context; a cancelled run emits nothing
// further.
package pipeline

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MrWong99/voxnote/internal/classify"
	"github.com/MrWong99/voxnote/internal/event"
	"github.com/MrWong99/voxnote/internal/notes"
	"github.com/MrWong99/voxnote/internal/observe"
)

// DefaultLowConfidence is the confidence below which feedback asks the
// user to verify the result.
const DefaultLowConfidence = 0.7

const lowConfidenceSuffix = " (Low confidence - please verify)"

// Classifier maps an instruction to an intent.
type Classifier interface {
	Classify(ctx context.Context, text string) classify.Intent
}

// NoteApplier performs note mutations.
type NoteApplier interface {
	Apply(ctx context.Context, req notes.Request) notes.Result
}

// Stage is a step of a pipeline run.
type Stage int

const (
	StageStart Stage = iota
	StageAckSent
	StageClassifying
	StageNoteMutating
	StageFeedbackSent
	StageError
)

func (s Stage) String() string {
	switch s {
	case StageStart:
		return "start"
	case StageAckSent:
		return "ack_sent"
	case StageClassifying:
		return "classifying"
	case StageNoteMutating:
		return "note_mutating"
	case StageFeedbackSent:
		return "feedback_sent"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

// Outcome is the result of one run.
type Outcome struct {
	// Stage is the last stage the run reached.
	Stage Stage

	Intent classify.Intent

	// Notes is the note store result, nil when the intent does not mutate
	// notes or the run stopped earlier.
	Notes *notes.Result

	// Feedback is the message sent in the FEEDBACK or ERROR event.
	Feedback string

	// Err is the classification error or the context error of a cancelled
	// run.
	Err error
}

// Cancelled reports whether the run stopped because its context ended.
func (o Outcome) Cancelled() bool {
	return o.Err != nil && o.Stage != StageError
}

var templates = map[string]string{
	classify.IntentTakeNotes:   "✅ Notes added to '{context}' category with {action} action.",
	classify.IntentManageTasks: "✅ Tasks updated in '{context}' list.",
	classify.IntentUpdateInfo:  "✅ Information updated in '{context}' section.",
	classify.IntentRemoveNotes: "✅ Notes removed from '{context}' category.",
	classify.IntentReadNotes:   "📖 Notes from '{context}' are ready for viewing.",
	classify.IntentSearchNotes: "🔍 Search completed in '{context}' category.",
	classify.IntentCategorize:  "🏷️  Content categorized under '{context}'.",
}

const defaultTemplate = "✅ Action completed successfully."

// mutating reports whether intent is applied to the note store.
func mutating(intent string) bool {
	switch intent {
	case classify.IntentTakeNotes, classify.IntentManageTasks, classify.IntentUpdateInfo:
		return true
	}
	return false
}

// Orchestrator runs instructions. It holds no per-session state and is
// safe for concurrent use; the session task slot keeps runs of one session
// sequential.
type Orchestrator struct {
	classifier    Classifier
	notes         NoteApplier
	lowConfidence atomic.Uint64
	now           func() time.Time
	metrics       *observe.Metrics
}

// Option configures an [Orchestrator].
type Option func(*Orchestrator)

// WithLowConfidence sets the threshold below which feedback carries a
// verification hint.
func WithLowConfidence(t float64) Option {
	return func(o *Orchestrator) { o.SetLowConfidence(t) }
}

// WithClock replaces time.Now for event timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

// WithMetrics records every run on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New returns an Orchestrator.
func New(c Classifier, n NoteApplier, opts ...Option) *Orchestrator {
	o := &Orchestrator{classifier: c, notes: n, now: time.Now}
	o.SetLowConfidence(DefaultLowConfidence)
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// SetLowConfidence changes the low-confidence threshold. Safe to call while
// runs are in flight.
func (o *Orchestrator) SetLowConfidence(t float64) {
	o.lowConfidence.Store(math.Float64bits(t))
}

// LowConfidence returns the current low-confidence threshold.
func (o *Orchestrator) LowConfidence() float64 {
	return math.Float64frombits(o.lowConfidence.Load())
}

// Run processes text for sessionID and emits PROCESSING followed by either
// FEEDBACK or ERROR to sink.
func (o *Orchestrator) Run(ctx context.Context, sessionID, text string, sink event.Sink) (out Outcome) {
	if observe.SessionID(ctx) == "" {
		ctx = observe.WithSessionID(ctx, sessionID)
	}
	ctx, span := observe.StartSpan(ctx, "pipeline.run")
	defer span.End()
	log := observe.Logger(ctx)

	defer func() {
		if o.metrics != nil {
			o.metrics.RecordPipelineRun(ctx, out.Intent.Intent, runStatus(out))
		}
	}()

	if out.Err = ctx.Err(); out.Err != nil {
		return out
	}
	sink.Emit(event.Processing(sessionID, o.now()))
	out.Stage = StageAckSent

	out.Stage = StageClassifying
	out.Intent = o.classifier.Classify(ctx, text)
	if out.Err = ctx.Err(); out.Err != nil {
		log.Info("pipeline cancelled during classification")
		return out
	}

	if !out.Intent.OK() {
		out.Stage = StageError
		out.Err = out.Intent.Err
		out.Feedback = "Processing failed: " + errMessage(out.Intent)
		log.Error("pipeline failed", "err", out.Err)
		sink.Emit(event.Error(sessionID, out.Feedback, o.now()))
		return out
	}

	in := out.Intent
	if mutating(in.Intent) {
		out.Stage = StageNoteMutating
		res := o.notes.Apply(ctx, notes.Request{
			Intent:   in.Intent,
			Context:  in.Context,
			Action:   in.Action,
			Text:     in.Text,
			Metadata: in.Metadata,
		})
		out.Notes = &res
		if out.Err = ctx.Err(); out.Err != nil {
			log.Info("pipeline cancelled after note mutation")
			return out
		}
	}

	out.Feedback = o.feedback(in, out.Notes)
	sink.Emit(event.Feedback(sessionID, out.Feedback, event.Details{
		Intent:     in.Intent,
		Context:    in.Context,
		Action:     in.Action,
		Confidence: in.Confidence,
	}, o.now()))
	out.Stage = StageFeedbackSent
	log.Info("pipeline completed", "intent", in.Intent, "feedback", out.Feedback)
	return out
}

// feedback renders the client message for a classified instruction.
func (o *Orchestrator) feedback(in classify.Intent, res *notes.Result) string {
	tmpl, ok := templates[in.Intent]
	if !ok {
		tmpl = defaultTemplate
	}
	msg := strings.NewReplacer("{context}", in.Context, "{action}", in.Action).Replace(tmpl)
	if res != nil && !res.Success {
		msg += fmt.Sprintf(" Note update failed: %s.", res.Message)
	}
	if in.Confidence < o.LowConfidence() {
		msg += lowConfidenceSuffix
	}
	return msg
}

func errMessage(in classify.Intent) string {
	if in.Err == nil {
		return "unknown error"
	}
	return in.Err.Error()
}

func runStatus(out Outcome) string {
	switch {
	case out.Stage == StageError:
		return "error"
	case out.Err != nil:
		return "cancelled"
	case out.Notes != nil && !out.Notes.Success:
		return "note_failed"
	default:
		return "ok"
	}
}
