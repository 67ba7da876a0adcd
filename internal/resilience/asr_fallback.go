package resilience

import (
	"context"

	"github.com/MrWong99/voxnote/pkg/provider/asr"
)

// ASRFallback is an [asr.Recognizer] backed by a [FallbackGroup].
type ASRFallback struct {
	*FallbackGroup[asr.Recognizer]
}

var _ asr.Recognizer = (*ASRFallback)(nil)

// NewASRFallback returns a recognizer that prefers primary.
func NewASRFallback(primary asr.Recognizer, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Recognize transcribes the WAV file at path with the first healthy
// recognizer.
func (f *ASRFallback) Recognize(ctx context.Context, path string) (string, error) {
	return ExecuteWithResult(f.FallbackGroup, func(r asr.Recognizer) (string, error) {
		return r.Recognize(ctx, path)
	})
}
