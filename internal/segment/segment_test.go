package segment_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"

	"github.com/MrWong99/voxnote/internal/segment"
	"github.com/MrWong99/voxnote/pkg/provider/vad/mock"
)

const frameBytes = 1024

// script returns n copies of p.
func script(n int, p float64) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = p
	}
	return out
}

func newSegmenter(t *testing.T, probs []float64) (*segment.Segmenter, *mock.Session) {
	t.Helper()
	sess := &mock.Session{Probabilities: probs}
	s, err := segment.New(segment.DefaultConfig(), sess)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s, sess
}

// feed submits n frames one chunk at a time and collects utterances.
func feed(t *testing.T, s *segment.Segmenter, n int) []segment.Utterance {
	t.Helper()
	var out []segment.Utterance
	for range n {
		us, err := s.Process(context.Background(), make([]byte, frameBytes))
		if err != nil {
			t.Fatalf("Process: %v", err)
		}
		out = append(out, us...)
	}
	return out
}

func TestShortSpeechIsDiscarded(t *testing.T) {
	t.Parallel()

	probs := append(script(40, 0.9), script(70, 0.1)...)
	s, _ := newSegmenter(t, probs)

	if got := feed(t, s, len(probs)); len(got) != 0 {
		t.Fatalf("utterances = %d, want 0", len(got))
	}
	if st := s.State(); st != (segment.State{}) {
		t.Errorf("state after boundary = %+v, want zero", st)
	}
}

func TestUtteranceKeepsTrailingSilence(t *testing.T) {
	t.Parallel()

	probs := append(script(65, 0.9), script(65, 0.1)...)
	s, _ := newSegmenter(t, probs)

	got := feed(t, s, len(probs))
	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	u := got[0]
	if u.TotalFrames != 125 || len(u.Audio) != 125*frameBytes {
		t.Errorf("utterance frames = %d (%d bytes), want 125", u.TotalFrames, len(u.Audio))
	}
	if u.SpeechFrames != 65 {
		t.Errorf("speech frames = %d, want 65", u.SpeechFrames)
	}
	if u.SampleRate != 16000 {
		t.Errorf("sample rate = %d, want 16000", u.SampleRate)
	}
	if st := s.State(); st != (segment.State{}) {
		t.Errorf("state after boundary = %+v, want zero", st)
	}
}

func TestInteriorPauseDoesNotSplit(t *testing.T) {
	t.Parallel()

	var probs []float64
	probs = append(probs, script(30, 0.9)...)
	probs = append(probs, script(59, 0.1)...) // one short of the pause threshold
	probs = append(probs, script(30, 0.9)...)
	probs = append(probs, script(60, 0.1)...)
	s, _ := newSegmenter(t, probs)

	got := feed(t, s, len(probs))
	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	if got[0].SpeechFrames != 60 || got[0].TotalFrames != 179 {
		t.Errorf("utterance = speech %d total %d, want 60/179", got[0].SpeechFrames, got[0].TotalFrames)
	}
}

func TestLeadingSilenceIsNotBuffered(t *testing.T) {
	t.Parallel()

	s, _ := newSegmenter(t, script(20, 0.2))
	feed(t, s, 20)
	if st := s.State(); st.BufferedBytes != 0 || st.Speaking {
		t.Errorf("state = %+v, want empty and not speaking", st)
	}
}

func TestThresholdIsExclusive(t *testing.T) {
	t.Parallel()

	s, _ := newSegmenter(t, []float64{0.5})
	feed(t, s, 1)
	if s.State().Speaking {
		t.Error("probability equal to threshold counted as speech")
	}
}

func TestMultiFrameChunk(t *testing.T) {
	t.Parallel()

	probs := append(script(60, 0.9), script(60, 0.1)...)
	s, sess := newSegmenter(t, probs)

	got, err := s.Process(context.Background(), make([]byte, len(probs)*frameBytes))
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("utterances = %d, want 1", len(got))
	}
	if n := sess.FramesSeen; n != 120 {
		t.Errorf("frames scored = %d, want 120", n)
	}
}

func TestInvalidChunkRejectedWhole(t *testing.T) {
	t.Parallel()

	s, sess := newSegmenter(t, script(10, 0.9))
	for _, n := range []int{0, 1, 1023, 1025, 3000} {
		_, err := s.Process(context.Background(), make([]byte, n))
		if !errors.Is(err, segment.ErrChunkSize) {
			t.Errorf("Process(%d bytes) err = %v, want ErrChunkSize", n, err)
		}
	}
	if n := sess.FramesSeen; n != 0 {
		t.Errorf("frames scored = %d, want 0", n)
	}
}

func TestVADErrorCountsAsSilence(t *testing.T) {
	t.Parallel()

	sess := &mock.Session{ProcessFrameErr: errors.New("onnx failure"), Probability: 0.9}
	s, err := segment.New(segment.DefaultConfig(), sess)
	if err != nil {
		t.Fatal(err)
	}
	if got := feed(t, s, 100); len(got) != 0 {
		t.Errorf("utterances = %d, want 0", len(got))
	}
	if s.State().Speaking {
		t.Error("failed frames counted as speech")
	}
}

func TestCloseReleasesVAD(t *testing.T) {
	t.Parallel()

	s, sess := newSegmenter(t, script(5, 0.9))
	feed(t, s, 5)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if sess.CloseCallCount != 1 {
		t.Errorf("VAD close calls = %d, want 1", sess.CloseCallCount)
	}
	if st := s.State(); st.BufferedBytes != 0 {
		t.Errorf("buffer not released: %+v", st)
	}
}

func TestNew_InvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := segment.DefaultConfig()
	cfg.FrameSamples = 0
	cfg.Threshold = 2
	if _, err := segment.New(cfg, &mock.Session{}); err == nil {
		t.Error("expected validation error")
	}
	if _, err := segment.New(segment.DefaultConfig(), nil); err == nil {
		t.Error("expected error for nil VAD session")
	}
}

// TestNoShortUtterances checks random frame sequences: an emitted utterance
// always carries at least MinSpeechFrames of speech, and the segmenter is
// empty right after every emission.
func TestNoShortUtterances(t *testing.T) {
	t.Parallel()

	cfg := segment.DefaultConfig()
	rng := rand.New(rand.NewPCG(1, 2))
	for trial := range 50 {
		var probs []float64
		for len(probs) < 2000 {
			run := rng.IntN(120) + 1
			p := 0.1
			if rng.IntN(2) == 0 {
				p = 0.9
			}
			probs = append(probs, script(run, p)...)
		}

		sess := &mock.Session{Probabilities: probs}
		s, err := segment.New(cfg, sess)
		if err != nil {
			t.Fatal(err)
		}
		for range probs {
			us, err := s.Process(context.Background(), make([]byte, frameBytes))
			if err != nil {
				t.Fatal(err)
			}
			for _, u := range us {
				if u.SpeechFrames < cfg.MinSpeechFrames {
					t.Fatalf("trial %d: utterance with %d speech frames", trial, u.SpeechFrames)
				}
				if st := s.State(); st != (segment.State{}) {
					t.Fatalf("trial %d: state after emission = %+v", trial, st)
				}
			}
		}
	}
}
