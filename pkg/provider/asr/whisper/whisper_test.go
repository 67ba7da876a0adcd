package whisper_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/voxnote/pkg/audio"
	"github.com/MrWong99/voxnote/pkg/provider/asr/whisper"
)

// received captures what the mock server saw in the last request.
type received struct {
	fileName string
	fileSize int
	language string
	model    string
}

// newMockServer creates a test server that responds to POST /inference with
// a JSON body containing responseText.
func newMockServer(t *testing.T, responseText string, calls *atomic.Int32, got *received) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/inference" {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		if calls != nil {
			calls.Add(1)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		f.Close()
		if got != nil {
			*got = received{
				fileName: hdr.Filename,
				fileSize: len(data),
				language: r.FormValue("language"),
				model:    r.FormValue("model"),
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"text": responseText})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// writeWAV writes samples of silence as a WAV file and returns its path.
func writeWAV(t *testing.T, samples int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "utt.wav")
	if err := os.WriteFile(path, audio.EncodeWAV(make([]byte, samples*2), 16000, 1), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestNew_EmptyServerURL_ReturnsError(t *testing.T) {
	if _, err := whisper.New(""); err == nil {
		t.Fatal("expected error for empty serverURL, got nil")
	}
}

func TestRecognize_UploadsFileAndReturnsText(t *testing.T) {
	var calls atomic.Int32
	var got received
	srv := newMockServer(t, "  save that \n", &calls, &got)

	c, err := whisper.New(srv.URL+"/", whisper.WithLanguage("de"), whisper.WithModel("small"))
	if err != nil {
		t.Fatal(err)
	}
	path := writeWAV(t, 1600)

	text, err := c.Recognize(context.Background(), path)
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if text != "save that" {
		t.Errorf("text = %q, want %q", text, "save that")
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
	if got.fileName != "utt.wav" || got.fileSize != 44+3200 {
		t.Errorf("upload = %q (%d bytes), want utt.wav (3244 bytes)", got.fileName, got.fileSize)
	}
	if got.language != "de" || got.model != "small" {
		t.Errorf("hints = language %q model %q", got.language, got.model)
	}
}

func TestRecognize_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Recognize(context.Background(), writeWAV(t, 160)); err == nil {
		t.Fatal("expected error for HTTP 500")
	}
}

func TestRecognize_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "failed to read WAV file"})
	}))
	defer srv.Close()

	c, _ := whisper.New(srv.URL)
	if _, err := c.Recognize(context.Background(), writeWAV(t, 160)); err == nil {
		t.Fatal("expected error when server reports one")
	}
}

func TestRecognize_MissingFile(t *testing.T) {
	var calls atomic.Int32
	srv := newMockServer(t, "x", &calls, nil)

	c, _ := whisper.New(srv.URL)
	if _, err := c.Recognize(context.Background(), filepath.Join(t.TempDir(), "nope.wav")); err == nil {
		t.Fatal("expected error for missing file")
	}
	if calls.Load() != 0 {
		t.Errorf("server called %d times for a missing file", calls.Load())
	}
}

func TestRecognize_CancelledContext(t *testing.T) {
	srv := newMockServer(t, "x", nil, nil)

	c, _ := whisper.New(srv.URL)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Recognize(ctx, writeWAV(t, 160)); err == nil {
		t.Fatal("expected error for cancelled context")
	}
}
