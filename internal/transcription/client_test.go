package transcription

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/sashabaranov/go-openai"
)

type fakeAudioAPI struct {
	mu       sync.Mutex
	calls    int
	errs     []error // returned in order, then success
	text     string
	lastReq  openai.AudioRequest
	blockFor time.Duration
}

func (f *fakeAudioAPI) CreateTranscription(ctx context.Context, req openai.AudioRequest) (openai.AudioResponse, error) {
	f.mu.Lock()
	f.calls++
	f.lastReq = req
	call := f.calls
	f.mu.Unlock()

	if f.blockFor > 0 {
		select {
		case <-time.After(f.blockFor):
		case <-ctx.Done():
			return openai.AudioResponse{}, ctx.Err()
		}
	}

	if call <= len(f.errs) {
		return openai.AudioResponse{}, f.errs[call-1]
	}
	return openai.AudioResponse{Text: f.text}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, api AudioAPI, retries int) *Client {
	t.Helper()
	client, err := NewClient(api, Config{
		Model:       "whisper-1",
		Language:    "ko",
		MaxRetries:  retries,
		BaseBackoff: time.Millisecond,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(nil, Config{Model: "whisper-1"}, nil); err == nil {
		t.Errorf("Expected error for nil API")
	}
	if _, err := NewClient(&fakeAudioAPI{}, Config{}, nil); err == nil {
		t.Errorf("Expected error for empty model")
	}
}

func TestTranscribeSuccess(t *testing.T) {
	api := &fakeAudioAPI{text: "  hello world \n"}
	client := newTestClient(t, api, 1)

	text, err := client.Transcribe(context.Background(), "/tmp/chunk_0000.wav")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "hello world" {
		t.Errorf("Expected trimmed text, got %q", text)
	}
	if api.lastReq.Format != openai.AudioResponseFormatText {
		t.Errorf("Expected text response format, got %s", api.lastReq.Format)
	}
	if api.lastReq.Language != "ko" || api.lastReq.FilePath != "/tmp/chunk_0000.wav" {
		t.Errorf("Unexpected request: %+v", api.lastReq)
	}

	stats := client.GetStats()
	if stats.TotalRequests != 1 || stats.SuccessRequests != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestTranscribeRetries(t *testing.T) {
	tests := []struct {
		name          string
		errs          []error
		retries       int
		expectError   bool
		expectedCalls int
	}{
		{
			name:          "server error retried",
			errs:          []error{&openai.APIError{HTTPStatusCode: http.StatusInternalServerError}},
			retries:       1,
			expectedCalls: 2,
		},
		{
			name:          "rate limit retried",
			errs:          []error{&openai.RequestError{HTTPStatusCode: http.StatusTooManyRequests, Err: errors.New("slow down")}},
			retries:       1,
			expectedCalls: 2,
		},
		{
			name:          "bad request not retried",
			errs:          []error{&openai.APIError{HTTPStatusCode: http.StatusBadRequest}},
			retries:       3,
			expectError:   true,
			expectedCalls: 1,
		},
		{
			name: "retries exhausted",
			errs: []error{
				&openai.APIError{HTTPStatusCode: http.StatusBadGateway},
				&openai.APIError{HTTPStatusCode: http.StatusBadGateway},
			},
			retries:       1,
			expectError:   true,
			expectedCalls: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAudioAPI{errs: tt.errs, text: "ok"}
			client := newTestClient(t, api, tt.retries)

			_, err := client.Transcribe(context.Background(), "chunk.wav")
			if tt.expectError && err == nil {
				t.Errorf("Expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("Expected no error but got: %v", err)
			}
			if api.calls != tt.expectedCalls {
				t.Errorf("Expected %d calls, got %d", tt.expectedCalls, api.calls)
			}
		})
	}
}

func TestTranscribeRespectsDeadline(t *testing.T) {
	api := &fakeAudioAPI{blockFor: time.Second}
	client := newTestClient(t, api, 3)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := client.Transcribe(ctx, "chunk.wav")
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Expected deadline exceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("Transcribe outlived its deadline: %v", elapsed)
	}
	if api.calls != 1 {
		t.Errorf("Expected no retry after deadline, got %d calls", api.calls)
	}
	if client.GetStats().FailedRequests != 1 {
		t.Errorf("Expected one failed request")
	}
}

func TestEmptyResultCounted(t *testing.T) {
	client := newTestClient(t, &fakeAudioAPI{text: "   "}, 0)

	text, err := client.Transcribe(context.Background(), "chunk.wav")
	if err != nil || text != "" {
		t.Fatalf("Expected empty text, got %q (%v)", text, err)
	}
	if client.GetStats().EmptyResults != 1 {
		t.Errorf("Expected one empty result")
	}
}

func TestClose(t *testing.T) {
	client := newTestClient(t, &fakeAudioAPI{text: "ok"}, 0)
	if err := client.Close(context.Background()); err != nil {
		t.Errorf("Close failed: %v", err)
	}
}
