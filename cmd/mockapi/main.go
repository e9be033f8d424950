// Command mockapi serves canned OpenAI-compatible responses for local runs.
// Point openai.base_url at http://localhost:9000/v1 to exercise the full
// pipeline without network access or an API key.
package main

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"log/slog"
	"math"
	"net/http"
	"os"
	"strings"
	"time"
	"unicode"

	"github.com/sashabaranov/go-openai"
	"github.com/spf13/cobra"
)

const embeddingDims = 64

func main() {
	var addr string
	var delay time.Duration

	root := &cobra.Command{
		Use:   "mockapi",
		Short: "Serve canned transcription, chat and embedding responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
			logger.Info("Mock API starting",
				slog.String("address", addr),
				slog.String("base_url", fmt.Sprintf("http://localhost%s/v1", addr)))
			return http.ListenAndServe(addr, newHandler(logger, delay))
		},
	}
	root.Flags().StringVar(&addr, "addr", ":9000", "listen address")
	root.Flags().DurationVar(&delay, "delay", 200*time.Millisecond, "simulated processing time per request")

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

type mockAPI struct {
	logger *slog.Logger
	delay  time.Duration
}

func newHandler(logger *slog.Logger, delay time.Duration) http.Handler {
	m := &mockAPI{logger: logger, delay: delay}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/audio/transcriptions", m.handleTranscription)
	mux.HandleFunc("/v1/chat/completions", m.handleChat)
	mux.HandleFunc("/v1/embeddings", m.handleEmbeddings)
	return mux
}

func (m *mockAPI) handleTranscription(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		http.Error(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "Error getting audio file", http.StatusBadRequest)
		return
	}
	defer file.Close()

	audioData, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Error reading audio file", http.StatusInternalServerError)
		return
	}

	m.logger.Info("Transcription request",
		slog.String("model", r.FormValue("model")),
		slog.String("language", r.FormValue("language")),
		slog.String("filename", header.Filename),
		slog.Int("audio_bytes", len(audioData)))

	time.Sleep(m.delay)

	text := "The unemployment rate fell to 2.8 percent last year."
	if r.FormValue("response_format") == string(openai.AudioResponseFormatText) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		fmt.Fprintln(w, text)
		return
	}
	writeJSON(w, map[string]string{"text": text})
}

func (m *mockAPI) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req openai.ChatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var system, user string
	for _, msg := range req.Messages {
		switch msg.Role {
		case openai.ChatMessageRoleSystem:
			system = msg.Content
		case openai.ChatMessageRoleUser:
			user = msg.Content
		}
	}

	time.Sleep(m.delay)

	var content string
	switch {
	case strings.Contains(system, `"needs_check"`):
		content = classify(user)
	case strings.Contains(system, `"verdict"`):
		content = `{"verdict":"partial","confidence":0.7,"explanation":"Mock verdict.","source_type":"llm","sources":[]}`
	default:
		content = user
	}

	m.logger.Info("Chat request", slog.String("model", req.Model), slog.Int("reply_chars", len(content)))

	writeJSON(w, openai.ChatCompletionResponse{
		ID:      "chatcmpl-mock",
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.Model,
		Choices: []openai.ChatCompletionChoice{{
			Index:        0,
			Message:      openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: content},
			FinishReason: openai.FinishReasonStop,
		}},
	})
}

// classify flags statements containing digits as statistics
func classify(statement string) string {
	if strings.IndexFunc(statement, unicode.IsDigit) >= 0 {
		return `{"needs_check":true,"claim_type":"statistic","reason":"contains figures"}`
	}
	return `{"needs_check":false,"claim_type":"other","reason":"no checkable figures"}`
}

type embeddingRequest struct {
	Input any    `json:"input"`
	Model string `json:"model"`
}

func (m *mockAPI) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req embeddingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var inputs []string
	switch v := req.Input.(type) {
	case string:
		inputs = []string{v}
	case []any:
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				http.Error(w, "Input must be strings", http.StatusBadRequest)
				return
			}
			inputs = append(inputs, s)
		}
	default:
		http.Error(w, "Input must be a string or list of strings", http.StatusBadRequest)
		return
	}

	m.logger.Info("Embedding request", slog.String("model", req.Model), slog.Int("inputs", len(inputs)))

	resp := openai.EmbeddingResponse{
		Object: "list",
		Model:  openai.EmbeddingModel(req.Model),
		Data:   make([]openai.Embedding, len(inputs)),
	}
	for i, text := range inputs {
		resp.Data[i] = openai.Embedding{Object: "embedding", Index: i, Embedding: embed(text)}
	}
	writeJSON(w, resp)
}

// embed hashes words into a normalized bag-of-words vector, so texts sharing
// words score as similar
func embed(text string) []float32 {
	vec := make([]float32, embeddingDims)
	for _, word := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		h := fnv.New32a()
		h.Write([]byte(word))
		vec[h.Sum32()%embeddingDims]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		return vec
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
