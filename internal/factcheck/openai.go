package factcheck

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/sashabaranov/go-openai"
)

// ErrRefinementRejected is returned when a refinement is suspiciously short
var ErrRefinementRejected = errors.New("refinement rejected")

const (
	minRefineRunes   = 5
	minRefineRatio   = 0.3
	emptyJSONContent = "{}"
)

// ChatCompleter is the subset of *openai.Client used by this package
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// NewOpenAIClient builds a go-openai client, optionally pointed at baseURL
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(config)
}

func complete(ctx context.Context, client ChatCompleter, model, system, user string, jsonMode bool) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: user},
		},
	}
	if jsonMode {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := client.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no response choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// OpenAIRefiner cleans up raw transcriptions
type OpenAIRefiner struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAIRefiner creates a refiner
func NewOpenAIRefiner(client ChatCompleter, model string, logger *slog.Logger) *OpenAIRefiner {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIRefiner{client: client, model: model, logger: logger}
}

// Refine returns the corrected text. Texts shorter than five characters are
// returned unchanged; a result shorter than 30% of the input is rejected with
// ErrRefinementRejected.
func (r *OpenAIRefiner) Refine(ctx context.Context, raw string) (string, error) {
	if utf8.RuneCountInString(raw) < minRefineRunes {
		return raw, nil
	}

	out, err := complete(ctx, r.client, r.model, refineSystemPrompt, raw, false)
	if err != nil {
		return "", fmt.Errorf("refinement request failed: %w", err)
	}

	refined := strings.TrimSpace(out)
	if refined == "" || float64(utf8.RuneCountInString(refined)) < float64(utf8.RuneCountInString(raw))*minRefineRatio {
		return "", fmt.Errorf("%w: %d of %d characters", ErrRefinementRejected,
			utf8.RuneCountInString(refined), utf8.RuneCountInString(raw))
	}

	r.logger.Debug("Transcript refined",
		slog.Int("raw_chars", utf8.RuneCountInString(raw)),
		slog.Int("refined_chars", utf8.RuneCountInString(refined)))
	return refined, nil
}

// OpenAIClassifier decides whether statements need checking
type OpenAIClassifier struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAIClassifier creates a classifier
func NewOpenAIClassifier(client ChatCompleter, model string, logger *slog.Logger) *OpenAIClassifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIClassifier{client: client, model: model, logger: logger}
}

// Classify returns an error only when the service call fails; an unparseable
// response becomes a Fallback classification.
func (c *OpenAIClassifier) Classify(ctx context.Context, stmt Statement) (Classification, error) {
	raw, err := complete(ctx, c.client, c.model, classifierSystemPrompt, classifierUserPrompt(stmt.Text), true)
	if err != nil {
		return Classification{}, fmt.Errorf("classification request failed: %w", err)
	}
	if raw == "" {
		raw = emptyJSONContent
	}

	result := ParseClassification(stmt.ID, raw)
	if result.Fallback {
		c.logger.Warn("Failed to parse classifier response",
			slog.String("statement_id", stmt.ID),
			slog.String("response", truncate(raw, 200)))
	}

	c.logger.Info("Statement classified",
		slog.String("statement_id", stmt.ID),
		slog.Bool("needs_check", result.NeedsCheck),
		slog.String("claim_type", string(result.ClaimType)))
	return result, nil
}

// OpenAIVerifier produces verdicts, grounded on reference context when present
type OpenAIVerifier struct {
	client ChatCompleter
	model  string
	logger *slog.Logger
}

// NewOpenAIVerifier creates a verifier
func NewOpenAIVerifier(client ChatCompleter, model string, logger *slog.Logger) *OpenAIVerifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpenAIVerifier{client: client, model: model, logger: logger}
}

// Verify returns an error only when the service call fails; an unparseable
// response becomes an unverifiable Fallback verdict.
func (v *OpenAIVerifier) Verify(ctx context.Context, stmt Statement, grounding string) (Verdict, error) {
	raw, err := complete(ctx, v.client, v.model, verifierSystemPrompt, verifierUserPrompt(stmt.Text, grounding), true)
	if err != nil {
		return Verdict{}, fmt.Errorf("verification request failed: %w", err)
	}
	if raw == "" {
		raw = emptyJSONContent
	}

	result := ParseVerdict(stmt, raw)
	if result.Fallback {
		v.logger.Warn("Failed to parse verifier response",
			slog.String("statement_id", stmt.ID),
			slog.String("response", truncate(raw, 200)))
	}

	v.logger.Info("Statement verified",
		slog.String("statement_id", stmt.ID),
		slog.String("verdict", string(result.Category)),
		slog.Float64("confidence", result.Confidence),
		slog.String("source_type", result.SourceType))
	return result, nil
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
