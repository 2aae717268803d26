package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/genai"

	"github.com/atharva20-coder/swoopin-sub002/errors"
	"github.com/atharva20-coder/swoopin-sub002/transcript"
)

// aiModels are tried in order; later entries absorb rate-limit spillover
// from the first.
var aiModels = []string{"gemini-2.5-flash", "gemini-2.5-flash-lite"}

const basePersona = `You are the automated assistant of a social media ` +
	`creator, replying to direct messages on their behalf. Keep answers ` +
	`short, friendly and on topic. Never reveal that you are configured ` +
	`through an automation tool.`

// AIClient generates conversational replies with the Gemini API. It
// implements the AI responder port shared by the flow engine and the chat
// continuation handler.
type AIClient struct {
	client *genai.Client
	logger *slog.Logger

	mu          sync.Mutex
	minuteCount int
	minuteStart time.Time
	rpmLimit    int
}

var _ transcript.AIResponder = (*AIClient)(nil)

// NewAIClient creates a Gemini-backed responder. An empty apiKey is
// rejected up front rather than failing on the first conversation.
func NewAIClient(ctx context.Context, apiKey string, logger *slog.Logger) (*AIClient, error) {
	if apiKey == "" {
		return nil, errors.WrapFatal(errors.ErrAIKeyNotSet, "provider", "NewAIClient", "check key")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, errors.WrapFatal(err, "provider", "NewAIClient", "create client")
	}
	return &AIClient{
		client:      client,
		logger:      logger.With("component", "ai"),
		minuteStart: time.Now(),
		rpmLimit:    30,
	}, nil
}

// Respond produces the next assistant message. The owner's prompt becomes
// the persona instruction; the transcript window becomes the conversation
// so the model answers in context.
func (a *AIClient) Respond(ctx context.Context, prompt string, history []transcript.Entry, userText string) (string, error) {
	if !a.allow() {
		return "", errors.WrapTransient(errors.ErrRateLimited, "provider", "Respond", "local rpm gate")
	}

	contents := buildContents(history, userText)
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction(prompt), genai.RoleUser),
	}

	var lastErr error
	for _, model := range aiModels {
		result, err := a.client.Models.GenerateContent(ctx, model, contents, config)
		if err != nil {
			if isModelBusy(err) {
				lastErr = err
				continue
			}
			return "", errors.WrapTransient(err, "provider", "Respond", "generate content")
		}
		if text := firstCandidateText(result); text != "" {
			return text, nil
		}
		lastErr = errors.New("model returned no candidates")
	}
	return "", errors.WrapTransient(
		fmt.Errorf("all models unavailable: %w", lastErr),
		"provider", "Respond", "generate content")
}

func systemInstruction(prompt string) string {
	if prompt == "" {
		return basePersona
	}
	return basePersona + "\n\nCreator instructions:\n" + prompt
}

func buildContents(history []transcript.Entry, userText string) []*genai.Content {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, entry := range history {
		role := genai.Role(genai.RoleUser)
		if entry.Role == transcript.RoleAssistant {
			role = genai.RoleModel
		}
		contents = append(contents, genai.NewContentFromText(entry.Text, role))
	}
	contents = append(contents, genai.NewContentFromText(userText, genai.RoleUser))
	return contents
}

func firstCandidateText(result *genai.GenerateContentResponse) string {
	if result == nil || len(result.Candidates) == 0 {
		return ""
	}
	candidate := result.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return ""
	}
	return strings.TrimSpace(candidate.Content.Parts[0].Text)
}

func isModelBusy(err error) bool {
	s := strings.ToLower(err.Error())
	return strings.Contains(s, "429") ||
		strings.Contains(s, "rate limit") ||
		strings.Contains(s, "exhausted") ||
		strings.Contains(s, "overloaded")
}

// allow is a coarse local requests-per-minute gate in front of the API's
// own quota, so one chatty page cannot burn the key for every tenant.
func (a *AIClient) allow() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	now := time.Now()
	if now.Sub(a.minuteStart) >= time.Minute {
		a.minuteCount = 0
		a.minuteStart = now
	}
	if a.minuteCount >= a.rpmLimit {
		return false
	}
	a.minuteCount++
	return true
}
