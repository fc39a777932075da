package conversation

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/vogohq/concierge/pkg/logging"
)

var classifierTracer = otel.Tracer("concierge.internal.conversation.classifier")

const classifierSystemPrompt = `You are an intent classifier for a customer support assistant.
Analyze the user's latest message in the context of the conversation and output ONLY a JSON object, nothing else. No markdown, no code fences, no explanation.

Return this exact shape:
{"isScheduling": false, "isProductorServiceSearch": false, "isOrdering": false, "isPreviousSchedules": false, "isGeneral": false, "isPreviousTickets": false, "isHumanRepresentative": false, "serviceType": "", "hasDate": false, "hasTime": false, "dateTime": "", "location": "", "searchQuery": "", "productName": "", "quantity": 0, "notes": ""}

Rules:
- EXACTLY ONE of the is* flags must be true.
- isScheduling: the user wants to book, move, or discuss a NEW appointment. Extract serviceType, hasDate, hasTime, location. Only when BOTH a date and a time are understood, set dateTime to the full RFC3339 timestamp in the %s timezone. Never invent a date or time the user did not give.
- isPreviousSchedules: the user asks about appointments they already booked.
- isProductorServiceSearch: the user is looking for a product or service. Extract searchQuery.
- isOrdering: the user wants to buy or order a specific product. Extract productName and quantity (default 1).
- isPreviousTickets: the user asks about their earlier support requests or tickets.
- isHumanRepresentative: the user asks for a human, an operator, an agent, or real person.
- isGeneral: anything else, including greetings and questions about the business.
- The current date and time is %s. Resolve relative dates like "tomorrow" against it.`

const languageSystemPrompt = `Identify the language of the user's message.
Reply with ONLY one of these codes and nothing else: en, fr, ro.
If unsure, reply en.`

const (
	classifyMaxTokens  = 300
	classifyTimeout    = 25 * time.Second
	classifyHistoryMax = 12
)

// Classifier decides which conversational branch a user turn belongs to.
// Results are cached in Redis keyed by the message and its recent context.
type Classifier struct {
	client   LLMClient
	redis    *redis.Client
	model    string
	timezone *time.Location
	cacheTTL time.Duration
	logger   *logging.Logger
	now      func() time.Time
}

// NewClassifier returns an LLM-backed classifier. The redis client is
// optional; without it every turn is classified fresh.
func NewClassifier(client LLMClient, redisClient *redis.Client, model string, timezone *time.Location, cacheTTL time.Duration, logger *logging.Logger) *Classifier {
	if client == nil {
		panic("conversation: llm client cannot be nil")
	}
	if timezone == nil {
		timezone = time.UTC
	}
	if cacheTTL <= 0 {
		cacheTTL = time.Hour
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		client:   client,
		redis:    redisClient,
		model:    model,
		timezone: timezone,
		cacheTTL: cacheTTL,
		logger:   logger,
		now:      time.Now,
	}
}

// Classify returns the intent for the latest user message. It never fails:
// model errors, malformed responses, and ambiguous classifications all
// degrade to the general branch so the turn still gets answered.
func (c *Classifier) Classify(ctx context.Context, history []Message, message string) IntentResult {
	ctx, span := classifierTracer.Start(ctx, "conversation.classify")
	defer span.End()

	cacheKey := c.cacheKey("intent", history, message)
	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		if result, err := DecodeIntentResult(cached); err == nil {
			span.SetAttributes(
				attribute.String("concierge.intent", string(result.Intent)),
				attribute.Bool("concierge.classify.cached", true),
			)
			return result
		}
		// A cached value that no longer decodes is stale noise; drop it.
		c.cacheDel(ctx, cacheKey)
	}

	raw, err := c.complete(ctx, c.classifyPrompt(), history, message)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("intent classification failed, using general fallback", "error", err)
		return GeneralFallback()
	}

	result, err := DecodeIntentResult(raw)
	if err != nil {
		span.RecordError(err)
		var cerr *ClassificationError
		if errors.As(err, &cerr) {
			c.logger.Warn("intent response rejected, using general fallback",
				"reason", cerr.Reason,
				"raw", truncateForLog(cerr.Raw, 200),
			)
		} else {
			c.logger.Warn("intent response rejected, using general fallback", "error", err)
		}
		return GeneralFallback()
	}

	span.SetAttributes(attribute.String("concierge.intent", string(result.Intent)))
	c.cacheSet(ctx, cacheKey, stripCodeFences(raw))
	return result
}

// DetectLanguage identifies the user's language as en, fr, or ro.
// Any failure yields "en".
func (c *Classifier) DetectLanguage(ctx context.Context, message string) string {
	ctx, span := classifierTracer.Start(ctx, "conversation.detect_language")
	defer span.End()

	cacheKey := c.cacheKey("lang", nil, message)
	if cached, ok := c.cacheGet(ctx, cacheKey); ok {
		if lang, ok := normalizeLanguage(cached); ok {
			return lang
		}
		c.cacheDel(ctx, cacheKey)
	}

	raw, err := c.complete(ctx, languageSystemPrompt, nil, message)
	if err != nil {
		span.RecordError(err)
		c.logger.Warn("language detection failed, defaulting to en", "error", err)
		return "en"
	}

	lang, ok := normalizeLanguage(raw)
	if !ok {
		c.logger.Warn("language detection returned unknown code, defaulting to en",
			"raw", truncateForLog(raw, 40))
		return "en"
	}
	c.cacheSet(ctx, cacheKey, lang)
	return lang
}

func (c *Classifier) classifyPrompt() string {
	now := c.now().In(c.timezone)
	return fmt.Sprintf(classifierSystemPrompt, c.timezone.String(), now.Format(time.RFC3339))
}

func (c *Classifier) complete(ctx context.Context, systemPrompt string, history []Message, message string) (string, error) {
	messages := make([]ChatMessage, 0, classifyHistoryMax+1)
	start := 0
	if len(history) > classifyHistoryMax {
		start = len(history) - classifyHistoryMax
	}
	for _, msg := range history[start:] {
		role := ChatRoleUser
		if msg.Role == RoleAssistant {
			role = ChatRoleAssistant
		}
		if strings.TrimSpace(msg.Content) == "" {
			continue
		}
		messages = append(messages, ChatMessage{Role: role, Content: msg.Content})
	}
	messages = append(messages, ChatMessage{Role: ChatRoleUser, Content: message})

	callCtx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	resp, err := c.client.Complete(callCtx, LLMRequest{
		Model:       c.model,
		System:      []string{systemPrompt},
		Messages:    messages,
		MaxTokens:   classifyMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		return "", fmt.Errorf("conversation: classifier completion failed: %w", err)
	}
	if strings.TrimSpace(resp.Text) == "" {
		return "", errors.New("conversation: classifier returned empty response")
	}
	return resp.Text, nil
}

func (c *Classifier) cacheKey(kind string, history []Message, message string) string {
	h := sha256.New()
	h.Write([]byte(message))
	// The same message can mean different things after different turns, so
	// the last assistant question is part of the key.
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == RoleAssistant {
			h.Write([]byte(history[i].Content))
			break
		}
	}
	return fmt.Sprintf("concierge:classify:%s:%s", kind, hex.EncodeToString(h.Sum(nil)))
}

func (c *Classifier) cacheGet(ctx context.Context, key string) (string, bool) {
	if c.redis == nil {
		return "", false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Debug("classifier cache read failed", "key", key, "error", err)
		}
		return "", false
	}
	return val, true
}

func (c *Classifier) cacheSet(ctx context.Context, key, value string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Set(ctx, key, value, c.cacheTTL).Err(); err != nil {
		c.logger.Debug("classifier cache write failed", "key", key, "error", err)
	}
}

func (c *Classifier) cacheDel(ctx context.Context, key string) {
	if c.redis == nil {
		return
	}
	if err := c.redis.Del(ctx, key).Err(); err != nil {
		c.logger.Debug("classifier cache delete failed", "key", key, "error", err)
	}
}

func normalizeLanguage(raw string) (string, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "en":
		return "en", true
	case "fr":
		return "fr", true
	case "ro":
		return "ro", true
	}
	return "", false
}

func truncateForLog(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
