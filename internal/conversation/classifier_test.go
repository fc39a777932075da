package conversation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

type countingLLMClient struct {
	responses []string
	err       error
	calls     int
}

func (c *countingLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	c.calls++
	if c.err != nil {
		return LLMResponse{}, c.err
	}
	idx := c.calls - 1
	if idx >= len(c.responses) {
		idx = len(c.responses) - 1
	}
	return LLMResponse{Text: c.responses[idx]}, nil
}

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	return redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func TestClassifyDecodesIntent(t *testing.T) {
	llm := &countingLLMClient{responses: []string{`{"isHumanRepresentative": true}`}}
	c := NewClassifier(llm, nil, "test-model", time.UTC, time.Hour, nil)

	got := c.Classify(context.Background(), nil, "I want to talk to a real person")
	if got.Intent != IntentHumanRepresentative {
		t.Errorf("intent = %q, want %q", got.Intent, IntentHumanRepresentative)
	}
}

func TestClassifyFallsBackToGeneralOnLLMError(t *testing.T) {
	llm := &countingLLMClient{err: errors.New("throttled")}
	c := NewClassifier(llm, nil, "test-model", time.UTC, time.Hour, nil)

	got := c.Classify(context.Background(), nil, "book me a massage")
	if got.Intent != IntentGeneral {
		t.Errorf("intent = %q, want general fallback", got.Intent)
	}
	if llm.calls != 1 {
		t.Errorf("llm called %d times, want 1 (no retry)", llm.calls)
	}
}

func TestClassifyFallsBackToGeneralOnMalformedResponse(t *testing.T) {
	llm := &countingLLMClient{responses: []string{`{"isGeneral": true, "isOrdering": true}`}}
	c := NewClassifier(llm, nil, "test-model", time.UTC, time.Hour, nil)

	got := c.Classify(context.Background(), nil, "hmm")
	if got.Intent != IntentGeneral {
		t.Errorf("intent = %q, want general fallback", got.Intent)
	}
	if got.Order != nil {
		t.Error("fallback must not carry slots")
	}
}

func TestClassifyCachesResult(t *testing.T) {
	llm := &countingLLMClient{responses: []string{`{"isPreviousTickets": true}`}}
	c := NewClassifier(llm, testRedis(t), "test-model", time.UTC, time.Hour, nil)

	first := c.Classify(context.Background(), nil, "where are my tickets?")
	second := c.Classify(context.Background(), nil, "where are my tickets?")

	if first.Intent != IntentPreviousTickets || second.Intent != IntentPreviousTickets {
		t.Fatalf("intents = %q, %q", first.Intent, second.Intent)
	}
	if llm.calls != 1 {
		t.Errorf("llm called %d times, want 1 (second hit served from cache)", llm.calls)
	}
}

func TestClassifyCacheKeyDependsOnLastAssistantTurn(t *testing.T) {
	llm := &countingLLMClient{responses: []string{`{"isScheduling": true}`, `{"isOrdering": true, "productName": "yes"}`}}
	c := NewClassifier(llm, testRedis(t), "test-model", time.UTC, time.Hour, nil)

	now := time.Now()
	afterScheduleQuestion := []Message{
		{Role: RoleAssistant, Content: "What service would you like to book?", Timestamp: now},
	}
	afterOrderQuestion := []Message{
		{Role: RoleAssistant, Content: "Should I place the order?", Timestamp: now},
	}

	first := c.Classify(context.Background(), afterScheduleQuestion, "yes")
	second := c.Classify(context.Background(), afterOrderQuestion, "yes")

	if first.Intent != IntentScheduling {
		t.Errorf("first intent = %q", first.Intent)
	}
	if second.Intent != IntentOrdering {
		t.Errorf("second intent = %q; cache must not bleed across contexts", second.Intent)
	}
	if llm.calls != 2 {
		t.Errorf("llm called %d times, want 2", llm.calls)
	}
}

func TestDetectLanguage(t *testing.T) {
	tests := []struct {
		name string
		llm  *countingLLMClient
		want string
	}{
		{"romanian", &countingLLMClient{responses: []string{"ro"}}, "ro"},
		{"french with whitespace", &countingLLMClient{responses: []string{" FR \n"}}, "fr"},
		{"unknown code defaults to en", &countingLLMClient{responses: []string{"de"}}, "en"},
		{"llm failure defaults to en", &countingLLMClient{err: errors.New("down")}, "en"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewClassifier(tt.llm, nil, "test-model", time.UTC, time.Hour, nil)
			if got := c.DetectLanguage(context.Background(), "bonjour"); got != tt.want {
				t.Errorf("DetectLanguage = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectLanguageCaches(t *testing.T) {
	llm := &countingLLMClient{responses: []string{"ro"}}
	c := NewClassifier(llm, testRedis(t), "test-model", time.UTC, time.Hour, nil)

	if got := c.DetectLanguage(context.Background(), "salut"); got != "ro" {
		t.Fatalf("DetectLanguage = %q", got)
	}
	if got := c.DetectLanguage(context.Background(), "salut"); got != "ro" {
		t.Fatalf("DetectLanguage (cached) = %q", got)
	}
	if llm.calls != 1 {
		t.Errorf("llm called %d times, want 1", llm.calls)
	}
}
