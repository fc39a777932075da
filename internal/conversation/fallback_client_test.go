package conversation

import (
	"context"
	"errors"
	"testing"
)

type stubLLMClient struct {
	resp  LLMResponse
	err   error
	calls int
}

func (s *stubLLMClient) Complete(ctx context.Context, req LLMRequest) (LLMResponse, error) {
	s.calls++
	return s.resp, s.err
}

func TestFallbackClientUsesPrimaryWhenHealthy(t *testing.T) {
	primary := &stubLLMClient{resp: LLMResponse{Text: "primary"}}
	fallback := &stubLLMClient{resp: LLMResponse{Text: "fallback"}}
	client := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := client.Complete(context.Background(), LLMRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "primary" {
		t.Errorf("text = %q, want primary response", resp.Text)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
}

func TestFallbackClientRetriesOnPrimaryFailure(t *testing.T) {
	primary := &stubLLMClient{err: errors.New("throttled")}
	fallback := &stubLLMClient{resp: LLMResponse{Text: "fallback"}}
	client := NewFallbackLLMClient(primary, fallback, nil)

	resp, err := client.Complete(context.Background(), LLMRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "fallback" {
		t.Errorf("text = %q, want fallback response", resp.Text)
	}
}

func TestFallbackClientNoFallbackReturnsPrimaryError(t *testing.T) {
	primaryErr := errors.New("throttled")
	client := NewFallbackLLMClient(&stubLLMClient{err: primaryErr}, nil, nil)

	_, err := client.Complete(context.Background(), LLMRequest{})
	if !errors.Is(err, primaryErr) {
		t.Fatalf("err = %v, want primary error", err)
	}
}

func TestFallbackClientBothFailReturnsFallbackError(t *testing.T) {
	fallbackErr := errors.New("quota exceeded")
	client := NewFallbackLLMClient(
		&stubLLMClient{err: errors.New("throttled")},
		&stubLLMClient{err: fallbackErr},
		nil,
	)

	_, err := client.Complete(context.Background(), LLMRequest{})
	if !errors.Is(err, fallbackErr) {
		t.Fatalf("err = %v, want fallback error", err)
	}
}
