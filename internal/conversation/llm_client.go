package conversation

import "context"

// Roles as the model providers expect them on the wire.
const (
	ChatRoleSystem    = "system"
	ChatRoleUser      = "user"
	ChatRoleAssistant = "assistant"
)

// ChatMessage is one turn of transcript passed to the model. Role holds one
// of the ChatRole constants; stored conversation history maps onto it
// directly.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TokenUsage is the provider's token accounting for one completion.
type TokenUsage struct {
	InputTokens  int32
	OutputTokens int32
	TotalTokens  int32
}

// LLMRequest describes one completion call. System prompts ride separately
// from Messages because both Bedrock Converse and Gemini take them out of
// band. Classification and extraction calls run at Temperature 0; reply
// drafting runs slightly above.
type LLMRequest struct {
	Model       string
	System      []string
	Messages    []ChatMessage
	MaxTokens   int32
	Temperature float32
	TopP        float32
}

// LLMResponse carries the completion text plus whatever metadata the
// provider reported. Text truncated at MaxTokens still arrives here;
// callers that parse it as JSON fail closed on the broken payload.
type LLMResponse struct {
	Text       string
	Usage      TokenUsage
	StopReason string
}

// LLMClient is satisfied by the Bedrock, Gemini, and fallback clients. The
// classifier, searcher, and general-reply branch all speak through it.
type LLMClient interface {
	Complete(ctx context.Context, req LLMRequest) (LLMResponse, error)
}
