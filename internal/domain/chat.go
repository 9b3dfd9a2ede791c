package domain

// Chat roles accepted by the upstream provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is the provider-agnostic chat message shape used by the handler
// and LLM integrations.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is the fully defaulted request forwarded upstream.
type CompletionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// CompletionResult is the only part of an upstream completion returned to
// callers of the proxy.
type CompletionResult struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage is the upstream token accounting for a single completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the first upstream choice plus the metadata kept for metrics.
type Completion struct {
	Message      ChatMessage
	FinishReason string
	Usage        Usage
}

// Result strips everything but the message.
func (c Completion) Result() CompletionResult {
	return CompletionResult{Role: c.Message.Role, Content: c.Message.Content}
}
