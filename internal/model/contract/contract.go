// Package contract defines the provider-neutral completion types. Providers
// translate these to their SDK shapes; nothing above the model layer imports an
// SDK type.
package contract

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type CompletionRequest struct {
	Model     string    `json:"model"`
	System    string    `json:"system,omitempty"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type CompletionResponse struct {
	Content string `json:"content"`
}
