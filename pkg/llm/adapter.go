// Package llm defines the language-model boundary. Two structurally distinct
// request types exist: free-text generation for agent replies, and option
// choice for transition routing. Both are bounded by the caller's context.
package llm

import "context"

// Turn is one entry in the conversation log.
type Turn struct {
	Role string // "agent" or "user"
	Text string
}

// GenerateRequest carries a node instruction plus conversational context.
type GenerateRequest struct {
	Instruction string
	History     []Turn
	Variables   map[string]string
}

// GenerateResponse is the produced agent text.
type GenerateResponse struct {
	Text         string
	FinishReason string
	TotalTokens  int
}

// Option is one candidate transition presented to the model.
type Option struct {
	Index     int
	Condition string
}

// ChooseRequest asks the model to pick the option whose condition best
// matches the utterance in context.
type ChooseRequest struct {
	Utterance string
	History   []Turn
	Options   []Option
}

// Adapter is the vendor-neutral model contract.
type Adapter interface {
	Name() string
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
	Choose(ctx context.Context, req ChooseRequest) (int, error)
}
