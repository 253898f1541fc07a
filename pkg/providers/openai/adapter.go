package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Radicalscale/virevo-sub005/pkg/llm"
	"github.com/Radicalscale/virevo-sub005/pkg/resilience"
)

type Adapter struct {
	APIKey  string
	Model   string
	BaseURL string
	Client  *http.Client
}

func NewAdapter(apiKey, model string) *Adapter {
	return &Adapter{
		APIKey:  apiKey,
		Model:   model,
		BaseURL: "https://api.openai.com/v1",
		Client:  &http.Client{Timeout: 30 * time.Second},
	}
}

func (a *Adapter) Name() string { return "openai" }

func (a *Adapter) Generate(ctx context.Context, req llm.GenerateRequest) (llm.GenerateResponse, error) {
	messages := buildGenerateMessages(req)
	payload, err := a.post(ctx, messages)
	if err != nil {
		return llm.GenerateResponse{}, err
	}
	text, reason, tokens, err := parseChatResponse(payload)
	if err != nil {
		return llm.GenerateResponse{}, err
	}
	return llm.GenerateResponse{Text: text, FinishReason: reason, TotalTokens: tokens}, nil
}

// Choose presents transition conditions as a numbered list and parses the
// index the model answers with. Anything unparseable is an error; the caller
// decides the fallback.
func (a *Adapter) Choose(ctx context.Context, req llm.ChooseRequest) (int, error) {
	if len(req.Options) == 0 {
		return 0, errors.New("no options")
	}
	messages := buildChooseMessages(req)
	payload, err := a.post(ctx, messages)
	if err != nil {
		return 0, err
	}
	text, _, _, err := parseChatResponse(payload)
	if err != nil {
		return 0, err
	}
	idx, err := parseChoice(text, len(req.Options))
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func (a *Adapter) post(ctx context.Context, messages []map[string]any) (map[string]any, error) {
	body := map[string]any{
		"model":    a.Model,
		"messages": messages,
	}
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, a.BaseURL+"/chat/completions", bytes.NewBuffer(b))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+a.APIKey)

	resp, err := a.client().Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusTooManyRequests {
		raw, _ := io.ReadAll(resp.Body)
		return nil, resilience.RateLimitError{Provider: "openai", Message: string(raw)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(resp.Body)
		return nil, errors.New(string(raw))
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, err
	}
	return payload, nil
}

func (a *Adapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return http.DefaultClient
}

func buildGenerateMessages(req llm.GenerateRequest) []map[string]any {
	system := req.Instruction
	if len(req.Variables) > 0 {
		var sb strings.Builder
		sb.WriteString(system)
		sb.WriteString("\n\nKnown caller details:")
		for k, v := range req.Variables {
			sb.WriteString("\n- ")
			sb.WriteString(k)
			sb.WriteString(": ")
			sb.WriteString(v)
		}
		system = sb.String()
	}
	messages := []map[string]any{{"role": "system", "content": system}}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "agent" {
			role = "assistant"
		}
		messages = append(messages, map[string]any{"role": role, "content": turn.Text})
	}
	return messages
}

func buildChooseMessages(req llm.ChooseRequest) []map[string]any {
	var sb strings.Builder
	sb.WriteString("You route a phone conversation. Given the caller's last utterance, answer with the number of the single best matching condition. Answer with the number only.\n\nConditions:\n")
	for _, opt := range req.Options {
		fmt.Fprintf(&sb, "%d. %s\n", opt.Index+1, opt.Condition)
	}
	messages := []map[string]any{{"role": "system", "content": sb.String()}}
	for _, turn := range req.History {
		role := "user"
		if turn.Role == "agent" {
			role = "assistant"
		}
		messages = append(messages, map[string]any{"role": role, "content": turn.Text})
	}
	messages = append(messages, map[string]any{"role": "user", "content": req.Utterance})
	return messages
}

func parseChatResponse(payload map[string]any) (text, finishReason string, tokens int, err error) {
	choices, _ := payload["choices"].([]any)
	if len(choices) == 0 {
		return "", "", 0, errors.New("no choices")
	}
	first, _ := choices[0].(map[string]any)
	msg, _ := first["message"].(map[string]any)
	text, _ = msg["content"].(string)
	finishReason, _ = first["finish_reason"].(string)
	if usage, ok := payload["usage"].(map[string]any); ok {
		if total, ok := usage["total_tokens"].(float64); ok {
			tokens = int(total)
		}
	}
	return text, finishReason, tokens, nil
}

func parseChoice(text string, n int) (int, error) {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return r < '0' || r > '9'
	})
	for _, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			continue
		}
		if v >= 1 && v <= n {
			return v - 1, nil
		}
	}
	return 0, fmt.Errorf("unparseable choice %q", text)
}
