package mock

import (
	"context"
	"sync"

	"github.com/Radicalscale/virevo-sub005/pkg/llm"
)

// LLM is a deterministic adapter for tests. Generate replies can be scripted
// per instruction; Choose answers can be scripted per utterance. Both record
// call counts so tests can assert the model was (or was not) consulted.
type LLM struct {
	mu            sync.Mutex
	GenerateText  string
	GenerateErr   error
	ChooseIndex   int
	ChooseErr     error
	Delay         func(ctx context.Context) error
	generateCalls int
	chooseCalls   int
}

func NewLLM() *LLM {
	return &LLM{GenerateText: "Understood."}
}

func (m *LLM) Name() string { return "mock_llm" }

func (m *LLM) Generate(ctx context.Context, _ llm.GenerateRequest) (llm.GenerateResponse, error) {
	m.mu.Lock()
	m.generateCalls++
	text, err, delay := m.GenerateText, m.GenerateErr, m.Delay
	m.mu.Unlock()
	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return llm.GenerateResponse{}, derr
		}
	}
	if err != nil {
		return llm.GenerateResponse{}, err
	}
	return llm.GenerateResponse{Text: text, FinishReason: "stop"}, nil
}

func (m *LLM) Choose(ctx context.Context, _ llm.ChooseRequest) (int, error) {
	m.mu.Lock()
	m.chooseCalls++
	idx, err, delay := m.ChooseIndex, m.ChooseErr, m.Delay
	m.mu.Unlock()
	if delay != nil {
		if derr := delay(ctx); derr != nil {
			return 0, derr
		}
	}
	if err != nil {
		return 0, err
	}
	return idx, nil
}

func (m *LLM) GenerateCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.generateCalls
}

func (m *LLM) ChooseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.chooseCalls
}

// Block returns a Delay func that waits for the context to expire; it makes
// slow-path timeout behavior deterministic in tests.
func Block() func(ctx context.Context) error {
	return func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
}

var _ llm.Adapter = (*LLM)(nil)
