package genai

import "context"

// MockGenerator is a test double for the Generator interface. If GenerateFn
// is set it is called; otherwise canned values are returned and calls are
// recorded.
type MockGenerator struct {
	GenerateFn func(ctx context.Context, systemPrompt, userPrompt string) (string, error)

	Calls   int
	Systems []string
	Users   []string

	Response string
	Err      error
}

// Generate records the call and returns the configured response.
func (m *MockGenerator) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	m.Calls++
	m.Systems = append(m.Systems, systemPrompt)
	m.Users = append(m.Users, userPrompt)
	if m.GenerateFn != nil {
		return m.GenerateFn(ctx, systemPrompt, userPrompt)
	}
	return m.Response, m.Err
}
