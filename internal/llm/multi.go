package llm

import (
	"context"
	"errors"
	"fmt"
	"slices"
)

// MultiClient picks a provider per request from the model name. Models
// that were never mapped go to the fallback, which serve sets to the
// provider of models.default. Configure it before first use; it is not
// safe to add providers concurrently with requests.
type MultiClient struct {
	providers map[string]Client // "openai", "anthropic"
	models    map[string]string // model name -> provider name
	fallback  Client
}

// NewMultiClient returns a router with no providers. fallback may be
// nil, in which case unmapped models are an error.
func NewMultiClient(fallback Client) *MultiClient {
	return &MultiClient{
		providers: make(map[string]Client),
		models:    make(map[string]string),
		fallback:  fallback,
	}
}

// AddProvider registers client under a provider name.
func (m *MultiClient) AddProvider(name string, client Client) {
	m.providers[name] = client
}

// AddModel routes modelName to providerName. The provider does not
// need to be registered yet.
func (m *MultiClient) AddModel(modelName, providerName string) {
	m.models[modelName] = providerName
}

func (m *MultiClient) route(model string) (Client, error) {
	if c, ok := m.providers[m.models[model]]; ok {
		return c, nil
	}
	if m.fallback == nil {
		return nil, fmt.Errorf("no provider configured for model %q", model)
	}
	return m.fallback, nil
}

// Chat forwards to the model's provider.
func (m *MultiClient) Chat(ctx context.Context, model string, messages []Message, tools []ToolDef) (*ChatResponse, error) {
	c, err := m.route(model)
	if err != nil {
		return nil, err
	}
	return c.Chat(ctx, model, messages, tools)
}

// ChatStream forwards to the model's provider.
func (m *MultiClient) ChatStream(ctx context.Context, model string, messages []Message, tools []ToolDef, callback StreamCallback) (*ChatResponse, error) {
	c, err := m.route(model)
	if err != nil {
		return nil, err
	}
	return c.ChatStream(ctx, model, messages, tools, callback)
}

// Ping probes each distinct client once, in provider-name order, and
// reports every failure rather than the first. It backs the "llm"
// health watcher.
func (m *MultiClient) Ping(ctx context.Context) error {
	names := make([]string, 0, len(m.providers))
	for name := range m.providers {
		names = append(names, name)
	}
	slices.Sort(names)

	var errs []error
	pinged := make([]Client, 0, len(names)+1)
	probe := func(label string, c Client) {
		if slices.Contains(pinged, c) {
			return
		}
		pinged = append(pinged, c)
		if err := c.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", label, err))
		}
	}
	for _, name := range names {
		probe(name, m.providers[name])
	}
	if m.fallback != nil {
		probe("fallback", m.fallback)
	}

	if len(pinged) == 0 {
		return errors.New("no LLM provider configured")
	}
	return errors.Join(errs...)
}
