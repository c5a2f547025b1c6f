package llm

import (
	"context"
	"strings"

	"github.com/pkg/errors"
)

type Provider string

const (
	ProviderLocal     Provider = "local"
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderStatic    Provider = "static"
)

// Model is an entry of the model picker.
type Model struct {
	Label    string   `json:"label"`
	Provider Provider `json:"provider"`
	ID       string   `json:"id"`
}

// Catalogue lists the models offered to users. The first entry of each
// provider is its default.
var Catalogue = []Model{
	{Label: "Claude Sonnet", Provider: ProviderAnthropic, ID: "claude-3-sonnet-20240229"},
	{Label: "Claude Opus", Provider: ProviderAnthropic, ID: "claude-3-opus-20240229"},
	{Label: "GPT 3.5 Turbo", Provider: ProviderOpenAI, ID: "gpt-3.5-turbo-0125"},
	{Label: "GPT 4 Turbo", Provider: ProviderOpenAI, ID: "gpt-4-turbo-preview"},
	{Label: "Local Model", Provider: ProviderLocal, ID: "deepseek-coder:6.7b-instruct"},
}

// LocalHistoryTokens is the history budget used for the local model when none
// is configured.
const LocalHistoryTokens = 1000

// LookupModel finds a catalogue entry by label or id, case-insensitively.
func LookupModel(name string) (Model, bool) {
	for _, m := range Catalogue {
		if strings.EqualFold(m.Label, name) || strings.EqualFold(m.ID, name) {
			return m, true
		}
	}
	return Model{}, false
}

// DefaultModel returns the first catalogue entry of p.
func DefaultModel(p Provider) (Model, bool) {
	for _, m := range Catalogue {
		if m.Provider == p {
			return m, true
		}
	}
	return Model{}, false
}

type Config struct {
	Provider Provider
	// Model is a catalogue label or a raw model id. Empty picks the
	// provider default.
	Model       string
	MaxTokens   int
	Temperature float64
	// HistoryTokens caps the history sent with each request. Zero means no
	// cap, except for the local model which gets LocalHistoryTokens.
	HistoryTokens int
	// System is prepended to every conversation when non-empty.
	System string

	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string
	StaticReply     string
}

// Resolve fills the provider and model from the catalogue.
func (c Config) Resolve() (Config, error) {
	if m, ok := LookupModel(c.Model); ok {
		if c.Provider == "" {
			c.Provider = m.Provider
		}
		if c.Provider == m.Provider {
			c.Model = m.ID
		}
	}
	if c.Provider == "" {
		c.Provider = ProviderLocal
	}
	switch c.Provider {
	case ProviderLocal, ProviderAnthropic, ProviderOpenAI, ProviderStatic:
	default:
		return c, errors.Wrapf(ErrUnknownProvider, "%q", c.Provider)
	}
	if c.Model == "" {
		if m, ok := DefaultModel(c.Provider); ok {
			c.Model = m.ID
		}
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 4096
	}
	if c.HistoryTokens == 0 && c.Provider == ProviderLocal {
		c.HistoryTokens = LocalHistoryTokens
	}
	return c, nil
}

// New builds the generator cfg describes, wrapped so that the system prompt
// and the history budget apply to every call.
func New(cfg Config) (Generator, error) {
	cfg, err := cfg.Resolve()
	if err != nil {
		return nil, err
	}

	var g Generator
	switch cfg.Provider {
	case ProviderAnthropic:
		g, err = NewAnthropicAdapter(cfg.AnthropicAPIKey, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case ProviderOpenAI:
		g, err = NewOpenAIAdapter(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case ProviderLocal:
		g, err = NewLocalAdapter(cfg.Model, cfg.MaxTokens, cfg.Temperature)
	case ProviderStatic:
		g = &Static{Reply: cfg.StaticReply}
	}
	if err != nil {
		return nil, err
	}

	var budget *Budget
	if cfg.HistoryTokens > 0 {
		if budget, err = NewBudget(cfg.HistoryTokens); err != nil {
			return nil, err
		}
	}
	return Wrap(g, cfg.System, budget), nil
}

// Wrap prepends system to every history and trims it to budget. A nil budget
// keeps the whole history.
func Wrap(g Generator, system string, budget *Budget) Generator {
	if system == "" && budget == nil {
		return g
	}
	return &prepared{Generator: g, system: system, budget: budget}
}

type prepared struct {
	Generator
	system string
	budget *Budget
}

func (p *prepared) prepare(history []Message) []Message {
	out := make([]Message, 0, len(history)+1)
	if p.system != "" {
		out = append(out, Message{Role: RoleSystem, Content: p.system})
	}
	out = append(out, history...)
	return p.budget.Trim(out)
}

func (p *prepared) Generate(ctx context.Context, history []Message) (string, error) {
	return p.Generator.Generate(ctx, p.prepare(history))
}

func (p *prepared) Stream(ctx context.Context, history []Message) (Stream, error) {
	return p.Generator.Stream(ctx, p.prepare(history))
}
