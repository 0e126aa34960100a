// Package providers is the closed set of LLM providers the dashboard's chat
// widgets can talk to, and the store holding the active one.
package providers

import (
	"fmt"
	"strings"
)

type Provider int

const (
	OpenAI Provider = iota + 1
	Anthropic
	Gemini
	Perplexity
	DeepSeek
)

// All lists every provider in display order.
var All = []Provider{OpenAI, Anthropic, Gemini, Perplexity, DeepSeek}

// Info is everything the rest of the system needs to know about a provider.
type Info struct {
	ID            string // stable identifier, also the credential store key
	DisplayName   string
	EnvVar        string
	CapabilityKey string // key in the capability endpoint's allKeys map
	DefaultModel  string
	Models        []string
}

var catalogue = map[Provider]Info{
	OpenAI: {
		ID:            "openai",
		DisplayName:   "OpenAI",
		EnvVar:        "OPENAI_API_KEY",
		CapabilityKey: "openai",
		DefaultModel:  "gpt-4o-mini",
		Models:        []string{"gpt-4o-mini", "gpt-4o", "o3-mini"},
	},
	Anthropic: {
		ID:            "anthropic",
		DisplayName:   "Anthropic",
		EnvVar:        "ANTHROPIC_API_KEY",
		CapabilityKey: "anthropic",
		DefaultModel:  "claude-3-5-haiku-latest",
		Models:        []string{"claude-3-5-haiku-latest", "claude-3-7-sonnet-latest"},
	},
	Gemini: {
		ID:            "gemini",
		DisplayName:   "Google Gemini",
		EnvVar:        "GEMINI_API_KEY",
		CapabilityKey: "gemini",
		DefaultModel:  "gemini-1.5-flash",
		Models:        []string{"gemini-1.5-flash", "gemini-1.5-pro"},
	},
	Perplexity: {
		ID:            "perplexity",
		DisplayName:   "Perplexity",
		EnvVar:        "PERPLEXITY_API_KEY",
		CapabilityKey: "perplexity",
		DefaultModel:  "sonar",
		Models:        []string{"sonar", "sonar-pro"},
	},
	DeepSeek: {
		ID:            "deepseek",
		DisplayName:   "DeepSeek",
		EnvVar:        "DEEPSEEK_API_KEY",
		CapabilityKey: "deepseek",
		DefaultModel:  "deepseek-chat",
		Models:        []string{"deepseek-chat", "deepseek-reasoner"},
	},
}

// Info returns the catalogue entry; it panics for values outside the enumeration.
func (p Provider) Info() Info {
	info, ok := catalogue[p]
	if !ok {
		panic(fmt.Sprintf("providers: unknown provider %d", int(p)))
	}
	return info
}

func (p Provider) Valid() bool {
	_, ok := catalogue[p]
	return ok
}

func (p Provider) String() string {
	if !p.Valid() {
		return fmt.Sprintf("provider(%d)", int(p))
	}
	return catalogue[p].ID
}

func (p Provider) DisplayName() string  { return p.Info().DisplayName }
func (p Provider) EnvVar() string       { return p.Info().EnvVar }
func (p Provider) DefaultModel() string { return p.Info().DefaultModel }

// Parse accepts an ID or display name, case-insensitively.
func Parse(s string) (Provider, error) {
	needle := strings.ToLower(strings.TrimSpace(s))
	for _, p := range All {
		info := catalogue[p]
		if needle == info.ID || needle == strings.ToLower(info.DisplayName) {
			return p, nil
		}
	}
	return 0, fmt.Errorf("unknown provider %q", s)
}

func (p Provider) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("unknown provider %d", int(p))
	}
	return []byte(p.String()), nil
}

func (p *Provider) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}
