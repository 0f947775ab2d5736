// Package ai talks to the hosted language model APIs behind quiz, flashcard
// and chatbot generation. A Client walks an ordered list of providers, stops
// at the first usable reply and normalizes it into JSON or plain text.
package ai

import (
	"context"
	"maps"
	"net/http"
)

// Provider names understood by the default registry.
const (
	ProviderAzure       = "azure"
	ProviderDeepSeek    = "deepseek"
	ProviderGemini      = "gemini"
	ProviderHuggingFace = "huggingface"
	ProviderOllama      = "ollama"
)

// Provider-specific configuration keys read through ProviderConfig.Param.
const (
	ParamDeployment = "deployment"
	ParamAPIVersion = "api_version"
	ParamModel      = "model"
)

// Provider is a single completion API. Complete issues exactly one request
// and never retries; fallback policy lives in Client.
type Provider interface {
	Name() string
	Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error)
}

// Factory builds a Provider from a resolved configuration snapshot. It
// returns an error wrapping ErrNotConfigured when required fields are
// missing and must not touch the network.
type Factory func(cfg ProviderConfig, client *http.Client) (Provider, error)

// DefaultFactories returns a fresh registry of the built-in adapters.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		ProviderAzure:       NewAzure,
		ProviderDeepSeek:    NewDeepSeek,
		ProviderGemini:      NewGemini,
		ProviderHuggingFace: NewHuggingFace,
		ProviderOllama:      NewOllama,
	}
}

// Reply is what an adapter extracted from its provider: either raw text or
// a value the provider already returned in structured form.
type Reply struct {
	text       string
	value      any
	structured bool
}

// TextReply wraps raw completion text. The text is not interpreted.
func TextReply(text string) Reply {
	return Reply{text: text}
}

// StructuredReply wraps a pre-parsed value; it is passed to callers as is.
func StructuredReply(value any) Reply {
	return Reply{value: value, structured: true}
}

func (r Reply) Text() string     { return r.text }
func (r Reply) Value() any       { return r.value }
func (r Reply) Structured() bool { return r.structured }

// ProviderConfig is an immutable snapshot of one provider's settings.
type ProviderConfig struct {
	Name       string
	Endpoint   string
	Credential string
	params     map[string]string
}

// NewProviderConfig copies params so later changes to the map are not seen.
func NewProviderConfig(name, endpoint, credential string, params map[string]string) ProviderConfig {
	cfg := ProviderConfig{
		Name:       name,
		Endpoint:   endpoint,
		Credential: credential,
	}
	if len(params) > 0 {
		cfg.params = maps.Clone(params)
	}
	return cfg
}

// Param returns a provider-specific field such as the deployment or model.
func (c ProviderConfig) Param(key string) string {
	return c.params[key]
}

// Params returns a copy of all provider-specific fields.
func (c ProviderConfig) Params() map[string]string {
	return maps.Clone(c.params)
}
