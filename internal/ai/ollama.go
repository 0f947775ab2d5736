package ai

import (
	"context"
	"net/http"
	"strings"
)

type ollamaProvider struct {
	endpoint string
	model    string
	client   *http.Client
}

type ollamaRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Stream  bool   `json:"stream"`
	Options struct {
		NumPredict int `json:"num_predict"`
	} `json:"options"`
}

type ollamaResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// NewOllama builds the adapter for a local Ollama server. It has no
// credential and counts as configured only when a base URL is set.
func NewOllama(cfg ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.Endpoint == "" {
		return nil, notConfigured("endpoint")
	}
	model := cfg.Param(ParamModel)
	if model == "" {
		return nil, notConfigured("model")
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &ollamaProvider{
		endpoint: strings.TrimRight(cfg.Endpoint, "/") + "/api/generate",
		model:    model,
		client:   client,
	}, nil
}

func (p *ollamaProvider) Name() string { return ProviderOllama }

func (p *ollamaProvider) Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error) {
	body := ollamaRequest{Model: p.model, Prompt: prompt}
	body.Options.NumPredict = maxTokens

	var resp ollamaResponse
	if err := postJSON(ctx, p.client, p.endpoint, nil, body, &resp); err != nil {
		return Reply{}, err
	}
	if strings.TrimSpace(resp.Response) == "" {
		return Reply{}, &ResponseError{Reason: "empty response field"}
	}
	return TextReply(resp.Response), nil
}
