package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

type huggingFaceProvider struct {
	endpoint string
	token    string
	client   *http.Client
}

type huggingFaceRequest struct {
	Inputs     string `json:"inputs"`
	Parameters struct {
		MaxNewTokens   int  `json:"max_new_tokens"`
		ReturnFullText bool `json:"return_full_text"`
	} `json:"parameters"`
}

// NewHuggingFace builds the Inference API adapter. The endpoint may carry a
// {model} placeholder.
func NewHuggingFace(cfg ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.Credential == "" {
		return nil, notConfigured("credential")
	}
	if cfg.Endpoint == "" {
		return nil, notConfigured("endpoint")
	}
	endpoint := cfg.Endpoint
	if strings.Contains(endpoint, "{model}") {
		model := cfg.Param(ParamModel)
		if model == "" {
			return nil, notConfigured("model")
		}
		endpoint = strings.ReplaceAll(endpoint, "{model}", model)
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &huggingFaceProvider{endpoint: endpoint, token: cfg.Credential, client: client}, nil
}

func (p *huggingFaceProvider) Name() string { return ProviderHuggingFace }

func (p *huggingFaceProvider) Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error) {
	var body huggingFaceRequest
	body.Inputs = prompt
	body.Parameters.MaxNewTokens = maxTokens

	header := http.Header{}
	header.Set("Authorization", "Bearer "+p.token)

	var raw json.RawMessage
	if err := postJSON(ctx, p.client, p.endpoint, header, body, &raw); err != nil {
		return Reply{}, err
	}
	return parseHuggingFace(raw)
}

// parseHuggingFace accepts [{"generated_text": ...}] or {"generated_text": ...}.
// A generated_text that is not a string was already structured by the model
// server and is passed through untouched.
func parseHuggingFace(raw json.RawMessage) (Reply, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return Reply{}, &ResponseError{Reason: "decode list: " + err.Error()}
		}
		if len(items) == 0 {
			return Reply{}, &ResponseError{Reason: "empty result list"}
		}
		raw = bytes.TrimSpace(items[0])
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return Reply{}, &ResponseError{Reason: "unexpected body shape"}
	}
	if msg, ok := obj["error"]; ok {
		var reason string
		if json.Unmarshal(msg, &reason) != nil {
			reason = string(msg)
		}
		return Reply{}, &ResponseError{Reason: "provider error: " + reason}
	}

	generated, ok := obj["generated_text"]
	if !ok || string(bytes.TrimSpace(generated)) == "null" {
		return Reply{}, &ResponseError{Reason: "missing generated_text"}
	}
	var text string
	if err := json.Unmarshal(generated, &text); err == nil {
		if strings.TrimSpace(text) == "" {
			return Reply{}, &ResponseError{Reason: "empty generated_text"}
		}
		return TextReply(text), nil
	}
	var value any
	if err := json.Unmarshal(generated, &value); err != nil {
		return Reply{}, &ResponseError{Reason: "decode generated_text: " + err.Error()}
	}
	return StructuredReply(value), nil
}
