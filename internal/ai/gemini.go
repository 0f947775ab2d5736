package ai

import (
	"context"
	"net/http"
	"strings"
)

type geminiProvider struct {
	endpoint string
	key      string
	client   *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents         []geminiContent `json:"contents"`
	GenerationConfig struct {
		MaxOutputTokens int `json:"maxOutputTokens"`
	} `json:"generationConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// NewGemini builds the Gemini adapter. The endpoint may carry a {model}
// placeholder; the key travels in the query string.
func NewGemini(cfg ProviderConfig, client *http.Client) (Provider, error) {
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
	return &geminiProvider{endpoint: endpoint, key: cfg.Credential, client: client}, nil
}

func (p *geminiProvider) Name() string { return ProviderGemini }

func (p *geminiProvider) Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error) {
	endpoint, err := withQuery(p.endpoint, "key", p.key)
	if err != nil {
		return Reply{}, err
	}

	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: prompt}}}}
	body.GenerationConfig.MaxOutputTokens = maxTokens

	var resp geminiResponse
	if err := postJSON(ctx, p.client, endpoint, nil, body, &resp); err != nil {
		return Reply{}, err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return Reply{}, &ResponseError{Reason: "prompt blocked: " + resp.PromptFeedback.BlockReason}
		}
		return Reply{}, &ResponseError{Reason: "no candidates"}
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		text.WriteString(part.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return Reply{}, &ResponseError{Reason: "empty candidate text"}
	}
	return TextReply(text.String()), nil
}
