package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// chatProvider serves the chat-completion style APIs (Azure OpenAI and
// DeepSeek) through go-openai.
type chatProvider struct {
	name   string
	model  string
	client *openai.Client
}

// NewAzure builds the Azure OpenAI adapter. It needs a key, the resource
// endpoint and a deployment name; the API version has a default.
func NewAzure(cfg ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.Credential == "" {
		return nil, notConfigured("credential")
	}
	if cfg.Endpoint == "" {
		return nil, notConfigured("endpoint")
	}
	deployment := cfg.Param(ParamDeployment)
	if deployment == "" {
		return nil, notConfigured("deployment")
	}

	oc := openai.DefaultAzureConfig(cfg.Credential, strings.TrimRight(cfg.Endpoint, "/"))
	if version := cfg.Param(ParamAPIVersion); version != "" {
		oc.APIVersion = version
	}
	oc.AzureModelMapperFunc = func(string) string { return deployment }
	if client != nil {
		oc.HTTPClient = client
	}
	return &chatProvider{
		name:   ProviderAzure,
		model:  deployment,
		client: openai.NewClientWithConfig(oc),
	}, nil
}

// NewDeepSeek builds the DeepSeek adapter on its OpenAI-compatible API.
func NewDeepSeek(cfg ProviderConfig, client *http.Client) (Provider, error) {
	if cfg.Credential == "" {
		return nil, notConfigured("credential")
	}
	if cfg.Endpoint == "" {
		return nil, notConfigured("endpoint")
	}
	model := cfg.Param(ParamModel)
	if model == "" {
		return nil, notConfigured("model")
	}

	oc := openai.DefaultConfig(cfg.Credential)
	oc.BaseURL = strings.TrimRight(cfg.Endpoint, "/")
	if client != nil {
		oc.HTTPClient = client
	}
	return &chatProvider{
		name:   ProviderDeepSeek,
		model:  model,
		client: openai.NewClientWithConfig(oc),
	}, nil
}

func (p *chatProvider) Name() string { return p.name }

func (p *chatProvider) Complete(ctx context.Context, prompt string, maxTokens int) (Reply, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
		MaxTokens: maxTokens,
	})
	if err != nil {
		return Reply{}, classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, &ResponseError{Reason: "no choices"}
	}
	content := resp.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return Reply{}, &ResponseError{Reason: "empty completion text"}
	}
	return TextReply(content), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &HTTPError{StatusCode: apiErr.HTTPStatusCode, Body: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode != 0 {
		body := reqErr.HTTPStatus
		if reqErr.Err != nil {
			body = reqErr.Err.Error()
		}
		return &HTTPError{StatusCode: reqErr.HTTPStatusCode, Body: body}
	}
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return &ResponseError{Reason: "decode body: " + err.Error()}
	}
	return &NetworkError{Err: redact(err)}
}
