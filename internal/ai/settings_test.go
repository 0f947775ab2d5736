package ai

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func mapLookup(env map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestResolveProvider_Precedence(t *testing.T) {
	t.Parallel()
	env := mapLookup(map[string]string{
		"AZURE_OPENAI_API_KEY":    "env-key",
		"AZURE_OPENAI_ENDPOINT":   "https://env.openai.azure.com",
		"AZURE_OPENAI_DEPLOYMENT": "env-deployment",
	})

	cfg := ResolveProvider(ProviderAzure, ProviderConfig{}, env)
	assert.Equal(t, "env-key", cfg.Credential)
	assert.Equal(t, "https://env.openai.azure.com", cfg.Endpoint)
	assert.Equal(t, "env-deployment", cfg.Param(ParamDeployment))
	assert.Equal(t, "2024-02-15-preview", cfg.Param(ParamAPIVersion))

	explicit := NewProviderConfig(ProviderAzure, "https://explicit", "explicit-key", map[string]string{ParamAPIVersion: "2025-01-01"})
	cfg = ResolveProvider(ProviderAzure, explicit, env)
	assert.Equal(t, "explicit-key", cfg.Credential)
	assert.Equal(t, "https://explicit", cfg.Endpoint)
	assert.Equal(t, "env-deployment", cfg.Param(ParamDeployment))
	assert.Equal(t, "2025-01-01", cfg.Param(ParamAPIVersion))
}

func TestResolveProvider_Defaults(t *testing.T) {
	t.Parallel()
	none := mapLookup(nil)
	tests := []struct {
		name     string
		endpoint string
		model    string
	}{
		{name: ProviderDeepSeek, endpoint: "https://api.deepseek.com/v1", model: "deepseek-chat"},
		{name: ProviderGemini, endpoint: "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent", model: "gemini-1.5-pro"},
		{name: ProviderHuggingFace, endpoint: "https://api-inference.huggingface.co/models/{model}", model: "microsoft/DialoGPT-large"},
		{name: ProviderOllama, endpoint: "", model: "llama2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := ResolveProvider(tt.name, ProviderConfig{}, none)
			assert.Equal(t, tt.name, cfg.Name)
			assert.Equal(t, tt.endpoint, cfg.Endpoint)
			assert.Equal(t, tt.model, cfg.Param(ParamModel))
			assert.Empty(t, cfg.Credential)
		})
	}
}

func TestResolveProvider_EmptyValuesAreUnset(t *testing.T) {
	t.Parallel()
	env := mapLookup(map[string]string{"DEEPSEEK_API_KEY": "  ", "DEEPSEEK_MODEL": ""})
	cfg := ResolveProvider(ProviderDeepSeek, ProviderConfig{}, env)
	assert.Empty(t, cfg.Credential)
	assert.Equal(t, "deepseek-chat", cfg.Param(ParamModel))
}

func TestProviderConfig_Immutable(t *testing.T) {
	t.Parallel()
	params := map[string]string{ParamModel: "a"}
	cfg := NewProviderConfig("x", "", "", params)
	params[ParamModel] = "b"
	assert.Equal(t, "a", cfg.Param(ParamModel))

	copied := cfg.Params()
	copied[ParamModel] = "c"
	assert.Equal(t, "a", cfg.Param(ParamModel))
}

func TestResolveOrder(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		explicit []string
		env      map[string]string
		want     []string
	}{
		{name: "default", want: []string{"azure", "deepseek", "gemini", "huggingface"}},
		{name: "env", env: map[string]string{PriorityEnv: "gemini, HF ,deepseek"}, want: []string{"gemini", "huggingface", "deepseek"}},
		{name: "explicit wins", explicit: []string{"deepseek"}, env: map[string]string{PriorityEnv: "gemini"}, want: []string{"deepseek"}},
		{name: "blank env", env: map[string]string{PriorityEnv: " , "}, want: []string{"azure", "deepseek", "gemini", "huggingface"}},
		{name: "dedupe and alias", explicit: []string{"Azure-OpenAI", "azure", "ollama"}, want: []string{"azure", "ollama"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, ResolveOrder(tt.explicit, mapLookup(tt.env)))
		})
	}
}

func TestResolveOrder_DoesNotShareDefault(t *testing.T) {
	t.Parallel()
	order := ResolveOrder(nil, mapLookup(nil))
	order[0] = "changed"
	assert.Equal(t, ProviderAzure, DefaultOrder[0])
}
