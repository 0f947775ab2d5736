package ai

import (
	"os"
	"strings"
)

// PriorityEnv holds a comma separated provider order.
const PriorityEnv = "AI_PROVIDER_PRIORITY"

// DefaultOrder is used when neither an explicit order nor PriorityEnv is set.
var DefaultOrder = []string{ProviderAzure, ProviderDeepSeek, ProviderGemini, ProviderHuggingFace}

// LookupFunc reads a setting by key, like os.LookupEnv.
type LookupFunc func(key string) (string, bool)

type paramEnv struct {
	env      string
	fallback string
}

type envKeys struct {
	credential      string
	endpoint        string
	defaultEndpoint string
	params          map[string]paramEnv
}

var providerEnv = map[string]envKeys{
	ProviderAzure: {
		credential: "AZURE_OPENAI_API_KEY",
		endpoint:   "AZURE_OPENAI_ENDPOINT",
		params: map[string]paramEnv{
			ParamDeployment: {env: "AZURE_OPENAI_DEPLOYMENT"},
			ParamAPIVersion: {env: "AZURE_OPENAI_API_VERSION", fallback: "2024-02-15-preview"},
		},
	},
	ProviderDeepSeek: {
		credential:      "DEEPSEEK_API_KEY",
		endpoint:        "DEEPSEEK_BASE_URL",
		defaultEndpoint: "https://api.deepseek.com/v1",
		params: map[string]paramEnv{
			ParamModel: {env: "DEEPSEEK_MODEL", fallback: "deepseek-chat"},
		},
	},
	ProviderGemini: {
		credential:      "GEMINI_API_KEY",
		endpoint:        "GEMINI_API_URL",
		defaultEndpoint: "https://generativelanguage.googleapis.com/v1beta/models/{model}:generateContent",
		params: map[string]paramEnv{
			ParamModel: {env: "GEMINI_MODEL", fallback: "gemini-1.5-pro"},
		},
	},
	ProviderHuggingFace: {
		credential:      "HUGGING_FACE_API_TOKEN",
		endpoint:        "HUGGING_FACE_API_URL",
		defaultEndpoint: "https://api-inference.huggingface.co/models/{model}",
		params: map[string]paramEnv{
			ParamModel: {env: "HUGGING_FACE_MODEL", fallback: "microsoft/DialoGPT-large"},
		},
	},
	ProviderOllama: {
		endpoint: "OLLAMA_BASE_URL",
		params: map[string]paramEnv{
			ParamModel: {env: "OLLAMA_MODEL", fallback: "llama2"},
		},
	},
}

var aliases = map[string]string{
	"azure_openai": ProviderAzure,
	"azureopenai":  ProviderAzure,
	"openai_azure": ProviderAzure,
	"deep_seek":    ProviderDeepSeek,
	"google":       ProviderGemini,
	"hf":           ProviderHuggingFace,
	"hugging_face": ProviderHuggingFace,
}

// ResolveProvider builds the configuration snapshot for one provider. Each
// field comes from explicit when set, then from lookup, then from the
// built-in default. Empty values count as unset.
func ResolveProvider(name string, explicit ProviderConfig, lookup LookupFunc) ProviderConfig {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	keys := providerEnv[name]
	get := func(key string) string {
		if key == "" {
			return ""
		}
		if val, ok := lookup(key); ok {
			return strings.TrimSpace(val)
		}
		return ""
	}

	endpoint := first(explicit.Endpoint, get(keys.endpoint), keys.defaultEndpoint)
	credential := first(explicit.Credential, get(keys.credential))

	params := make(map[string]string, len(keys.params)+len(explicit.params))
	for key, p := range keys.params {
		if val := first(get(p.env), p.fallback); val != "" {
			params[key] = val
		}
	}
	for key, val := range explicit.params {
		if val != "" {
			params[key] = val
		}
	}
	return NewProviderConfig(name, endpoint, credential, params)
}

// ResolveOrder picks the default provider order: explicit, then PriorityEnv,
// then DefaultOrder.
func ResolveOrder(explicit []string, lookup LookupFunc) []string {
	if order := NormalizeOrder(explicit); len(order) > 0 {
		return order
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if raw, ok := lookup(PriorityEnv); ok {
		if order := NormalizeOrder(strings.Split(raw, ",")); len(order) > 0 {
			return order
		}
	}
	return append([]string(nil), DefaultOrder...)
}

// NormalizeOrder canonicalizes provider names and drops blanks and repeats.
func NormalizeOrder(names []string) []string {
	out := make([]string, 0, len(names))
	seen := make(map[string]struct{}, len(names))
	for _, raw := range names {
		name := normalizeName(raw)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return out
}

func normalizeName(raw string) string {
	name := strings.ToLower(strings.TrimSpace(raw))
	name = strings.ReplaceAll(name, "-", "_")
	if canonical, ok := aliases[name]; ok {
		return canonical
	}
	return name
}

func first(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
