// Package providers collects the built-in LLM provider factories.
package providers

import (
	"github.com/llmgateway/core/pkg/llm"
	"github.com/llmgateway/core/pkg/plugin"
)

// Builtin maps plugin_id to the factory that constructs that provider from
// credentials. Application wiring iterates this (or calls RegisterAll) to
// seed a plugin.Registry; factories are never invoked until the registry's
// Initialize runs for a given plugin_id.
var Builtin = map[string]llm.ProviderFactory{
	"anthropic":    NewAnthropicWithCredentials,
	"openai":       NewOpenAIWithCredentials,
	"azure_openai": NewAzureOpenAIWithCredentials,
	"aws_bedrock":  NewBedrockWithCredentials,
}

// RegisterAll registers every built-in factory with reg under its plugin_id.
func RegisterAll(reg *plugin.Registry) error {
	for pluginID, factory := range Builtin {
		if err := reg.RegisterFactory(pluginID, factory); err != nil {
			return err
		}
	}
	return nil
}
