package config

// LLMConfig configures the LLM Gateway's endpoint selection: a "local"
// endpoint (an Ollama-compatible HTTP server) and a "cloud" endpoint (an
// OpenAI-compatible API), chosen as a pure function of the requested model
// name at call time.
type LLMConfig struct {
	DefaultProvider string                       `yaml:"default_provider"`
	Providers       map[string]LLMProviderConfig `yaml:"providers"`

	// FallbackChain names provider ids to try, in order, if the default
	// provider's circuit is open or its call exhausts retries.
	FallbackChain []string `yaml:"fallback_chain"`

	// ClassifierModel is the model used for the turn classifier and
	// complexity analyzer, which favor a fast/cheap model over the one used
	// for planning and synthesis.
	ClassifierModel string `yaml:"classifier_model"`
}

// LLMProviderConfig is one named endpoint: local providers set BaseURL to a
// host like Ollama's; cloud providers set APIKey and leave BaseURL empty to
// use the provider's default.
type LLMProviderConfig struct {
	APIKey       string `yaml:"api_key"`
	DefaultModel string `yaml:"default_model"`
	BaseURL      string `yaml:"base_url"`
}
