package ai

// OpenRouter exposes an OpenAI-compatible API, so the provider reuses the
// OpenAI wire translation with its own endpoint and attribution headers.

const openRouterDefaultURL = "https://openrouter.ai/api/v1/chat/completions"

// NewOpenRouter creates a provider for the OpenRouter API.
func NewOpenRouter(opts Options) *OpenAIProvider {
	opts.applyDefaults("openrouter/auto")
	if opts.BaseURL == "" {
		opts.BaseURL = openRouterDefaultURL
	}
	p := &OpenAIProvider{
		name: "openrouter",
		opts: opts,
		headers: map[string]string{
			"Authorization": "Bearer " + opts.APIKey,
			"X-Title":       "advisord",
		},
		client: newHTTPClient(),
	}
	return p
}
