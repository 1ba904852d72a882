package resend

// Config holds Resend transport configuration.
// Embed this in your app config for env parsing with caarlos0/env.
type Config struct {
	APIKey  string `yaml:"key" env:"RESEND_API_KEY"`
	BaseURL string `yaml:"base_url" env:"RESEND_BASE_URL"`
}
