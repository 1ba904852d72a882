package ses

// Config holds SES transport configuration.
// Key and Secret are used only when both are set; otherwise the default AWS credential chain applies.
type Config struct {
	Tags                 map[string]string `yaml:"tags"`
	Key                  string            `yaml:"key" env:"AWS_ACCESS_KEY_ID"`
	Secret               string            `yaml:"secret" env:"AWS_SECRET_ACCESS_KEY"`
	Token                string            `yaml:"token" env:"AWS_SESSION_TOKEN"`
	Region               string            `yaml:"region" env:"AWS_REGION" envDefault:"us-east-1"`
	Endpoint             string            `yaml:"endpoint" env:"SES_ENDPOINT"`
	ConfigurationSetName string            `yaml:"configuration_set_name" env:"SES_CONFIGURATION_SET"`
}

// HasStaticCredentials reports whether both key and secret are set.
func (c Config) HasStaticCredentials() bool {
	return c.Key != "" && c.Secret != ""
}
