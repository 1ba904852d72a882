package smtp

import (
	"fmt"
	"time"
)

// Scheme is the connection mode of an SMTP transport.
type Scheme string

const (
	// SchemeSMTPS connects over implicit TLS.
	SchemeSMTPS Scheme = "smtps"
	// SchemeStartTLS connects in plain text and requires the STARTTLS upgrade.
	// Servers that do not offer it are refused.
	SchemeStartTLS Scheme = "starttls"
	// SchemePlain connects in plain text. The connection is still upgraded when the server offers STARTTLS.
	SchemePlain Scheme = "smtp"
)

// SchemeFor maps a configured encryption and port to a connection scheme.
// Encryption "tls" selects implicit TLS on port 465 and STARTTLS on any other port.
func SchemeFor(encryption string, port int) Scheme {
	switch encryption {
	case "tls", "ssl":
		if port == 465 {
			return SchemeSMTPS
		}
		return SchemeStartTLS
	case "starttls":
		return SchemeStartTLS
	default:
		return SchemePlain
	}
}

// OAuthConfig configures XOAUTH2 authentication with the client credentials flow.
type OAuthConfig struct {
	ClientID     string   `yaml:"client_id" env:"SMTP_OAUTH_CLIENT_ID"`
	ClientSecret string   `yaml:"client_secret" env:"SMTP_OAUTH_CLIENT_SECRET"`
	TokenURL     string   `yaml:"token_url" env:"SMTP_OAUTH_TOKEN_URL"`
	Scopes       []string `yaml:"scopes" env:"SMTP_OAUTH_SCOPES"`
}

// Config holds SMTP transport configuration.
type Config struct {
	OAuth              *OAuthConfig  `yaml:"oauth"`
	Host               string        `yaml:"host" env:"SMTP_HOST"`
	Username           string        `yaml:"username" env:"SMTP_USERNAME"`
	Password           string        `yaml:"password" env:"SMTP_PASSWORD"`
	Encryption         string        `yaml:"encryption" env:"SMTP_ENCRYPTION"`
	LocalDomain        string        `yaml:"local_domain" env:"SMTP_LOCAL_DOMAIN"`
	SourceIP           string        `yaml:"source_ip" env:"SMTP_SOURCE_IP"`
	AuthMode           string        `yaml:"auth_mode" env:"SMTP_AUTH_MODE"`
	Port               int           `yaml:"port" env:"SMTP_PORT" envDefault:"587"`
	Timeout            time.Duration `yaml:"timeout" env:"SMTP_TIMEOUT"`
	InsecureSkipVerify bool          `yaml:"insecure_skip_verify" env:"SMTP_INSECURE_SKIP_VERIFY"`
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = 587
	}
}

func (c Config) validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.AuthMode == AuthXOAuth2 && c.OAuth == nil {
		return fmt.Errorf("%w: auth_mode xoauth2 requires an oauth block", ErrInvalidConfig)
	}
	return nil
}
