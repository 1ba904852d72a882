package internal

import (
	"fmt"
	"maps"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dmitrymomot/mailkit/pkg/mailer"
)

// Reserved top-level configuration keys. Every other key names a mailer.
const (
	keyDefault    = "default"
	keyFrom       = "from"
	keyReplyTo    = "reply_to"
	keyTo         = "to"
	keyReturnPath = "return_path"
)

var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${NAME} references in parsed string values.
// Other "$" characters are kept, so secrets may contain them.
func expandEnv(v any) any {
	switch val := v.(type) {
	case string:
		return envRef.ReplaceAllStringFunc(val, func(ref string) string {
			return os.Getenv(ref[2 : len(ref)-1])
		})
	case map[string]any:
		for k, item := range val {
			val[k] = expandEnv(item)
		}
	case []any:
		for i, item := range val {
			val[i] = expandEnv(item)
		}
	}
	return v
}

// Config is the mail configuration: a default mailer name, the addresses
// applied to every message and one options block per named mailer.
//
//	default: postmark
//	from: "Example <hello@example.com>"
//	postmark:
//	  transport: postmark
//	  token: ${POSTMARK_TOKEN}
type Config struct {
	Mailers map[string]Options
	Default string
	Always  mailer.Always
}

// LoadConfig reads and parses a YAML config file. ${VAR} references are expanded from the environment.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return ParseConfig(data)
}

// ParseConfig parses a YAML config document. ${VAR} references are expanded from the environment.
func ParseConfig(data []byte) (*Config, error) {
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	raw = expandEnv(raw).(map[string]any)

	cfg := &Config{Mailers: make(map[string]Options, len(raw))}
	for key, value := range raw {
		switch key {
		case keyDefault:
			name, ok := value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %q must be a mailer name", ErrConfiguration, key)
			}
			cfg.Default = name
		case keyFrom, keyReplyTo, keyTo, keyReturnPath:
			addr, err := configAddress(value)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: %w", ErrConfiguration, key, err)
			}
			switch key {
			case keyFrom:
				cfg.Always.From = addr
			case keyReplyTo:
				cfg.Always.ReplyTo = addr
			case keyTo:
				cfg.Always.To = addr
			case keyReturnPath:
				cfg.Always.ReturnPath = addr
			}
		default:
			block, ok := value.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: mailer %q must be a mapping", ErrConfiguration, key)
			}
			cfg.Mailers[key] = Options(block)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the default mailer exists and that every mailer names a transport.
func (c *Config) Validate() error {
	if c.Default == "" && len(c.Mailers) == 1 {
		for name := range c.Mailers {
			c.Default = name
		}
	}
	if c.Default == "" {
		return fmt.Errorf("%w: no default mailer", ErrConfiguration)
	}
	if _, ok := c.Mailers[c.Default]; !ok {
		return fmt.Errorf("%w: %q", ErrMailerNotConfigured, c.Default)
	}
	for _, name := range c.Names() {
		if c.Mailers[name].Transport() == "" {
			return fmt.Errorf("%w: mailer %q has no transport", ErrConfiguration, name)
		}
	}
	return nil
}

// Names returns the configured mailer names, sorted.
func (c *Config) Names() []string {
	return slices.Sorted(maps.Keys(c.Mailers))
}

func configAddress(v any) (mailer.Address, error) {
	if v == nil {
		return mailer.Address{}, nil
	}
	list, err := mailer.AddressesFrom(v)
	if err != nil {
		return mailer.Address{}, err
	}
	if len(list) != 1 {
		return mailer.Address{}, fmt.Errorf("%w: expected one address, got %d", mailer.ErrInvalidAddress, len(list))
	}
	return list[0], nil
}

// Options is one mailer's configuration block.
type Options map[string]any

// Transport returns the driver kind.
func (o Options) Transport() string {
	return o.String("transport", "")
}

// String returns a string option or def when unset.
func (o Options) String(key, def string) string {
	switch v := o[key].(type) {
	case string:
		if v != "" {
			return v
		}
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return def
}

// Int returns an integer option or def when unset or not numeric.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

// Bool returns a boolean option or def when unset.
func (o Options) Bool(key string, def bool) bool {
	switch v := o[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

// Duration reads a duration given either as seconds (a number) or as a Go duration string.
func (o Options) Duration(key string) (time.Duration, error) {
	switch v := o[key].(type) {
	case nil:
		return 0, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			return time.Duration(secs * float64(time.Second)), nil
		}
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("%w: %s: %v", ErrConfiguration, key, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("%w: %s: unsupported duration %T", ErrConfiguration, key, v)
	}
}

// Map returns a nested block. A missing block is returned as an empty Options.
func (o Options) Map(key string) Options {
	if v, ok := o[key].(map[string]any); ok {
		return Options(v)
	}
	return Options{}
}

// StringMap returns a nested block of scalar values as strings.
func (o Options) StringMap(key string) map[string]string {
	return o.Map(key).Strings()
}

// Strings returns the scalar values of o as strings. It returns nil for an empty block.
func (o Options) Strings() map[string]string {
	if len(o) == 0 {
		return nil
	}
	out := make(map[string]string, len(o))
	for k := range o {
		out[k] = o.String(k, "")
	}
	return out
}

// Without returns a copy of o with keys removed.
func (o Options) Without(keys ...string) Options {
	out := maps.Clone(o)
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

// Decode maps the block onto a config struct through its yaml tags.
func (o Options) Decode(out any) error {
	data, err := yaml.Marshal(map[string]any(o))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}
