package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration values.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

func (v *Validator) addError(field, message string) {
	v.errors = append(v.errors, ValidationError{Field: field, Message: message})
}

// Validate validates the entire configuration and returns any errors.
func (v *Validator) Validate(cfg *Config) error {
	v.errors = make(ValidationErrors, 0)

	v.validateBrokers(cfg.Brokers)
	v.validateDaemonConfig(&cfg.Daemon)
	v.validateCacheConfig(&cfg.Cache)
	v.validateLoggingConfig(cfg)

	if v.errors.HasErrors() {
		return v.errors
	}
	return nil
}

func (v *Validator) validateBrokers(brokers []BrokerConfig) {
	if len(brokers) > 1 {
		v.addError("brokers", fmt.Sprintf("at most one broker may be configured, found %d", len(brokers)))
	}
	for i, b := range brokers {
		field := fmt.Sprintf("brokers[%d]", i)
		if b.Address == "" {
			v.addError(field+".address", "address is required")
		} else if !isValidBrokerAddress(b.Address) {
			v.addError(field+".address", "invalid address, expected redis://host:port, memory://name or host:port")
		}
		if b.RetryDelay < 0 {
			v.addError(field+".retry_delay", "retry delay must be non-negative")
		}
	}
}

func (v *Validator) validateDaemonConfig(cfg *DaemonConfig) {
	if cfg.StatusAddress != "" && !isValidAddress(cfg.StatusAddress) {
		v.addError("daemon.status_address", "invalid address format, expected host:port or :port")
	}
	for root, dir := range cfg.FileRoots {
		if root == "" || strings.Contains(root, ":") {
			v.addError("daemon.file_roots", fmt.Sprintf("invalid root name %q", root))
		}
		if dir == "" {
			v.addError("daemon.file_roots."+root, "directory is required")
		}
	}

	seen := make(map[string]bool)
	for i, s := range cfg.Services {
		field := fmt.Sprintf("daemon.services[%d]", i)
		if s.Name == "" {
			v.addError(field+".name", "service name is required")
		} else if seen[s.Name] {
			v.addError(field+".name", fmt.Sprintf("duplicate service name %q", s.Name))
		}
		seen[s.Name] = true
		if s.Worker == "" {
			v.addError(field+".worker", "worker type is required")
		}
		if s.Concurrency <= 0 {
			v.addError(field+".concurrency", "concurrency must be positive")
		}
	}
}

func (v *Validator) validateCacheConfig(cfg *CacheConfig) {
	if cfg.Enabled && cfg.Dir == "" {
		v.addError("cache.dir", "cache directory is required when the cache is enabled")
	}
}

func (v *Validator) validateLoggingConfig(cfg *Config) {
	l := cfg.Logging
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if l.Level == "" {
		v.addError("logging.level", "log level is required")
	} else if !validLevels[strings.ToLower(l.Level)] {
		v.addError("logging.level", fmt.Sprintf("invalid log level '%s', must be one of: debug, info, warn, error", l.Level))
	}

	validFormats := map[string]bool{"json": true, "console": true}
	if l.Format != "" && !validFormats[strings.ToLower(l.Format)] {
		v.addError("logging.format", fmt.Sprintf("invalid log format '%s', must be one of: json, console", l.Format))
	}

	switch l.Output {
	case "", "stdout", "stderr":
	case "file", "both":
		if l.FilePath == "" {
			v.addError("logging.file_path", "file path is required for file output")
		}
	default:
		v.addError("logging.output", fmt.Sprintf("invalid log output '%s'", l.Output))
	}
}

// isValidBrokerAddress accepts broker URLs and bare host:port addresses.
func isValidBrokerAddress(addr string) bool {
	if !strings.Contains(addr, "://") {
		return isValidAddress(addr)
	}
	u, err := url.Parse(addr)
	if err != nil {
		return false
	}
	switch u.Scheme {
	case "memory":
		return u.Host != ""
	case "redis", "rediss":
		return u.Host != ""
	default:
		return false
	}
}

// isValidAddress checks if the address is a valid host:port format.
func isValidAddress(addr string) bool {
	if addr == "" {
		return false
	}

	host, port, err := net.SplitHostPort(addr)
	if err != nil || port == "" {
		return false
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return false
	}

	if host != "" && net.ParseIP(host) == nil && !isValidHostname(host) {
		return false
	}
	return true
}

// isValidHostname performs basic hostname validation.
func isValidHostname(hostname string) bool {
	if len(hostname) == 0 || len(hostname) > 253 {
		return false
	}

	for _, label := range strings.Split(hostname, ".") {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if !isAlphanumeric(label[0]) || !isAlphanumeric(label[len(label)-1]) {
			return false
		}
		for _, c := range label {
			if !isAlphanumeric(byte(c)) && c != '-' {
				return false
			}
		}
	}
	return true
}

func isAlphanumeric(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// Validate validates the configuration and returns any errors.
func (c *Config) Validate() error {
	return NewValidator().Validate(c)
}

// LoadAndValidate loads configuration from a file and validates it.
func LoadAndValidate(path string) (*Config, error) {
	cfg, err := LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
