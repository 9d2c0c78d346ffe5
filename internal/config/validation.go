package config

import (
	"fmt"
	"strings"
)

var validSSLModes = map[string]struct{}{
	"disable":     {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
	"prefer":      {},
	"allow":       {},
}

// Validate checks configuration values needed by every command.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	switch c.Provider {
	case ProviderGemini, ProviderOpenAI:
	default:
		return fmt.Errorf("%w: %q (expected %q or %q)",
			ErrInvalidProvider, c.Provider, ProviderGemini, ProviderOpenAI)
	}

	if c.IntentThreshold <= 0 || c.IntentThreshold > 1 {
		return fmt.Errorf("%w: %v (must be in (0, 1])", ErrInvalidThreshold, c.IntentThreshold)
	}

	if strings.TrimSpace(c.PostgresHost) == "" {
		return fmt.Errorf("%w: host is empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: %d", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if strings.TrimSpace(c.PostgresDBName) == "" {
		return fmt.Errorf("%w: dbname is empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if strings.TrimSpace(c.RedisAddr) == "" || !strings.Contains(c.RedisAddr, ":") {
		return fmt.Errorf("%w: %q", ErrInvalidRedisAddr, c.RedisAddr)
	}

	return nil
}

// ValidateServe checks configuration required by the HTTP server, on top
// of Validate. The downstream API credentials are only needed here and by
// nothing else, so migrate/seed/consume can run without them.
func (c *Config) ValidateServe() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.ProvisionBaseURL) == "" {
		return ErrMissingProvisionURL
	}
	if c.ProvisionUsername == "" || c.ProvisionPassword == "" {
		return ErrMissingProvisionCredentials
	}
	return nil
}
