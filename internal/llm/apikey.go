package llm

import (
	"fmt"
	"log/slog"

	"github.com/awnumar/memguard"
)

// APIKey keeps a provider credential sealed in a memguard enclave. The
// plaintext is only materialized while a client is being built.
type APIKey struct {
	enclave *memguard.Enclave
}

// NewAPIKey returns nil for an empty key so callers can treat "not configured"
// uniformly.
func NewAPIKey(raw string) *APIKey {
	if raw == "" {
		return nil
	}
	return &APIKey{enclave: memguard.NewEnclave([]byte(raw))}
}

func (k *APIKey) Reveal() (string, error) {
	if k == nil || k.enclave == nil {
		return "", ErrNoAPIKey
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return "", fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()
	return string(buf.Bytes()), nil
}

func (k *APIKey) String() string {
	return "[REDACTED]"
}

func (k *APIKey) LogValue() slog.Value {
	return slog.StringValue("[REDACTED]")
}
