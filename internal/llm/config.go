package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

type Config struct {
	Model     string
	BaseURL   string
	APIKey    *APIKey
	HFBaseURL string
	HFToken   *APIKey
	Timeout   time.Duration

	// Limiter is shared by every provider built from this Config. Nil means
	// unlimited.
	Limiter *rate.Limiter
	// HTTPClient is used by providers that talk HTTP directly.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// NewLimiter returns a token bucket allowing requestsPerMinute calls with a
// burst of one. Zero or negative disables limiting.
func NewLimiter(requestsPerMinute int) *rate.Limiter {
	if requestsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1)
}

func (c Config) wait(ctx context.Context) error {
	if c.Limiter == nil {
		return nil
	}
	if err := c.Limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit: %w", err)
	}
	return nil
}

func (c Config) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

func (c Config) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &http.Client{Timeout: timeout}
}
