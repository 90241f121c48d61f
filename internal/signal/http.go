// Package signal calls an external statistical model for fraud and anomaly signals.
//
// The model is optional. When it is slow, failing, or its circuit is open the
// scoring pipeline derives both signals internally.
package signal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
	"github.com/opensource-finance/sentinel/internal/metrics"
	"github.com/sony/gobreaker"
)

// ErrUnavailable is returned when the provider cannot produce a signal.
var ErrUnavailable = errors.New("signal provider unavailable")

// HTTPProvider posts features as JSON and reads a domain.Signal back.
type HTTPProvider struct {
	url     string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

// NewHTTPProvider creates a provider guarded by a circuit breaker.
// It returns nil when no URL is configured.
func NewHTTPProvider(cfg domain.SignalConfig) *HTTPProvider {
	if cfg.URL == "" {
		return nil
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 500 * time.Millisecond
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 5
	}

	settings := gobreaker.Settings{
		Name:        "signal-provider",
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
		},
	}

	return &HTTPProvider{
		url:     cfg.URL,
		client:  &http.Client{Timeout: timeout},
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Score requests a signal for one transaction.
func (p *HTTPProvider) Score(ctx context.Context, features domain.Features) (domain.Signal, error) {
	out, err := p.breaker.Execute(func() (interface{}, error) {
		return p.call(ctx, features)
	})
	if err != nil {
		result := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			result = "open"
		}
		metrics.SignalRequestsTotal.WithLabelValues(result).Inc()
		return domain.Signal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	metrics.SignalRequestsTotal.WithLabelValues("ok").Inc()
	return out.(domain.Signal), nil
}

// State reports the breaker state for health output.
func (p *HTTPProvider) State() string {
	return p.breaker.State().String()
}

func (p *HTTPProvider) call(ctx context.Context, features domain.Features) (domain.Signal, error) {
	body, err := json.Marshal(features)
	if err != nil {
		return domain.Signal{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return domain.Signal{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return domain.Signal{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return domain.Signal{}, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var sig domain.Signal
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<16)).Decode(&sig); err != nil {
		return domain.Signal{}, fmt.Errorf("invalid response: %w", err)
	}
	return sig, nil
}
