package signal

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/sentinel/internal/domain"
)

func TestNewHTTPProviderDisabled(t *testing.T) {
	if p := NewHTTPProvider(domain.SignalConfig{}); p != nil {
		t.Error("expected nil provider without URL")
	}
}

func TestHTTPProviderScore(t *testing.T) {
	var got domain.Features
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("failed to decode features: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"fraudProbability": 42.5}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(domain.SignalConfig{URL: srv.URL, Timeout: time.Second})

	sig, err := p.Score(context.Background(), domain.Features{TxnID: "txn-001", Amount: 1200, IsFlaggedFraud: 1})
	if err != nil {
		t.Fatalf("Score failed: %v", err)
	}

	if sig.FraudProbability == nil || *sig.FraudProbability != 42.5 {
		t.Errorf("expected fraud probability 42.5, got %v", sig.FraudProbability)
	}
	if sig.AnomalyScore != nil {
		t.Errorf("expected missing anomaly score, got %v", *sig.AnomalyScore)
	}
	if got.TxnID != "txn-001" || got.Amount != 1200 || got.IsFlaggedFraud != 1 {
		t.Errorf("unexpected features posted: %+v", got)
	}
}

func TestHTTPProviderCircuitBreaker(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPProvider(domain.SignalConfig{
		URL:              srv.URL,
		Timeout:          time.Second,
		FailureThreshold: 3,
		OpenTimeout:      time.Minute,
	})

	for i := 0; i < 5; i++ {
		_, err := p.Score(context.Background(), domain.Features{TxnID: "txn-001"})
		if !errors.Is(err, ErrUnavailable) {
			t.Fatalf("call %d: expected ErrUnavailable, got %v", i, err)
		}
	}

	if n := atomic.LoadInt32(&calls); n != 3 {
		t.Errorf("expected breaker to stop calls after 3 failures, got %d calls", n)
	}
	if p.State() != "open" {
		t.Errorf("expected open breaker, got %s", p.State())
	}
}

func TestHTTPProviderTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	p := NewHTTPProvider(domain.SignalConfig{URL: srv.URL, Timeout: 20 * time.Millisecond})

	if _, err := p.Score(context.Background(), domain.Features{}); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable on timeout, got %v", err)
	}
}
