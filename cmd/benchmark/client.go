package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/cenkalti/backoff/v4"
	"github.com/opensource-finance/sentinel/internal/domain"
)

// score posts row to /transactions. 503 responses and transport errors are
// retried with exponential backoff; other non-200 responses are final.
func score(client *http.Client, opts options, row paySimRow) (*domain.ScoringResult, error) {
	body, err := json.Marshal(row.request(opts.runID))
	if err != nil {
		return nil, err
	}

	var result domain.ScoringResult
	op := func() error {
		req, err := http.NewRequest(http.MethodPost, opts.baseURL+"/transactions", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusOK:
			return json.NewDecoder(resp.Body).Decode(&result)
		case http.StatusServiceUnavailable:
			return fmt.Errorf("status %d", resp.StatusCode)
		default:
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
		}
	}

	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), opts.maxTries)); err != nil {
		return nil, err
	}
	return &result, nil
}
