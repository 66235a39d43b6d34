package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker"
)

// HTTPSMSSender posts messages as JSON to an SMS gateway. Repeated gateway
// failures open a circuit breaker so sweeps stop waiting on a dead gateway.
type HTTPSMSSender struct {
	url     string
	apiKey  string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
}

type smsPayload struct {
	To   string `json:"to"`
	Body string `json:"body"`
}

func NewHTTPSMSSender(url, apiKey string, client *http.Client) *HTTPSMSSender {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPSMSSender{
		url:    url,
		apiKey: apiKey,
		client: client,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "sms-gateway",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
			// A rejected message says nothing about the gateway's health.
			IsSuccessful: func(err error) bool {
				var perm *backoff.PermanentError
				return err == nil || errors.As(err, &perm)
			},
		}),
	}
}

func (s *HTTPSMSSender) SendSMS(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(smsPayload{To: to, Body: body})
	if err != nil {
		return fmt.Errorf("encode sms: %w", err)
	}

	err = backoff.Retry(func() error {
		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.post(ctx, payload)
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		return err
	}, retryPolicy(ctx))
	if err != nil {
		return fmt.Errorf("send sms to %s: %w", to, err)
	}
	return nil
}

func (s *HTTPSMSSender) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return fmt.Errorf("sms gateway returned %d", resp.StatusCode)
	case resp.StatusCode >= 300:
		return backoff.Permanent(fmt.Errorf("sms gateway rejected message: %d", resp.StatusCode))
	}
	return nil
}
