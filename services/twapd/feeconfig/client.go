package feeconfig

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// HTTPConfigService talks JSON to the term-based configuration service.
type HTTPConfigService struct {
	endpoint string
	token    string
	client   *http.Client
}

// NewHTTPConfigService builds a client for endpoint. A non-empty token is sent
// as a bearer credential.
func NewHTTPConfigService(endpoint, token string, timeout time.Duration) (*HTTPConfigService, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(endpoint), "/")
	if trimmed == "" {
		return nil, fmt.Errorf("config service endpoint required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPConfigService{
		endpoint: trimmed,
		token:    strings.TrimSpace(token),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}, nil
}

type termResponse struct {
	Term uint64 `json:"term"`
}

type scheduleRequest struct {
	Term      uint64 `json:"term"`
	FeeToken  string `json:"fee_token"`
	DraftFee  string `json:"draft_fee"`
	SettleFee string `json:"settle_fee"`
	AppealFee string `json:"appeal_fee"`
}

// CurrentTerm implements ConfigService.
func (c *HTTPConfigService) CurrentTerm(ctx context.Context) (uint64, error) {
	var resp termResponse
	if err := c.do(ctx, http.MethodGet, "/v1/terms/current", nil, &resp); err != nil {
		return 0, err
	}
	return resp.Term, nil
}

// ScheduleConfig implements ConfigService.
func (c *HTTPConfigService) ScheduleConfig(ctx context.Context, schedule Schedule) error {
	body := scheduleRequest{
		Term:      schedule.Term,
		FeeToken:  schedule.FeeToken.Hex(),
		DraftFee:  schedule.DraftFee.Dec(),
		SettleFee: schedule.SettleFee.Dec(),
		AppealFee: schedule.AppealFee.Dec(),
	}
	return c.do(ctx, http.MethodPost, "/v1/config", body, nil)
}

func (c *HTTPConfigService) do(ctx context.Context, method, path string, in, out any) error {
	var payload io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint+path, payload)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}
