// Package gateway is the HTTP client for the external payment service. All
// amounts cross the wire in minor units, matching our internal int64s.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/payflowhq/payflow/internal/config"
	"github.com/payflowhq/payflow/internal/issuer/domain"
	obsmetrics "github.com/payflowhq/payflow/internal/observability/metrics"
)

type Client struct {
	baseURL string
	apiKey  string
	log     *zap.Logger
	client  *http.Client
}

type Params struct {
	fx.In

	Config config.Config
	Log    *zap.Logger
}

func NewClient(p Params) *Client {
	timeout := p.Config.PaymentTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(p.Config.PaymentBaseURL, "/"),
		apiKey:  strings.TrimSpace(p.Config.PaymentAPIKey),
		log:     p.Log.Named("issuer.gateway"),
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) CreatePayment(ctx context.Context, req domain.PaymentRequest) (*domain.PaymentResult, error) {
	var result domain.PaymentResult
	if err := c.do(ctx, http.MethodPost, "/payments", req, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

type cancelRequest struct {
	PaymentIDs []uuid.UUID `json:"payment_ids"`
}

func (c *Client) CancelSchedulePayments(ctx context.Context, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	return c.do(ctx, http.MethodPost, "/payments/cancel", cancelRequest{PaymentIDs: ids}, nil)
}

func (c *Client) FundingSourceDetails(ctx context.Context, id uuid.UUID) (*domain.FundingSourceDetails, error) {
	var details domain.FundingSourceDetails
	if err := c.do(ctx, http.MethodGet, "/funding-sources/"+id.String(), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) PayeeDetails(ctx context.Context, id uuid.UUID) (*domain.PayeeDetails, error) {
	var details domain.PayeeDetails
	if err := c.do(ctx, http.MethodGet, "/payees/"+id.String(), nil, &details); err != nil {
		return nil, err
	}
	return &details, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var payload *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(raw)
	} else {
		payload = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	obsmetrics.Issuer().ObserveGatewayLatency(time.Since(start))
	if err != nil {
		c.log.Warn("payment service unreachable",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", domain.ErrGatewayUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayUnavailable, resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("%w: status %d", domain.ErrGatewayRejected, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
