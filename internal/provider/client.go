package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Charge statuses as reported by the payment gateway.
const (
	StatusPending   = "pending"
	StatusSucceeded = "succeeded"
	StatusCanceled  = "canceled"
	StatusFailed    = "failed"
)

// Charge is the gateway's view of a single payment attempt.
type Charge struct {
	ID     string
	Status string
	PayURL string
}

type CreateChargeRequest struct {
	Amount      decimal.Decimal
	Currency    string
	Description string
	ReturnURL   string
	Metadata    map[string]string
}

type Client struct {
	baseURL   string
	shopID    string
	secretKey string
	client    *http.Client
}

func NewClient(baseURL, shopID, secretKey string) *Client {
	return &Client{
		baseURL:   baseURL,
		shopID:    shopID,
		secretKey: secretKey,
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

type chargeBody struct {
	ID           string `json:"id"`
	Status       string `json:"status"`
	Confirmation struct {
		ConfirmationURL string `json:"confirmation_url"`
	} `json:"confirmation"`
}

func (b *chargeBody) charge() *Charge {
	return &Charge{ID: b.ID, Status: b.Status, PayURL: b.Confirmation.ConfirmationURL}
}

// CreateCharge registers a new payment with the gateway. The request is sent
// with a fresh idempotence key, so a network-level retry cannot create a
// second charge on the gateway side.
func (c *Client) CreateCharge(ctx context.Context, reqBody CreateChargeRequest) (*Charge, error) {
	payload := map[string]any{
		"amount": map[string]string{
			"value":    reqBody.Amount.StringFixed(2),
			"currency": reqBody.Currency,
		},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": reqBody.ReturnURL,
		},
		"description": reqBody.Description,
		"metadata":    reqBody.Metadata,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal charge: %w", err)
	}

	url := c.baseURL + "/v3/payments"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotence-Key", uuid.NewString())
	req.SetBasicAuth(c.shopID, c.secretKey)

	return c.do(req)
}

// GetCharge queries the current status of a charge.
func (c *Client) GetCharge(ctx context.Context, chargeID string) (*Charge, error) {
	url := fmt.Sprintf("%s/v3/payments/%s", c.baseURL, chargeID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.SetBasicAuth(c.shopID, c.secretKey)

	return c.do(req)
}

func (c *Client) do(req *http.Request) (*Charge, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("unexpected status: %d, body: %s", resp.StatusCode, string(body))
	}

	var parsed chargeBody
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return parsed.charge(), nil
}
