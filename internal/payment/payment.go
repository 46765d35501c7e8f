// Package payment talks to the escrow/payment service that moves funds for
// cash proposals.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"go.uber.org/zap"
)

// Processor is the payment collaborator used by settlement.
type Processor interface {
	ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentReceipt, error)
	RefundPayment(ctx context.Context, escrowRef string, amount *decimal.Decimal, reason string) (*models.RefundReceipt, error)
	GetTransactionStatus(ctx context.Context, escrowRef string) (*models.PaymentStatus, error)
}

// FeeSchedule computes platform and processing fees on a cash offer.
type FeeSchedule struct {
	PlatformPercent   decimal.Decimal
	ProcessingPercent decimal.Decimal
	ProcessingFixed   decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Fees returns the platform fee, processing fee and the net amount the
// auction owner receives. Fees are rounded to cents.
func (f FeeSchedule) Fees(amount decimal.Decimal) (platform, processing, net decimal.Decimal) {
	platform = amount.Mul(f.PlatformPercent).Div(hundred).Round(2)
	processing = amount.Mul(f.ProcessingPercent).Div(hundred).Add(f.ProcessingFixed).Round(2)
	net = amount.Sub(platform).Sub(processing)
	return platform, processing, net
}

type Config struct {
	BaseURL string
	Timeout time.Duration
	APIKey  string
}

// Client is the HTTP payment collaborator.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ Processor = (*Client)(nil)

func NewClient(cfg Config, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger.Named("payment"),
	}
}

func (c *Client) ProcessPayment(ctx context.Context, req *models.PaymentRequest) (*models.PaymentReceipt, error) {
	var receipt models.PaymentReceipt
	if err := c.do(ctx, http.MethodPost, "/payments", req, &receipt); err != nil {
		return nil, err
	}

	c.logger.Info("payment processed",
		zap.String("auction_id", req.AuctionID),
		zap.String("proposal_id", req.ProposalID),
		zap.String("escrow_ref", receipt.EscrowRef),
		zap.String("amount", receipt.Amount.StringFixed(2)),
	)
	return &receipt, nil
}

type refundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// RefundPayment releases escrowed funds. A nil amount refunds in full.
func (c *Client) RefundPayment(ctx context.Context, escrowRef string, amount *decimal.Decimal, reason string) (*models.RefundReceipt, error) {
	if escrowRef == "" {
		return nil, apperr.Validation("escrow reference required")
	}

	var receipt models.RefundReceipt
	path := "/payments/" + url.PathEscape(escrowRef) + "/refunds"
	if err := c.do(ctx, http.MethodPost, path, refundRequest{Amount: amount, Reason: reason}, &receipt); err != nil {
		return nil, err
	}

	c.logger.Info("payment refunded",
		zap.String("escrow_ref", escrowRef),
		zap.String("refund_ref", receipt.RefundRef),
		zap.String("reason", reason),
	)
	return &receipt, nil
}

func (c *Client) GetTransactionStatus(ctx context.Context, escrowRef string) (*models.PaymentStatus, error) {
	var status models.PaymentStatus
	if err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(escrowRef), nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return apperr.Internal(err, "encode payment request")
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return apperr.Internal(err, "build payment request")
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Internal(err, "payment service unreachable")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return apperr.Internal(err, "read payment response")
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil || len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, out); err != nil {
			return apperr.Internal(err, "decode payment response")
		}
		return nil
	}

	var eb struct {
		Error string `json:"error"`
	}
	_ = json.Unmarshal(raw, &eb)
	msg := eb.Error
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	switch resp.StatusCode {
	case http.StatusBadRequest, http.StatusPaymentRequired, http.StatusConflict, http.StatusUnprocessableEntity:
		return apperr.Validation("payment declined: %s", msg).With("status", resp.StatusCode)
	case http.StatusNotFound:
		return apperr.NotFound("payment not found: %s", msg)
	default:
		return apperr.Internal(fmt.Errorf("status %d: %s", resp.StatusCode, msg), "payment service error")
	}
}
