// Package ledger submits settlement outcomes to the remote consensus ledger.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/swapbid/backend/internal/apperr"
	"github.com/swapbid/backend/internal/models"
	"go.uber.org/zap"
)

// Submitter writes one typed transaction to the ledger.
type Submitter interface {
	SubmitTransaction(ctx context.Context, tx *models.LedgerTransaction) (*models.LedgerReceipt, error)
}

// ledger error codes
const (
	CodeBusy             = "BUSY"
	CodeCongestion       = "CONGESTION"
	CodeConsensusTimeout = "CONSENSUS_TIMEOUT"
	CodeInvalidSignature = "INVALID_SIGNATURE"
	CodeInvalidPayload   = "INVALID_PAYLOAD"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
}

// Client is the HTTP ledger collaborator.
type Client struct {
	baseURL    string
	httpClient *http.Client
	signer     *Signer
	logger     *zap.Logger
}

var _ Submitter = (*Client)(nil)

func NewClient(cfg ClientConfig, signer *Signer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{Timeout: cfg.Timeout},
		signer:     signer,
		logger:     logger.Named("ledger"),
	}
}

// SubmitTransaction posts tx and returns the ledger's confirmation. The
// transaction id doubles as the idempotency key so a resubmission after an
// ambiguous timeout cannot record the event twice.
func (c *Client) SubmitTransaction(ctx context.Context, tx *models.LedgerTransaction) (*models.LedgerReceipt, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, apperr.Internal(err, "encode ledger transaction")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/transactions", bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Internal(err, "build ledger request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", tx.ID)
	if c.signer != nil {
		req.Header.Set("X-Key-Id", c.signer.KeyID())
		req.Header.Set("X-Signature", c.signer.Sign(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return nil, err
		}
		return nil, apperr.Wrap(apperr.KindTransientLedger, err, "ledger unreachable").
			With("transaction_id", tx.ID)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindTransientLedger, err, "read ledger response").
			With("transaction_id", tx.ID)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		var receipt models.LedgerReceipt
		if len(bytes.TrimSpace(raw)) > 0 {
			if err := json.Unmarshal(raw, &receipt); err != nil {
				return nil, apperr.Internal(err, "decode ledger receipt")
			}
		}
		if receipt.TransactionID == "" {
			receipt.TransactionID = tx.ID
		}
		if receipt.ConfirmationTimestamp.IsZero() {
			receipt.ConfirmationTimestamp = time.Now().UTC()
		}
		c.logger.Debug("ledger transaction confirmed",
			zap.String("transaction_id", receipt.TransactionID),
			zap.String("type", tx.Type),
		)
		return &receipt, nil
	}

	var eb errorBody
	_ = json.Unmarshal(raw, &eb)

	return nil, classifyResponse(resp.StatusCode, eb).With("transaction_id", tx.ID)
}

func classifyResponse(status int, eb errorBody) *apperr.Error {
	msg := eb.Message
	if msg == "" {
		msg = http.StatusText(status)
	}

	var e *apperr.Error
	switch {
	case eb.Code == CodeBusy || eb.Code == CodeCongestion,
		status == http.StatusTooManyRequests, status == http.StatusServiceUnavailable:
		e = apperr.Newf(apperr.KindTransientLedger, "ledger busy: %s", msg)
	case eb.Code == CodeConsensusTimeout,
		status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		e = apperr.Newf(apperr.KindTransientLedger, "ledger consensus timeout: %s", msg)
	case status == http.StatusBadGateway:
		e = apperr.Newf(apperr.KindTransientLedger, "ledger gateway error: %s", msg)
	case eb.Code == CodeInvalidSignature:
		e = apperr.Newf(apperr.KindLedgerRejected, "ledger rejected signature: %s", msg)
	default:
		e = apperr.Newf(apperr.KindLedgerRejected, "ledger rejected transaction: %s", msg)
	}

	e.With("status", status)
	if eb.Code != "" {
		e.With("code", eb.Code)
	}
	return e
}
