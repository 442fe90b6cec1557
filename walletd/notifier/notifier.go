// Package notifier delivers webhook events to per-account URLs.
package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// Event names carried in every payload.
const (
	EventFaucetFunding   = "faucet_funding"
	EventDepositDetected = "deposit_detected"
	EventDepositSwept    = "deposit_swept"
)

// FaucetFundingEvent reports the outcome of the background funding spawned
// by a registration. The id is "{registration_id}:funding".
type FaucetFundingEvent struct {
	Event          string `json:"event"`
	AccountID      string `json:"account_id"` // deposit address
	RegistrationID string `json:"registration_id"`
	ID             string `json:"id"`
	Success        bool   `json:"success"`
	TxHash         string `json:"tx_hash,omitempty"`
	Error          string `json:"error,omitempty"`
}

// DepositDetectedEvent reports a newly observed deposit.
type DepositDetectedEvent struct {
	Event        string `json:"event"`
	AccountID    string `json:"account_id"` // registration id
	TxHash       string `json:"tx_hash"`
	Amount       string `json:"amount"`
	TokenType    string `json:"token_type"`
	TokenSymbol  string `json:"token_symbol,omitempty"`
	TokenAddress string `json:"token_address,omitempty"`
}

// DepositSweptEvent reports a deposit forwarded to the treasury. For native
// deposits the id is the original tx hash; for tokens it is the composite
// "{tx_hash}:{log_index}" key.
type DepositSweptEvent struct {
	ID             string `json:"id"`
	Event          string `json:"event"`
	AccountID      string `json:"account_id"` // deposit address
	RegistrationID string `json:"registration_id"`
	OriginalTxHash string `json:"original_tx_hash"`
	Amount         string `json:"amount"`
	TokenType      string `json:"token_type"`
	TokenSymbol    string `json:"token_symbol,omitempty"`
	TokenAddress   string `json:"token_address,omitempty"`
	TokenDecimals  *uint8 `json:"token_decimals,omitempty"`
}

// Notifier posts JSON events to webhook URLs. Delivery failures are the
// caller's to log and swallow: by the time an event is emitted, its database
// commit has already happened and is never rolled back.
type Notifier struct {
	client *http.Client
	bearer string
}

// New returns a notifier. A non-empty bearer token is attached to every
// request as an Authorization header.
func New(bearerToken string) *Notifier {
	return &Notifier{
		client: &http.Client{Timeout: 10 * time.Second},
		bearer: bearerToken,
	}
}

// Send posts the payload as JSON. Responses outside the 2xx range are
// errors; bodies are drained and discarded either way.
func (n *Notifier) Send(ctx context.Context, webhookURL string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "could not encode webhook payload")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "could not build webhook request")
	}
	req.Header.Set("Content-Type", "application/json")
	if n.bearer != "" {
		req.Header.Set("Authorization", "Bearer "+n.bearer)
	}
	resp, err := n.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "webhook delivery failed")
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
