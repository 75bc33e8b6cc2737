/**
 * @description
 * This package provides a client for the settlement chain's RPC gateway. It
 * encapsulates the HTTP plumbing for submitting native-currency transfers from
 * the treasury signer, polling a submitted transfer until the chain reports
 * finality, and reading account balances. Amounts cross this boundary as exact
 * integer minor units (wei-style strings); the client never touches floats.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, math/big, net/http, regexp, time:
 *   Standard Go libraries.
 */
package chainclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"math/big"
	"net/http"
	"regexp"
	"time"
)

// Transfer states reported by the chain gateway.
const (
	StatusPending   = "pending"
	StatusConfirmed = "confirmed"
	StatusFailed    = "failed"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// ErrTransferFailed indicates the chain reported a terminal failure for a
// submitted transfer.
var ErrTransferFailed = errors.New("chain transfer failed")

// Client is a client for the chain RPC gateway.
type Client struct {
	BaseURL    string
	APIKey     string
	SignerKey  string
	HTTPClient *http.Client
}

// NewClient creates a new chain gateway client. signerKey identifies the
// treasury signing identity registered with the gateway; all outbound
// transfers are sent from it.
func NewClient(baseURL, apiKey, signerKey string) *Client {
	return &Client{
		BaseURL:   baseURL,
		APIKey:    apiKey,
		SignerKey: signerKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ValidAddress reports whether s is a well-formed chain account address
// (0x-prefixed, 40 hex digits, case-insensitive).
func ValidAddress(s string) bool {
	return addressPattern.MatchString(s)
}

// SubmitTransferRequest is the payload for submitting a native transfer.
type SubmitTransferRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			To    string `json:"to"`
			Value string `json:"value"` // integer minor units
		} `json:"attributes"`
	} `json:"data"`
}

// TransferResponse is the gateway's view of one submitted transfer.
type TransferResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
			Value  string `json:"value"`
			Reason string `json:"reason,omitempty"`
		} `json:"attributes"`
	} `json:"data"`
}

// BalanceResponse is the gateway's balance payload, in integer minor units.
type BalanceResponse struct {
	Data struct {
		Address string `json:"address"`
		Balance string `json:"balance"`
	} `json:"data"`
}

// ErrorResponse represents an error body from the gateway.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("chain gateway error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown chain gateway error"
}

// SubmitTransfer submits a native-currency transfer of `value` minor units
// from the treasury signer to `to` and returns the gateway's transfer record,
// typically still pending. Finality is observed via WaitForConfirmation.
func (c *Client) SubmitTransfer(ctx context.Context, to string, value *big.Int) (*TransferResponse, error) {
	if !ValidAddress(to) {
		return nil, fmt.Errorf("invalid destination address %q", to)
	}

	reqPayload := SubmitTransferRequest{}
	reqPayload.Data.Type = "NativeTransfer"
	reqPayload.Data.Attributes.To = to
	reqPayload.Data.Attributes.Value = value.String()

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal transfer request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/transfers", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer request: %w", err)
	}
	defer resp.Body.Close()

	return decodeTransferResponse(resp, "submit_transfer")
}

// GetTransfer fetches the current state of a submitted transfer.
func (c *Client) GetTransfer(ctx context.Context, transferID string) (*TransferResponse, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/transfers/"+transferID, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create transfer status request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute transfer status request: %w", err)
	}
	defer resp.Body.Close()

	return decodeTransferResponse(resp, "get_transfer")
}

// WaitForConfirmation polls a submitted transfer until the chain reports a
// terminal state or ctx expires. A terminal `failed` state surfaces as
// ErrTransferFailed with the gateway's reason attached.
func (c *Client) WaitForConfirmation(ctx context.Context, transferID string, pollInterval time.Duration) (*TransferResponse, error) {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		transfer, err := c.GetTransfer(ctx, transferID)
		if err == nil {
			switch transfer.Data.Attributes.Status {
			case StatusConfirmed:
				return transfer, nil
			case StatusFailed:
				return transfer, fmt.Errorf("%w: %s", ErrTransferFailed, transfer.Data.Attributes.Reason)
			}
		} else {
			// Transient lookup failures are tolerated until the deadline.
			log.Printf("level=warn component=chain_client op=wait_confirmation transfer_id=%s err=%v", transferID, err)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("confirmation wait aborted for transfer %s: %w", transferID, ctx.Err())
		case <-ticker.C:
		}
	}
}

// GetBalance fetches an account balance in integer minor units.
func (c *Client) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	if !ValidAddress(address) {
		return nil, fmt.Errorf("invalid address %q", address)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/accounts/"+address+"/balance", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create balance request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute balance request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorBody(bodyBytes, resp.StatusCode, "get_balance")
	}

	var balanceResp BalanceResponse
	if err := json.Unmarshal(bodyBytes, &balanceResp); err != nil {
		return nil, fmt.Errorf("failed to decode balance response: %w", err)
	}

	balance, ok := new(big.Int).SetString(balanceResp.Data.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("gateway returned non-integer balance %q", balanceResp.Data.Balance)
	}
	return balance, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-gateway-key", c.APIKey)
	req.Header.Set("x-signer-key", c.SignerKey)
}

func decodeTransferResponse(resp *http.Response, op string) (*TransferResponse, error) {
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read transfer response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, decodeErrorBody(bodyBytes, resp.StatusCode, op)
	}

	var transferResp TransferResponse
	if err := json.Unmarshal(bodyBytes, &transferResp); err != nil {
		return nil, fmt.Errorf("failed to decode transfer response: %w", err)
	}
	return &transferResp, nil
}

func decodeErrorBody(body []byte, statusCode int, op string) error {
	var errResp ErrorResponse
	if err := json.Unmarshal(body, &errResp); err != nil || len(errResp.Errors) == 0 {
		log.Printf("level=warn component=chain_client op=%s status=%d msg=\"non-2xx response (unparsable error body)\"", op, statusCode)
		return fmt.Errorf("chain gateway returned status %d", statusCode)
	}
	log.Printf("level=warn component=chain_client op=%s status=%d title=%q detail=%q", op, statusCode, errResp.Errors[0].Title, errResp.Errors[0].Detail)
	return &errResp
}
