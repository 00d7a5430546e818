package ledger

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// JSON-RPC error codes surfaced by the ledger node. CodeNotFound marks
// queries for records that do not exist; everything else is a rejection.
const (
	CodeInvalidParams = -32602
	CodeNotFound      = -32021
	CodeRejected      = -32030
)

const (
	defaultRequestTimeout  = 15 * time.Second
	defaultReceiptInterval = 500 * time.Millisecond
)

// RPCError is an error object returned by the ledger node.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return "ledger: rpc error"
	}
	return fmt.Sprintf("ledger rpc error %d: %s", e.Code, e.Message)
}

// NotFound reports whether the error marks a missing record rather than a
// rejected operation.
func (e *RPCError) NotFound() bool {
	return e != nil && e.Code == CodeNotFound
}

// Client is a JSON-RPC client bound to one signing identity. Mutating calls
// are wrapped in a signed envelope; read calls go out unsigned.
type Client struct {
	endpoint        string
	authToken       string
	httpClient      *http.Client
	signer          Signer
	receiptInterval time.Duration
	nextID          atomic.Int64
}

// Option configures optional client behaviour.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithAuthToken sets the bearer token attached to every request.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithReceiptInterval overrides the polling cadence used by WaitForReceipt.
func WithReceiptInterval(interval time.Duration) Option {
	return func(c *Client) {
		if interval > 0 {
			c.receiptInterval = interval
		}
	}
}

// NewClient constructs a ledger client for the supplied endpoint and signer.
func NewClient(endpoint string, signer Signer, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, errors.New("ledger: endpoint required")
	}
	if signer == nil {
		return nil, errors.New("ledger: signer required")
	}
	c := &Client{
		endpoint:        trimmed,
		signer:          signer,
		httpClient:      &http.Client{Timeout: defaultRequestTimeout},
		receiptInterval: defaultReceiptInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Address returns the bound signing identity.
func (c *Client) Address() string {
	if c == nil || c.signer == nil {
		return ""
	}
	return c.signer.Address()
}

// CreateParams captures the fields of an escrow creation submission. The
// buyer is always the bound signer; the ledger derives the confirmation
// deadline from the period.
type CreateParams struct {
	Seller                 string `json:"seller"`
	BatchID                string `json:"batchId"`
	Amount                 string `json:"amount"`
	ConfirmationPeriodDays uint32 `json:"confirmationPeriodDays"`
}

// EscrowRecord mirrors the JSON returned by the node for escrow_get.
type EscrowRecord struct {
	ID              uint64   `json:"id"`
	Buyer           string   `json:"buyer"`
	Seller          string   `json:"seller"`
	BatchID         string   `json:"batchId"`
	Amount          string   `json:"amount"`
	Status          string   `json:"status"`
	CreatedAt       int64    `json:"createdAt"`
	ConfirmDeadline int64    `json:"confirmDeadline"`
	Arbitrators     []string `json:"arbitrators,omitempty"`
	Disputed        bool     `json:"disputed"`
}

// VoteRecord mirrors one arbitrator ballot returned by escrow_votes.
type VoteRecord struct {
	Arbitrator string `json:"arbitrator"`
	Vote       string `json:"vote"`
	Timestamp  int64  `json:"timestamp"`
}

// EscrowCreate submits a signed creation and returns the transaction hash.
func (c *Client) EscrowCreate(ctx context.Context, params CreateParams) (string, error) {
	payload := map[string]interface{}{
		"seller":                 params.Seller,
		"batchId":                params.BatchID,
		"amount":                 params.Amount,
		"confirmationPeriodDays": params.ConfirmationPeriodDays,
	}
	return c.submit(ctx, "escrow_create", payload)
}

// EscrowConfirm submits a delivery confirmation for the escrow.
func (c *Client) EscrowConfirm(ctx context.Context, id uint64) (string, error) {
	return c.submit(ctx, "escrow_confirm", map[string]interface{}{"id": id})
}

// EscrowDispute submits a dispute initiation carrying the evidence hash.
func (c *Client) EscrowDispute(ctx context.Context, id uint64, evidence string) (string, error) {
	return c.submit(ctx, "escrow_dispute", map[string]interface{}{"id": id, "evidence": evidence})
}

// EscrowVote submits an arbitrator ballot ("buyer" or "seller").
func (c *Client) EscrowVote(ctx context.Context, id uint64, vote string) (string, error) {
	return c.submit(ctx, "escrow_vote", map[string]interface{}{"id": id, "vote": vote})
}

// EscrowResolve asks the ledger to settle a disputed escrow.
func (c *Client) EscrowResolve(ctx context.Context, id uint64) (string, error) {
	return c.submit(ctx, "escrow_resolve", map[string]interface{}{"id": id})
}

// EscrowClaim submits an expiry claim for the escrow.
func (c *Client) EscrowClaim(ctx context.Context, id uint64) (string, error) {
	return c.submit(ctx, "escrow_claim", map[string]interface{}{"id": id})
}

// EscrowGet fetches one escrow record. A missing id is reported via the
// boolean, not an error.
func (c *Client) EscrowGet(ctx context.Context, id uint64) (*EscrowRecord, bool, error) {
	var result EscrowRecord
	err := c.call(ctx, "escrow_get", []interface{}{map[string]uint64{"id": id}}, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.NotFound() {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &result, true, nil
}

// EscrowsByBuyer lists escrow ids where the address is the buyer.
func (c *Client) EscrowsByBuyer(ctx context.Context, buyer string) ([]uint64, error) {
	return c.listEscrows(ctx, "escrow_listByBuyer", buyer)
}

// EscrowsBySeller lists escrow ids where the address is the seller.
func (c *Client) EscrowsBySeller(ctx context.Context, seller string) ([]uint64, error) {
	return c.listEscrows(ctx, "escrow_listBySeller", seller)
}

func (c *Client) listEscrows(ctx context.Context, method, address string) ([]uint64, error) {
	var result struct {
		IDs []uint64 `json:"ids"`
	}
	if err := c.call(ctx, method, []interface{}{map[string]string{"address": address}}, &result); err != nil {
		return nil, err
	}
	return result.IDs, nil
}

// DisputeVotes returns the ballots recorded for the escrow so far.
func (c *Client) DisputeVotes(ctx context.Context, id uint64) ([]VoteRecord, error) {
	var result struct {
		Votes []VoteRecord `json:"votes"`
	}
	if err := c.call(ctx, "escrow_votes", []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return nil, err
	}
	return result.Votes, nil
}

// CanDispute asks the ledger whether a dispute is currently legal. Ledger
// time is authoritative for the window check.
func (c *Client) CanDispute(ctx context.Context, id uint64) (bool, error) {
	return c.boolQuery(ctx, "escrow_canDispute", id)
}

// CanClaim asks the ledger whether an expiry claim is currently legal.
func (c *Client) CanClaim(ctx context.Context, id uint64) (bool, error) {
	return c.boolQuery(ctx, "escrow_canClaim", id)
}

func (c *Client) boolQuery(ctx context.Context, method string, id uint64) (bool, error) {
	var result struct {
		Allowed bool `json:"allowed"`
	}
	if err := c.call(ctx, method, []interface{}{map[string]uint64{"id": id}}, &result); err != nil {
		return false, err
	}
	return result.Allowed, nil
}

// ArbitrationFee returns the current flat arbitration fee in smallest units.
func (c *Client) ArbitrationFee(ctx context.Context) (*big.Int, error) {
	var result struct {
		Fee string `json:"fee"`
	}
	if err := c.call(ctx, "escrow_arbitrationFee", nil, &result); err != nil {
		return nil, err
	}
	fee, ok := new(big.Int).SetString(strings.TrimSpace(result.Fee), 10)
	if !ok {
		return nil, fmt.Errorf("ledger: malformed arbitration fee %q", result.Fee)
	}
	return fee, nil
}

// EscrowCount returns the total number of escrows ever created.
func (c *Client) EscrowCount(ctx context.Context) (uint64, error) {
	var result struct {
		Count uint64 `json:"count"`
	}
	if err := c.call(ctx, "escrow_count", nil, &result); err != nil {
		return 0, err
	}
	return result.Count, nil
}

// TransactionReceipt fetches the receipt for a submitted transaction. A
// receipt that is not yet available is reported via the boolean.
func (c *Client) TransactionReceipt(ctx context.Context, txHash string) (*Receipt, bool, error) {
	var result Receipt
	err := c.call(ctx, "tx_receipt", []interface{}{map[string]string{"txHash": txHash}}, &result)
	if err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) && rpcErr.NotFound() {
			return nil, false, nil
		}
		return nil, false, err
	}
	return &result, true, nil
}

// WaitForReceipt polls until the receipt is available or the context ends.
// The caller owns the timeout policy; this client never retries the
// submission itself.
func (c *Client) WaitForReceipt(ctx context.Context, txHash string) (*Receipt, error) {
	interval := c.receiptInterval
	if interval <= 0 {
		interval = defaultReceiptInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		receipt, ok, err := c.TransactionReceipt(ctx, txHash)
		if err != nil {
			return nil, err
		}
		if ok {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// submit wraps the payload in a signed envelope and returns the tx hash
// assigned by the node.
func (c *Client) submit(ctx context.Context, method string, payload map[string]interface{}) (string, error) {
	if c == nil || c.signer == nil {
		return "", errors.New("ledger: client not initialised")
	}
	envelope := make(map[string]interface{}, len(payload)+2)
	for k, v := range payload {
		envelope[k] = v
	}
	envelope["from"] = c.signer.Address()
	digest, err := submissionDigest(method, envelope)
	if err != nil {
		return "", err
	}
	sig, err := c.signer.Sign(digest)
	if err != nil {
		return "", fmt.Errorf("ledger: sign %s: %w", method, err)
	}
	envelope["sig"] = "0x" + hex.EncodeToString(sig)
	var result struct {
		TxHash string `json:"txHash"`
	}
	if err := c.call(ctx, method, []interface{}{envelope}, &result); err != nil {
		return "", err
	}
	if strings.TrimSpace(result.TxHash) == "" {
		return "", fmt.Errorf("ledger: %s returned no transaction hash", method)
	}
	return result.TxHash, nil
}

// submissionDigest hashes the canonical JSON of the method and payload. The
// node recomputes the same digest to recover the submitting identity.
func submissionDigest(method string, payload map[string]interface{}) ([]byte, error) {
	canonical, err := json.Marshal(struct {
		Method string                 `json:"method"`
		Params map[string]interface{} `json:"params"`
	}{Method: method, Params: payload})
	if err != nil {
		return nil, fmt.Errorf("ledger: canonicalise %s: %w", method, err)
	}
	return ethcrypto.Keccak256(canonical), nil
}

type jsonRPCRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      int64       `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, params interface{}, out interface{}) error {
	id := c.nextID.Add(1)
	buf, err := json.Marshal(jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ledger rpc %s failed: status=%d body=%s", method, resp.StatusCode, string(body))
	}
	var rpcResp jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
		return err
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil {
		return nil
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("ledger rpc %s returned empty result", method)
	}
	return json.Unmarshal(rpcResp.Result, out)
}
