package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"batchpay/ledger"
)

// Confirmation-period bounds accepted for new escrows.
const (
	MinConfirmationDays = 1
	MaxConfirmationDays = 365
)

// Backend is the ledger surface the client depends on. *ledger.Client
// satisfies it; tests substitute an in-memory fake.
type Backend interface {
	EscrowCreate(ctx context.Context, params ledger.CreateParams) (string, error)
	EscrowConfirm(ctx context.Context, id uint64) (string, error)
	EscrowDispute(ctx context.Context, id uint64, evidence string) (string, error)
	EscrowVote(ctx context.Context, id uint64, vote string) (string, error)
	EscrowResolve(ctx context.Context, id uint64) (string, error)
	EscrowClaim(ctx context.Context, id uint64) (string, error)

	EscrowGet(ctx context.Context, id uint64) (*ledger.EscrowRecord, bool, error)
	EscrowsByBuyer(ctx context.Context, buyer string) ([]uint64, error)
	EscrowsBySeller(ctx context.Context, seller string) ([]uint64, error)
	DisputeVotes(ctx context.Context, id uint64) ([]ledger.VoteRecord, error)
	CanDispute(ctx context.Context, id uint64) (bool, error)
	CanClaim(ctx context.Context, id uint64) (bool, error)
	ArbitrationFee(ctx context.Context) (*big.Int, error)
	EscrowCount(ctx context.Context) (uint64, error)

	WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error)
}

// Client coordinates escrow operations against the ledger for one bound
// caller identity. Every mutating call runs in two phases: advisory local
// precondition checks against the latest readable state, then a signed
// submission plus a blocking wait for the receipt. The ledger's acceptance
// or rejection is always authoritative; a passing local check can still
// lose a race with another party, in which case callers should re-read
// state rather than retry blindly.
type Client struct {
	backend Backend
	caller  string
}

// NewClient constructs a client bound to the caller address the backend
// signs as.
func NewClient(backend Backend, caller string) (*Client, error) {
	if backend == nil {
		return nil, errors.New("escrow: backend required")
	}
	if !ValidAddress(caller) {
		return nil, &ValidationError{Field: "caller", Reason: "must be a 0x-hex address"}
	}
	return &Client{backend: backend, caller: normalizeAddress(caller)}, nil
}

// Caller returns the bound identity address.
func (c *Client) Caller() string { return c.caller }

// CreateResult is the outcome of a confirmed escrow creation.
type CreateResult struct {
	EscrowID uint64
	TxHash   string
	Receipt  *ledger.Receipt
}

// CreateEscrow locks funds for a batch purchase. The escrow identifier is
// assigned by the ledger and recovered from the creation event of the
// confirmed receipt; a receipt without that event is an extraction failure,
// distinct from a ledger rejection.
func (c *Client) CreateEscrow(ctx context.Context, seller, batchID string, amount *big.Int, confirmationPeriodDays uint32) (*CreateResult, error) {
	if !ValidAddress(seller) {
		return nil, &ValidationError{Field: "seller", Reason: "must be a 0x-hex address"}
	}
	if sameAddress(seller, c.caller) {
		return nil, &ValidationError{Field: "seller", Reason: "buyer and seller must differ"}
	}
	if strings.TrimSpace(batchID) == "" {
		return nil, &ValidationError{Field: "batchId", Reason: "must not be empty"}
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, &ValidationError{Field: "amount", Reason: "must be positive"}
	}
	if confirmationPeriodDays < MinConfirmationDays || confirmationPeriodDays > MaxConfirmationDays {
		return nil, &ValidationError{
			Field:  "confirmationPeriodDays",
			Reason: fmt.Sprintf("must be between %d and %d", MinConfirmationDays, MaxConfirmationDays),
		}
	}
	params := ledger.CreateParams{
		Seller:                 normalizeAddress(seller),
		BatchID:                strings.TrimSpace(batchID),
		Amount:                 amount.String(),
		ConfirmationPeriodDays: confirmationPeriodDays,
	}
	txHash, receipt, err := c.submitAndWait(ctx, "createEscrow", func() (string, error) {
		return c.backend.EscrowCreate(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	escrowID, err := CreatedEscrowID(receipt)
	if err != nil {
		return nil, err
	}
	return &CreateResult{EscrowID: escrowID, TxHash: txHash, Receipt: receipt}, nil
}

// ConfirmDelivery releases the escrowed funds to the seller. Only the
// recorded buyer of a pending escrow may confirm.
func (c *Client) ConfirmDelivery(ctx context.Context, escrowID uint64) (string, error) {
	tx, err := c.loadTransaction(ctx, escrowID)
	if err != nil {
		return "", err
	}
	if !tx.IsBuyer(c.caller) {
		return "", &PreconditionError{Op: "confirmDelivery", Reason: "caller is not the recorded buyer"}
	}
	if tx.Status != StatusPending {
		return "", &PreconditionError{Op: "confirmDelivery", Reason: "status is " + tx.Status.String() + ", not pending"}
	}
	txHash, _, err := c.submitAndWait(ctx, "confirmDelivery", func() (string, error) {
		return c.backend.EscrowConfirm(ctx, escrowID)
	})
	return txHash, err
}

// InitiateDispute opens a dispute before the confirmation window lapses.
// Evidence is an opaque content hash supplied by the caller; only
// non-emptiness is checked here. The window check is a ledger query since
// ledger time is authoritative.
func (c *Client) InitiateDispute(ctx context.Context, escrowID uint64, evidence string) (string, error) {
	if strings.TrimSpace(evidence) == "" {
		return "", &ValidationError{Field: "evidence", Reason: "must not be empty"}
	}
	tx, err := c.loadTransaction(ctx, escrowID)
	if err != nil {
		return "", err
	}
	if !tx.IsParty(c.caller) {
		return "", &PreconditionError{Op: "initiateDispute", Reason: "caller is neither buyer nor seller"}
	}
	if tx.Status != StatusPending {
		return "", &PreconditionError{Op: "initiateDispute", Reason: "status is " + tx.Status.String() + ", not pending"}
	}
	allowed, err := c.backend.CanDispute(ctx, escrowID)
	if err != nil {
		return "", fmt.Errorf("escrow: query dispute window: %w", err)
	}
	if !allowed {
		return "", &PreconditionError{Op: "initiateDispute", Reason: "dispute window has closed"}
	}
	txHash, _, err := c.submitAndWait(ctx, "initiateDispute", func() (string, error) {
		return c.backend.EscrowDispute(ctx, escrowID, strings.TrimSpace(evidence))
	})
	return txHash, err
}

// VoteOnDispute records the caller's arbitration ballot. The caller must be
// in the escrow's arbitrator set and the escrow must be disputed.
func (c *Client) VoteOnDispute(ctx context.Context, escrowID uint64, vote Vote) (string, error) {
	if !vote.Valid() {
		return "", &ValidationError{Field: "vote", Reason: "must be buyer or seller"}
	}
	tx, err := c.loadTransaction(ctx, escrowID)
	if err != nil {
		return "", err
	}
	if !tx.HasArbitrator(c.caller) {
		return "", &PreconditionError{Op: "voteOnDispute", Reason: "caller is not a selected arbitrator"}
	}
	if tx.Status != StatusDisputed {
		return "", &PreconditionError{Op: "voteOnDispute", Reason: "status is " + tx.Status.String() + ", not disputed"}
	}
	txHash, _, err := c.submitAndWait(ctx, "voteOnDispute", func() (string, error) {
		return c.backend.EscrowVote(ctx, escrowID, vote.String())
	})
	return txHash, err
}

// ResolveDispute asks the ledger to settle a disputed escrow. Timing and
// quorum legality are enforced entirely by the ledger; the only local
// precondition is existence.
func (c *Client) ResolveDispute(ctx context.Context, escrowID uint64) (string, error) {
	if _, err := c.loadTransaction(ctx, escrowID); err != nil {
		return "", err
	}
	txHash, _, err := c.submitAndWait(ctx, "resolveDispute", func() (string, error) {
		return c.backend.EscrowResolve(ctx, escrowID)
	})
	return txHash, err
}

// ClaimExpiredFunds settles an escrow whose confirmation window lapsed with
// no confirmation or dispute. Whether funds default to the buyer or the
// seller is ledger-determined.
func (c *Client) ClaimExpiredFunds(ctx context.Context, escrowID uint64) (string, error) {
	if _, err := c.loadTransaction(ctx, escrowID); err != nil {
		return "", err
	}
	allowed, err := c.backend.CanClaim(ctx, escrowID)
	if err != nil {
		return "", fmt.Errorf("escrow: query claim legality: %w", err)
	}
	if !allowed {
		return "", &PreconditionError{Op: "claimExpiredFunds", Reason: "claim is not currently legal"}
	}
	txHash, _, err := c.submitAndWait(ctx, "claimExpiredFunds", func() (string, error) {
		return c.backend.EscrowClaim(ctx, escrowID)
	})
	return txHash, err
}

// submitAndWait performs the submission phase: send the operation, block on
// its receipt, and translate rejections into the typed taxonomy. No retries
// happen here; resubmitting is never idempotent.
func (c *Client) submitAndWait(ctx context.Context, op string, send func() (string, error)) (string, *ledger.Receipt, error) {
	txHash, err := send()
	if err != nil {
		var rpcErr *ledger.RPCError
		if errors.As(err, &rpcErr) {
			return "", nil, &LedgerRejectionError{Op: op, Err: rpcErr}
		}
		return "", nil, fmt.Errorf("escrow: submit %s: %w", op, err)
	}
	receipt, err := c.backend.WaitForReceipt(ctx, txHash)
	if err != nil {
		return "", nil, fmt.Errorf("escrow: await %s receipt: %w", op, err)
	}
	if receipt.Failed() {
		reason := receipt.Reason
		if reason == "" {
			reason = "execution reverted"
		}
		return "", nil, &LedgerRejectionError{Op: op, TxHash: txHash, Err: errors.New(reason)}
	}
	return txHash, receipt, nil
}

// loadTransaction reads the latest snapshot or fails with a NotFoundError.
func (c *Client) loadTransaction(ctx context.Context, escrowID uint64) (*EscrowTransaction, error) {
	record, ok, err := c.backend.EscrowGet(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow: fetch escrow %d: %w", escrowID, err)
	}
	if !ok {
		return nil, &NotFoundError{EscrowID: escrowID}
	}
	return fromRecord(record)
}
