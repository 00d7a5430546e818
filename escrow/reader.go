package escrow

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"batchpay/ledger"
)

// Escrow fetches one escrow snapshot. A missing id is an explicit absent
// result, not an error.
func (c *Client) Escrow(ctx context.Context, escrowID uint64) (*EscrowTransaction, bool, error) {
	record, ok, err := c.backend.EscrowGet(ctx, escrowID)
	if err != nil {
		return nil, false, fmt.Errorf("escrow: fetch escrow %d: %w", escrowID, err)
	}
	if !ok {
		return nil, false, nil
	}
	tx, err := fromRecord(record)
	if err != nil {
		return nil, false, err
	}
	return tx, true, nil
}

// EscrowsByBuyer lists the ids of escrows where the address is the buyer.
func (c *Client) EscrowsByBuyer(ctx context.Context, buyer string) ([]uint64, error) {
	if !ValidAddress(buyer) {
		return nil, &ValidationError{Field: "buyer", Reason: "must be a 0x-hex address"}
	}
	return c.backend.EscrowsByBuyer(ctx, normalizeAddress(buyer))
}

// EscrowsBySeller lists the ids of escrows where the address is the seller.
func (c *Client) EscrowsBySeller(ctx context.Context, seller string) ([]uint64, error) {
	if !ValidAddress(seller) {
		return nil, &ValidationError{Field: "seller", Reason: "must be a 0x-hex address"}
	}
	return c.backend.EscrowsBySeller(ctx, normalizeAddress(seller))
}

// DisputeVotes returns the ballots the ledger has recorded for the escrow.
func (c *Client) DisputeVotes(ctx context.Context, escrowID uint64) ([]DisputeVote, error) {
	records, err := c.backend.DisputeVotes(ctx, escrowID)
	if err != nil {
		return nil, fmt.Errorf("escrow: fetch votes for %d: %w", escrowID, err)
	}
	votes := make([]DisputeVote, 0, len(records))
	for _, record := range records {
		vote, err := ParseVote(record.Vote)
		if err != nil {
			return nil, fmt.Errorf("escrow: malformed vote for %d: %w", escrowID, err)
		}
		votes = append(votes, DisputeVote{
			Arbitrator: normalizeAddress(record.Arbitrator),
			Vote:       vote,
			Timestamp:  record.Timestamp,
		})
	}
	return votes, nil
}

// CanInitiateDispute asks the ledger whether a dispute is currently legal.
func (c *Client) CanInitiateDispute(ctx context.Context, escrowID uint64) (bool, error) {
	return c.backend.CanDispute(ctx, escrowID)
}

// CanClaimExpiredFunds asks the ledger whether an expiry claim is legal.
func (c *Client) CanClaimExpiredFunds(ctx context.Context, escrowID uint64) (bool, error) {
	return c.backend.CanClaim(ctx, escrowID)
}

// TotalEscrows returns the total number of escrows the ledger has created.
func (c *Client) TotalEscrows(ctx context.Context) (uint64, error) {
	return c.backend.EscrowCount(ctx)
}

// DisputeSummary aggregates the recorded ballots into a derived resolution
// view. The winner is reported only once the ledger has resolved the
// dispute; vote counting here is presentation, not a quorum rule.
func (c *Client) DisputeSummary(ctx context.Context, escrowID uint64) (*DisputeResolution, error) {
	tx, err := c.loadTransaction(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	votes, err := c.DisputeVotes(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	summary := &DisputeResolution{EscrowID: escrowID, Votes: votes}
	for _, vote := range votes {
		switch vote.Vote {
		case VoteBuyer:
			summary.BuyerVotes++
		case VoteSeller:
			summary.SellerVotes++
		}
		if vote.Timestamp > summary.ResolvedAt {
			summary.ResolvedAt = vote.Timestamp
		}
	}
	if tx.Status == StatusResolved {
		summary.Resolved = true
		if summary.BuyerVotes >= summary.SellerVotes {
			summary.Winner = tx.Buyer
		} else {
			summary.Winner = tx.Seller
		}
	} else {
		summary.ResolvedAt = 0
	}
	return summary, nil
}

// fromRecord converts a wire record into the local model, validating the
// invariants the ledger guarantees.
func fromRecord(record *ledger.EscrowRecord) (*EscrowTransaction, error) {
	if record == nil {
		return nil, fmt.Errorf("escrow: nil record")
	}
	status, err := ParseStatus(record.Status)
	if err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(strings.TrimSpace(record.Amount), 10)
	if !ok {
		return nil, fmt.Errorf("escrow: malformed amount %q for escrow %d", record.Amount, record.ID)
	}
	tx := &EscrowTransaction{
		ID:              record.ID,
		Buyer:           record.Buyer,
		Seller:          record.Seller,
		BatchID:         record.BatchID,
		Amount:          amount,
		Status:          status,
		CreatedAt:       record.CreatedAt,
		ConfirmDeadline: record.ConfirmDeadline,
		Arbitrators:     record.Arbitrators,
		Disputed:        record.Disputed,
	}
	return SanitizeTransaction(tx)
}
