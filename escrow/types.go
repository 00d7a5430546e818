package escrow

import (
	"fmt"
	"math/big"
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
)

// AmountDecimals is the fixed-point scale of ledger-native amounts.
const AmountDecimals = 18

// Status represents the lifecycle states of an escrow transaction as
// recorded by the ledger. The client never sets a status directly; it only
// requests operations and reads the resulting state.
type Status uint8

const (
	StatusPending Status = iota
	StatusConfirmed
	StatusDisputed
	StatusResolved
	StatusRefunded
)

// Valid reports whether the status value is within the supported range.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusDisputed, StatusResolved, StatusRefunded:
		return true
	default:
		return false
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusDisputed:
		return "disputed"
	case StatusResolved:
		return "resolved"
	case StatusRefunded:
		return "refunded"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusConfirmed, StatusResolved, StatusRefunded:
		return true
	default:
		return false
	}
}

// ParseStatus maps a wire status string to its typed value.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return StatusPending, nil
	case "confirmed":
		return StatusConfirmed, nil
	case "disputed":
		return StatusDisputed, nil
	case "resolved":
		return StatusResolved, nil
	case "refunded":
		return StatusRefunded, nil
	default:
		return 0, fmt.Errorf("escrow: unknown status %q", raw)
	}
}

// Vote is one side of a dispute ballot.
type Vote uint8

const (
	VoteBuyer Vote = iota
	VoteSeller
)

// Valid reports whether the vote value is supported.
func (v Vote) Valid() bool {
	return v == VoteBuyer || v == VoteSeller
}

func (v Vote) String() string {
	switch v {
	case VoteBuyer:
		return "buyer"
	case VoteSeller:
		return "seller"
	default:
		return "unknown"
	}
}

// ParseVote maps a wire vote string to its typed value.
func ParseVote(raw string) (Vote, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "buyer":
		return VoteBuyer, nil
	case "seller":
		return VoteSeller, nil
	default:
		return 0, fmt.Errorf("escrow: unknown vote %q", raw)
	}
}

// EscrowTransaction is the locally modelled view of one escrow record. The
// canonical state lives on the ledger; instances of this type are snapshots
// and may be stale the moment another party acts.
type EscrowTransaction struct {
	ID              uint64
	Buyer           string
	Seller          string
	BatchID         string
	Amount          *big.Int
	Status          Status
	CreatedAt       int64
	ConfirmDeadline int64
	Arbitrators     []string
	Disputed        bool
}

// Clone returns a deep copy so callers can mutate the result without
// affecting the original snapshot.
func (tx *EscrowTransaction) Clone() *EscrowTransaction {
	if tx == nil {
		return nil
	}
	clone := *tx
	if tx.Amount != nil {
		clone.Amount = new(big.Int).Set(tx.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	clone.Arbitrators = append([]string(nil), tx.Arbitrators...)
	return &clone
}

// IsBuyer reports whether the address is the recorded buyer.
func (tx *EscrowTransaction) IsBuyer(address string) bool {
	return tx != nil && sameAddress(tx.Buyer, address)
}

// IsSeller reports whether the address is the recorded seller.
func (tx *EscrowTransaction) IsSeller(address string) bool {
	return tx != nil && sameAddress(tx.Seller, address)
}

// IsParty reports whether the address is the buyer or the seller.
func (tx *EscrowTransaction) IsParty(address string) bool {
	return tx.IsBuyer(address) || tx.IsSeller(address)
}

// HasArbitrator reports whether the address is in the arbitrator set.
func (tx *EscrowTransaction) HasArbitrator(address string) bool {
	if tx == nil {
		return false
	}
	for _, member := range tx.Arbitrators {
		if sameAddress(member, address) {
			return true
		}
	}
	return false
}

// SanitizeTransaction validates a snapshot against the ledger invariants,
// returning a cloned instance with normalised addresses and a non-nil
// amount. The original value is not mutated.
func SanitizeTransaction(tx *EscrowTransaction) (*EscrowTransaction, error) {
	if tx == nil {
		return nil, fmt.Errorf("escrow: nil transaction")
	}
	clone := tx.Clone()
	clone.Buyer = normalizeAddress(clone.Buyer)
	clone.Seller = normalizeAddress(clone.Seller)
	if clone.Buyer == "" || clone.Seller == "" {
		return nil, fmt.Errorf("escrow: transaction missing party address")
	}
	if strings.TrimSpace(clone.BatchID) == "" {
		return nil, fmt.Errorf("escrow: transaction missing batch id")
	}
	if clone.Amount.Sign() <= 0 {
		return nil, fmt.Errorf("escrow: amount must be positive")
	}
	if clone.ConfirmDeadline <= clone.CreatedAt {
		return nil, fmt.Errorf("escrow: confirm deadline before creation time")
	}
	if !clone.Status.Valid() {
		return nil, fmt.Errorf("escrow: invalid status %d", clone.Status)
	}
	for i, member := range clone.Arbitrators {
		clone.Arbitrators[i] = normalizeAddress(member)
	}
	return clone, nil
}

// DisputeVote is one arbitrator ballot as recorded by the ledger. Uniqueness
// per arbitrator is a ledger invariant; this type only surfaces what the
// ledger returned.
type DisputeVote struct {
	Arbitrator string
	Vote       Vote
	Timestamp  int64
}

// DisputeResolution is the derived outcome view of a dispute. It is computed
// from ledger data only; the quorum rule itself is ledger-side.
type DisputeResolution struct {
	EscrowID    uint64
	Winner      string
	Votes       []DisputeVote
	BuyerVotes  int
	SellerVotes int
	Resolved    bool
	ResolvedAt  int64
}

// ValidAddress reports whether the string is a syntactically valid 0x-hex
// party address. No checksum or on-ledger existence check is performed.
func ValidAddress(address string) bool {
	return ethcommon.IsHexAddress(strings.TrimSpace(address))
}

func normalizeAddress(address string) string {
	return strings.ToLower(strings.TrimSpace(address))
}

func sameAddress(a, b string) bool {
	na, nb := normalizeAddress(a), normalizeAddress(b)
	return na != "" && na == nb
}
