package escrow

import (
	"math/big"
	"strconv"
	"strings"

	"batchpay/ledger"
)

// Event types emitted by the ledger's escrow program.
const (
	EventTypeCreated       = "escrow.created"
	EventTypeConfirmed     = "escrow.confirmed"
	EventTypeDisputed      = "escrow.disputed"
	EventTypeVoteCast      = "escrow.vote"
	EventTypeResolved      = "escrow.resolved"
	EventTypeFundsReleased = "escrow.released"
	EventTypeFeePaid       = "escrow.fee_paid"
)

// Event is the decoded form of one emitted ledger event. The concrete type
// is one of the variants below; receipts carrying event types this package
// does not know decode to UnknownEvent rather than failing.
type Event interface {
	EventType() string
}

// CreatedEvent reports a newly created escrow and its assigned identifier.
type CreatedEvent struct {
	EscrowID uint64
	Buyer    string
	Seller   string
	BatchID  string
	Amount   *big.Int
}

func (CreatedEvent) EventType() string { return EventTypeCreated }

// ConfirmedEvent reports a buyer delivery confirmation.
type ConfirmedEvent struct {
	EscrowID uint64
	Buyer    string
}

func (ConfirmedEvent) EventType() string { return EventTypeConfirmed }

// DisputedEvent reports a dispute initiation and the selected arbitrators.
type DisputedEvent struct {
	EscrowID    uint64
	Initiator   string
	Arbitrators []string
}

func (DisputedEvent) EventType() string { return EventTypeDisputed }

// VoteCastEvent reports one recorded arbitrator ballot.
type VoteCastEvent struct {
	EscrowID   uint64
	Arbitrator string
	Vote       Vote
}

func (VoteCastEvent) EventType() string { return EventTypeVoteCast }

// ResolvedEvent reports the settled outcome of a dispute.
type ResolvedEvent struct {
	EscrowID    uint64
	Winner      string
	WinnerVotes uint32
}

func (ResolvedEvent) EventType() string { return EventTypeResolved }

// FundsReleasedEvent reports escrowed funds leaving the vault.
type FundsReleasedEvent struct {
	EscrowID  uint64
	Recipient string
	Amount    *big.Int
}

func (FundsReleasedEvent) EventType() string { return EventTypeFundsReleased }

// FeePaidEvent reports the arbitration fee distribution.
type FeePaidEvent struct {
	EscrowID    uint64
	Fee         *big.Int
	Arbitrators []string
}

func (FeePaidEvent) EventType() string { return EventTypeFeePaid }

// UnknownEvent preserves events this package has no decoder for.
type UnknownEvent struct {
	Type       string
	Attributes map[string]string
}

func (e UnknownEvent) EventType() string { return e.Type }

// DecodeEvent maps a raw ledger event to its typed variant. Known event
// types with malformed attributes fail with an ExtractionError.
func DecodeEvent(evt ledger.Event) (Event, error) {
	attrs := attrReader{eventType: evt.Type, attrs: evt.Attributes}
	switch evt.Type {
	case EventTypeCreated:
		decoded := CreatedEvent{
			EscrowID: attrs.uint64Attr("id"),
			Buyer:    attrs.addressAttr("buyer"),
			Seller:   attrs.addressAttr("seller"),
			BatchID:  attrs.stringAttr("batchId"),
			Amount:   attrs.bigAttr("amount"),
		}
		return decoded, attrs.err
	case EventTypeConfirmed:
		decoded := ConfirmedEvent{
			EscrowID: attrs.uint64Attr("id"),
			Buyer:    attrs.addressAttr("buyer"),
		}
		return decoded, attrs.err
	case EventTypeDisputed:
		decoded := DisputedEvent{
			EscrowID:    attrs.uint64Attr("id"),
			Initiator:   attrs.addressAttr("initiator"),
			Arbitrators: attrs.listAttr("arbitrators"),
		}
		return decoded, attrs.err
	case EventTypeVoteCast:
		decoded := VoteCastEvent{
			EscrowID:   attrs.uint64Attr("id"),
			Arbitrator: attrs.addressAttr("arbitrator"),
			Vote:       attrs.voteAttr("vote"),
		}
		return decoded, attrs.err
	case EventTypeResolved:
		decoded := ResolvedEvent{
			EscrowID:    attrs.uint64Attr("id"),
			Winner:      attrs.addressAttr("winner"),
			WinnerVotes: attrs.uint32Attr("winnerVotes"),
		}
		return decoded, attrs.err
	case EventTypeFundsReleased:
		decoded := FundsReleasedEvent{
			EscrowID:  attrs.uint64Attr("id"),
			Recipient: attrs.addressAttr("recipient"),
			Amount:    attrs.bigAttr("amount"),
		}
		return decoded, attrs.err
	case EventTypeFeePaid:
		decoded := FeePaidEvent{
			EscrowID:    attrs.uint64Attr("id"),
			Fee:         attrs.bigAttr("feeAmount"),
			Arbitrators: attrs.listAttr("arbitrators"),
		}
		return decoded, attrs.err
	default:
		copied := make(map[string]string, len(evt.Attributes))
		for k, v := range evt.Attributes {
			copied[k] = v
		}
		return UnknownEvent{Type: evt.Type, Attributes: copied}, nil
	}
}

// DecodeReceiptEvents decodes every event emitted by a confirmed receipt.
func DecodeReceiptEvents(receipt *ledger.Receipt) ([]Event, error) {
	if receipt == nil {
		return nil, &ExtractionError{Reason: "nil receipt"}
	}
	decoded := make([]Event, 0, len(receipt.Events))
	for _, raw := range receipt.Events {
		evt, err := DecodeEvent(raw)
		if err != nil {
			return nil, err
		}
		decoded = append(decoded, evt)
	}
	return decoded, nil
}

// CreatedEscrowID recovers the ledger-assigned identifier from a creation
// receipt. A receipt without the creation event fails with an
// ExtractionError; it is never defaulted.
func CreatedEscrowID(receipt *ledger.Receipt) (uint64, error) {
	if receipt == nil {
		return 0, &ExtractionError{EventType: EventTypeCreated, Reason: "nil receipt"}
	}
	for _, raw := range receipt.Events {
		if raw.Type != EventTypeCreated {
			continue
		}
		evt, err := DecodeEvent(raw)
		if err != nil {
			return 0, err
		}
		created, ok := evt.(CreatedEvent)
		if !ok {
			continue
		}
		return created.EscrowID, nil
	}
	return 0, &ExtractionError{EventType: EventTypeCreated, TxHash: receipt.TxHash}
}

// attrReader accumulates the first decode failure while reading attributes,
// so variant construction stays flat.
type attrReader struct {
	eventType string
	attrs     map[string]string
	err       error
}

func (r *attrReader) fail(key, reason string) {
	if r.err == nil {
		r.err = &ExtractionError{EventType: r.eventType, Reason: "attribute " + key + ": " + reason}
	}
}

func (r *attrReader) stringAttr(key string) string {
	val, ok := r.attrs[key]
	if !ok || strings.TrimSpace(val) == "" {
		r.fail(key, "missing")
		return ""
	}
	return val
}

func (r *attrReader) addressAttr(key string) string {
	return normalizeAddress(r.stringAttr(key))
}

func (r *attrReader) uint64Attr(key string) uint64 {
	raw := r.stringAttr(key)
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		r.fail(key, "not a decimal integer")
		return 0
	}
	return val
}

func (r *attrReader) uint32Attr(key string) uint32 {
	raw := r.stringAttr(key)
	if raw == "" {
		return 0
	}
	val, err := strconv.ParseUint(strings.TrimSpace(raw), 10, 32)
	if err != nil {
		r.fail(key, "not a decimal integer")
		return 0
	}
	return uint32(val)
}

func (r *attrReader) bigAttr(key string) *big.Int {
	raw := r.stringAttr(key)
	if raw == "" {
		return big.NewInt(0)
	}
	val, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		r.fail(key, "not a decimal amount")
		return big.NewInt(0)
	}
	return val
}

func (r *attrReader) voteAttr(key string) Vote {
	raw := r.stringAttr(key)
	if raw == "" {
		return VoteBuyer
	}
	vote, err := ParseVote(raw)
	if err != nil {
		r.fail(key, "not a recognised vote")
		return VoteBuyer
	}
	return vote
}

// listAttr splits a comma-separated address list attribute.
func (r *attrReader) listAttr(key string) []string {
	raw := r.stringAttr(key)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := normalizeAddress(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
