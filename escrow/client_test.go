package escrow

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"testing"

	"batchpay/ledger"
)

const (
	buyerAddr      = "0x1111111111111111111111111111111111111111"
	sellerAddr     = "0x2222222222222222222222222222222222222222"
	arbitratorAddr = "0x3333333333333333333333333333333333333333"
	outsiderAddr   = "0x4444444444444444444444444444444444444444"
)

// fakeLedger is an in-memory Backend that mimics the ledger's escrow state
// machine closely enough to drive the client end to end.
type fakeLedger struct {
	from     string
	now      int64
	nextID   uint64
	nextTx   int
	records  map[uint64]*ledger.EscrowRecord
	votes    map[uint64][]ledger.VoteRecord
	receipts map[string]*ledger.Receipt
	calls    map[string]int

	fee    *big.Int
	feeErr error

	submitErr     map[string]error
	receiptStatus string
	receiptReason string
}

func newFakeLedger(from string) *fakeLedger {
	return &fakeLedger{
		from:      from,
		now:       1_700_000_000,
		records:   make(map[uint64]*ledger.EscrowRecord),
		votes:     make(map[uint64][]ledger.VoteRecord),
		receipts:  make(map[string]*ledger.Receipt),
		calls:     make(map[string]int),
		submitErr: make(map[string]error),
		fee:       big.NewInt(25),
	}
}

func (f *fakeLedger) advance(seconds int64) { f.now += seconds }

func (f *fakeLedger) callCount() int {
	total := 0
	for _, n := range f.calls {
		total += n
	}
	return total
}

func (f *fakeLedger) mint(events ...ledger.Event) string {
	f.nextTx++
	hash := fmt.Sprintf("0xtx%04d", f.nextTx)
	status := ledger.ReceiptStatusOK
	if f.receiptStatus != "" {
		status = f.receiptStatus
	}
	f.receipts[hash] = &ledger.Receipt{
		TxHash:    hash,
		Height:    uint64(f.nextTx),
		Status:    status,
		Reason:    f.receiptReason,
		Events:    events,
		Timestamp: f.now,
	}
	return hash
}

func (f *fakeLedger) EscrowCreate(_ context.Context, params ledger.CreateParams) (string, error) {
	f.calls["create"]++
	if err := f.submitErr["create"]; err != nil {
		return "", err
	}
	f.nextID++
	id := f.nextID
	deadline := f.now + int64(params.ConfirmationPeriodDays)*86_400
	f.records[id] = &ledger.EscrowRecord{
		ID:              id,
		Buyer:           f.from,
		Seller:          params.Seller,
		BatchID:         params.BatchID,
		Amount:          params.Amount,
		Status:          "pending",
		CreatedAt:       f.now,
		ConfirmDeadline: deadline,
		Arbitrators:     []string{arbitratorAddr},
	}
	return f.mint(ledger.Event{
		Type: EventTypeCreated,
		Attributes: map[string]string{
			"id":      strconv.FormatUint(id, 10),
			"buyer":   f.from,
			"seller":  params.Seller,
			"batchId": params.BatchID,
			"amount":  params.Amount,
		},
	}), nil
}

func (f *fakeLedger) EscrowConfirm(_ context.Context, id uint64) (string, error) {
	f.calls["confirm"]++
	if err := f.submitErr["confirm"]; err != nil {
		return "", err
	}
	if rec, ok := f.records[id]; ok {
		rec.Status = "confirmed"
	}
	return f.mint(), nil
}

func (f *fakeLedger) EscrowDispute(_ context.Context, id uint64, _ string) (string, error) {
	f.calls["dispute"]++
	if err := f.submitErr["dispute"]; err != nil {
		return "", err
	}
	if rec, ok := f.records[id]; ok {
		rec.Status = "disputed"
		rec.Disputed = true
	}
	return f.mint(), nil
}

func (f *fakeLedger) EscrowVote(_ context.Context, id uint64, vote string) (string, error) {
	f.calls["vote"]++
	if err := f.submitErr["vote"]; err != nil {
		return "", err
	}
	f.votes[id] = append(f.votes[id], ledger.VoteRecord{
		Arbitrator: arbitratorAddr,
		Vote:       vote,
		Timestamp:  f.now,
	})
	return f.mint(), nil
}

func (f *fakeLedger) EscrowResolve(_ context.Context, id uint64) (string, error) {
	f.calls["resolve"]++
	if err := f.submitErr["resolve"]; err != nil {
		return "", err
	}
	if rec, ok := f.records[id]; ok {
		rec.Status = "resolved"
	}
	return f.mint(), nil
}

func (f *fakeLedger) EscrowClaim(_ context.Context, id uint64) (string, error) {
	f.calls["claim"]++
	if err := f.submitErr["claim"]; err != nil {
		return "", err
	}
	if rec, ok := f.records[id]; ok {
		rec.Status = "refunded"
	}
	return f.mint(), nil
}

func (f *fakeLedger) EscrowGet(_ context.Context, id uint64) (*ledger.EscrowRecord, bool, error) {
	f.calls["get"]++
	rec, ok := f.records[id]
	if !ok {
		return nil, false, nil
	}
	clone := *rec
	return &clone, true, nil
}

func (f *fakeLedger) EscrowsByBuyer(_ context.Context, buyer string) ([]uint64, error) {
	f.calls["listByBuyer"]++
	var ids []uint64
	for id, rec := range f.records {
		if rec.Buyer == buyer {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) EscrowsBySeller(_ context.Context, seller string) ([]uint64, error) {
	f.calls["listBySeller"]++
	var ids []uint64
	for id, rec := range f.records {
		if rec.Seller == seller {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *fakeLedger) DisputeVotes(_ context.Context, id uint64) ([]ledger.VoteRecord, error) {
	f.calls["votes"]++
	return append([]ledger.VoteRecord(nil), f.votes[id]...), nil
}

func (f *fakeLedger) CanDispute(_ context.Context, id uint64) (bool, error) {
	f.calls["canDispute"]++
	rec, ok := f.records[id]
	if !ok {
		return false, nil
	}
	return rec.Status == "pending" && !rec.Disputed && f.now <= rec.ConfirmDeadline, nil
}

func (f *fakeLedger) CanClaim(_ context.Context, id uint64) (bool, error) {
	f.calls["canClaim"]++
	rec, ok := f.records[id]
	if !ok {
		return false, nil
	}
	return rec.Status == "pending" && !rec.Disputed && f.now > rec.ConfirmDeadline, nil
}

func (f *fakeLedger) ArbitrationFee(_ context.Context) (*big.Int, error) {
	f.calls["fee"]++
	if f.feeErr != nil {
		return nil, f.feeErr
	}
	return new(big.Int).Set(f.fee), nil
}

func (f *fakeLedger) EscrowCount(_ context.Context) (uint64, error) {
	f.calls["count"]++
	return f.nextID, nil
}

func (f *fakeLedger) WaitForReceipt(_ context.Context, txHash string) (*ledger.Receipt, error) {
	f.calls["receipt"]++
	receipt, ok := f.receipts[txHash]
	if !ok {
		return nil, fmt.Errorf("no receipt for %s", txHash)
	}
	return receipt, nil
}

func newTestClient(t *testing.T, caller string) (*Client, *fakeLedger) {
	t.Helper()
	backend := newFakeLedger(caller)
	client, err := NewClient(backend, caller)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client, backend
}

func mustCreate(t *testing.T, client *Client, backend *fakeLedger) uint64 {
	t.Helper()
	result, err := client.CreateEscrow(context.Background(), sellerAddr, "batch-7", big.NewInt(100), 30)
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	return result.EscrowID
}

func TestCreateEscrowValidationFailsBeforeNetwork(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	cases := []struct {
		name   string
		seller string
		batch  string
		amount *big.Int
		days   uint32
	}{
		{"empty seller", "", "batch-7", big.NewInt(100), 30},
		{"bad seller", "not-an-address", "batch-7", big.NewInt(100), 30},
		{"self trade", buyerAddr, "batch-7", big.NewInt(100), 30},
		{"empty batch", sellerAddr, "  ", big.NewInt(100), 30},
		{"nil amount", sellerAddr, "batch-7", nil, 30},
		{"zero amount", sellerAddr, "batch-7", big.NewInt(0), 30},
		{"negative amount", sellerAddr, "batch-7", big.NewInt(-5), 30},
		{"zero days", sellerAddr, "batch-7", big.NewInt(100), 0},
		{"excessive days", sellerAddr, "batch-7", big.NewInt(100), 366},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := client.CreateEscrow(context.Background(), tc.seller, tc.batch, tc.amount, tc.days)
			if !errors.Is(err, ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
	if backend.callCount() != 0 {
		t.Fatalf("validation failures must not reach the network, saw %d calls", backend.callCount())
	}
}

func TestCreateEscrowAssignsLedgerID(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	result, err := client.CreateEscrow(context.Background(), sellerAddr, "batch-7", big.NewInt(100), 30)
	if err != nil {
		t.Fatalf("CreateEscrow: %v", err)
	}
	if result.EscrowID != 1 {
		t.Fatalf("expected escrow id 1, got %d", result.EscrowID)
	}
	if result.TxHash == "" || result.Receipt == nil {
		t.Fatalf("expected tx hash and receipt, got %+v", result)
	}
	rec := backend.records[result.EscrowID]
	if rec.Status != "pending" {
		t.Fatalf("expected pending status, got %s", rec.Status)
	}
	if rec.ConfirmDeadline != rec.CreatedAt+30*86_400 {
		t.Fatalf("expected deadline 30 days after creation, got %d", rec.ConfirmDeadline)
	}
}

func TestCreateEscrowMissingEventIsExtractionError(t *testing.T) {
	backend := &strippedEventsBackend{fakeLedger: newFakeLedger(buyerAddr)}
	client, err := NewClient(backend, buyerAddr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = client.CreateEscrow(context.Background(), sellerAddr, "batch-7", big.NewInt(100), 30)
	if !errors.Is(err, ErrExtraction) {
		t.Fatalf("expected extraction error, got %v", err)
	}
}

// strippedEventsBackend delegates to fakeLedger but removes all receipt
// events, simulating a ledger-side behavioural change.
type strippedEventsBackend struct {
	*fakeLedger
}

func (b *strippedEventsBackend) WaitForReceipt(ctx context.Context, txHash string) (*ledger.Receipt, error) {
	receipt, err := b.fakeLedger.WaitForReceipt(ctx, txHash)
	if err != nil {
		return nil, err
	}
	clone := *receipt
	clone.Events = nil
	return &clone, nil
}

func TestConfirmDeliveryOnlyBuyer(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	outsider, err := NewClient(backend, outsiderAddr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := outsider.ConfirmDelivery(context.Background(), id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error for non-buyer, got %v", err)
	}

	asSeller, err := NewClient(backend, sellerAddr)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := asSeller.ConfirmDelivery(context.Background(), id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error for seller, got %v", err)
	}
}

func TestConfirmDeliveryLifecycle(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	txHash, err := client.ConfirmDelivery(context.Background(), id)
	if err != nil {
		t.Fatalf("ConfirmDelivery: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected transaction hash")
	}
	if backend.records[id].Status != "confirmed" {
		t.Fatalf("expected confirmed, got %s", backend.records[id].Status)
	}

	// A second confirmation is illegal: status is no longer pending.
	if _, err := client.ConfirmDelivery(context.Background(), id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error on repeat confirm, got %v", err)
	}
}

func TestConfirmDeliveryUnknownEscrow(t *testing.T) {
	client, _ := newTestClient(t, buyerAddr)
	_, err := client.ConfirmDelivery(context.Background(), 99)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestInitiateDispute(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	if _, err := client.InitiateDispute(context.Background(), id, "  "); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty evidence, got %v", err)
	}

	outsider, _ := NewClient(backend, outsiderAddr)
	if _, err := outsider.InitiateDispute(context.Background(), id, "QmEvidence"); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error for non-party, got %v", err)
	}

	asSeller, _ := NewClient(backend, sellerAddr)
	txHash, err := asSeller.InitiateDispute(context.Background(), id, "QmEvidence")
	if err != nil {
		t.Fatalf("InitiateDispute: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected transaction hash")
	}
	if backend.records[id].Status != "disputed" {
		t.Fatalf("expected disputed, got %s", backend.records[id].Status)
	}

	// The buyer cannot dispute again: status is no longer pending.
	if _, err := client.InitiateDispute(context.Background(), id, "QmCounter"); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error on repeat dispute, got %v", err)
	}
}

func TestInitiateDisputeWindowClosed(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)
	backend.advance(31 * 86_400)

	_, err := client.InitiateDispute(context.Background(), id, "QmEvidence")
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error after window close, got %v", err)
	}
}

func TestVoteOnDispute(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	arbiter, _ := NewClient(backend, arbitratorAddr)

	// Voting before a dispute exists is illegal regardless of membership.
	if _, err := arbiter.VoteOnDispute(context.Background(), id, VoteBuyer); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error before dispute, got %v", err)
	}

	if _, err := client.InitiateDispute(context.Background(), id, "QmEvidence"); err != nil {
		t.Fatalf("InitiateDispute: %v", err)
	}

	// Non-arbitrators are rejected whatever the status.
	if _, err := client.VoteOnDispute(context.Background(), id, VoteBuyer); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error for non-arbitrator, got %v", err)
	}

	if _, err := arbiter.VoteOnDispute(context.Background(), id, Vote(9)); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for bad vote, got %v", err)
	}

	txHash, err := arbiter.VoteOnDispute(context.Background(), id, VoteSeller)
	if err != nil {
		t.Fatalf("VoteOnDispute: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected transaction hash")
	}
	if len(backend.votes[id]) != 1 || backend.votes[id][0].Vote != "seller" {
		t.Fatalf("unexpected recorded votes: %+v", backend.votes[id])
	}
}

func TestClaimExpiredFunds(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	// Before the deadline the ledger reports the claim as illegal.
	if _, err := client.ClaimExpiredFunds(context.Background(), id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error before deadline, got %v", err)
	}

	backend.advance(31 * 86_400)
	txHash, err := client.ClaimExpiredFunds(context.Background(), id)
	if err != nil {
		t.Fatalf("ClaimExpiredFunds: %v", err)
	}
	if txHash == "" {
		t.Fatal("expected transaction hash")
	}

	// The escrow is now terminal; a second claim is illegal.
	if _, err := client.ClaimExpiredFunds(context.Background(), id); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected precondition error after settlement, got %v", err)
	}
}

func TestResolveDisputeRequiresExistence(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	if _, err := client.ResolveDispute(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}

	id := mustCreate(t, client, backend)
	if _, err := client.InitiateDispute(context.Background(), id, "QmEvidence"); err != nil {
		t.Fatalf("InitiateDispute: %v", err)
	}
	// Timing/quorum legality is the ledger's call; the client submits.
	if _, err := client.ResolveDispute(context.Background(), id); err != nil {
		t.Fatalf("ResolveDispute: %v", err)
	}
	if backend.records[id].Status != "resolved" {
		t.Fatalf("expected resolved, got %s", backend.records[id].Status)
	}
}

func TestLedgerRejectionIsAuthoritative(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	backend.submitErr["confirm"] = &ledger.RPCError{Code: ledger.CodeRejected, Message: "already settled"}
	_, err := client.ConfirmDelivery(context.Background(), id)
	if !errors.Is(err, ErrLedgerRejected) {
		t.Fatalf("expected ledger rejection, got %v", err)
	}
	var rejection *LedgerRejectionError
	if !errors.As(err, &rejection) {
		t.Fatalf("expected LedgerRejectionError, got %T", err)
	}
}

func TestRevertedReceiptIsLedgerRejection(t *testing.T) {
	client, backend := newTestClient(t, buyerAddr)
	id := mustCreate(t, client, backend)

	backend.receiptStatus = ledger.ReceiptStatusFailed
	backend.receiptReason = "confirmation raced with claim"
	_, err := client.ConfirmDelivery(context.Background(), id)
	if !errors.Is(err, ErrLedgerRejected) {
		t.Fatalf("expected ledger rejection for reverted receipt, got %v", err)
	}
}

func TestNewClientRejectsBadCaller(t *testing.T) {
	backend := newFakeLedger(buyerAddr)
	if _, err := NewClient(backend, "nobody"); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if _, err := NewClient(nil, buyerAddr); err == nil {
		t.Fatal("expected error for nil backend")
	}
}
