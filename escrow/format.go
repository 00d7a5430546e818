package escrow

import (
	"math/big"
	"strings"
	"time"
)

var amountUnit = new(big.Int).Exp(big.NewInt(10), big.NewInt(AmountDecimals), nil)

// Display is the human-usable projection of an escrow snapshot. The derived
// flags are advisory: they mirror the ledger's legality rules from local
// data and never replace the ledger's own enforcement.
type Display struct {
	EscrowID        uint64
	Buyer           string
	Seller          string
	BatchID         string
	Amount          string
	Status          string
	CreatedAt       time.Time
	ConfirmDeadline time.Time
	Arbitrators     []string
	Disputed        bool
	IsExpired       bool
	CanConfirm      bool
	CanDispute      bool
	CanClaimExpired bool
}

// FormatTransaction converts a raw snapshot into its display form using the
// supplied reference time. Pure and side-effect free.
func FormatTransaction(tx *EscrowTransaction, now time.Time) *Display {
	if tx == nil {
		return nil
	}
	expired := IsExpired(tx, now)
	return &Display{
		EscrowID:        tx.ID,
		Buyer:           normalizeAddress(tx.Buyer),
		Seller:          normalizeAddress(tx.Seller),
		BatchID:         tx.BatchID,
		Amount:          FormatAmount(tx.Amount),
		Status:          tx.Status.String(),
		CreatedAt:       time.Unix(tx.CreatedAt, 0).UTC(),
		ConfirmDeadline: time.Unix(tx.ConfirmDeadline, 0).UTC(),
		Arbitrators:     append([]string(nil), tx.Arbitrators...),
		Disputed:        tx.Disputed,
		IsExpired:       expired,
		CanConfirm:      CanConfirm(tx, now),
		CanDispute:      CanDispute(tx, now),
		CanClaimExpired: CanClaimExpired(tx, now),
	}
}

// IsExpired reports whether the confirmation window has lapsed while the
// escrow is still pending.
func IsExpired(tx *EscrowTransaction, now time.Time) bool {
	return tx != nil && tx.Status == StatusPending && now.Unix() > tx.ConfirmDeadline
}

// CanConfirm reports whether a buyer confirmation is currently sensible.
func CanConfirm(tx *EscrowTransaction, now time.Time) bool {
	return tx != nil && tx.Status == StatusPending && !IsExpired(tx, now)
}

// CanDispute reports whether a dispute can still be opened.
func CanDispute(tx *EscrowTransaction, now time.Time) bool {
	return tx != nil && tx.Status == StatusPending && !tx.Disputed && !IsExpired(tx, now)
}

// CanClaimExpired reports whether an expiry claim looks legal from local
// data alone.
func CanClaimExpired(tx *EscrowTransaction, now time.Time) bool {
	return tx != nil && tx.Status == StatusPending && !tx.Disputed && IsExpired(tx, now)
}

// FormatAmount renders a smallest-unit amount as a decimal string, trimming
// trailing fractional zeros ("1500000000000000000" -> "1.5").
func FormatAmount(units *big.Int) string {
	if units == nil || units.Sign() == 0 {
		return "0"
	}
	value := new(big.Int).Set(units)
	negative := value.Sign() < 0
	if negative {
		value.Neg(value)
	}
	whole, frac := new(big.Int).QuoRem(value, amountUnit, new(big.Int))
	out := whole.String()
	if frac.Sign() != 0 {
		digits := frac.String()
		if pad := AmountDecimals - len(digits); pad > 0 {
			digits = strings.Repeat("0", pad) + digits
		}
		digits = strings.TrimRight(digits, "0")
		out += "." + digits
	}
	if negative {
		out = "-" + out
	}
	return out
}
