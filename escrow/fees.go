package escrow

import (
	"context"
	"math/big"
)

// DefaultArbitrationFee is the fallback flat fee (0.01 native units) used
// when the ledger's fee query is unreachable. Estimates computed from it are
// flagged; the true fee is authoritative only at submission time.
var DefaultArbitrationFee = new(big.Int).Exp(big.NewInt(10), big.NewInt(16), nil)

// Cost is the payable breakdown for one escrow creation. Estimated marks a
// degraded-mode result computed with the default fee instead of a live
// ledger read.
type Cost struct {
	ProductPrice   *big.Int
	ArbitrationFee *big.Int
	TotalCost      *big.Int
	Estimated      bool
}

// NewCost assembles a cost breakdown from a price and fee.
func NewCost(price, fee *big.Int, estimated bool) *Cost {
	p := cloneBig(price)
	f := cloneBig(fee)
	return &Cost{
		ProductPrice:   p,
		ArbitrationFee: f,
		TotalCost:      new(big.Int).Add(p, f),
		Estimated:      estimated,
	}
}

// TransactionCost computes the total payable for a product price. A failed
// fee read degrades to the documented default rather than erroring, since it
// only affects an estimate, not a commitment.
func (c *Client) TransactionCost(ctx context.Context, productPrice *big.Int) (*Cost, error) {
	if productPrice == nil || productPrice.Sign() <= 0 {
		return nil, &ValidationError{Field: "productPrice", Reason: "must be positive"}
	}
	fee, err := c.backend.ArbitrationFee(ctx)
	if err != nil || fee == nil || fee.Sign() < 0 {
		return NewCost(productPrice, DefaultArbitrationFee, true), nil
	}
	return NewCost(productPrice, fee, false), nil
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
