package market

import (
	"fmt"

	"github.com/atmx/options-market/internal/access"
	"github.com/atmx/options-market/internal/model"
)

// MaxFeeBps is 100%.
const MaxFeeBps = 10_000

// Fees are charged on premium at sale: the buyer pays premium plus
// BuyerBps, the seller receives premium minus SellerBps, and both fees go to
// the fee account.
type Fees struct {
	BuyerBps  int `json:"buyer_bps"`
	SellerBps int `json:"seller_bps"`
}

func (f Fees) validate() error {
	if f.BuyerBps < 0 || f.BuyerBps > MaxFeeBps || f.SellerBps < 0 || f.SellerBps > MaxFeeBps {
		return fmt.Errorf("%w: fee bps must be between 0 and %d, got buyer=%d seller=%d",
			model.ErrInvalidTerms, MaxFeeBps, f.BuyerBps, f.SellerBps)
	}
	return nil
}

// Fees returns the current fee schedule.
func (e *Engine) Fees() Fees {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.fees
}

// SetFees replaces the fee schedule. Caller must hold access.RoleFeeAdmin.
// Contracts already sold keep the fees they settled with.
func (e *Engine) SetFees(caller string, fees Fees) error {
	if e.auth == nil {
		return fmt.Errorf("%w: market has no fee administrators", model.ErrUnauthorized)
	}
	if err := e.auth.Require(caller, access.RoleFeeAdmin); err != nil {
		return err
	}
	if err := fees.validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.fees = fees
	e.logger.Info("fees updated", "buyer_bps", fees.BuyerBps, "seller_bps", fees.SellerBps, "by", caller)
	return nil
}
