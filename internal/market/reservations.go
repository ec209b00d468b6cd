package market

import (
	"fmt"

	"github.com/atmx/options-market/internal/contract"
	"github.com/atmx/options-market/internal/model"
)

// Reservation is the collateral one active contract holds on its seller.
type Reservation struct {
	ContractID model.ContractID `json:"contract_id"`
	UserID     string           `json:"user_id"`
	Symbol     string           `json:"symbol,omitempty"`
	Qty        int64            `json:"qty,omitempty"`
	Cash       model.Cents      `json:"cash,omitempty"`
}

// Reservations returns the collateral held by active contracts written by
// user, ordered by expiration then id. An empty user returns all of them.
func (e *Engine) Reservations(user string) []Reservation {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Reservation
	e.active.Ascend(func(c *model.Contract) bool {
		if user != "" && c.SellerID != user {
			return true
		}
		col := contract.CollateralOf(c)
		out = append(out, Reservation{
			ContractID: c.ID,
			UserID:     c.SellerID,
			Symbol:     col.Symbol,
			Qty:        col.Qty,
			Cash:       col.Cash,
		})
		return true
	})
	return out
}

// CheckReservations verifies that every account's reserved balances equal
// the collateral of the active contracts it wrote.
func (e *Engine) CheckReservations() error {
	type held struct {
		cash   model.Cents
		assets map[string]int64
	}
	want := make(map[string]*held)
	for _, r := range e.Reservations("") {
		h := want[r.UserID]
		if h == nil {
			h = &held{assets: make(map[string]int64)}
			want[r.UserID] = h
		}
		h.cash += r.Cash
		if r.Qty > 0 {
			h.assets[r.Symbol] += r.Qty
		}
	}

	for _, a := range e.ledger.Accounts() {
		h := want[a.ID]
		if h == nil {
			h = &held{}
		}
		if a.ReservedCash != h.cash {
			return fmt.Errorf("%s reserves %s cash, active contracts need %s", a.ID, a.ReservedCash, h.cash)
		}
		if len(a.ReservedAssets) != len(h.assets) {
			return fmt.Errorf("%s reserves %v, active contracts need %v", a.ID, a.ReservedAssets, h.assets)
		}
		for sym, qty := range a.ReservedAssets {
			if h.assets[sym] != qty {
				return fmt.Errorf("%s reserves %d %s, active contracts need %d", a.ID, qty, sym, h.assets[sym])
			}
		}
	}
	return nil
}
