package market

import (
	"fmt"

	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/model"
)

// SpotBuy buys qty units of symbol from the house account at the current
// mark price and returns the total cost.
func (e *Engine) SpotBuy(user, symbol string, qty int64) (model.Cents, error) {
	return e.spot(model.EventSpotBuy, user, symbol, qty)
}

// SpotSell sells qty units of symbol to the house account at the current
// mark price and returns the proceeds.
func (e *Engine) SpotSell(user, symbol string, qty int64) (model.Cents, error) {
	return e.spot(model.EventSpotSell, user, symbol, qty)
}

func (e *Engine) spot(kind model.EventType, user, symbol string, qty int64) (model.Cents, error) {
	if e.prices == nil || e.house == "" {
		return 0, fmt.Errorf("%w: spot desk is not configured", model.ErrUnknownAsset)
	}
	if qty <= 0 {
		return 0, fmt.Errorf("%w: spot quantity %d", model.ErrInvalidAmount, qty)
	}
	if user == e.house {
		return 0, fmt.Errorf("%w: house account cannot trade with itself", model.ErrSelfTrade)
	}
	price, err := e.prices.Price(symbol)
	if err != nil {
		return 0, err
	}
	total := price * model.Cents(qty)

	e.mu.Lock()
	defer e.mu.Unlock()

	var postings []ledger.Posting
	if kind == model.EventSpotBuy {
		postings = []ledger.Posting{
			ledger.DebitCash(user, total),
			ledger.CreditCash(e.house, total),
			ledger.DebitAsset(e.house, symbol, qty),
			ledger.CreditAsset(user, symbol, qty),
		}
	} else {
		postings = []ledger.Posting{
			ledger.DebitAsset(user, symbol, qty),
			ledger.CreditAsset(e.house, symbol, qty),
			ledger.DebitCash(e.house, total),
			ledger.CreditCash(user, total),
		}
	}
	if err := e.ledger.Commit(postings...); err != nil {
		return 0, fmt.Errorf("%s %d %s: %w", kind, qty, symbol, err)
	}

	e.emit(model.Event{
		Type:           kind,
		UserID:         user,
		CounterpartyID: e.house,
		Symbol:         symbol,
		Quantity:       qty,
		Cash:           total,
	})
	return total, nil
}
