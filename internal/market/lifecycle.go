package market

import (
	"errors"
	"fmt"

	"github.com/atmx/options-market/internal/contract"
	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/model"
)

// List writes a new contract for seller. The collateral (100 units of the
// underlying for a CALL, strike × 100 cash for a PUT) is reserved before
// the contract exists; if the reservation fails nothing is created and the
// error wraps model.ErrInsufficientCollateral.
func (e *Engine) List(seller string, terms contract.Terms) (model.ContractID, error) {
	if terms.Multiplier.IsZero() {
		terms.Multiplier = e.multiplier
	}
	if err := terms.Validate(); err != nil {
		return 0, err
	}
	premium, err := terms.Premium()
	if err != nil {
		return 0, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.ledger.Has(seller) {
		return 0, fmt.Errorf("%w: %s", model.ErrUnknownUser, seller)
	}
	if terms.Expiration < e.round {
		return 0, fmt.Errorf("%w: expiration round %d already passed (round %d)",
			model.ErrInvalidTerms, terms.Expiration, e.round)
	}

	col := terms.Collateral()
	if e.limiter != nil {
		notional := terms.Strike * model.ContractSize
		if err := e.limiter.CheckLimit(terms.Underlying, notional, e.writtenNotional(seller)); err != nil {
			return 0, fmt.Errorf("%w: %w", model.ErrPositionLimit, err)
		}
	}

	var reserve ledger.Posting
	if col.Qty > 0 {
		reserve = ledger.ReserveAsset(seller, col.Symbol, col.Qty)
	} else {
		reserve = ledger.ReserveCash(seller, col.Cash)
	}
	if err := e.ledger.Commit(reserve); err != nil {
		return 0, fmt.Errorf("%w: %w", model.ErrInsufficientCollateral, err)
	}

	e.nextID++
	c := &model.Contract{
		ID:         e.nextID,
		Ticker:     terms.Ticker(),
		Underlying: terms.Underlying,
		Kind:       terms.Kind,
		Strike:     terms.Strike,
		Premium:    premium,
		Expiration: terms.Expiration,
		SellerID:   seller,
		Status:     model.StatusListed,
		ListedAt:   e.round,
	}
	e.contracts[c.ID] = c
	e.active.ReplaceOrInsert(c)

	ev := contractEvent(model.EventListed, c)
	ev.UserID = seller
	ev.Cash = premium
	ev.Quantity = col.Qty
	e.emit(ev)

	e.logger.Debug("contract listed",
		"contract_id", c.ID,
		"ticker", c.Ticker,
		"seller", seller,
		"premium", premium.String(),
	)
	return c.ID, nil
}

// Unlist withdraws a contract that has not been sold and returns its
// collateral to the seller.
func (e *Engine) Unlist(seller string, id model.ContractID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if c.SellerID != seller {
		return fmt.Errorf("%w: %s did not write contract %s", model.ErrNotOwner, seller, id)
	}
	if c.Status != model.StatusListed {
		return fmt.Errorf("%w: cannot unlist contract %s in state %s", model.ErrInvalidState, id, c.Status)
	}

	e.mustCommit(releasePostings(c)...)
	e.active.Delete(c)
	e.transition(c, model.StatusUnlisted)
	c.ClosedAt = e.round

	ev := contractEvent(model.EventUnlisted, c)
	ev.UserID = seller
	e.emit(ev)

	e.logger.Debug("contract unlisted", "contract_id", id, "seller", seller)
	return nil
}

// Buy purchases a listed contract. The buyer's debit is the first posting
// of the batch, so a buyer short of cash fails before the seller is
// credited; a second buy of the same contract fails with
// model.ErrInvalidState.
func (e *Engine) Buy(buyer string, id model.ContractID) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if c.Status != model.StatusListed {
		return fmt.Errorf("%w: contract %s is %s", model.ErrInvalidState, id, c.Status)
	}
	if buyer == c.SellerID {
		return fmt.Errorf("%w: %s wrote contract %s", model.ErrSelfTrade, buyer, id)
	}

	buyerFee := c.Premium.Bps(e.fees.BuyerBps)
	sellerFee := c.Premium.Bps(e.fees.SellerBps)
	postings := []ledger.Posting{ledger.DebitCash(buyer, c.Premium+buyerFee)}
	if net := c.Premium - sellerFee; net > 0 {
		postings = append(postings, ledger.CreditCash(c.SellerID, net))
	}
	if fee := buyerFee + sellerFee; fee > 0 {
		postings = append(postings, ledger.CreditCash(e.feeAccount, fee))
	}
	if err := e.ledger.Commit(postings...); err != nil {
		return fmt.Errorf("buy contract %s: %w", id, err)
	}

	e.transition(c, model.StatusSold)
	c.BuyerID = buyer
	c.SoldAt = e.round

	ev := contractEvent(model.EventSold, c)
	ev.UserID = buyer
	ev.CounterpartyID = c.SellerID
	ev.Cash = c.Premium
	ev.Fee = buyerFee + sellerFee
	e.emit(ev)

	e.logger.Debug("contract sold",
		"contract_id", id,
		"buyer", buyer,
		"seller", c.SellerID,
		"premium", c.Premium.String(),
	)
	return nil
}

// Exercise settles a sold contract at its strike. A contract is
// exercisable up to and including its expiration round.
//
// CALL: the buyer pays strike × 100 and receives the seller's reserved
// units. PUT: the buyer delivers 100 units and receives the seller's
// reserved cash. Either way the collateral reservation is consumed.
func (e *Engine) Exercise(buyer string, id model.ContractID, round int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	c, err := e.lookup(id)
	if err != nil {
		return err
	}
	if c.Status != model.StatusSold {
		return fmt.Errorf("%w: cannot exercise contract %s in state %s", model.ErrInvalidState, id, c.Status)
	}
	if c.BuyerID != buyer {
		return fmt.Errorf("%w: %s does not hold contract %s", model.ErrNotBuyer, buyer, id)
	}
	if c.ExpiredAt(round) {
		return fmt.Errorf("%w: contract %s expired after round %d (now %d)", model.ErrExpired, id, c.Expiration, round)
	}

	value := c.ExerciseValue()
	var postings []ledger.Posting
	if c.Kind == model.KindCall {
		postings = []ledger.Posting{
			ledger.DebitCash(buyer, value),
			ledger.CreditCash(c.SellerID, value),
			ledger.ReleaseAsset(c.SellerID, c.Underlying, model.ContractSize),
			ledger.DebitAsset(c.SellerID, c.Underlying, model.ContractSize),
			ledger.CreditAsset(buyer, c.Underlying, model.ContractSize),
		}
	} else {
		postings = []ledger.Posting{
			ledger.DebitAsset(buyer, c.Underlying, model.ContractSize),
			ledger.CreditAsset(c.SellerID, c.Underlying, model.ContractSize),
			ledger.ReleaseCash(c.SellerID, value),
			ledger.DebitCash(c.SellerID, value),
			ledger.CreditCash(buyer, value),
		}
	}
	if err := e.ledger.Commit(postings...); err != nil {
		if errors.Is(err, model.ErrOverRelease) {
			panic(fmt.Sprintf("market: exercise of contract %s: %v", id, err))
		}
		return fmt.Errorf("exercise contract %s: %w", id, err)
	}

	e.observeRound(round)
	e.active.Delete(c)
	e.transition(c, model.StatusExercised)
	c.ClosedAt = round

	ev := contractEvent(model.EventExercised, c)
	ev.UserID = buyer
	ev.CounterpartyID = c.SellerID
	ev.Cash = value
	ev.Quantity = model.ContractSize
	e.emit(ev)

	e.logger.Debug("contract exercised",
		"contract_id", id,
		"kind", c.Kind,
		"buyer", buyer,
		"seller", c.SellerID,
		"round", round,
	)
	return nil
}

// ExpireAll expires every Listed or Sold contract whose expiration round is
// before round, returning their collateral to the sellers. It returns the
// expired ids ordered by expiration then id. Calling it again for the same
// round expires nothing.
func (e *Engine) ExpireAll(round int64) []model.ContractID {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.observeRound(round)

	var due []*model.Contract
	pivot := &model.Contract{Expiration: round}
	e.active.AscendLessThan(pivot, func(c *model.Contract) bool {
		due = append(due, c)
		return true
	})

	ids := make([]model.ContractID, 0, len(due))
	for _, c := range due {
		e.mustCommit(releasePostings(c)...)
		e.active.Delete(c)
		e.transition(c, model.StatusExpired)
		c.ClosedAt = round
		ids = append(ids, c.ID)

		ev := contractEvent(model.EventExpired, c)
		ev.UserID = c.SellerID
		ev.CounterpartyID = c.BuyerID
		e.emit(ev)
	}

	if len(ids) > 0 {
		e.logger.Debug("contracts expired", "round", round, "count", len(ids))
	}
	return ids
}
