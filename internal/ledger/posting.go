package ledger

import (
	"fmt"

	"github.com/atmx/options-market/internal/model"
)

// Op is the kind of balance change a posting makes.
type Op int

// Posting operations.
const (
	OpCreditCash Op = iota
	OpDebitCash
	OpReserveCash
	OpReleaseCash
	OpCreditAsset
	OpDebitAsset
	OpReserveAsset
	OpReleaseAsset
)

var opNames = [...]string{
	OpCreditCash:   "credit_cash",
	OpDebitCash:    "debit_cash",
	OpReserveCash:  "reserve_cash",
	OpReleaseCash:  "release_cash",
	OpCreditAsset:  "credit_asset",
	OpDebitAsset:   "debit_asset",
	OpReserveAsset: "reserve_asset",
	OpReleaseAsset: "release_asset",
}

// String returns the snake_case name used in error messages.
func (o Op) String() string {
	if int(o) < len(opNames) {
		return opNames[o]
	}
	return fmt.Sprintf("op(%d)", int(o))
}

// Posting is one balance change on one account. Cash postings use Amount;
// asset postings use Symbol and Qty.
type Posting struct {
	Account string
	Op      Op
	Amount  model.Cents
	Symbol  string
	Qty     int64
}

// CreditCash adds amount to the account's cash.
func CreditCash(user string, amount model.Cents) Posting {
	return Posting{Account: user, Op: OpCreditCash, Amount: amount}
}

// DebitCash removes amount from the account's free cash.
func DebitCash(user string, amount model.Cents) Posting {
	return Posting{Account: user, Op: OpDebitCash, Amount: amount}
}

// ReserveCash locks amount of free cash as collateral.
func ReserveCash(user string, amount model.Cents) Posting {
	return Posting{Account: user, Op: OpReserveCash, Amount: amount}
}

// ReleaseCash unlocks amount of reserved cash.
func ReleaseCash(user string, amount model.Cents) Posting {
	return Posting{Account: user, Op: OpReleaseCash, Amount: amount}
}

// CreditAsset adds qty units of symbol.
func CreditAsset(user, symbol string, qty int64) Posting {
	return Posting{Account: user, Op: OpCreditAsset, Symbol: symbol, Qty: qty}
}

// DebitAsset removes qty free units of symbol.
func DebitAsset(user, symbol string, qty int64) Posting {
	return Posting{Account: user, Op: OpDebitAsset, Symbol: symbol, Qty: qty}
}

// ReserveAsset locks qty free units of symbol as collateral.
func ReserveAsset(user, symbol string, qty int64) Posting {
	return Posting{Account: user, Op: OpReserveAsset, Symbol: symbol, Qty: qty}
}

// ReleaseAsset unlocks qty reserved units of symbol.
func ReleaseAsset(user, symbol string, qty int64) Posting {
	return Posting{Account: user, Op: OpReleaseAsset, Symbol: symbol, Qty: qty}
}

// apply validates p against a and mutates a only on success.
func (p Posting) apply(a *Account) error {
	switch p.Op {
	case OpCreditCash, OpDebitCash, OpReserveCash, OpReleaseCash:
		if p.Amount <= 0 {
			return fmt.Errorf("%w: %s %s for %s", model.ErrInvalidAmount, p.Op, p.Amount, a.ID)
		}
	default:
		if p.Symbol == "" {
			return fmt.Errorf("%w: %s without symbol for %s", model.ErrInvalidAmount, p.Op, a.ID)
		}
		if p.Qty <= 0 {
			return fmt.Errorf("%w: %s %d %s for %s", model.ErrInvalidAmount, p.Op, p.Qty, p.Symbol, a.ID)
		}
	}

	switch p.Op {
	case OpCreditCash:
		a.Cash += p.Amount

	case OpDebitCash:
		if p.Amount > a.FreeCash() {
			return fmt.Errorf("%w: %s needs %s, free %s", model.ErrInsufficientCash, a.ID, p.Amount, a.FreeCash())
		}
		a.Cash -= p.Amount

	case OpReserveCash:
		if p.Amount > a.FreeCash() {
			return fmt.Errorf("%w: %s needs %s, free %s", model.ErrInsufficientCash, a.ID, p.Amount, a.FreeCash())
		}
		a.ReservedCash += p.Amount

	case OpReleaseCash:
		if p.Amount > a.ReservedCash {
			return fmt.Errorf("%w: %s releasing %s cash, reserved %s", model.ErrOverRelease, a.ID, p.Amount, a.ReservedCash)
		}
		a.ReservedCash -= p.Amount

	case OpCreditAsset:
		a.Assets[p.Symbol] += p.Qty

	case OpDebitAsset:
		if free := a.FreeAsset(p.Symbol); p.Qty > free {
			return fmt.Errorf("%w: %s needs %d %s, free %d", model.ErrInsufficientAsset, a.ID, p.Qty, p.Symbol, free)
		}
		a.Assets[p.Symbol] -= p.Qty
		if a.Assets[p.Symbol] == 0 && a.ReservedAssets[p.Symbol] == 0 {
			delete(a.Assets, p.Symbol)
		}

	case OpReserveAsset:
		if free := a.FreeAsset(p.Symbol); p.Qty > free {
			return fmt.Errorf("%w: %s needs %d %s, free %d", model.ErrInsufficientFreeAsset, a.ID, p.Qty, p.Symbol, free)
		}
		a.ReservedAssets[p.Symbol] += p.Qty

	case OpReleaseAsset:
		if reserved := a.ReservedAssets[p.Symbol]; p.Qty > reserved {
			return fmt.Errorf("%w: %s releasing %d %s, reserved %d", model.ErrOverRelease, a.ID, p.Qty, p.Symbol, reserved)
		}
		a.ReservedAssets[p.Symbol] -= p.Qty
		if a.ReservedAssets[p.Symbol] == 0 {
			delete(a.ReservedAssets, p.Symbol)
		}

	default:
		return fmt.Errorf("ledger: unknown posting op %d", int(p.Op))
	}
	return nil
}
