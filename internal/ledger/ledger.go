// Package ledger holds trader accounts: cash, per-asset owned quantities and
// the portions of each that are reserved as collateral.
//
// Every mutation is a batch of postings. A batch is validated and applied
// against copies of the accounts it touches and only swapped in when every
// posting succeeded, so a failed batch leaves no visible change. The
// single-posting helpers (CreditCash, ReserveAsset, ...) are one-element
// batches.
package ledger

import (
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/atmx/options-market/internal/model"
)

// Account is a point-in-time copy of one trader's balances.
type Account struct {
	ID             string           `json:"id"`
	Cash           model.Cents      `json:"cash"`
	ReservedCash   model.Cents      `json:"reserved_cash"`
	Assets         map[string]int64 `json:"assets"`
	ReservedAssets map[string]int64 `json:"reserved_assets"`
}

// FreeCash is cash not held as collateral.
func (a *Account) FreeCash() model.Cents {
	return a.Cash - a.ReservedCash
}

// FreeAsset is the owned quantity of symbol not held as collateral.
func (a *Account) FreeAsset(symbol string) int64 {
	return a.Assets[symbol] - a.ReservedAssets[symbol]
}

func (a *Account) clone() *Account {
	c := *a
	c.Assets = maps.Clone(a.Assets)
	c.ReservedAssets = maps.Clone(a.ReservedAssets)
	if c.Assets == nil {
		c.Assets = make(map[string]int64)
	}
	if c.ReservedAssets == nil {
		c.ReservedAssets = make(map[string]int64)
	}
	return &c
}

// check panics if the account breaks owned ≥ reserved ≥ 0 or
// cash ≥ reserved cash ≥ 0. Postings validate before applying, so a
// failure here is a bug in this package.
func (a *Account) check() {
	if a.ReservedCash < 0 || a.Cash < a.ReservedCash {
		panic(fmt.Sprintf("ledger: cash invariant broken for %s: cash=%d reserved=%d", a.ID, a.Cash, a.ReservedCash))
	}
	for sym, reserved := range a.ReservedAssets {
		if reserved < 0 || a.Assets[sym] < reserved {
			panic(fmt.Sprintf("ledger: asset invariant broken for %s/%s: owned=%d reserved=%d", a.ID, sym, a.Assets[sym], reserved))
		}
	}
	for sym, owned := range a.Assets {
		if owned < 0 {
			panic(fmt.Sprintf("ledger: negative %s balance for %s", sym, a.ID))
		}
	}
}

// Ledger is the thread-safe account store.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*Account
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{
		accounts: make(map[string]*Account),
	}
}

// Open creates an account with opening balances. Zero entries in assets
// are dropped.
func (l *Ledger) Open(id string, cash model.Cents, assets map[string]int64) error {
	if id == "" {
		return fmt.Errorf("%w: empty user id", model.ErrUnknownUser)
	}
	if cash < 0 {
		return fmt.Errorf("%w: opening cash %s", model.ErrInvalidAmount, cash)
	}
	acct := &Account{
		ID:             id,
		Cash:           cash,
		Assets:         make(map[string]int64, len(assets)),
		ReservedAssets: make(map[string]int64),
	}
	for sym, qty := range assets {
		if qty < 0 {
			return fmt.Errorf("%w: opening %s quantity %d", model.ErrInvalidAmount, sym, qty)
		}
		if qty > 0 {
			acct.Assets[sym] = qty
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, exists := l.accounts[id]; exists {
		return fmt.Errorf("%w: %s", model.ErrUserExists, id)
	}
	l.accounts[id] = acct
	return nil
}

// Has reports whether an account exists.
func (l *Ledger) Has(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.accounts[id]
	return ok
}

// Account returns a copy of one account.
func (l *Ledger) Account(id string) (Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	a, ok := l.accounts[id]
	if !ok {
		return Account{}, fmt.Errorf("%w: %s", model.ErrUnknownUser, id)
	}
	return *a.clone(), nil
}

// Accounts returns copies of all accounts ordered by id.
func (l *Ledger) Accounts() []Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// TotalCash sums cash over every account.
func (l *Ledger) TotalCash() model.Cents {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total model.Cents
	for _, a := range l.accounts {
		total += a.Cash
	}
	return total
}

// TotalAsset sums the owned quantity of symbol over every account.
func (l *Ledger) TotalAsset(symbol string) int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var total int64
	for _, a := range l.accounts {
		total += a.Assets[symbol]
	}
	return total
}

// Commit applies postings in order as one atomic unit. The first failing
// posting aborts the batch and its error is returned unchanged.
func (l *Ledger) Commit(postings ...Posting) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	staged := make(map[string]*Account, 2)
	for _, p := range postings {
		acct, ok := staged[p.Account]
		if !ok {
			orig, exists := l.accounts[p.Account]
			if !exists {
				return fmt.Errorf("%w: %s", model.ErrUnknownUser, p.Account)
			}
			acct = orig.clone()
			staged[p.Account] = acct
		}
		if err := p.apply(acct); err != nil {
			return err
		}
	}

	for id, acct := range staged {
		acct.check()
		l.accounts[id] = acct
	}
	return nil
}

// CreditCash adds amount to a user's cash.
func (l *Ledger) CreditCash(user string, amount model.Cents) error {
	return l.Commit(CreditCash(user, amount))
}

// DebitCash removes amount from a user's free cash.
func (l *Ledger) DebitCash(user string, amount model.Cents) error {
	return l.Commit(DebitCash(user, amount))
}

// CreditAsset adds qty units of symbol.
func (l *Ledger) CreditAsset(user, symbol string, qty int64) error {
	return l.Commit(CreditAsset(user, symbol, qty))
}

// DebitAsset removes qty free units of symbol.
func (l *Ledger) DebitAsset(user, symbol string, qty int64) error {
	return l.Commit(DebitAsset(user, symbol, qty))
}

// ReserveAsset moves qty units of symbol from free to reserved.
func (l *Ledger) ReserveAsset(user, symbol string, qty int64) error {
	return l.Commit(ReserveAsset(user, symbol, qty))
}

// ReleaseAsset moves qty units of symbol from reserved back to free.
func (l *Ledger) ReleaseAsset(user, symbol string, qty int64) error {
	return l.Commit(ReleaseAsset(user, symbol, qty))
}

// ReserveCash moves amount from free to reserved cash.
func (l *Ledger) ReserveCash(user string, amount model.Cents) error {
	return l.Commit(ReserveCash(user, amount))
}

// ReleaseCash moves amount from reserved back to free cash.
func (l *Ledger) ReleaseCash(user string, amount model.Cents) error {
	return l.Commit(ReleaseCash(user, amount))
}
