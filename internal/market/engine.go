// Package market is the options market engine: it owns every contract and
// the active listings, drives the contract lifecycle (list, unlist, buy,
// exercise, expire) and settles cash and asset movements through the
// ledger as all-or-nothing batches.
//
// All operations are serialized by one mutex. Each runs to completion
// before the next starts, and the ledger batch it commits either applies
// fully or not at all, so no caller can observe a half-settled contract.
package market

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/btree"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/access"
	"github.com/atmx/options-market/internal/contract"
	"github.com/atmx/options-market/internal/correlation"
	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/model"
)

// DefaultFeeAccount collects trading fees.
const DefaultFeeAccount = "fees"

// Publisher receives every committed event, in commit order. Publish is
// called with the engine lock held and must not block or call back into
// the engine.
type Publisher interface {
	Publish(model.Event)
}

// PriceSource supplies mark prices to the spot desk.
type PriceSource interface {
	Price(symbol string) (model.Cents, error)
}

// Options configures optional engine collaborators. The zero value gives a
// plain engine: default multiplier, no fees, no limits, no spot desk.
type Options struct {
	Multiplier   decimal.Decimal // applied to terms without one
	Fees         Fees
	FeeAccount   string
	HouseAccount string // spot desk counterparty
	Prices       PriceSource
	Limiter      *correlation.PositionLimiter
	Authorizer   *access.Authorizer
	Publisher    Publisher
	Logger       *slog.Logger
}

// Engine is the market. Create one with New; it is safe for concurrent use.
type Engine struct {
	mu        sync.Mutex
	ledger    *ledger.Ledger
	contracts map[model.ContractID]*model.Contract
	active    *btree.BTreeG[*model.Contract] // Listed and Sold, by (expiration, id)
	nextID    model.ContractID
	round     int64

	multiplier decimal.Decimal
	fees       Fees
	feeAccount string
	house      string
	prices     PriceSource
	limiter    *correlation.PositionLimiter
	auth       *access.Authorizer
	publisher  Publisher
	logger     *slog.Logger
	now        func() time.Time
}

func byExpiration(a, b *model.Contract) bool {
	if a.Expiration != b.Expiration {
		return a.Expiration < b.Expiration
	}
	return a.ID < b.ID
}

// New creates an engine over l. The fee account is opened in l if it does
// not exist yet.
func New(l *ledger.Ledger, opts Options) (*Engine, error) {
	if err := opts.Fees.validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		ledger:     l,
		contracts:  make(map[model.ContractID]*model.Contract),
		active:     btree.NewG(32, byExpiration),
		multiplier: opts.Multiplier,
		fees:       opts.Fees,
		feeAccount: opts.FeeAccount,
		house:      opts.HouseAccount,
		prices:     opts.Prices,
		limiter:    opts.Limiter,
		auth:       opts.Authorizer,
		publisher:  opts.Publisher,
		logger:     opts.Logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
	if e.multiplier.IsZero() {
		e.multiplier = contract.DefaultMultiplier
	}
	if e.feeAccount == "" {
		e.feeAccount = DefaultFeeAccount
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	// The engine owns the fee account. A user already holding the name
	// would have fee income mixed into their balance.
	if err := l.Open(e.feeAccount, 0, nil); err != nil {
		return nil, fmt.Errorf("open fee account %q: %w", e.feeAccount, err)
	}
	return e, nil
}

// --- read-only accessors ---

// Round is the latest round the engine has observed.
func (e *Engine) Round() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.round
}

// Contract returns a copy of one contract.
func (e *Engine) Contract(id model.ContractID) (model.Contract, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	c, err := e.lookup(id)
	if err != nil {
		return model.Contract{}, err
	}
	return *c, nil
}

// Contracts returns copies of all contracts ever created, by id.
func (e *Engine) Contracts() []model.Contract {
	return e.collect(func(*model.Contract) bool { return true })
}

// Listings returns contracts open for purchase, by id.
func (e *Engine) Listings() []model.Contract {
	return e.collect(func(c *model.Contract) bool { return c.Status == model.StatusListed })
}

// Active returns Listed and Sold contracts, by id.
func (e *Engine) Active() []model.Contract {
	return e.collect(func(c *model.Contract) bool { return c.Status.Active() })
}

// HeldBy returns sold, unexercised contracts owned by buyer.
func (e *Engine) HeldBy(buyer string) []model.Contract {
	return e.collect(func(c *model.Contract) bool {
		return c.Status == model.StatusSold && c.BuyerID == buyer
	})
}

// WrittenBy returns active contracts written by seller.
func (e *Engine) WrittenBy(seller string) []model.Contract {
	return e.collect(func(c *model.Contract) bool {
		return c.Status.Active() && c.SellerID == seller
	})
}

// ActiveCount is the number of Listed and Sold contracts.
func (e *Engine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active.Len()
}

// Account returns a copy of a trader's balances.
func (e *Engine) Account(user string) (ledger.Account, error) {
	return e.ledger.Account(user)
}

// Accounts returns copies of every account, including fee and house.
func (e *Engine) Accounts() []ledger.Account {
	return e.ledger.Accounts()
}

// FeeAccount is the account fees are paid into.
func (e *Engine) FeeAccount() string {
	return e.feeAccount
}

func (e *Engine) collect(keep func(*model.Contract) bool) []model.Contract {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]model.Contract, 0)
	for _, c := range e.contracts {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// --- internal helpers (engine lock held) ---

func (e *Engine) lookup(id model.ContractID) (*model.Contract, error) {
	c, ok := e.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrContractNotFound, id)
	}
	return c, nil
}

func (e *Engine) observeRound(round int64) {
	if round > e.round {
		e.round = round
	}
}

// transition moves c to next. The callers check the state first, so an
// illegal move here is a bug.
func (e *Engine) transition(c *model.Contract, next model.Status) {
	if !c.Status.CanTransition(next) {
		panic(fmt.Sprintf("market: illegal transition %s → %s for contract %s", c.Status, next, c.ID))
	}
	c.Status = next
}

// releasePostings returns the postings that hand a contract's collateral
// back to its seller.
func releasePostings(c *model.Contract) []ledger.Posting {
	col := contract.CollateralOf(c)
	if col.Qty > 0 {
		return []ledger.Posting{ledger.ReleaseAsset(c.SellerID, col.Symbol, col.Qty)}
	}
	return []ledger.Posting{ledger.ReleaseCash(c.SellerID, col.Cash)}
}

// mustCommit commits postings that can only fail through a bug, such as
// releasing collateral the engine itself reserved.
func (e *Engine) mustCommit(postings ...ledger.Posting) {
	if err := e.ledger.Commit(postings...); err != nil {
		panic(fmt.Sprintf("market: settlement invariant violated: %v", err))
	}
}

func (e *Engine) emit(ev model.Event) {
	ev.ID = uuid.NewString()
	ev.Round = e.round
	ev.Timestamp = e.now()
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

func contractEvent(t model.EventType, c *model.Contract) model.Event {
	return model.Event{
		Type:       t,
		ContractID: c.ID,
		Ticker:     c.Ticker,
		Kind:       c.Kind,
		Symbol:     c.Underlying,
	}
}

// writtenNotional sums strike × ContractSize over the seller's active
// contracts, per underlying.
func (e *Engine) writtenNotional(seller string) map[string]model.Cents {
	out := make(map[string]model.Cents)
	e.active.Ascend(func(c *model.Contract) bool {
		if c.SellerID == seller {
			out[c.Underlying] += c.ExerciseValue()
		}
		return true
	})
	return out
}
