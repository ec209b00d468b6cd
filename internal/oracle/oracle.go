// Package oracle publishes mark prices for underlyings. Strategies read
// them to pick strikes and decide exercises; the spot desk trades at them.
//
// Prices only change through SetPrice (oracle admins) or Step, the
// per-round random walk driven by a caller-supplied seeded source.
package oracle

import (
	"fmt"
	"math/rand/v2"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/access"
	"github.com/atmx/options-market/internal/model"
)

// DefaultVolatility is the largest fractional move per Step.
var DefaultVolatility = decimal.RequireFromString("0.05")

// Provider holds the current mark price per symbol.
type Provider struct {
	mu         sync.RWMutex
	prices     map[string]model.Cents
	auth       *access.Authorizer
	volatility decimal.Decimal
}

// NewProvider creates a provider seeded with initial prices. auth may be
// nil, in which case SetPrice always fails.
func NewProvider(auth *access.Authorizer, initial map[string]model.Cents, volatility decimal.Decimal) *Provider {
	prices := make(map[string]model.Cents, len(initial))
	for sym, p := range initial {
		if p > 0 {
			prices[sym] = p
		}
	}
	if !volatility.IsPositive() {
		volatility = DefaultVolatility
	}
	return &Provider{
		prices:     prices,
		auth:       auth,
		volatility: volatility,
	}
}

// Price returns the mark price of symbol.
func (p *Provider) Price(symbol string) (model.Cents, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	price, ok := p.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("%w: no mark price for %s", model.ErrUnknownAsset, symbol)
	}
	return price, nil
}

// Prices returns a copy of every mark price.
func (p *Provider) Prices() map[string]model.Cents {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[string]model.Cents, len(p.prices))
	for sym, price := range p.prices {
		out[sym] = price
	}
	return out
}

// Symbols returns the priced symbols in sorted order.
func (p *Provider) Symbols() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.symbolsLocked()
}

func (p *Provider) symbolsLocked() []string {
	syms := make([]string, 0, len(p.prices))
	for sym := range p.prices {
		syms = append(syms, sym)
	}
	sort.Strings(syms)
	return syms
}

// SetPrice overrides the mark price of symbol. Caller must hold
// access.RoleOracleAdmin.
func (p *Provider) SetPrice(symbol string, price model.Cents, caller string) error {
	if p.auth == nil {
		return fmt.Errorf("%w: oracle has no administrators", model.ErrUnauthorized)
	}
	if err := p.auth.Require(caller, access.RoleOracleAdmin); err != nil {
		return err
	}
	if price <= 0 {
		return fmt.Errorf("%w: price %s for %s", model.ErrInvalidAmount, price, symbol)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
	return nil
}

// Step moves every price by a uniform fraction in [-volatility, +volatility]
// drawn in thousandths, rounded to cents with a floor of one cent. Symbols
// are visited in sorted order so a seeded source gives a reproducible path.
func (p *Provider) Step(rng *rand.Rand) {
	p.mu.Lock()
	defer p.mu.Unlock()

	one := decimal.NewFromInt(1)
	for _, sym := range p.symbolsLocked() {
		k := rng.IntN(2001) - 1000
		move := decimal.New(int64(k), -3).Mul(p.volatility)
		next := decimal.NewFromInt(int64(p.prices[sym])).Mul(one.Add(move)).Round(0)
		price := model.Cents(next.IntPart())
		if price < 1 {
			price = 1
		}
		p.prices[sym] = price
	}
}
