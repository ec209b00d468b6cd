// Package contract handles option terms: validation, the premium rule,
// collateral requirements, and ticker formatting/parsing.
//
// Cash values are integer cents; the premium multiplier is a decimal so the
// rounding step is explicit and deterministic.
package contract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/model"
)

// DefaultMultiplier prices a contract at 1% of strike per unit, scaled by
// model.ContractSize.
var DefaultMultiplier = decimal.RequireFromString("0.01")

// MaxStrike is the largest strike whose cash leg, strike × ContractSize,
// fits in Cents.
const MaxStrike = model.Cents(math.MaxInt64 / model.ContractSize)

var maxPremium = decimal.NewFromInt(math.MaxInt64)

// tickerRegex matches: OPT-{underlying}-{C|P}-{strike}-R{expiration}
// Example: OPT-ACME-C-50.00-R5
var tickerRegex = regexp.MustCompile(
	`^OPT-([A-Z][A-Z0-9]*)-([CP])-(\d+\.\d{2})-R(\d+)$`,
)

var symbolRegex = regexp.MustCompile(`^[A-Z][A-Z0-9]*$`)

// Terms are what a seller proposes when listing.
type Terms struct {
	Underlying string          `json:"underlying"`
	Kind       model.Kind      `json:"kind"`
	Strike     model.Cents     `json:"strike"`
	Expiration int64           `json:"expiration_round"`
	Multiplier decimal.Decimal `json:"multiplier"` // zero means DefaultMultiplier
}

// Validate checks the terms and returns model.ErrInvalidTerms on failure.
func (t Terms) Validate() error {
	if !symbolRegex.MatchString(t.Underlying) {
		return fmt.Errorf("%w: bad underlying %q", model.ErrInvalidTerms, t.Underlying)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", model.ErrInvalidTerms, t.Kind)
	}
	if t.Strike <= 0 {
		return fmt.Errorf("%w: strike %s must be positive", model.ErrInvalidTerms, t.Strike)
	}
	if t.Strike > MaxStrike {
		return fmt.Errorf("%w: strike %s exceeds maximum %s", model.ErrInvalidTerms, t.Strike, MaxStrike)
	}
	if t.Expiration <= 0 {
		return fmt.Errorf("%w: expiration round %d must be positive", model.ErrInvalidTerms, t.Expiration)
	}
	if _, err := t.Premium(); err != nil {
		return err
	}
	return nil
}

func (t Terms) multiplier() decimal.Decimal {
	if t.Multiplier.IsZero() {
		return DefaultMultiplier
	}
	return t.Multiplier
}

// Premium returns strike × multiplier × ContractSize in cents, rounded half
// away from zero. A non-positive result is rejected.
func (t Terms) Premium() (model.Cents, error) {
	return Premium(t.Strike, t.multiplier())
}

// Premium applies the pricing rule to a strike.
func Premium(strike model.Cents, multiplier decimal.Decimal) (model.Cents, error) {
	if !multiplier.IsPositive() {
		return 0, fmt.Errorf("%w: multiplier %s must be positive", model.ErrInvalidTerms, multiplier)
	}
	p := decimal.NewFromInt(int64(strike)).
		Mul(multiplier).
		Mul(decimal.NewFromInt(model.ContractSize)).
		Round(0)
	if !p.IsPositive() {
		return 0, fmt.Errorf("%w: premium for strike %s rounds to %s", model.ErrInvalidTerms, strike, p)
	}
	if p.GreaterThan(maxPremium) {
		return 0, fmt.Errorf("%w: premium for strike %s overflows", model.ErrInvalidTerms, strike)
	}
	return model.Cents(p.IntPart()), nil
}

// Collateral is what a seller must reserve: CALL sellers lock the
// underlying, PUT sellers lock the cash needed to buy it at strike.
type Collateral struct {
	Cash   model.Cents
	Symbol string
	Qty    int64
}

// Collateral returns the reservation the terms require.
func (t Terms) Collateral() Collateral {
	if t.Kind == model.KindCall {
		return Collateral{Symbol: t.Underlying, Qty: model.ContractSize}
	}
	return Collateral{Cash: t.Strike * model.ContractSize}
}

// CollateralOf returns the reservation held by a listed contract.
func CollateralOf(c *model.Contract) Collateral {
	return Terms{Underlying: c.Underlying, Kind: c.Kind, Strike: c.Strike}.Collateral()
}

// Ticker formats the terms as OPT-{underlying}-{C|P}-{strike}-R{expiration}.
func (t Terms) Ticker() string {
	k := "C"
	if t.Kind == model.KindPut {
		k = "P"
	}
	return fmt.Sprintf("OPT-%s-%s-%s-R%d", t.Underlying, k, t.Strike, t.Expiration)
}

// ParseTicker parses and validates a ticker into terms with the default
// multiplier.
func ParseTicker(ticker string) (Terms, error) {
	m := tickerRegex.FindStringSubmatch(ticker)
	if m == nil {
		return Terms{}, fmt.Errorf("%w: ticker %q (expected OPT-{underlying}-{C|P}-{strike}-R{round})",
			model.ErrInvalidTerms, ticker)
	}

	kind := model.KindCall
	if m[2] == "P" {
		kind = model.KindPut
	}
	strike, err := model.ParseCents(m[3])
	if err != nil {
		return Terms{}, fmt.Errorf("%w: strike %s", model.ErrInvalidTerms, m[3])
	}
	exp, err := strconv.ParseInt(m[4], 10, 64)
	if err != nil {
		return Terms{}, fmt.Errorf("%w: expiration %s", model.ErrInvalidTerms, m[4])
	}

	t := Terms{Underlying: m[1], Kind: kind, Strike: strike, Expiration: exp}
	if err := t.Validate(); err != nil {
		return Terms{}, err
	}
	return t, nil
}

// Intrinsic is the payoff of exercising one contract at mark price:
// max(mark − strike, 0) for a CALL, max(strike − mark, 0) for a PUT,
// times ContractSize.
func Intrinsic(kind model.Kind, strike, mark model.Cents) model.Cents {
	var perUnit model.Cents
	if kind == model.KindCall {
		perUnit = mark - strike
	} else {
		perUnit = strike - mark
	}
	if perUnit < 0 {
		return 0
	}
	return perUnit * model.ContractSize
}
