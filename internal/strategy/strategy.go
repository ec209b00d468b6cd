// Package strategy holds the trading bots. Each bot looks at a read-only
// view of the market and its own balances and proposes one action per
// round; the simulation driver carries it out.
package strategy

import (
	"fmt"
	"math/rand/v2"
	"sort"

	"github.com/atmx/options-market/internal/contract"
	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/model"
)

// ActionKind enumerates what a bot can ask for.
type ActionKind int

const (
	ActionNone ActionKind = iota
	ActionList
	ActionUnlist
	ActionBuy
	ActionSpotBuy
)

func (k ActionKind) String() string {
	switch k {
	case ActionList:
		return "list"
	case ActionUnlist:
		return "unlist"
	case ActionBuy:
		return "buy"
	case ActionSpotBuy:
		return "spot_buy"
	default:
		return "none"
	}
}

// Action is one bot decision.
type Action struct {
	Kind       ActionKind
	Terms      contract.Terms   // ActionList
	ContractID model.ContractID // ActionUnlist, ActionBuy
	Symbol     string           // ActionSpotBuy
	Qty        int64            // ActionSpotBuy
}

// None is the do-nothing action.
var None = Action{Kind: ActionNone}

// View is what a bot sees when deciding.
type View struct {
	Round    int64
	Self     ledger.Account
	Listings []model.Contract // open listings, all sellers
	Held     []model.Contract // sold contracts Self holds
	Written  []model.Contract // active contracts Self wrote
	Prices   map[string]model.Cents
}

// Strategy decides one action per round.
type Strategy interface {
	Name() string
	Decide(v View, rng *rand.Rand) Action
}

// Names of the built-in strategies.
const (
	AggressiveSeller = "aggressive_seller"
	AggressiveBuyer  = "aggressive_buyer"
	Balanced         = "balanced"
	MarketMaker      = "market_maker"
)

// Names returns the built-in strategy names, sorted.
func Names() []string {
	return []string{AggressiveBuyer, AggressiveSeller, Balanced, MarketMaker}
}

// New returns the strategy registered under name.
func New(name string) (Strategy, error) {
	switch name {
	case AggressiveSeller:
		return aggressiveSeller{}, nil
	case AggressiveBuyer:
		return aggressiveBuyer{}, nil
	case Balanced:
		return balanced{}, nil
	case MarketMaker:
		return marketMaker{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q", name)
	}
}

// Exercisable returns the held contracts worth exercising at the current
// marks: in the money, not expired, and affordable. CALLs need strike × 100
// free cash and PUTs need 100 free units. Ordered by intrinsic value,
// largest first.
func Exercisable(v View) []model.Contract {
	type candidate struct {
		c     model.Contract
		value model.Cents
	}
	var out []candidate
	cash := v.Self.FreeCash()
	for _, c := range v.Held {
		if c.ExpiredAt(v.Round) {
			continue
		}
		mark, ok := v.Prices[c.Underlying]
		if !ok {
			continue
		}
		intrinsic := contract.Intrinsic(c.Kind, c.Strike, mark)
		if intrinsic <= 0 {
			continue
		}
		out = append(out, candidate{c: c, value: intrinsic})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].value > out[j].value })

	units := make(map[string]int64)
	result := make([]model.Contract, 0, len(out))
	for _, cand := range out {
		c := cand.c
		if c.Kind == model.KindCall {
			if need := c.ExerciseValue(); need <= cash {
				cash -= need
				result = append(result, c)
			}
			continue
		}
		if _, seen := units[c.Underlying]; !seen {
			units[c.Underlying] = v.Self.FreeAsset(c.Underlying)
		}
		if units[c.Underlying] >= model.ContractSize {
			units[c.Underlying] -= model.ContractSize
			result = append(result, c)
		}
	}
	return result
}

// --- shared helpers ---

func symbols(v View) []string {
	out := make([]string, 0, len(v.Prices))
	for s := range v.Prices {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// scaled returns mark × pct / 100, at least one cent.
func scaled(mark model.Cents, pct int) model.Cents {
	s := mark * model.Cents(pct) / 100
	if s < 1 {
		return 1
	}
	return s
}

// pct draws an integer percentage in [lo, hi].
func pct(rng *rand.Rand, lo, hi int) int {
	return lo + rng.IntN(hi-lo+1)
}

// write proposes a listing on a random underlying. Calls out of the money
// above the mark, puts below it. When the bot lacks the units for a call it
// buys them on the spot desk if it can afford to, and when it lacks the
// cash for a put it falls back to a call.
func write(v View, rng *rand.Rand, callProb float64, lo, hi int) Action {
	syms := symbols(v)
	if len(syms) == 0 {
		return None
	}
	sym := syms[rng.IntN(len(syms))]
	mark := v.Prices[sym]
	ttl := int64(2 + rng.IntN(5))

	kind := model.KindPut
	if rng.Float64() < callProb {
		kind = model.KindCall
	}

	if kind == model.KindPut {
		strike := scaled(mark, 200-pct(rng, lo, hi))
		if strike*model.ContractSize > v.Self.FreeCash() {
			kind = model.KindCall
		} else {
			return listAction(sym, kind, strike, v.Round+ttl)
		}
	}

	if v.Self.FreeAsset(sym) < model.ContractSize {
		if mark*model.ContractSize <= v.Self.FreeCash() {
			return Action{Kind: ActionSpotBuy, Symbol: sym, Qty: model.ContractSize}
		}
		return None
	}
	return listAction(sym, model.KindCall, scaled(mark, pct(rng, lo, hi)), v.Round+ttl)
}

func listAction(sym string, kind model.Kind, strike model.Cents, expiration int64) Action {
	return Action{
		Kind: ActionList,
		Terms: contract.Terms{
			Underlying: sym,
			Kind:       kind,
			Strike:     strike,
			Expiration: expiration,
		},
	}
}

// buy picks a random affordable listing written by someone else.
func buy(v View, rng *rand.Rand, cheapest bool) Action {
	cash := v.Self.FreeCash()
	var options []model.Contract
	for _, c := range v.Listings {
		if c.SellerID != v.Self.ID && c.Premium <= cash && !c.ExpiredAt(v.Round) {
			options = append(options, c)
		}
	}
	if len(options) == 0 {
		return None
	}
	pick := options[rng.IntN(len(options))]
	if cheapest {
		for _, c := range options {
			if c.Premium < pick.Premium || (c.Premium == pick.Premium && c.ID < pick.ID) {
				pick = c
			}
		}
	}
	return Action{Kind: ActionBuy, ContractID: pick.ID}
}
