package strategy

import (
	"math/rand/v2"

	"github.com/atmx/options-market/internal/model"
)

// aggressiveSeller writes options 70% of the time, calls 60% of those.
type aggressiveSeller struct{}

func (aggressiveSeller) Name() string { return AggressiveSeller }

func (aggressiveSeller) Decide(v View, rng *rand.Rand) Action {
	if rng.Float64() >= 0.7 {
		return None
	}
	return write(v, rng, 0.6, 105, 130)
}

// aggressiveBuyer buys a random affordable listing 80% of the time.
type aggressiveBuyer struct{}

func (aggressiveBuyer) Name() string { return AggressiveBuyer }

func (aggressiveBuyer) Decide(v View, rng *rand.Rand) Action {
	if rng.Float64() >= 0.8 {
		return None
	}
	return buy(v, rng, false)
}

// balanced splits evenly between writing, buying and waiting.
type balanced struct{}

func (balanced) Name() string { return Balanced }

func (balanced) Decide(v View, rng *rand.Rand) Action {
	switch rng.IntN(3) {
	case 0:
		return write(v, rng, 0.5, 100, 120)
	case 1:
		return buy(v, rng, false)
	default:
		return None
	}
}

// marketMaker quotes near the money and recycles stale quotes: a listing
// nobody bought within staleAfter rounds is withdrawn first.
type marketMaker struct{}

const staleAfter = 3

func (marketMaker) Name() string { return MarketMaker }

func (marketMaker) Decide(v View, rng *rand.Rand) Action {
	for _, c := range v.Written {
		if c.Status == model.StatusListed && v.Round-c.ListedAt >= staleAfter {
			return Action{Kind: ActionUnlist, ContractID: c.ID}
		}
	}
	if rng.Float64() < 0.9 {
		return write(v, rng, 0.5, 98, 105)
	}
	if rng.Float64() < 0.3 {
		return buy(v, rng, true)
	}
	return None
}
