package sim

import (
	"github.com/atmx/options-market/internal/model"
	"github.com/atmx/options-market/internal/strategy"
)

// HouseAccount is the spot desk counterparty.
const HouseAccount = "house"

// TraderConfig describes one simulated trader.
type TraderConfig struct {
	Name     string           `json:"name"`
	Cash     model.Cents      `json:"cash"`
	Assets   map[string]int64 `json:"assets,omitempty"`
	Strategy string           `json:"strategy"`
}

// DefaultTraders is the standard cast.
func DefaultTraders() []TraderConfig {
	return []TraderConfig{
		{Name: "alice", Cash: model.MustCents("10000"), Strategy: strategy.AggressiveSeller,
			Assets: map[string]int64{"BTC": 300, "ETH": 200}},
		{Name: "bob", Cash: model.MustCents("15000"), Strategy: strategy.AggressiveBuyer},
		{Name: "charlie", Cash: model.MustCents("12000"), Strategy: strategy.Balanced,
			Assets: map[string]int64{"SOL": 200, "APPLE": 100}},
		{Name: "diana", Cash: model.MustCents("8000"), Strategy: strategy.MarketMaker,
			Assets: map[string]int64{"BTC": 100, "ETH": 100, "SOL": 100, "APPLE": 100}},
		{Name: "eve", Cash: model.MustCents("20000"), Strategy: strategy.AggressiveSeller,
			Assets: map[string]int64{"ETH": 300, "SOL": 300}},
	}
}

// DefaultPrices are the opening mark prices.
func DefaultPrices() map[string]model.Cents {
	return map[string]model.Cents{
		"BTC":   model.MustCents("150"),
		"ETH":   model.MustCents("80"),
		"SOL":   model.MustCents("50"),
		"APPLE": model.MustCents("120"),
	}
}
