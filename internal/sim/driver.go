// Package sim runs the options market simulation: a fixed cast of trading
// bots acting once per round against one market engine, with every
// committed event journaled and every round summarized.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/access"
	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/metrics"
	"github.com/atmx/options-market/internal/model"
	"github.com/atmx/options-market/internal/oracle"
	"github.com/atmx/options-market/internal/store"
	"github.com/atmx/options-market/internal/strategy"
)

// AdminAccount holds the fee and oracle admin roles.
const AdminAccount = "admin"

// Config controls a run.
type Config struct {
	Rounds      int
	Seed        uint64
	RoundDelay  time.Duration
	RenderEvery int // log the market state every N rounds; 0 disables
	Traders     []TraderConfig
	Prices      map[string]model.Cents
	Volatility  decimal.Decimal
	HouseCash   model.Cents
	HouseUnits  int64 // per priced symbol
}

// DefaultConfig returns the standard run.
func DefaultConfig() Config {
	return Config{
		Rounds:      20,
		Seed:        1,
		RenderEvery: 5,
		Traders:     DefaultTraders(),
		Prices:      DefaultPrices(),
		Volatility:  oracle.DefaultVolatility,
		HouseCash:   model.MustCents("1000000"),
		HouseUnits:  100_000,
	}
}

type trader struct {
	name     string
	strategy strategy.Strategy
}

// Driver owns one run.
type Driver struct {
	cfg      Config
	runID    string
	ledger   *ledger.Ledger
	engine   *market.Engine
	oracle   *oracle.Provider
	auth     *access.Authorizer
	recorder *Recorder
	store    store.Store
	traders  []trader
	rng      *rand.Rand
	logger   *slog.Logger

	openingCash model.Cents
	summaries   []model.RoundSummary
}

// New builds the ledger, oracle and engine for a run. opts supplies the
// engine's fee schedule, limiter and multiplier; opts.Publisher, if set,
// receives every event after the driver records it.
func New(cfg Config, opts market.Options, st store.Store, logger *slog.Logger) (*Driver, error) {
	if cfg.Rounds < 0 {
		return nil, fmt.Errorf("rounds must not be negative, got %d", cfg.Rounds)
	}
	if len(cfg.Traders) == 0 {
		return nil, errors.New("no traders configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if st == nil {
		st = store.NewMemoryStore()
	}

	l := ledger.New()
	houseAssets := make(map[string]int64, len(cfg.Prices))
	for sym := range cfg.Prices {
		houseAssets[sym] = cfg.HouseUnits
	}
	if err := l.Open(HouseAccount, cfg.HouseCash, houseAssets); err != nil {
		return nil, fmt.Errorf("open house account: %w", err)
	}

	feeAccount := opts.FeeAccount
	if feeAccount == "" {
		feeAccount = market.DefaultFeeAccount
	}
	traders := make([]trader, 0, len(cfg.Traders))
	for _, tc := range cfg.Traders {
		s, err := strategy.New(tc.Strategy)
		if err != nil {
			return nil, fmt.Errorf("trader %s: %w", tc.Name, err)
		}
		if tc.Name == HouseAccount || tc.Name == AdminAccount || tc.Name == feeAccount {
			return nil, fmt.Errorf("trader %s: %w", tc.Name, model.ErrUserExists)
		}
		if err := l.Open(tc.Name, tc.Cash, tc.Assets); err != nil {
			return nil, fmt.Errorf("trader %s: %w", tc.Name, err)
		}
		traders = append(traders, trader{name: tc.Name, strategy: s})
	}

	auth := access.Bootstrap(AdminAccount, access.RoleFeeAdmin, access.RoleOracleAdmin)
	prices := oracle.NewProvider(auth, cfg.Prices, cfg.Volatility)
	rec := NewRecorder(opts.Publisher)

	opts.HouseAccount = HouseAccount
	opts.Prices = prices
	opts.Authorizer = auth
	opts.Publisher = rec
	opts.Logger = logger
	eng, err := market.New(l, opts)
	if err != nil {
		return nil, err
	}

	return &Driver{
		cfg:         cfg,
		runID:       uuid.NewString(),
		ledger:      l,
		engine:      eng,
		oracle:      prices,
		auth:        auth,
		recorder:    rec,
		store:       st,
		traders:     traders,
		rng:         rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger:      logger.With("component", "sim"),
		openingCash: l.TotalCash(),
	}, nil
}

// RunID identifies this run in the journal.
func (d *Driver) RunID() string { return d.runID }

// Engine is the run's market.
func (d *Driver) Engine() *market.Engine { return d.engine }

// Oracle is the run's mark price provider.
func (d *Driver) Oracle() *oracle.Provider { return d.oracle }

// Authorizer holds the run's admin roles.
func (d *Driver) Authorizer() *access.Authorizer { return d.auth }

// Store is the run's journal.
func (d *Driver) Store() store.Store { return d.store }

// Run plays every configured round and returns the final report. It stops
// early, returning the context error, if ctx is cancelled between rounds.
func (d *Driver) Run(ctx context.Context) (*Report, error) {
	d.logger.Info("simulation starting",
		"run_id", d.runID,
		"rounds", d.cfg.Rounds,
		"seed", d.cfg.Seed,
		"traders", len(d.traders),
	)

	for round := int64(1); round <= int64(d.cfg.Rounds); round++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := d.Step(ctx, round); err != nil {
			return nil, err
		}
		if d.cfg.RoundDelay > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(d.cfg.RoundDelay):
			}
		}
	}

	report := d.Report()
	d.logger.Info("simulation complete",
		"run_id", d.runID,
		"rounds", d.cfg.Rounds,
		"contracts", report.Contracts,
		"premium_volume", report.PremiumVolume.String(),
	)
	return report, nil
}

// Step plays one round: marks move, expired contracts are swept, then each
// trader exercises what is worth exercising and takes one action. The
// round's events and summary are journaled before Step returns.
func (d *Driver) Step(ctx context.Context, round int64) error {
	if round > 1 {
		d.oracle.Step(d.rng)
	}
	d.engine.ExpireAll(round)

	rejections := 0
	for _, t := range d.traders {
		for _, c := range strategy.Exercisable(d.view(t.name, round)) {
			if err := d.engine.Exercise(t.name, c.ID, round); err != nil {
				d.reject(t.name, "exercise", err)
				rejections++
			}
		}

		action := t.strategy.Decide(d.view(t.name, round), d.rng)
		if err := d.execute(t.name, action, round); err != nil {
			d.reject(t.name, action.Kind.String(), err)
			rejections++
		}
	}

	return d.flush(ctx, round, rejections)
}

func (d *Driver) view(user string, round int64) strategy.View {
	self, _ := d.engine.Account(user)
	return strategy.View{
		Round:    round,
		Self:     self,
		Listings: d.engine.Listings(),
		Held:     d.engine.HeldBy(user),
		Written:  d.engine.WrittenBy(user),
		Prices:   d.oracle.Prices(),
	}
}

func (d *Driver) execute(user string, a strategy.Action, round int64) error {
	switch a.Kind {
	case strategy.ActionList:
		_, err := d.engine.List(user, a.Terms)
		return err
	case strategy.ActionUnlist:
		return d.engine.Unlist(user, a.ContractID)
	case strategy.ActionBuy:
		return d.engine.Buy(user, a.ContractID)
	case strategy.ActionSpotBuy:
		_, err := d.engine.SpotBuy(user, a.Symbol, a.Qty)
		return err
	}
	return nil
}

func (d *Driver) reject(user, op string, err error) {
	metrics.ObserveRejection(op, err)
	d.logger.Debug("action rejected", "trader", user, "op", op, "reason", model.Reason(err), "err", err)
}

func (d *Driver) flush(ctx context.Context, round int64, rejections int) error {
	events := d.recorder.Drain()
	summary := model.RoundSummary{
		RunID:          d.runID,
		Round:          round,
		Rejections:     rejections,
		ActiveListings: d.engine.ActiveCount(),
		TotalCash:      d.ledger.TotalCash(),
		Timestamp:      time.Now().UTC(),
	}
	for _, e := range events {
		summary.Apply(e)
	}
	if summary.TotalCash != d.openingCash {
		panic(fmt.Sprintf("sim: cash not conserved in round %d: %s → %s", round, d.openingCash, summary.TotalCash))
	}

	if len(events) > 0 {
		if err := d.store.AppendEvents(ctx, d.runID, events); err != nil {
			return fmt.Errorf("journal round %d: %w", round, err)
		}
	}
	if err := d.store.SaveRoundSummary(ctx, &summary); err != nil {
		return fmt.Errorf("journal round %d: %w", round, err)
	}
	d.summaries = append(d.summaries, summary)

	metrics.Round.Set(float64(round))
	metrics.ActiveListings.Set(float64(summary.ActiveListings))

	d.logger.Info("round complete",
		"round", round,
		"listed", summary.Listed,
		"sold", summary.Sold,
		"exercised", summary.Exercised,
		"expired", summary.Expired,
		"rejections", rejections,
		"active", summary.ActiveListings,
	)
	if d.cfg.RenderEvery > 0 && round%int64(d.cfg.RenderEvery) == 0 {
		d.render(round)
	}
	return nil
}

// render logs the listings and every trader's balances.
func (d *Driver) render(round int64) {
	listings := d.engine.Listings()
	calls := 0
	var premium model.Cents
	for _, c := range listings {
		if c.Kind == model.KindCall {
			calls++
		}
		premium += c.Premium
	}
	d.logger.Info("market state",
		"round", round,
		"listings", len(listings),
		"calls", calls,
		"puts", len(listings)-calls,
		"listed_premium", premium.String(),
	)
	for _, t := range d.traders {
		a, _ := d.engine.Account(t.name)
		d.logger.Info("trader state",
			"round", round,
			"trader", t.name,
			"cash", a.Cash.String(),
			"reserved_cash", a.ReservedCash.String(),
			"assets", a.Assets,
			"reserved_assets", a.ReservedAssets,
		)
	}
}

// TraderResult is one trader's final position.
type TraderResult struct {
	Name           string           `json:"name"`
	Strategy       string           `json:"strategy"`
	Cash           model.Cents      `json:"cash"`
	ReservedCash   model.Cents      `json:"reserved_cash"`
	Assets         map[string]int64 `json:"assets"`
	ReservedAssets map[string]int64 `json:"reserved_assets"`
	Held           int              `json:"held"`
	Written        int              `json:"written"`
	NetWorth       model.Cents      `json:"net_worth"` // cash plus units at final marks
}

// Report summarizes a finished run.
type Report struct {
	RunID         string                 `json:"run_id"`
	Rounds        int                    `json:"rounds"`
	Contracts     int                    `json:"contracts"`
	ByStatus      map[model.Status]int   `json:"by_status"`
	PremiumVolume model.Cents            `json:"premium_volume"`
	Fees          model.Cents            `json:"fees"`
	Prices        map[string]model.Cents `json:"prices"`
	Traders       []TraderResult         `json:"traders"`
	Summaries     []model.RoundSummary   `json:"summaries"`
}

// Report builds the report for the rounds played so far.
func (d *Driver) Report() *Report {
	contracts := d.engine.Contracts()
	prices := d.oracle.Prices()
	r := &Report{
		RunID:     d.runID,
		Rounds:    len(d.summaries),
		Contracts: len(contracts),
		ByStatus:  make(map[model.Status]int),
		Prices:    prices,
		Summaries: append([]model.RoundSummary(nil), d.summaries...),
	}
	for _, c := range contracts {
		r.ByStatus[c.Status]++
	}
	for _, s := range d.summaries {
		r.PremiumVolume += s.PremiumVolume
	}
	if fees, err := d.engine.Account(d.engine.FeeAccount()); err == nil {
		r.Fees = fees.Cash
	}

	for _, t := range d.traders {
		a, _ := d.engine.Account(t.name)
		worth := a.Cash
		for sym, qty := range a.Assets {
			worth += prices[sym] * model.Cents(qty)
		}
		r.Traders = append(r.Traders, TraderResult{
			Name:           t.name,
			Strategy:       t.strategy.Name(),
			Cash:           a.Cash,
			ReservedCash:   a.ReservedCash,
			Assets:         a.Assets,
			ReservedAssets: a.ReservedAssets,
			Held:           len(d.engine.HeldBy(t.name)),
			Written:        len(d.engine.WrittenBy(t.name)),
			NetWorth:       worth,
		})
	}
	sort.Slice(r.Traders, func(i, j int) bool { return r.Traders[i].NetWorth > r.Traders[j].NetWorth })
	return r
}
