package market_test

import (
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/options-market/internal/access"
	"github.com/atmx/options-market/internal/contract"
	"github.com/atmx/options-market/internal/correlation"
	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/model"
)

type recorder struct {
	mu     sync.Mutex
	events []model.Event
}

func (r *recorder) Publish(ev model.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixedPrices map[string]model.Cents

func (p fixedPrices) Price(symbol string) (model.Cents, error) {
	c, ok := p[symbol]
	if !ok {
		return 0, model.ErrUnknownAsset
	}
	return c, nil
}

// newTestEngine opens A with 100 X and no cash, and B with $6,000.
func newTestEngine(t *testing.T, opts market.Options) (*market.Engine, *ledger.Ledger, *recorder) {
	t.Helper()
	l := ledger.New()
	if err := l.Open("A", 0, map[string]int64{"X": 100}); err != nil {
		t.Fatalf("open A: %v", err)
	}
	if err := l.Open("B", model.MustCents("6000"), nil); err != nil {
		t.Fatalf("open B: %v", err)
	}
	rec := &recorder{}
	if opts.Publisher == nil {
		opts.Publisher = rec
	}
	e, err := market.New(l, opts)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, l, rec
}

func callTerms(strike string, expiration int64) contract.Terms {
	return contract.Terms{
		Underlying: "X",
		Kind:       model.KindCall,
		Strike:     model.MustCents(strike),
		Expiration: expiration,
	}
}

func putTerms(strike string, expiration int64) contract.Terms {
	t := callTerms(strike, expiration)
	t.Kind = model.KindPut
	return t
}

func mustAccount(t *testing.T, e *market.Engine, id string) ledger.Account {
	t.Helper()
	a, err := e.Account(id)
	if err != nil {
		t.Fatalf("account %s: %v", id, err)
	}
	return a
}

func mustStatus(t *testing.T, e *market.Engine, id model.ContractID, want model.Status) {
	t.Helper()
	c, err := e.Contract(id)
	if err != nil {
		t.Fatalf("contract %s: %v", id, err)
	}
	if c.Status != want {
		t.Fatalf("contract %s: expected %s, got %s", id, want, c.Status)
	}
}

func mustCheckReservations(t *testing.T, e *market.Engine) {
	t.Helper()
	if err := e.CheckReservations(); err != nil {
		t.Fatalf("reservations: %v", err)
	}
}

// --- End-to-end scenarios ---

func TestScenario_CallListBuyExercise(t *testing.T) {
	e, _, rec := newTestEngine(t, market.Options{})

	id, err := e.List("A", callTerms("50", 5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	c, _ := e.Contract(id)
	if c.Premium != model.MustCents("50") {
		t.Fatalf("premium: expected 50.00, got %s", c.Premium)
	}
	if c.Ticker != "OPT-X-C-50.00-R5" {
		t.Errorf("ticker: got %s", c.Ticker)
	}
	res := e.Reservations("A")
	if len(res) != 1 || res[0].Symbol != "X" || res[0].Qty != 100 {
		t.Fatalf("expected 100 X reserved for A, got %+v", res)
	}
	if a := mustAccount(t, e, "A"); a.ReservedAssets["X"] != 100 || a.FreeAsset("X") != 0 {
		t.Fatalf("A after list: %+v", a)
	}

	e.ExpireAll(1)
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	mustStatus(t, e, id, model.StatusSold)
	if got := mustAccount(t, e, "B").Cash; got != model.MustCents("5950") {
		t.Errorf("B cash after buy: %s", got)
	}
	if got := mustAccount(t, e, "A").Cash; got != model.MustCents("50") {
		t.Errorf("A cash after buy: %s", got)
	}

	e.ExpireAll(3)
	if err := e.Exercise("B", id, 3); err != nil {
		t.Fatalf("exercise: %v", err)
	}
	mustStatus(t, e, id, model.StatusExercised)

	a, b := mustAccount(t, e, "A"), mustAccount(t, e, "B")
	if a.Cash != model.MustCents("5050") {
		t.Errorf("A cash: expected 5050.00, got %s", a.Cash)
	}
	if b.Cash != model.MustCents("950") {
		t.Errorf("B cash: expected 950.00, got %s", b.Cash)
	}
	if a.Assets["X"] != 0 || a.ReservedAssets["X"] != 0 {
		t.Errorf("A assets: %+v reserved %+v", a.Assets, a.ReservedAssets)
	}
	if b.Assets["X"] != 100 {
		t.Errorf("B X: expected 100, got %d", b.Assets["X"])
	}
	if len(e.Reservations("A")) != 0 {
		t.Error("A should hold no reservations")
	}
	mustCheckReservations(t, e)

	want := []model.EventType{model.EventListed, model.EventSold, model.EventExercised}
	got := rec.types()
	if len(got) != len(want) {
		t.Fatalf("events: expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("events: expected %v, got %v", want, got)
		}
	}
}

func TestScenario_UnsoldListingExpires(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})

	id, err := e.List("A", callTerms("50", 5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}

	expired := e.ExpireAll(6)
	if len(expired) != 1 || expired[0] != id {
		t.Fatalf("expected [%s] expired, got %v", id, expired)
	}
	mustStatus(t, e, id, model.StatusExpired)

	a := mustAccount(t, e, "A")
	if a.ReservedAssets["X"] != 0 || a.FreeAsset("X") != 100 {
		t.Fatalf("A after expiry: %+v", a)
	}
	if len(e.Listings()) != 0 || e.ActiveCount() != 0 {
		t.Error("expired contract must leave the active set")
	}
	mustCheckReservations(t, e)
}

// --- List ---

func TestList_Errors(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	e.ExpireAll(4)

	tests := []struct {
		name   string
		seller string
		terms  contract.Terms
		want   error
	}{
		{"zero strike", "A", callTerms("0", 5), model.ErrInvalidTerms},
		{"bad kind", "A", contract.Terms{Underlying: "X", Kind: "SWAP", Strike: 100, Expiration: 5}, model.ErrInvalidTerms},
		{"lowercase underlying", "A", contract.Terms{Underlying: "x", Kind: model.KindCall, Strike: 100, Expiration: 5}, model.ErrInvalidTerms},
		{"past expiration", "A", callTerms("50", 3), model.ErrInvalidTerms},
		{"unknown seller", "Z", callTerms("50", 5), model.ErrUnknownUser},
		{"call without underlying", "B", callTerms("50", 5), model.ErrInsufficientCollateral},
		{"put without cash", "A", putTerms("50", 5), model.ErrInsufficientCollateral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.List(tt.seller, tt.terms)
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if n := len(e.Contracts()); n != 0 {
		t.Fatalf("rejected listings must not create contracts, got %d", n)
	}
	if a := mustAccount(t, e, "A"); len(a.ReservedAssets) != 0 || a.ReservedCash != 0 {
		t.Fatalf("rejected listings must not reserve: %+v", a)
	}
}

func TestList_ExpirationAtCurrentRoundAllowed(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	e.ExpireAll(5)
	if _, err := e.List("A", callTerms("50", 5)); err != nil {
		t.Fatalf("expected listing expiring this round to succeed, got %v", err)
	}
}

func TestList_CollateralIsExclusive(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	if _, err := e.List("A", callTerms("50", 5)); err != nil {
		t.Fatalf("first list: %v", err)
	}
	_, err := e.List("A", callTerms("60", 5))
	if !errors.Is(err, model.ErrInsufficientCollateral) {
		t.Fatalf("second call on the same 100 units: expected ErrInsufficientCollateral, got %v", err)
	}
	if !errors.Is(err, model.ErrInsufficientFreeAsset) {
		t.Errorf("expected the ledger cause to be kept, got %v", err)
	}
}

func TestList_PutReservesCash(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	id, err := e.List("B", putTerms("40", 5))
	if err != nil {
		t.Fatalf("list put: %v", err)
	}
	b := mustAccount(t, e, "B")
	if b.ReservedCash != model.MustCents("4000") {
		t.Fatalf("expected 4000.00 reserved, got %s", b.ReservedCash)
	}
	if b.FreeCash() != model.MustCents("2000") {
		t.Fatalf("expected 2000.00 free, got %s", b.FreeCash())
	}
	if err := e.Unlist("B", id); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	if b := mustAccount(t, e, "B"); b.ReservedCash != 0 {
		t.Fatalf("unlist must release cash, got %s reserved", b.ReservedCash)
	}
}

func TestList_PutStrikeOverflowRejected(t *testing.T) {
	e, _, rec := newTestEngine(t, market.Options{Multiplier: decimal.RequireFromString("0.0000000000000001")})
	terms := contract.Terms{Underlying: "X", Kind: model.KindPut, Strike: 1<<62 + 100, Expiration: 5}

	if _, err := e.List("B", terms); !errors.Is(err, model.ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms, got %v", err)
	}
	if b := mustAccount(t, e, "B"); b.ReservedCash != 0 {
		t.Fatalf("rejected listing reserved %s", b.ReservedCash)
	}
	if n := len(e.Listings()); n != 0 {
		t.Fatalf("expected no listings, got %d", n)
	}
	if n := len(rec.types()); n != 0 {
		t.Fatalf("expected no events, got %v", rec.types())
	}
}

// --- Unlist ---

func TestUnlist(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	id, _ := e.List("A", callTerms("50", 5))

	if err := e.Unlist("B", id); !errors.Is(err, model.ErrNotOwner) {
		t.Fatalf("non-seller: expected ErrNotOwner, got %v", err)
	}
	if err := e.Unlist("A", 999); !errors.Is(err, model.ErrContractNotFound) {
		t.Fatalf("missing: expected ErrContractNotFound, got %v", err)
	}
	if err := e.Unlist("A", id); err != nil {
		t.Fatalf("unlist: %v", err)
	}
	mustStatus(t, e, id, model.StatusUnlisted)
	if a := mustAccount(t, e, "A"); a.FreeAsset("X") != 100 {
		t.Fatalf("collateral not returned: %+v", a)
	}
	if err := e.Unlist("A", id); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("second unlist: expected ErrInvalidState, got %v", err)
	}
	if err := e.Buy("B", id); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("buy unlisted: expected ErrInvalidState, got %v", err)
	}
}

func TestUnlist_SoldContract(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	id, _ := e.List("A", callTerms("50", 5))
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := e.Unlist("A", id); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
}

// --- Buy ---

func TestBuy_DoubleSaleRejected(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("C", model.MustCents("1000"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("A", callTerms("50", 5))

	if err := e.Buy("B", id); err != nil {
		t.Fatalf("first buy: %v", err)
	}
	if err := e.Buy("C", id); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("second buy: expected ErrInvalidState, got %v", err)
	}
	if c := mustAccount(t, e, "C"); c.Cash != model.MustCents("1000") {
		t.Fatalf("rejected buyer charged: %s", c.Cash)
	}
	c, _ := e.Contract(id)
	if c.BuyerID != "B" {
		t.Fatalf("buyer: expected B, got %s", c.BuyerID)
	}
}

func TestBuy_ConcurrentBuyersOneWins(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	buyers := []string{"C1", "C2", "C3", "C4", "C5", "C6", "C7", "C8"}
	for _, b := range buyers {
		if err := l.Open(b, model.MustCents("100"), nil); err != nil {
			t.Fatal(err)
		}
	}
	id, _ := e.List("A", callTerms("50", 5))

	var wg sync.WaitGroup
	errs := make([]error, len(buyers))
	for i, b := range buyers {
		wg.Add(1)
		go func(i int, b string) {
			defer wg.Done()
			errs[i] = e.Buy(b, id)
		}(i, b)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, model.ErrInvalidState):
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one winner, got %d", wins)
	}
	if got := l.TotalCash(); got != model.MustCents("6800") {
		t.Fatalf("cash not conserved: %s", got)
	}
}

func TestBuy_Errors(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("poor", model.MustCents("49.99"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("A", callTerms("50", 5))

	if err := e.Buy("A", id); !errors.Is(err, model.ErrSelfTrade) {
		t.Errorf("self trade: expected ErrSelfTrade, got %v", err)
	}
	if err := e.Buy("poor", id); !errors.Is(err, model.ErrInsufficientCash) {
		t.Errorf("short buyer: expected ErrInsufficientCash, got %v", err)
	}
	if err := e.Buy("ghost", id); !errors.Is(err, model.ErrUnknownUser) {
		t.Errorf("unknown buyer: expected ErrUnknownUser, got %v", err)
	}
	if err := e.Buy("B", 42); !errors.Is(err, model.ErrContractNotFound) {
		t.Errorf("missing contract: expected ErrContractNotFound, got %v", err)
	}
	mustStatus(t, e, id, model.StatusListed)
	if a := mustAccount(t, e, "A"); a.Cash != 0 {
		t.Fatalf("seller credited on failed buy: %s", a.Cash)
	}
}

func TestBuy_ReservedCashNotSpendable(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	callID, _ := e.List("A", callTerms("50", 5))
	// B locks 5,980 of 6,000 behind a put.
	if _, err := e.List("B", putTerms("59.80", 5)); err != nil {
		t.Fatalf("list put: %v", err)
	}
	if err := e.Buy("B", callID); !errors.Is(err, model.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
}

// --- Exercise ---

func TestExercise_Errors(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("C", model.MustCents("10000"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("A", callTerms("50", 5))

	if err := e.Exercise("B", id, 2); !errors.Is(err, model.ErrInvalidState) {
		t.Fatalf("exercise listed: expected ErrInvalidState, got %v", err)
	}
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := e.Exercise("C", id, 2); !errors.Is(err, model.ErrNotBuyer) {
		t.Fatalf("non-holder: expected ErrNotBuyer, got %v", err)
	}
	if err := e.Exercise("B", id, 6); !errors.Is(err, model.ErrExpired) {
		t.Fatalf("after expiration: expected ErrExpired, got %v", err)
	}
	mustStatus(t, e, id, model.StatusSold)
}

func TestExercise_OnExpirationRound(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	id, _ := e.List("A", callTerms("50", 5))
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if expired := e.ExpireAll(5); len(expired) != 0 {
		t.Fatalf("contract expiring at round 5 must survive sweep 5, got %v", expired)
	}
	if err := e.Exercise("B", id, 5); err != nil {
		t.Fatalf("exercise at expiration round: %v", err)
	}
}

func TestExercise_CallBuyerShortOfCash(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("C", model.MustCents("1000"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("A", callTerms("50", 5))
	if err := e.Buy("C", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	err := e.Exercise("C", id, 2)
	if !errors.Is(err, model.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	mustStatus(t, e, id, model.StatusSold)
	if a := mustAccount(t, e, "A"); a.ReservedAssets["X"] != 100 {
		t.Fatalf("failed exercise must keep collateral reserved: %+v", a)
	}
	mustCheckReservations(t, e)
}

func TestExercise_Put(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("W", model.MustCents("5000"), nil); err != nil {
		t.Fatal(err)
	}
	id, err := e.List("W", putTerms("40", 5))
	if err != nil {
		t.Fatalf("list put: %v", err)
	}
	// A holds 100 X and needs cash for the 40.00 premium.
	if err := l.CreditCash("A", model.MustCents("40")); err != nil {
		t.Fatal(err)
	}
	if err := e.Buy("A", id); err != nil {
		t.Fatalf("buy put: %v", err)
	}
	if err := e.Exercise("A", id, 4); err != nil {
		t.Fatalf("exercise put: %v", err)
	}

	a, w := mustAccount(t, e, "A"), mustAccount(t, e, "W")
	if a.Cash != model.MustCents("4000") || a.Assets["X"] != 0 {
		t.Errorf("A after put exercise: %+v", a)
	}
	if w.Cash != model.MustCents("1040") || w.ReservedCash != 0 || w.Assets["X"] != 100 {
		t.Errorf("W after put exercise: %+v", w)
	}
	mustCheckReservations(t, e)
}

func TestExercise_PutWithoutUnderlying(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("W", model.MustCents("5000"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("W", putTerms("40", 5))
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}
	if err := e.Exercise("B", id, 2); !errors.Is(err, model.ErrInsufficientAsset) {
		t.Fatalf("expected ErrInsufficientAsset, got %v", err)
	}
	if w := mustAccount(t, e, "W"); w.ReservedCash != model.MustCents("4000") {
		t.Fatalf("collateral must stay reserved: %+v", w)
	}
}

// --- ExpireAll ---

func TestExpireAll_OrderAndIdempotence(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("M", model.MustCents("100000"), map[string]int64{"X": 1000}); err != nil {
		t.Fatal(err)
	}
	late, _ := e.List("M", callTerms("10", 4))
	early, _ := e.List("M", callTerms("11", 2))
	sold, _ := e.List("M", putTerms("12", 2))
	keep, _ := e.List("M", callTerms("13", 9))
	if err := e.Buy("B", sold); err != nil {
		t.Fatalf("buy: %v", err)
	}

	got := e.ExpireAll(5)
	want := []model.ContractID{early, sold, late}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, got)
		}
	}
	mustStatus(t, e, sold, model.StatusExpired)
	mustStatus(t, e, keep, model.StatusListed)

	before := e.Accounts()
	if again := e.ExpireAll(5); len(again) != 0 {
		t.Fatalf("second sweep expired %v", again)
	}
	after := e.Accounts()
	for i := range before {
		if before[i].Cash != after[i].Cash || before[i].ReservedCash != after[i].ReservedCash {
			t.Fatalf("second sweep changed %s", before[i].ID)
		}
	}
	if e.Round() != 5 {
		t.Errorf("round: expected 5, got %d", e.Round())
	}
	mustCheckReservations(t, e)
}

func TestExpireAll_TerminalContractsUntouched(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	id, _ := e.List("A", callTerms("50", 2))
	if err := e.Unlist("A", id); err != nil {
		t.Fatal(err)
	}
	if got := e.ExpireAll(10); len(got) != 0 {
		t.Fatalf("unlisted contract must not expire, got %v", got)
	}
	mustStatus(t, e, id, model.StatusUnlisted)
}

// --- Views ---

func TestViews(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{})
	if err := l.Open("M", model.MustCents("100000"), map[string]int64{"X": 300}); err != nil {
		t.Fatal(err)
	}
	a1, _ := e.List("A", callTerms("50", 5))
	m1, _ := e.List("M", callTerms("20", 5))
	m2, _ := e.List("M", callTerms("30", 5))
	if err := e.Buy("B", m1); err != nil {
		t.Fatal(err)
	}
	if err := e.Unlist("M", m2); err != nil {
		t.Fatal(err)
	}

	if got := e.Listings(); len(got) != 1 || got[0].ID != a1 {
		t.Errorf("listings: %+v", got)
	}
	if got := e.Active(); len(got) != 2 {
		t.Errorf("active: %+v", got)
	}
	if got := e.HeldBy("B"); len(got) != 1 || got[0].ID != m1 {
		t.Errorf("held by B: %+v", got)
	}
	if got := e.WrittenBy("M"); len(got) != 1 || got[0].ID != m1 {
		t.Errorf("written by M: %+v", got)
	}
	if got := e.Contracts(); len(got) != 3 {
		t.Errorf("contracts: %d", len(got))
	}

	// Returned contracts are copies.
	list := e.Listings()
	list[0].Status = model.StatusExpired
	mustStatus(t, e, a1, model.StatusListed)
}

// --- Fees ---

func TestFees_SplitAndConservation(t *testing.T) {
	e, l, rec := newTestEngine(t, market.Options{
		Fees: market.Fees{BuyerBps: 100, SellerBps: 250},
	})
	total := l.TotalCash()

	id, _ := e.List("A", callTerms("50", 5))
	if err := e.Buy("B", id); err != nil {
		t.Fatalf("buy: %v", err)
	}

	// premium 50.00, buyer fee 0.50, seller fee 1.25
	if got := mustAccount(t, e, "B").Cash; got != model.MustCents("5949.50") {
		t.Errorf("B cash: %s", got)
	}
	if got := mustAccount(t, e, "A").Cash; got != model.MustCents("48.75") {
		t.Errorf("A cash: %s", got)
	}
	if got := mustAccount(t, e, market.DefaultFeeAccount).Cash; got != model.MustCents("1.75") {
		t.Errorf("fee account: %s", got)
	}
	if l.TotalCash() != total {
		t.Fatalf("cash not conserved: %s → %s", total, l.TotalCash())
	}
	last := rec.events[len(rec.events)-1]
	if last.Type != model.EventSold || last.Fee != model.MustCents("1.75") {
		t.Errorf("sold event: %+v", last)
	}
}

func TestFees_BuyerMustCoverFee(t *testing.T) {
	e, l, _ := newTestEngine(t, market.Options{Fees: market.Fees{BuyerBps: 100}})
	if err := l.Open("C", model.MustCents("50"), nil); err != nil {
		t.Fatal(err)
	}
	id, _ := e.List("A", callTerms("50", 5))
	if err := e.Buy("C", id); !errors.Is(err, model.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
}

func TestSetFees(t *testing.T) {
	auth := access.Bootstrap("admin", access.RoleFeeAdmin)
	e, _, _ := newTestEngine(t, market.Options{Authorizer: auth})

	if err := e.SetFees("B", market.Fees{BuyerBps: 10}); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("non-admin: expected ErrUnauthorized, got %v", err)
	}
	if err := e.SetFees("admin", market.Fees{BuyerBps: 10_001}); !errors.Is(err, model.ErrInvalidTerms) {
		t.Fatalf("out of range: expected ErrInvalidTerms, got %v", err)
	}
	if err := e.SetFees("admin", market.Fees{BuyerBps: 30, SellerBps: 20}); err != nil {
		t.Fatalf("set fees: %v", err)
	}
	if got := e.Fees(); got.BuyerBps != 30 || got.SellerBps != 20 {
		t.Fatalf("fees: %+v", got)
	}
}

func TestSetFees_NoAuthorizer(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	if err := e.SetFees("anyone", market.Fees{}); !errors.Is(err, model.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestNew_RejectsBadFees(t *testing.T) {
	_, err := market.New(ledger.New(), market.Options{Fees: market.Fees{SellerBps: -1}})
	if !errors.Is(err, model.ErrInvalidTerms) {
		t.Fatalf("expected ErrInvalidTerms, got %v", err)
	}
}

func TestNew_FeeAccountTaken(t *testing.T) {
	l := ledger.New()
	if err := l.Open(market.DefaultFeeAccount, model.MustCents("10"), nil); err != nil {
		t.Fatal(err)
	}
	if _, err := market.New(l, market.Options{}); !errors.Is(err, model.ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	l = ledger.New()
	if err := l.Open("treasury", 0, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := market.New(l, market.Options{FeeAccount: "treasury"}); !errors.Is(err, model.ErrUserExists) {
		t.Fatalf("custom fee account: expected ErrUserExists, got %v", err)
	}
}

// --- Position limits ---

func TestList_PositionLimit(t *testing.T) {
	limiter := correlation.NewPositionLimiter(
		model.MustCents("8000"),
		model.MustCents("12000"),
		map[string]string{"X": "tech", "Y": "tech"},
	)
	e, l, _ := newTestEngine(t, market.Options{Limiter: limiter})
	if err := l.Open("M", 0, map[string]int64{"X": 500, "Y": 500}); err != nil {
		t.Fatal(err)
	}

	// 50 × 100 = 5,000 notional on X.
	if _, err := e.List("M", callTerms("50", 5)); err != nil {
		t.Fatalf("first list: %v", err)
	}
	_, err := e.List("M", callTerms("40", 5))
	if !errors.Is(err, model.ErrPositionLimit) || !errors.Is(err, correlation.ErrPerAssetLimitExceeded) {
		t.Fatalf("per-asset: expected ErrPositionLimit, got %v", err)
	}

	y := callTerms("71", 5)
	y.Underlying = "Y"
	_, err = e.List("M", y)
	if !errors.Is(err, correlation.ErrCorrelatedLimitExceeded) {
		t.Fatalf("correlated: expected ErrCorrelatedLimitExceeded, got %v", err)
	}
	if a := mustAccount(t, e, "M"); a.ReservedAssets["Y"] != 0 {
		t.Fatalf("rejected listing reserved collateral: %+v", a)
	}
}

func TestMultiplierOverride(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{Multiplier: decimal.RequireFromString("0.05")})
	id, err := e.List("A", callTerms("50", 5))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	c, _ := e.Contract(id)
	if c.Premium != model.MustCents("250") {
		t.Fatalf("premium: expected 250.00, got %s", c.Premium)
	}
}

// --- Spot desk ---

func TestSpot(t *testing.T) {
	l := ledger.New()
	if err := l.Open("house", model.MustCents("1000000"), map[string]int64{"X": 10_000}); err != nil {
		t.Fatal(err)
	}
	if err := l.Open("B", model.MustCents("1000"), nil); err != nil {
		t.Fatal(err)
	}
	e, err := market.New(l, market.Options{
		HouseAccount: "house",
		Prices:       fixedPrices{"X": model.MustCents("7.50")},
	})
	if err != nil {
		t.Fatal(err)
	}
	total := l.TotalCash()

	cost, err := e.SpotBuy("B", "X", 100)
	if err != nil {
		t.Fatalf("spot buy: %v", err)
	}
	if cost != model.MustCents("750") {
		t.Fatalf("cost: %s", cost)
	}
	b := mustAccount(t, e, "B")
	if b.Cash != model.MustCents("250") || b.Assets["X"] != 100 {
		t.Fatalf("B after spot buy: %+v", b)
	}

	if _, err := e.SpotBuy("B", "X", 100); !errors.Is(err, model.ErrInsufficientCash) {
		t.Fatalf("expected ErrInsufficientCash, got %v", err)
	}
	if _, err := e.SpotSell("B", "X", 101); !errors.Is(err, model.ErrInsufficientAsset) {
		t.Fatalf("expected ErrInsufficientAsset, got %v", err)
	}
	if _, err := e.SpotBuy("B", "NOPE", 1); !errors.Is(err, model.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
	if _, err := e.SpotBuy("house", "X", 1); !errors.Is(err, model.ErrSelfTrade) {
		t.Fatalf("expected ErrSelfTrade, got %v", err)
	}
	if _, err := e.SpotBuy("B", "X", 0); !errors.Is(err, model.ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}

	proceeds, err := e.SpotSell("B", "X", 40)
	if err != nil || proceeds != model.MustCents("300") {
		t.Fatalf("spot sell: %s, %v", proceeds, err)
	}
	if l.TotalCash() != total || l.TotalAsset("X") != 10_000 {
		t.Fatal("spot trades must conserve cash and units")
	}
}

func TestSpot_Disabled(t *testing.T) {
	e, _, _ := newTestEngine(t, market.Options{})
	if _, err := e.SpotBuy("B", "X", 1); !errors.Is(err, model.ErrUnknownAsset) {
		t.Fatalf("expected ErrUnknownAsset, got %v", err)
	}
}

func TestSpot_ReservedUnitsNotSellable(t *testing.T) {
	l := ledger.New()
	if err := l.Open("house", model.MustCents("100000"), nil); err != nil {
		t.Fatal(err)
	}
	if err := l.Open("A", 0, map[string]int64{"X": 100}); err != nil {
		t.Fatal(err)
	}
	e, _ := market.New(l, market.Options{HouseAccount: "house", Prices: fixedPrices{"X": 100}})
	if _, err := e.List("A", callTerms("50", 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SpotSell("A", "X", 1); !errors.Is(err, model.ErrInsufficientAsset) {
		t.Fatalf("expected ErrInsufficientAsset, got %v", err)
	}
}
