// Package api serves read-only views of a running simulation over HTTP:
// listings, contracts and their journal history, trader balances, mark
// prices and round summaries, plus a websocket feed of market events.
// Nothing here mutates the market.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/atmx/options-market/internal/ledger"
	"github.com/atmx/options-market/internal/market"
	"github.com/atmx/options-market/internal/model"
	"github.com/atmx/options-market/internal/store"
)

// Market is the read side of the engine.
type Market interface {
	Round() int64
	Fees() market.Fees
	Contract(id model.ContractID) (model.Contract, error)
	Contracts() []model.Contract
	Listings() []model.Contract
	HeldBy(user string) []model.Contract
	WrittenBy(user string) []model.Contract
	Reservations(user string) []market.Reservation
	Account(user string) (ledger.Account, error)
	Accounts() []ledger.Account
}

// PriceBoard lists mark prices.
type PriceBoard interface {
	Prices() map[string]model.Cents
}

// Service handles the read-only endpoints for one run.
type Service struct {
	market Market
	prices PriceBoard
	store  store.Store
	runID  string
}

// NewService creates a service over a run's market, prices and journal.
func NewService(m Market, prices PriceBoard, st store.Store, runID string) *Service {
	return &Service{
		market: m,
		prices: prices,
		store:  st,
		runID:  runID,
	}
}

// --- Response types ---

// UserView is a trader's balances and open contracts.
type UserView struct {
	ledger.Account
	FreeCash     model.Cents          `json:"free_cash"`
	Held         []model.Contract     `json:"held"`
	Written      []model.Contract     `json:"written"`
	Reservations []market.Reservation `json:"reservations"`
}

// PricesView is the mark price board at a round.
type PricesView struct {
	Round  int64                  `json:"round"`
	Prices map[string]model.Cents `json:"prices"`
}

// StatsView summarizes the market: open listings, contract counts by
// status and traded premium.
type StatsView struct {
	RunID         string      `json:"run_id"`
	Round         int64       `json:"round"`
	Listings      int         `json:"listings"`
	Calls         int         `json:"calls"`
	Puts          int         `json:"puts"`
	ListedPremium model.Cents `json:"listed_premium"`
	Fees          market.Fees `json:"fees"`

	Contracts     int                  `json:"contracts"`
	ByStatus      map[model.Status]int `json:"by_status"`
	PremiumVolume model.Cents          `json:"premium_volume"` // premium of every contract that traded
}

// --- HTTP Handlers ---

// ListListings handles GET /api/v1/listings
// Optional filters: ?underlying=<symbol>&kind=CALL|PUT.
func (s *Service) ListListings(w http.ResponseWriter, r *http.Request) {
	underlying := r.URL.Query().Get("underlying")
	kind := model.Kind(r.URL.Query().Get("kind"))
	if kind != "" && !kind.Valid() {
		writeError(w, "kind must be CALL or PUT", http.StatusBadRequest)
		return
	}

	out := make([]model.Contract, 0)
	for _, c := range s.market.Listings() {
		if underlying != "" && c.Underlying != underlying {
			continue
		}
		if kind != "" && c.Kind != kind {
			continue
		}
		out = append(out, c)
	}
	writeJSON(w, out)
}

// ListContracts handles GET /api/v1/contracts
// Returns every contract, optionally filtered by ?status=<status>.
func (s *Service) ListContracts(w http.ResponseWriter, r *http.Request) {
	status := model.Status(r.URL.Query().Get("status"))

	out := make([]model.Contract, 0)
	for _, c := range s.market.Contracts() {
		if status != "" && c.Status != status {
			continue
		}
		out = append(out, c)
	}
	writeJSON(w, out)
}

// GetContract handles GET /api/v1/contracts/{contractID}
func (s *Service) GetContract(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "contract not found", http.StatusNotFound)
		return
	}
	c, err := s.market.Contract(id)
	if err != nil {
		writeError(w, "contract not found", http.StatusNotFound)
		return
	}
	writeJSON(w, c)
}

// GetContractHistory handles GET /api/v1/contracts/{contractID}/history
// Returns the contract's journaled events. Events of the round in progress
// are journaled when the round ends.
func (s *Service) GetContractHistory(w http.ResponseWriter, r *http.Request) {
	id, err := model.ParseContractID(chi.URLParam(r, "contractID"))
	if err != nil {
		writeError(w, "contract not found", http.StatusNotFound)
		return
	}
	if _, err := s.market.Contract(id); err != nil {
		writeError(w, "contract not found", http.StatusNotFound)
		return
	}

	events, err := s.store.EventsByContract(r.Context(), s.runID, id)
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		slog.Error("load contract history", "contract_id", id, "err", err)
		writeError(w, "failed to load contract history", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, events)
}

// ListUsers handles GET /api/v1/users
func (s *Service) ListUsers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, s.market.Accounts())
}

// GetUser handles GET /api/v1/users/{userID}
func (s *Service) GetUser(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	acct, err := s.market.Account(userID)
	if err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}

	view := UserView{
		Account:      acct,
		FreeCash:     acct.FreeCash(),
		Held:         s.market.HeldBy(userID),
		Written:      s.market.WrittenBy(userID),
		Reservations: s.market.Reservations(userID),
	}
	if view.Reservations == nil {
		view.Reservations = []market.Reservation{}
	}
	writeJSON(w, view)
}

// GetUserEvents handles GET /api/v1/users/{userID}/events
func (s *Service) GetUserEvents(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if _, err := s.market.Account(userID); err != nil {
		writeError(w, "user not found", http.StatusNotFound)
		return
	}

	events, err := s.store.EventsByUser(r.Context(), s.runID, userID)
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		slog.Error("load user events", "user_id", userID, "err", err)
		writeError(w, "failed to load user events", http.StatusInternalServerError)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, events)
}

// GetPrices handles GET /api/v1/prices
func (s *Service) GetPrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, PricesView{Round: s.market.Round(), Prices: s.prices.Prices()})
}

// ListRounds handles GET /api/v1/rounds
func (s *Service) ListRounds(w http.ResponseWriter, r *http.Request) {
	summaries, err := s.store.ListRoundSummaries(r.Context(), s.runID)
	if err != nil && !errors.Is(err, store.ErrRunNotFound) {
		slog.Error("load round summaries", "run_id", s.runID, "err", err)
		writeError(w, "failed to load rounds", http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []model.RoundSummary{}
	}
	writeJSON(w, summaries)
}

// GetStats handles GET /api/v1/stats
func (s *Service) GetStats(w http.ResponseWriter, _ *http.Request) {
	stats := StatsView{
		RunID: s.runID,
		Round: s.market.Round(),
		Fees:  s.market.Fees(),
		ByStatus: map[model.Status]int{
			model.StatusListed:    0,
			model.StatusSold:      0,
			model.StatusExercised: 0,
			model.StatusExpired:   0,
			model.StatusUnlisted:  0,
		},
	}
	for _, c := range s.market.Contracts() {
		stats.Contracts++
		stats.ByStatus[c.Status]++
		if c.BuyerID != "" {
			stats.PremiumVolume += c.Premium
		}
		if c.Status != model.StatusListed {
			continue
		}
		stats.Listings++
		if c.Kind == model.KindCall {
			stats.Calls++
		} else {
			stats.Puts++
		}
		stats.ListedPremium += c.Premium
	}
	writeJSON(w, stats)
}

// writeJSON writes v as a JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
