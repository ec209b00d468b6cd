// Package model defines the core domain types shared across the options
// market: contract kinds and lifecycle states, contracts, journal events
// and round summaries.
package model

import (
	"fmt"
	"strconv"
	"time"
)

// ContractSize is the number of underlying units one contract controls.
const ContractSize = 100

// ContractID identifies a contract inside one engine instance.
// IDs are assigned sequentially starting at 1.
type ContractID uint64

func (id ContractID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// ParseContractID parses the decimal form produced by ContractID.String.
func ParseContractID(s string) (ContractID, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil || v == 0 {
		return 0, fmt.Errorf("%w: bad contract id %q", ErrContractNotFound, s)
	}
	return ContractID(v), nil
}

// Kind is the option type.
type Kind string

const (
	KindCall Kind = "CALL"
	KindPut  Kind = "PUT"
)

// Valid reports whether k is CALL or PUT.
func (k Kind) Valid() bool {
	return k == KindCall || k == KindPut
}

// Status is the lifecycle state of a contract.
type Status string

const (
	StatusListed    Status = "listed"
	StatusSold      Status = "sold"
	StatusExercised Status = "exercised"
	StatusExpired   Status = "expired"
	StatusUnlisted  Status = "unlisted"
)

var transitions = map[Status][]Status{
	StatusListed: {StatusSold, StatusUnlisted, StatusExpired},
	StatusSold:   {StatusExercised, StatusExpired},
}

// CanTransition reports whether the lifecycle allows moving from s to next.
func (s Status) CanTransition(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Active reports whether a contract in this state still holds collateral.
func (s Status) Active() bool {
	return s == StatusListed || s == StatusSold
}

// Contract is an option written by a seller. Terms are immutable once
// listed; Status, BuyerID and the round markers change with the lifecycle.
type Contract struct {
	ID         ContractID `json:"id" db:"id"`
	Ticker     string     `json:"ticker" db:"ticker"`
	Underlying string     `json:"underlying" db:"underlying"`
	Kind       Kind       `json:"kind" db:"kind"`
	Strike     Cents      `json:"strike" db:"strike"`   // per unit
	Premium    Cents      `json:"premium" db:"premium"` // per contract
	Expiration int64      `json:"expiration_round" db:"expiration_round"`
	SellerID   string     `json:"seller_id" db:"seller_id"`
	BuyerID    string     `json:"buyer_id,omitempty" db:"buyer_id"`
	Status     Status     `json:"status" db:"status"`
	ListedAt   int64      `json:"listed_round" db:"listed_round"`
	SoldAt     int64      `json:"sold_round,omitempty" db:"sold_round"`
	ClosedAt   int64      `json:"closed_round,omitempty" db:"closed_round"`
}

// ExerciseValue is the cash exchanged on exercise: strike × ContractSize.
func (c *Contract) ExerciseValue() Cents {
	return c.Strike * ContractSize
}

// ExpiredAt reports whether the contract is past expiration at round.
func (c *Contract) ExpiredAt(round int64) bool {
	return round > c.Expiration
}

// EventType names a journal event.
type EventType string

const (
	EventListed    EventType = "listed"
	EventUnlisted  EventType = "unlisted"
	EventSold      EventType = "sold"
	EventExercised EventType = "exercised"
	EventExpired   EventType = "expired"
	EventSpotBuy   EventType = "spot_buy"
	EventSpotSell  EventType = "spot_sell"
)

// Event is an immutable record of one committed engine operation.
// Once created, events are never modified or deleted.
type Event struct {
	ID             string     `json:"id" db:"id"`
	Type           EventType  `json:"type" db:"type"`
	Round          int64      `json:"round" db:"round"`
	ContractID     ContractID `json:"contract_id,omitempty" db:"contract_id"` // 0 for spot trades
	Ticker         string     `json:"ticker,omitempty" db:"ticker"`
	Kind           Kind       `json:"kind,omitempty" db:"kind"`
	UserID         string     `json:"user_id" db:"user_id"` // acting user
	CounterpartyID string     `json:"counterparty_id,omitempty" db:"counterparty_id"`
	Symbol         string     `json:"symbol,omitempty" db:"symbol"`
	Quantity       int64      `json:"quantity,omitempty" db:"quantity"`
	Cash           Cents      `json:"cash" db:"cash"` // premium, strike payment or spot cost
	Fee            Cents      `json:"fee,omitempty" db:"fee"`
	Timestamp      time.Time  `json:"timestamp" db:"timestamp"`
}

// Involves reports whether userID is either party of the event.
func (e *Event) Involves(userID string) bool {
	return e.UserID == userID || e.CounterpartyID == userID
}

// RoundSummary aggregates what happened in one simulated round.
type RoundSummary struct {
	RunID          string    `json:"run_id" db:"run_id"`
	Round          int64     `json:"round" db:"round"`
	Listed         int       `json:"listed" db:"listed"`
	Unlisted       int       `json:"unlisted" db:"unlisted"`
	Sold           int       `json:"sold" db:"sold"`
	Exercised      int       `json:"exercised" db:"exercised"`
	Expired        int       `json:"expired" db:"expired"`
	SpotTrades     int       `json:"spot_trades" db:"spot_trades"`
	Rejections     int       `json:"rejections" db:"rejections"`
	ActiveListings int       `json:"active_listings" db:"active_listings"`
	PremiumVolume  Cents     `json:"premium_volume" db:"premium_volume"`
	TotalCash      Cents     `json:"total_cash" db:"total_cash"`
	Timestamp      time.Time `json:"timestamp" db:"timestamp"`
}

// Apply counts e into the summary.
func (s *RoundSummary) Apply(e Event) {
	switch e.Type {
	case EventListed:
		s.Listed++
	case EventUnlisted:
		s.Unlisted++
	case EventSold:
		s.Sold++
		s.PremiumVolume += e.Cash
	case EventExercised:
		s.Exercised++
	case EventExpired:
		s.Expired++
	case EventSpotBuy, EventSpotSell:
		s.SpotTrades++
	}
}
