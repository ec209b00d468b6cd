// Package store is the simulation journal: an append-only log of engine
// events and per-round summaries, keyed by run. Implementations include
// PostgreSQL (durable), Redis (read-through cache over another store) and
// in-memory (default and tests).
//
// The journal is an audit trail. The engine never reads it back to restore
// state.
package store

import (
	"context"
	"errors"

	"github.com/atmx/options-market/internal/model"
)

// ErrRunNotFound is returned for reads against a run with no journal.
var ErrRunNotFound = errors.New("run not found")

// Store is the journal interface.
type Store interface {
	// AppendEvents appends events for a run in order. The batch is
	// all-or-nothing.
	AppendEvents(ctx context.Context, runID string, events []model.Event) error

	// EventsByContract returns a contract's events in append order.
	EventsByContract(ctx context.Context, runID string, id model.ContractID) ([]model.Event, error)

	// EventsByUser returns the events a user took part in, as actor or
	// counterparty, in append order.
	EventsByUser(ctx context.Context, runID, userID string) ([]model.Event, error)

	// SaveRoundSummary records one round's summary, replacing any earlier
	// summary for the same run and round.
	SaveRoundSummary(ctx context.Context, s *model.RoundSummary) error

	// ListRoundSummaries returns a run's summaries ordered by round.
	ListRoundSummaries(ctx context.Context, runID string) ([]model.RoundSummary, error)
}
