package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atmx/options-market/internal/model"
)

// PostgresStore implements Store on PostgreSQL. Cash amounts are stored as
// BIGINT cents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const schema = `
CREATE TABLE IF NOT EXISTS journal_events (
	seq             BIGSERIAL PRIMARY KEY,
	run_id          TEXT        NOT NULL,
	id              TEXT        NOT NULL,
	type            TEXT        NOT NULL,
	round           BIGINT      NOT NULL,
	contract_id     BIGINT      NOT NULL DEFAULT 0,
	ticker          TEXT        NOT NULL DEFAULT '',
	kind            TEXT        NOT NULL DEFAULT '',
	user_id         TEXT        NOT NULL,
	counterparty_id TEXT        NOT NULL DEFAULT '',
	symbol          TEXT        NOT NULL DEFAULT '',
	quantity        BIGINT      NOT NULL DEFAULT 0,
	cash            BIGINT      NOT NULL DEFAULT 0,
	fee             BIGINT      NOT NULL DEFAULT 0,
	ts              TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS journal_events_contract ON journal_events (run_id, contract_id);
CREATE INDEX IF NOT EXISTS journal_events_user ON journal_events (run_id, user_id);
CREATE INDEX IF NOT EXISTS journal_events_counterparty ON journal_events (run_id, counterparty_id);

CREATE TABLE IF NOT EXISTS round_summaries (
	run_id          TEXT        NOT NULL,
	round           BIGINT      NOT NULL,
	listed          INT         NOT NULL,
	unlisted        INT         NOT NULL,
	sold            INT         NOT NULL,
	exercised       INT         NOT NULL,
	expired         INT         NOT NULL,
	spot_trades     INT         NOT NULL,
	rejections      INT         NOT NULL,
	active_listings INT         NOT NULL,
	premium_volume  BIGINT      NOT NULL,
	total_cash      BIGINT      NOT NULL,
	ts              TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, round)
);`

// EnsureSchema creates the journal tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) AppendEvents(ctx context.Context, runID string, events []model.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(
			`INSERT INTO journal_events
			   (run_id, id, type, round, contract_id, ticker, kind, user_id,
			    counterparty_id, symbol, quantity, cash, fee, ts)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
			runID, e.ID, string(e.Type), e.Round, int64(e.ContractID), e.Ticker, string(e.Kind),
			e.UserID, e.CounterpartyID, e.Symbol, e.Quantity, int64(e.Cash), int64(e.Fee), e.Timestamp,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append events: %w", err)
	}
	return tx.Commit(ctx)
}

const eventColumns = `id, type, round, contract_id, ticker, kind, user_id,
	counterparty_id, symbol, quantity, cash, fee, ts`

func (s *PostgresStore) EventsByContract(ctx context.Context, runID string, id model.ContractID) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM journal_events
		 WHERE run_id = $1 AND contract_id = $2 ORDER BY seq`,
		runID, int64(id))
}

func (s *PostgresStore) EventsByUser(ctx context.Context, runID, userID string) ([]model.Event, error) {
	return s.queryEvents(ctx,
		`SELECT `+eventColumns+` FROM journal_events
		 WHERE run_id = $1 AND (user_id = $2 OR counterparty_id = $2) ORDER BY seq`,
		runID, userID)
}

func (s *PostgresStore) queryEvents(ctx context.Context, sql string, args ...any) ([]model.Event, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := make([]model.Event, 0)
	for rows.Next() {
		var e model.Event
		var typ, kind string
		var contractID, cash, fee int64
		if err := rows.Scan(&e.ID, &typ, &e.Round, &contractID, &e.Ticker, &kind, &e.UserID,
			&e.CounterpartyID, &e.Symbol, &e.Quantity, &cash, &fee, &e.Timestamp); err != nil {
			return nil, err
		}
		e.Type = model.EventType(typ)
		e.Kind = model.Kind(kind)
		e.ContractID = model.ContractID(contractID)
		e.Cash = model.Cents(cash)
		e.Fee = model.Cents(fee)
		events = append(events, e)
	}
	return events, rows.Err()
}

func (s *PostgresStore) SaveRoundSummary(ctx context.Context, rs *model.RoundSummary) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO round_summaries
		   (run_id, round, listed, unlisted, sold, exercised, expired, spot_trades,
		    rejections, active_listings, premium_volume, total_cash, ts)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 ON CONFLICT (run_id, round) DO UPDATE SET
		   listed = EXCLUDED.listed, unlisted = EXCLUDED.unlisted, sold = EXCLUDED.sold,
		   exercised = EXCLUDED.exercised, expired = EXCLUDED.expired,
		   spot_trades = EXCLUDED.spot_trades, rejections = EXCLUDED.rejections,
		   active_listings = EXCLUDED.active_listings, premium_volume = EXCLUDED.premium_volume,
		   total_cash = EXCLUDED.total_cash, ts = EXCLUDED.ts`,
		rs.RunID, rs.Round, rs.Listed, rs.Unlisted, rs.Sold, rs.Exercised, rs.Expired, rs.SpotTrades,
		rs.Rejections, rs.ActiveListings, int64(rs.PremiumVolume), int64(rs.TotalCash), rs.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("save round %d: %w", rs.Round, err)
	}
	return nil
}

func (s *PostgresStore) ListRoundSummaries(ctx context.Context, runID string) ([]model.RoundSummary, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT run_id, round, listed, unlisted, sold, exercised, expired, spot_trades,
		        rejections, active_listings, premium_volume, total_cash, ts
		 FROM round_summaries WHERE run_id = $1 ORDER BY round`, runID)
	if err != nil {
		return nil, err
	}
	summaries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.RoundSummary, error) {
		var rs model.RoundSummary
		var premium, cash int64
		err := row.Scan(&rs.RunID, &rs.Round, &rs.Listed, &rs.Unlisted, &rs.Sold, &rs.Exercised,
			&rs.Expired, &rs.SpotTrades, &rs.Rejections, &rs.ActiveListings, &premium, &cash, &rs.Timestamp)
		rs.PremiumVolume = model.Cents(premium)
		rs.TotalCash = model.Cents(cash)
		return rs, err
	})
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		var exists bool
		err := s.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM journal_events WHERE run_id = $1)`, runID).Scan(&exists)
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
		}
	}
	return summaries, nil
}
