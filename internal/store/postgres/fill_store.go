package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// FillStore implements domain.FillJournal.
type FillStore struct {
	pool *pgxpool.Pool
}

func NewFillStore(pool *pgxpool.Pool) *FillStore {
	return &FillStore{pool: pool}
}

// Record appends events in one batch. Replays of the same fill are skipped.
func (s *FillStore) Record(ctx context.Context, events []domain.FillEvent) error {
	if len(events) == 0 {
		return nil
	}

	const query = `
		INSERT INTO fill_events (bot_id, order_id, fill_id, asset, delta, reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (bot_id, order_id, fill_id, asset, reason) DO NOTHING`

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(query, e.BotID, e.OrderID, e.FillID, e.Asset, e.Delta, e.Reason, e.At)
	}
	br := s.pool.SendBatch(ctx, batch)
	for _, e := range events {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("postgres: record fill %s/%s: %w", e.OrderID, e.FillID, err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("postgres: record fills: %w", err)
	}
	return nil
}

// ListByBot returns a bot's journal, newest first.
func (s *FillStore) ListByBot(ctx context.Context, botID int64, opts domain.ListOpts) ([]domain.FillEvent, error) {
	query, args := window(`SELECT bot_id, order_id, fill_id, asset, delta, reason, created_at
		FROM fill_events WHERE bot_id = $1`, []any{botID}, opts)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for bot %d: %w", botID, err)
	}
	events, err := pgx.CollectRows(rows, scanFillEvent)
	if err != nil {
		return nil, fmt.Errorf("postgres: list fills for bot %d: %w", botID, err)
	}
	return events, nil
}

func scanFillEvent(row pgx.CollectableRow) (domain.FillEvent, error) {
	var e domain.FillEvent
	err := row.Scan(&e.BotID, &e.OrderID, &e.FillID, &e.Asset, &e.Delta, &e.Reason, &e.At)
	return e, err
}
