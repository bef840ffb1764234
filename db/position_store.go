// Package db persists positions and equity snapshots to PostgreSQL. Writes
// go through an async queue so the hot path never blocks on the database;
// reads (point lookups, trade history) hit the pool directly.
package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"tradeguard/metrics"
	"tradeguard/position"
	"tradeguard/risk"
	"tradeguard/sizing"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

const (
	defaultQueueSize      = 256
	defaultFlushInterval  = 500 * time.Millisecond
	defaultBatchSize      = 32
	defaultEnqueueTimeout = 10 * time.Second
	defaultDrainTimeout   = 15 * time.Second
)

// ErrNotFound is returned by point lookups with no matching row.
var ErrNotFound = errors.New("record not found")

type requestKind int

const (
	kindPosition requestKind = iota
	kindEquity
)

type request struct {
	kind     requestKind
	traceID  string
	position position.Position
	agentID  string
	equity   risk.Snapshot
}

// PositionStore is the PostgreSQL persistence layer. One background worker
// drains the write queue in batches; Close flushes what is left.
type PositionStore struct {
	pool    *pgxpool.Pool
	agentID string

	queue          chan request
	queueSize      int
	batchSize      int
	flushInterval  time.Duration
	enqueueTimeout time.Duration
	drainTimeout   time.Duration

	closing       atomic.Bool
	wg            sync.WaitGroup
	closeOnce     sync.Once
	poolCloseOnce sync.Once
}

// NewPositionStore runs migrations, connects the pool and starts the write
// worker.
func NewPositionStore(connURL string) (*PositionStore, error) {
	if strings.TrimSpace(connURL) == "" {
		return nil, errors.New("empty db connection string")
	}

	if err := runMigrations(connURL); err != nil {
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	store := &PositionStore{
		pool:           pool,
		queueSize:      defaultQueueSize,
		batchSize:      defaultBatchSize,
		flushInterval:  defaultFlushInterval,
		enqueueTimeout: defaultEnqueueTimeout,
		drainTimeout:   defaultDrainTimeout,
	}
	store.queue = make(chan request, store.queueSize)
	store.wg.Add(1)
	go store.worker()
	return store, nil
}

// BindAgent pins the store's read scope to one agent. Trade history queries
// require it.
func (s *PositionStore) BindAgent(agentID string) {
	s.agentID = agentID
}

// SavePosition enqueues an upsert of the position row. Safe to use as the
// ledger's PersistFunc.
func (s *PositionStore) SavePosition(p position.Position) error {
	return s.enqueue(request{
		kind:     kindPosition,
		traceID:  uuid.NewString(),
		position: p,
	})
}

// SaveEquity enqueues an equity snapshot insert. Safe to use as the
// tracker's PersistFunc.
func (s *PositionStore) SaveEquity(agentID string, snapshot risk.Snapshot) error {
	return s.enqueue(request{
		kind:    kindEquity,
		traceID: uuid.NewString(),
		agentID: agentID,
		equity:  snapshot,
	})
}

func (s *PositionStore) enqueue(req request) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New("persistence shutting down")
		}
	}()

	if s.closing.Load() {
		return errors.New("persistence shutting down")
	}

	timer := time.NewTimer(s.enqueueTimeout)
	defer timer.Stop()

	select {
	case s.queue <- req:
		return nil
	case <-timer.C:
		metrics.IncPersistenceFailures(s.agentID)
		log.Printf("⚠️  persistence enqueue timeout (trace=%s)", req.traceID)
		return fmt.Errorf("persistence enqueue timeout")
	}
}

func (s *PositionStore) worker() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	buffer := make([]request, 0, s.batchSize)

	flush := func(ctx context.Context) {
		if len(buffer) == 0 {
			return
		}
		batch := append([]request(nil), buffer...)
		buffer = buffer[:0]

		start := time.Now()
		if err := s.persistBatch(ctx, batch); err != nil {
			log.Printf("⚠️  persistence batch failed (size=%d): %v", len(batch), err)
		}
		duration := time.Since(start)
		for range batch {
			metrics.ObservePersistLatency(s.agentID, duration)
		}
	}

	for {
		select {
		case req, ok := <-s.queue:
			if !ok {
				drainCtx, cancel := context.WithTimeout(context.Background(), s.drainTimeout)
				flush(drainCtx)
				cancel()
				return
			}
			buffer = append(buffer, req)
			if len(buffer) >= s.batchSize {
				flush(context.Background())
			}
		case <-ticker.C:
			flush(context.Background())
		}
	}
}

func (s *PositionStore) persistBatch(ctx context.Context, batch []request) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, req := range batch {
		metrics.IncPersistenceAttempts(s.agentID)
		switch req.kind {
		case kindPosition:
			err = upsertPositionTx(ctx, tx, req.position)
		case kindEquity:
			err = insertEquityTx(ctx, tx, req.agentID, req.equity)
		}
		if err != nil {
			metrics.IncPersistenceFailures(s.agentID)
			return fmt.Errorf("persist trace %s: %w", req.traceID, err)
		}
	}
	return tx.Commit(ctx)
}

func upsertPositionTx(ctx context.Context, tx pgx.Tx, p position.Position) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO positions (
			id, agent_id, symbol, direction, quantity, entry_price,
			stop_loss_price, take_profit_price, trailing_stop_price, best_price,
			status, opened_at, closed_at, exit_reason, exit_price,
			realized_pnl_usd, realized_pnl_pct, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,NOW())
		ON CONFLICT (id) DO UPDATE SET
			stop_loss_price     = EXCLUDED.stop_loss_price,
			take_profit_price   = EXCLUDED.take_profit_price,
			trailing_stop_price = EXCLUDED.trailing_stop_price,
			best_price          = EXCLUDED.best_price,
			status              = EXCLUDED.status,
			closed_at           = EXCLUDED.closed_at,
			exit_reason         = EXCLUDED.exit_reason,
			exit_price          = EXCLUDED.exit_price,
			realized_pnl_usd    = EXCLUDED.realized_pnl_usd,
			realized_pnl_pct    = EXCLUDED.realized_pnl_pct,
			updated_at          = NOW()`,
		p.ID, p.AgentID, p.Symbol, p.Direction, p.Quantity, p.EntryPrice,
		p.StopLossPrice, p.TakeProfitPrice, p.TrailingStopPrice, p.BestPrice,
		p.Status, p.OpenedAt.UTC(), nullableTime(p.ClosedAt), p.ExitReason, p.ExitPrice,
		p.RealizedPnLUSD, p.RealizedPnLPct)
	return err
}

func insertEquityTx(ctx context.Context, tx pgx.Tx, agentID string, snap risk.Snapshot) error {
	recordedAt := snap.LastUpdated
	if recordedAt.IsZero() {
		recordedAt = time.Now()
	}
	_, err := tx.Exec(ctx, `
		INSERT INTO equity_snapshots (agent_id, current_equity, peak_equity, drawdown_pct, recorded_at)
		VALUES ($1,$2,$3,$4,$5)`,
		agentID, snap.CurrentEquity, snap.PeakEquity, snap.DrawdownPct, recordedAt.UTC())
	return err
}

const positionColumns = `
	id, agent_id, symbol, direction, quantity, entry_price,
	stop_loss_price, take_profit_price, trailing_stop_price, best_price,
	status, opened_at, closed_at, exit_reason, exit_price,
	realized_pnl_usd, realized_pnl_pct`

// Position looks a position up by ID.
func (s *PositionStore) Position(ctx context.Context, id string) (position.Position, error) {
	row := s.pool.QueryRow(ctx, `SELECT`+positionColumns+` FROM positions WHERE id = $1`, id)
	return scanPosition(row)
}

// OpenPosition returns the OPEN position for an agent and symbol.
func (s *PositionStore) OpenPosition(ctx context.Context, agentID, symbol string) (position.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT`+positionColumns+` FROM positions WHERE agent_id = $1 AND symbol = $2 AND status = 'OPEN'`,
		agentID, symbol)
	return scanPosition(row)
}

func scanPosition(row pgx.Row) (position.Position, error) {
	var p position.Position
	var closedAt *time.Time
	err := row.Scan(
		&p.ID, &p.AgentID, &p.Symbol, &p.Direction, &p.Quantity, &p.EntryPrice,
		&p.StopLossPrice, &p.TakeProfitPrice, &p.TrailingStopPrice, &p.BestPrice,
		&p.Status, &p.OpenedAt, &closedAt, &p.ExitReason, &p.ExitPrice,
		&p.RealizedPnLUSD, &p.RealizedPnLPct)
	if errors.Is(err, pgx.ErrNoRows) {
		return position.Position{}, ErrNotFound
	}
	if err != nil {
		return position.Position{}, fmt.Errorf("scan position: %w", err)
	}
	if closedAt != nil {
		p.ClosedAt = *closedAt
	}
	return p, nil
}

// RecentClosedTrades returns the newest closed trades for the bound agent,
// newest last. It implements the sizer's history interface.
func (s *PositionStore) RecentClosedTrades(ctx context.Context, limit int) ([]sizing.TradeRecord, error) {
	if s.agentID == "" {
		return nil, errors.New("store not bound to an agent")
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.pool.Query(ctx, `
		SELECT entry_price, exit_price, direction, realized_pnl_pct
		FROM positions
		WHERE agent_id = $1 AND status = 'CLOSED'
		ORDER BY closed_at DESC
		LIMIT $2`, s.agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query closed trades: %w", err)
	}
	defer rows.Close()

	var records []sizing.TradeRecord
	for rows.Next() {
		var r sizing.TradeRecord
		if err := rows.Scan(&r.EntryPrice, &r.ExitPrice, &r.Direction, &r.PnLPct); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Newest-first from the query; callers expect chronological order.
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	return records, rows.Err()
}

// EquityHistory returns the newest snapshots for an agent, oldest first.
func (s *PositionStore) EquityHistory(ctx context.Context, agentID string, limit int) ([]risk.Snapshot, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT current_equity, peak_equity, drawdown_pct, recorded_at
		FROM equity_snapshots
		WHERE agent_id = $1
		ORDER BY recorded_at DESC
		LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query equity history: %w", err)
	}
	defer rows.Close()

	var snapshots []risk.Snapshot
	for rows.Next() {
		var snap risk.Snapshot
		if err := rows.Scan(&snap.CurrentEquity, &snap.PeakEquity, &snap.DrawdownPct, &snap.LastUpdated); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(snapshots)-1; i < j; i, j = i+1, j-1 {
		snapshots[i], snapshots[j] = snapshots[j], snapshots[i]
	}
	return snapshots, nil
}

// Close drains pending writes within the drain timeout and releases the
// pool.
func (s *PositionStore) Close(ctx context.Context) error {
	var err error
	s.closeOnce.Do(func() {
		s.closing.Store(true)
		close(s.queue)

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			err = ctx.Err()
		}
		s.poolCloseOnce.Do(func() { s.pool.Close() })
	})
	return err
}

func runMigrations(connURL string) error {
	sourceDriver, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}

	migrator, err := migrate.NewWithSourceInstance("iofs", sourceDriver, connURL)
	if err != nil {
		return fmt.Errorf("init migrate: %w", err)
	}
	defer func() {
		srcErr, dbErr := migrator.Close()
		if srcErr != nil {
			log.Printf("⚠️  migrate source close: %v", srcErr)
		}
		if dbErr != nil {
			log.Printf("⚠️  migrate db close: %v", dbErr)
		}
	}()

	if err := migrator.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	log.Printf("✓ database migrations applied")
	return nil
}

func nullableTime(ts time.Time) *time.Time {
	if ts.IsZero() {
		return nil
	}
	utc := ts.UTC()
	return &utc
}
