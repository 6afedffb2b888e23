package db

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
	"github.com/brojonat/tradewatch/service/config"
	"github.com/brojonat/tradewatch/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgErrUniqueViolation = "23505"

// CursorTable holds one checkpoint row per named cursor.
const CursorTable = "ingest_cursors"

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Outcome is the result of persisting one event.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeAlreadyExists
)

func (o Outcome) String() string {
	if o == OutcomeAlreadyExists {
		return "already_exists"
	}
	return "inserted"
}

// PersistenceFailure wraps any store error other than a duplicate key.
// The page that produced it must be retried.
type PersistenceFailure struct {
	Signature string
	Table     string
	Err       error
}

func (e *PersistenceFailure) Error() string {
	return fmt.Sprintf("persist %s into %s: %v", e.Signature, e.Table, e.Err)
}

func (e *PersistenceFailure) Unwrap() error {
	return e.Err
}

// Store provides database operations for the service. Events are routed to
// a table by category; several categories may share a table.
type Store struct {
	pool    *pgxpool.Pool
	tables  config.Tables
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
// If m is nil, no metrics are recorded.
func NewStore(pool *pgxpool.Pool, tables config.Tables, m *metrics.Metrics) *Store {
	return &Store{pool: pool, tables: tables, metrics: m}
}

// NewPool connects to Postgres. A non-empty dbName overrides the database
// named in the URL.
func NewPool(ctx context.Context, databaseURL, dbName string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if dbName != "" {
		cfg.ConnConfig.Database = dbName
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// TableFor returns the table events of category c are written to.
// DirectTransfer shares the cancel table.
func (s *Store) TableFor(c classifier.Category) string {
	switch c {
	case classifier.Exchange:
		return s.tables.Exchange
	case classifier.CounterInit:
		return s.tables.CounterInit
	case classifier.Create:
		return s.tables.Create
	case classifier.Cancel, classifier.DirectTransfer:
		return s.tables.Cancel
	default:
		return s.tables.Unmapped
	}
}

// Tables returns the distinct event tables in a stable order.
func (s *Store) Tables() []string {
	seen := make(map[string]bool)
	var out []string
	for _, c := range classifier.Categories {
		t := s.TableFor(c)
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// EnsureSchema creates every event table, its indexes and the cursor
// table. It is safe to run repeatedly.
func (s *Store) EnsureSchema(ctx context.Context) error {
	for _, table := range s.Tables() {
		ident := pgx.Identifier{table}.Sanitize()
		stmts := []string{
			`CREATE TABLE IF NOT EXISTS ` + ident + ` (
				signature  TEXT PRIMARY KEY,
				block_time TIMESTAMPTZ,
				category   TEXT NOT NULL,
				symbol     TEXT NOT NULL DEFAULT 'none',
				size       BIGINT,
				price      BIGINT,
				data       JSONB NOT NULL,
				failed     BOOLEAN NOT NULL DEFAULT false,
				created_at TIMESTAMPTZ NOT NULL DEFAULT now()
			)`,
			`ALTER TABLE ` + ident + ` ADD COLUMN IF NOT EXISTS failed BOOLEAN NOT NULL DEFAULT false`,
			`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{table + "_symbol_idx"}.Sanitize() + ` ON ` + ident + ` (symbol)`,
			`CREATE INDEX IF NOT EXISTS ` + pgx.Identifier{table + "_block_time_idx"}.Sanitize() + ` ON ` + ident + ` (block_time DESC)`,
		}
		for _, stmt := range stmts {
			if _, err := s.pool.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("ensure table %s: %w", table, err)
			}
		}
	}

	_, err := s.pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+pgx.Identifier{CursorTable}.Sanitize()+` (
		name             TEXT PRIMARY KEY,
		before_signature TEXT NOT NULL DEFAULT '',
		until_signature  TEXT NOT NULL DEFAULT '',
		block_time       TIMESTAMPTZ,
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
	)`)
	if err != nil {
		return fmt.Errorf("ensure table %s: %w", CursorTable, err)
	}
	return nil
}

// PersistEvent inserts e into its category's table. A signature that is
// already stored yields OutcomeAlreadyExists and no error. Every other
// error is a *PersistenceFailure.
func (s *Store) PersistEvent(ctx context.Context, e *classifier.Event) (Outcome, error) {
	table := s.TableFor(e.Category)
	data := []byte(e.Raw)
	if len(data) == 0 {
		data = []byte("[]")
	}
	symbol := e.Symbol
	if symbol == "" {
		symbol = classifier.NoSymbol
	}

	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgx.Identifier{table}.Sanitize()+`
			(signature, block_time, category, symbol, size, price, data, failed)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.Signature, unixToTime(e.BlockTime), string(e.Category), symbol, e.Size, e.Price, data, e.Failed,
	)
	if isDuplicateKeyError(err) {
		s.record("insert", table, start, nil)
		return OutcomeAlreadyExists, nil
	}
	s.record("insert", table, start, err)
	if err != nil {
		return 0, &PersistenceFailure{Signature: e.Signature, Table: table, Err: err}
	}
	return OutcomeInserted, nil
}

// StoredEvent is an event as read back from its table.
type StoredEvent struct {
	classifier.Event
	Table     string    `json:"table"`
	CreatedAt time.Time `json:"created_at"`
}

// ListEventsParams filters and paginates ListEvents. Zero values match
// everything.
type ListEventsParams struct {
	Category classifier.Category
	Symbol   string
	Limit    int32
	Offset   int32
}

const eventColumns = `signature, block_time, category, symbol, size, price, data, failed, created_at`

// ListEvents returns events newest first across the tables that can hold
// the requested category.
func (s *Store) ListEvents(ctx context.Context, params ListEventsParams) ([]*StoredEvent, error) {
	tables := s.Tables()
	if params.Category != "" {
		tables = []string{s.TableFor(params.Category)}
	}
	limit := params.Limit
	if limit <= 0 {
		limit = 100
	}

	parts := make([]string, len(tables))
	for i, table := range tables {
		parts[i] = fmt.Sprintf(
			`SELECT %s, %s AS source FROM %s WHERE ($1 = '' OR category = $1) AND ($2 = '' OR symbol = $2)`,
			eventColumns, quoteLiteral(table), pgx.Identifier{table}.Sanitize(),
		)
	}
	query := strings.Join(parts, " UNION ALL ") +
		` ORDER BY block_time DESC NULLS LAST, signature LIMIT $3 OFFSET $4`

	start := time.Now()
	rows, err := s.pool.Query(ctx, query, string(params.Category), params.Symbol, limit, params.Offset)
	if err != nil {
		s.record("list", strings.Join(tables, ","), start, err)
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []*StoredEvent
	for rows.Next() {
		ev, err := scanEvent(rows, true)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		out = append(out, ev)
	}
	err = rows.Err()
	s.record("list", strings.Join(tables, ","), start, err)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	return out, nil
}

// GetEvent looks a signature up across every event table.
func (s *Store) GetEvent(ctx context.Context, signature string) (*StoredEvent, error) {
	for _, table := range s.Tables() {
		start := time.Now()
		row := s.pool.QueryRow(ctx,
			`SELECT `+eventColumns+` FROM `+pgx.Identifier{table}.Sanitize()+` WHERE signature = $1`,
			signature,
		)
		ev, err := scanEvent(row, false)
		if errors.Is(err, pgx.ErrNoRows) {
			s.record("get", table, start, nil)
			continue
		}
		s.record("get", table, start, err)
		if err != nil {
			return nil, fmt.Errorf("get event from %s: %w", table, err)
		}
		ev.Table = table
		return ev, nil
	}
	return nil, ErrNotFound
}

// Checkpoint is the persisted position of a named ingestion cursor.
type Checkpoint struct {
	Name      string     `json:"name"`
	Before    string     `json:"before"`
	Until     string     `json:"until"`
	BlockTime *time.Time `json:"block_time,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// GetCursor loads a checkpoint, or ErrNotFound.
func (s *Store) GetCursor(ctx context.Context, name string) (*Checkpoint, error) {
	start := time.Now()
	var cp Checkpoint
	err := s.pool.QueryRow(ctx,
		`SELECT name, before_signature, until_signature, block_time, updated_at
		FROM `+pgx.Identifier{CursorTable}.Sanitize()+` WHERE name = $1`,
		name,
	).Scan(&cp.Name, &cp.Before, &cp.Until, &cp.BlockTime, &cp.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		s.record("get", CursorTable, start, nil)
		return nil, ErrNotFound
	}
	s.record("get", CursorTable, start, err)
	if err != nil {
		return nil, fmt.Errorf("get cursor %s: %w", name, err)
	}
	return &cp, nil
}

// SaveCursor upserts a checkpoint.
func (s *Store) SaveCursor(ctx context.Context, cp Checkpoint) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+pgx.Identifier{CursorTable}.Sanitize()+`
			(name, before_signature, until_signature, block_time, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (name) DO UPDATE SET
			before_signature = EXCLUDED.before_signature,
			until_signature = EXCLUDED.until_signature,
			block_time = EXCLUDED.block_time,
			updated_at = EXCLUDED.updated_at`,
		cp.Name, cp.Before, cp.Until, cp.BlockTime,
	)
	s.record("upsert", CursorTable, start, err)
	if err != nil {
		return fmt.Errorf("save cursor %s: %w", cp.Name, err)
	}
	return nil
}

// ClearCursor deletes a checkpoint so the next run starts from the head.
func (s *Store) ClearCursor(ctx context.Context, name string) error {
	start := time.Now()
	_, err := s.pool.Exec(ctx, `DELETE FROM `+pgx.Identifier{CursorTable}.Sanitize()+` WHERE name = $1`, name)
	s.record("delete", CursorTable, start, err)
	if err != nil {
		return fmt.Errorf("clear cursor %s: %w", name, err)
	}
	return nil
}

func (s *Store) record(op, table string, start time.Time, err error) {
	if s.metrics != nil {
		s.metrics.RecordDBQuery(op, table, time.Since(start).Seconds(), err)
	}
}

func scanEvent(row pgx.Row, withSource bool) (*StoredEvent, error) {
	var (
		ev        StoredEvent
		blockTime *time.Time
		category  string
		data      []byte
	)
	dest := []any{&ev.Signature, &blockTime, &category, &ev.Symbol, &ev.Size, &ev.Price, &data, &ev.Failed, &ev.CreatedAt}
	if withSource {
		dest = append(dest, &ev.Table)
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	ev.Category = classifier.Category(category)
	ev.Raw = data
	if blockTime != nil {
		bt := blockTime.Unix()
		ev.BlockTime = &bt
	}
	return &ev, nil
}

func unixToTime(sec *int64) *time.Time {
	if sec == nil {
		return nil
	}
	t := time.Unix(*sec, 0).UTC()
	return &t
}

func quoteLiteral(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}
