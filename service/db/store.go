package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/brojonat/candymint/service/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// DBTX is the subset of pgx shared by pools, connections and transactions.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store provides database operations for the service.
type Store struct {
	db      DBTX
	metrics *metrics.Metrics
}

// NewStore creates a new Store with the given database connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{db: pool}
}

// NewStoreWithDB creates a Store over any pgx connection, such as a transaction.
func NewStoreWithDB(db DBTX) *Store {
	return &Store{db: db}
}

// WithMetrics records query latency on m.
func (s *Store) WithMetrics(m *metrics.Metrics) *Store {
	s.metrics = m
	return s
}

// Migrate applies the embedded schema. Every migration is idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrationsFS, "migrations/*.sql")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := migrationsFS.ReadFile(name)
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		if _, err := s.db.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", name, err)
		}
	}
	return nil
}

// MintAttempt is a resolved mint attempt as persisted.
type MintAttempt struct {
	Signature      string
	Network        string
	MachineAddress string
	WalletAddress  string
	MintAddress    *string
	Outcome        string // "success", "failure" or "timeout"
	State          string // terminal tracker state
	Cause          *string
	Message        string
	ErrorCode      *int64
	Price          decimal.Decimal
	PriceUnit      string
	Polls          int32
	SubmittedAt    time.Time
	ResolvedAt     *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// RecordMintAttemptParams contains the parameters for recording an attempt.
type RecordMintAttemptParams struct {
	Signature      string
	Network        string
	MachineAddress string
	WalletAddress  string
	MintAddress    *string
	Outcome        string
	State          string
	Cause          *string
	Message        string
	ErrorCode      *int64
	Price          decimal.Decimal
	PriceUnit      string
	Polls          int32
	SubmittedAt    time.Time
	ResolvedAt     *time.Time
}

// ListMintAttemptsByWalletParams contains pagination parameters.
type ListMintAttemptsByWalletParams struct {
	WalletAddress string
	Network       string
	Limit         int32
	Offset        int32
}

const mintAttemptColumns = `signature, network, machine_address, wallet_address, mint_address,
	outcome, state, cause, message, error_code, price::text, price_unit, polls,
	submitted_at, resolved_at, created_at, updated_at`

const recordMintAttempt = `
INSERT INTO mint_attempts (
	signature, network, machine_address, wallet_address, mint_address,
	outcome, state, cause, message, error_code, price, price_unit, polls,
	submitted_at, resolved_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11::numeric, $12, $13, $14, $15)
ON CONFLICT (signature, network) DO UPDATE SET
	mint_address = EXCLUDED.mint_address,
	outcome = EXCLUDED.outcome,
	state = EXCLUDED.state,
	cause = EXCLUDED.cause,
	message = EXCLUDED.message,
	error_code = EXCLUDED.error_code,
	polls = EXCLUDED.polls,
	resolved_at = EXCLUDED.resolved_at,
	updated_at = now()
RETURNING ` + mintAttemptColumns

// RecordMintAttempt inserts an attempt, or updates the resolution of an
// attempt already recorded under the same signature. Workflow retries rely on
// this being an upsert.
func (s *Store) RecordMintAttempt(ctx context.Context, params RecordMintAttemptParams) (*MintAttempt, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, recordMintAttempt,
		params.Signature,
		params.Network,
		params.MachineAddress,
		params.WalletAddress,
		pgtextFromStringPtr(params.MintAddress),
		params.Outcome,
		params.State,
		pgtextFromStringPtr(params.Cause),
		params.Message,
		pgint8FromInt64Ptr(params.ErrorCode),
		params.Price.String(),
		params.PriceUnit,
		params.Polls,
		pgtype.Timestamptz{Time: params.SubmittedAt, Valid: true},
		pgTimestamptzFromTimePtr(params.ResolvedAt),
	)
	a, err := scanMintAttempt(row)
	s.metrics.RecordDBQuery("record", "mint_attempts", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to record mint attempt %s: %w", params.Signature, err)
	}
	return a, nil
}

// GetMintAttempt retrieves an attempt by its signature and network.
func (s *Store) GetMintAttempt(ctx context.Context, signature string, network string) (*MintAttempt, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, `SELECT `+mintAttemptColumns+`
		FROM mint_attempts WHERE signature = $1 AND network = $2`, signature, network)
	a, err := scanMintAttempt(row)
	s.metrics.RecordDBQuery("get", "mint_attempts", time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("mint attempt %s: %w", signature, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get mint attempt %s: %w", signature, err)
	}
	return a, nil
}

// ListMintAttemptsByWallet returns a wallet's attempts, most recent first.
func (s *Store) ListMintAttemptsByWallet(ctx context.Context, params ListMintAttemptsByWalletParams) ([]*MintAttempt, error) {
	start := time.Now()
	rows, err := s.db.Query(ctx, `SELECT `+mintAttemptColumns+`
		FROM mint_attempts
		WHERE wallet_address = $1 AND network = $2
		ORDER BY submitted_at DESC
		LIMIT $3 OFFSET $4`,
		params.WalletAddress, params.Network, params.Limit, params.Offset)
	if err != nil {
		s.metrics.RecordDBQuery("list", "mint_attempts", time.Since(start).Seconds(), err)
		return nil, fmt.Errorf("failed to list mint attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*MintAttempt
	for rows.Next() {
		a, err := scanMintAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mint attempt: %w", err)
		}
		attempts = append(attempts, a)
	}
	err = rows.Err()
	s.metrics.RecordDBQuery("list", "mint_attempts", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to list mint attempts: %w", err)
	}
	return attempts, nil
}

// MachineSnapshot is a recorded observation of a candy machine.
type MachineSnapshot struct {
	ID             int64
	MachineAddress string
	Network        string
	ItemsAvailable int64
	ItemsRedeemed  int64
	ItemsRemaining int64
	IsSoldOut      bool
	Price          decimal.Decimal
	PriceUnit      string
	ObservedAt     time.Time
}

// RecordSnapshotParams contains the parameters for recording a snapshot.
type RecordSnapshotParams struct {
	MachineAddress string
	Network        string
	ItemsAvailable int64
	ItemsRedeemed  int64
	ItemsRemaining int64
	IsSoldOut      bool
	Price          decimal.Decimal
	PriceUnit      string
	ObservedAt     time.Time
}

const snapshotColumns = `id, machine_address, network, items_available, items_redeemed,
	items_remaining, is_sold_out, price::text, price_unit, observed_at`

// RecordSnapshot appends a snapshot to the machine's history.
func (s *Store) RecordSnapshot(ctx context.Context, params RecordSnapshotParams) (*MachineSnapshot, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, `
		INSERT INTO machine_snapshots (
			machine_address, network, items_available, items_redeemed,
			items_remaining, is_sold_out, price, price_unit, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, $8, $9)
		RETURNING `+snapshotColumns,
		params.MachineAddress,
		params.Network,
		params.ItemsAvailable,
		params.ItemsRedeemed,
		params.ItemsRemaining,
		params.IsSoldOut,
		params.Price.String(),
		params.PriceUnit,
		pgtype.Timestamptz{Time: params.ObservedAt, Valid: true},
	)
	snap, err := scanSnapshot(row)
	s.metrics.RecordDBQuery("record", "machine_snapshots", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("failed to record snapshot of %s: %w", params.MachineAddress, err)
	}
	return snap, nil
}

// GetLatestSnapshot returns the most recent snapshot of a machine.
func (s *Store) GetLatestSnapshot(ctx context.Context, machineAddress string, network string) (*MachineSnapshot, error) {
	start := time.Now()
	row := s.db.QueryRow(ctx, `SELECT `+snapshotColumns+`
		FROM machine_snapshots
		WHERE machine_address = $1 AND network = $2
		ORDER BY observed_at DESC, id DESC
		LIMIT 1`, machineAddress, network)
	snap, err := scanSnapshot(row)
	s.metrics.RecordDBQuery("get_latest", "machine_snapshots", time.Since(start).Seconds(), err)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("snapshot of %s: %w", machineAddress, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest snapshot of %s: %w", machineAddress, err)
	}
	return snap, nil
}

// DeleteSnapshotsOlderThan prunes snapshot history.
func (s *Store) DeleteSnapshotsOlderThan(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM machine_snapshots WHERE observed_at < $1`,
		pgtype.Timestamptz{Time: before, Valid: true})
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanMintAttempt(row pgx.Row) (*MintAttempt, error) {
	var (
		a           MintAttempt
		mintAddress pgtype.Text
		cause       pgtype.Text
		errorCode   pgtype.Int8
		price       string
		submittedAt pgtype.Timestamptz
		resolvedAt  pgtype.Timestamptz
		createdAt   pgtype.Timestamptz
		updatedAt   pgtype.Timestamptz
	)
	err := row.Scan(
		&a.Signature,
		&a.Network,
		&a.MachineAddress,
		&a.WalletAddress,
		&mintAddress,
		&a.Outcome,
		&a.State,
		&cause,
		&a.Message,
		&errorCode,
		&price,
		&a.PriceUnit,
		&a.Polls,
		&submittedAt,
		&resolvedAt,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		return nil, err
	}
	if a.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	a.MintAddress = stringPtrFromPgtext(mintAddress)
	a.Cause = stringPtrFromPgtext(cause)
	a.ErrorCode = int64PtrFromPgint8(errorCode)
	a.SubmittedAt = submittedAt.Time
	a.ResolvedAt = timePtrFromPgTimestamptz(resolvedAt)
	a.CreatedAt = createdAt.Time
	a.UpdatedAt = updatedAt.Time
	return &a, nil
}

func scanSnapshot(row pgx.Row) (*MachineSnapshot, error) {
	var (
		snap       MachineSnapshot
		price      string
		observedAt pgtype.Timestamptz
	)
	err := row.Scan(
		&snap.ID,
		&snap.MachineAddress,
		&snap.Network,
		&snap.ItemsAvailable,
		&snap.ItemsRedeemed,
		&snap.ItemsRemaining,
		&snap.IsSoldOut,
		&price,
		&snap.PriceUnit,
		&observedAt,
	)
	if err != nil {
		return nil, err
	}
	if snap.Price, err = decimal.NewFromString(price); err != nil {
		return nil, fmt.Errorf("invalid stored price %q: %w", price, err)
	}
	snap.ObservedAt = observedAt.Time
	return &snap, nil
}

func pgtextFromStringPtr(s *string) pgtype.Text {
	if s == nil {
		return pgtype.Text{Valid: false}
	}
	return pgtype.Text{String: *s, Valid: true}
}

func stringPtrFromPgtext(t pgtype.Text) *string {
	if !t.Valid {
		return nil
	}
	return &t.String
}

func pgint8FromInt64Ptr(v *int64) pgtype.Int8 {
	if v == nil {
		return pgtype.Int8{Valid: false}
	}
	return pgtype.Int8{Int64: *v, Valid: true}
}

func int64PtrFromPgint8(v pgtype.Int8) *int64 {
	if !v.Valid {
		return nil
	}
	return &v.Int64
}

func pgTimestamptzFromTimePtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{Valid: false}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func timePtrFromPgTimestamptz(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	return &t.Time
}
