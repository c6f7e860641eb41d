package offerlog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"

	"naimuDriver/internal/timeutil"
)

const (
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// Entry is one resolved offer.
type Entry struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	RideID     string    `json:"ride_id,omitempty"`
	Kind       string    `json:"kind"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	ReceivedAt time.Time `json:"received_at"`
	ResolvedAt time.Time `json:"resolved_at"`
}

// Open connects to the history database. MySQL DSNs get parseTime so
// DATETIME columns scan into time.Time.
func Open(driver, dsn string) (*sql.DB, error) {
	switch driver {
	case DriverMySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = timeutil.Location()
		dsn = cfg.FormatDSN()
	case DriverPostgres:
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxIdleConns(5)
	return db, nil
}

// Repo stores offer history in the offer_history table.
type Repo struct {
	db     *sql.DB
	driver string
}

// NewRepo constructs a Repo for db opened with driver.
func NewRepo(db *sql.DB, driver string) *Repo {
	return &Repo{db: db, driver: driver}
}

var schema = map[string][]string{
	DriverMySQL: {
		`CREATE TABLE IF NOT EXISTS offer_history (
			id BIGINT AUTO_INCREMENT PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			ride_id VARCHAR(64) NULL,
			kind VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			error_text TEXT NULL,
			received_at DATETIME(3) NOT NULL,
			resolved_at DATETIME(3) NOT NULL,
			INDEX idx_offer_history_resolved (resolved_at)
		)`,
	},
	DriverPostgres: {
		`CREATE TABLE IF NOT EXISTS offer_history (
			id BIGSERIAL PRIMARY KEY,
			order_id VARCHAR(64) NOT NULL,
			ride_id VARCHAR(64) NULL,
			kind VARCHAR(16) NOT NULL,
			status VARCHAR(16) NOT NULL,
			error_text TEXT NULL,
			received_at TIMESTAMPTZ NOT NULL,
			resolved_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_offer_history_resolved ON offer_history (resolved_at)`,
	},
}

// EnsureSchema creates the history table when it is missing.
func (r *Repo) EnsureSchema(ctx context.Context) error {
	stmts, ok := schema[r.driver]
	if !ok {
		return fmt.Errorf("unsupported database driver %q", r.driver)
	}
	for _, stmt := range stmts {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("ensure offer_history: %w", err)
		}
	}
	return nil
}

// Record inserts e.
func (r *Repo) Record(ctx context.Context, e Entry) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`INSERT INTO offer_history (order_id, ride_id, kind, status, error_text, received_at, resolved_at) VALUES (?,?,?,?,?,?,?)`),
		e.OrderID, nullString(e.RideID), e.Kind, e.Status, nullString(e.Error), e.ReceivedAt, e.ResolvedAt)
	if err != nil {
		return fmt.Errorf("record offer %s: %w", e.OrderID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (r *Repo) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(ctx, r.rebind(`SELECT id, order_id, ride_id, kind, status, error_text, received_at, resolved_at FROM offer_history ORDER BY resolved_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var rideID, errText sql.NullString
		if err := rows.Scan(&e.ID, &e.OrderID, &rideID, &e.Kind, &e.Status, &errText, &e.ReceivedAt, &e.ResolvedAt); err != nil {
			return nil, err
		}
		e.RideID = rideID.String
		e.Error = errText.String
		e.ReceivedAt = timeutil.InAlmaty(e.ReceivedAt)
		e.ResolvedAt = timeutil.InAlmaty(e.ResolvedAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Prune deletes entries resolved before cutoff.
func (r *Repo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM offer_history WHERE resolved_at < ?`), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *Repo) rebind(query string) string {
	if r.driver != DriverPostgres {
		return query
	}
	return rebindDollar(query)
}

// rebindDollar turns ? placeholders into $1, $2, ...
func rebindDollar(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
