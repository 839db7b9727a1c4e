package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"restaurant-pos/internal/apperr"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

func init() {
	// modernc registers as "sqlite", which sqlx does not know about.
	sqlx.BindDriver(DriverSQLite, sqlx.QUESTION)
}

// queryer is satisfied by both *sqlx.DB and *sqlx.Tx
type queryer interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// conn holds the queries shared by Store and Tx
type conn struct {
	q      queryer
	driver string
}

type Store struct {
	conn
	db        *sqlx.DB
	txTimeout time.Duration
}

// Tx is a unit of work. Row locks taken through it are held until commit.
type Tx struct {
	conn
	tx *sqlx.Tx
}

// NewStore creates a new database store for the postgres or sqlite driver
func NewStore(driver, databaseURL string) (*Store, error) {
	if driver == "" {
		driver = DriverPostgres
	}
	if driver == DriverSQLite {
		databaseURL = withSQLitePragmas(databaseURL)
	}

	db, err := sqlx.Connect(driver, databaseURL)
	if err != nil {
		return nil, errors.Wrap(err, "failed to connect to database")
	}

	switch driver {
	case DriverSQLite:
		// single writer: transactions are serialized by the pool
		db.SetMaxOpenConns(1)
	default:
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		return nil, errors.Wrap(err, "failed to ping database")
	}

	return &Store{
		conn:      conn{q: db, driver: driver},
		db:        db,
		txTimeout: 5 * time.Second,
	}, nil
}

func withSQLitePragmas(dsn string) string {
	if strings.Contains(dsn, "_pragma") {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
}

// SetTxTimeout bounds how long a single transaction may run
func (s *Store) SetTxTimeout(d time.Duration) {
	s.txTimeout = d
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// Ping checks database connectivity
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InTx runs fn inside a single transaction bounded by the store's tx timeout.
// fn must use the context it is given for every query so lock waits honour
// the bound. Any error from fn rolls the transaction back. Returned errors are
// classified into apperr kinds.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx *Tx) error) (err error) {
	if s.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.txTimeout)
		defer cancel()
	}

	sqlTx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return classifyTx(ctx, err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(ctx, &Tx{conn: conn{q: sqlTx, driver: s.driver}, tx: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return classifyTx(ctx, err, "transaction")
	}

	if err := sqlTx.Commit(); err != nil {
		return classifyTx(ctx, err, "commit transaction")
	}
	return nil
}

// classifyTx reports any failure after the tx deadline expired as a timeout.
// Drivers surface an expired deadline in several shapes (sql.ErrTxDone,
// an interrupted statement), so the context is the authority.
func classifyTx(ctx context.Context, err error, op string) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return apperr.Wrap(err, apperr.KindTimeout, "%s timed out", op)
	}
	return classify(err, op)
}

// forUpdate returns the row lock clause. SQLite has no row locks; its single
// connection already serializes writers.
func (c *conn) forUpdate() string {
	if c.driver == DriverPostgres {
		return " FOR UPDATE"
	}
	return ""
}

func (c *conn) get(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.q.GetContext(ctx, dest, c.q.Rebind(query), args...)
}

func (c *conn) sel(ctx context.Context, dest interface{}, query string, args ...interface{}) error {
	return c.q.SelectContext(ctx, dest, c.q.Rebind(query), args...)
}

func (c *conn) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return c.q.ExecContext(ctx, c.q.Rebind(query), args...)
}

// classify maps driver errors onto apperr kinds so callers can decide
// whether to retry.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}

	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, sql.ErrTxDone) {
		return apperr.Wrap(err, apperr.KindTimeout, "%s timed out", op)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return apperr.Wrap(err, apperr.KindConflict, "%s: concurrent update", op)
		case "23505":
			return apperr.Wrap(err, apperr.KindConflict, "%s: duplicate key", op)
		case "23514":
			return apperr.Wrap(err, apperr.KindIntegrity, "%s: check constraint violated", op)
		case "55P03", "57014":
			return apperr.Wrap(err, apperr.KindTimeout, "%s: lock wait timed out", op)
		}
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed"):
		return apperr.Wrap(err, apperr.KindConflict, "%s: duplicate key", op)
	case strings.Contains(msg, "CHECK constraint failed"):
		return apperr.Wrap(err, apperr.KindIntegrity, "%s: check constraint violated", op)
	case strings.Contains(msg, "database is locked"), strings.Contains(msg, "SQLITE_BUSY"):
		return apperr.Wrap(err, apperr.KindConflict, "%s: database busy", op)
	}

	return errors.Wrap(err, op)
}

func requireAffected(res sql.Result, format string, args ...interface{}) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(format, args...)
	}
	return nil
}

func notFoundOr(err error, format string, args ...interface{}) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(format, args...)
	}
	return err
}
