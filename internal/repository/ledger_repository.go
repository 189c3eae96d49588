package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type Ledger struct {
	db     *sql.DB
	driver string
}

func NewLedger(cred *Credentials) (*Ledger, error) {
	var (
		db  *sql.DB
		err error
	)
	switch cred.Driver {
	case DriverPostgres:
		psqlconn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
			cred.Host,
			cred.Port,
			cred.User,
			cred.Password,
			cred.DBName)
		db, err = sql.Open("postgres", psqlconn)
	case DriverSQLite, "":
		db, err = sql.Open("sqlite", cred.SQLitePath)
	default:
		return nil, fmt.Errorf("unsupported ledger driver %q", cred.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	driver := cred.Driver
	if driver == DriverPostgres {
		db.SetMaxOpenConns(100)
		db.SetMaxIdleConns(10)
	} else {
		driver = DriverSQLite
		// one connection keeps a ":memory:" database alive and serializes writers
		db.SetMaxOpenConns(1)
	}
	return &Ledger{db: db, driver: driver}, nil
}

func (r *Ledger) RunMigrations(cred *Credentials) error {
	var (
		driver database.Driver
		err    error
	)
	if r.driver == DriverPostgres {
		driver, err = postgres.WithInstance(r.db, &postgres.Config{
			MigrationsTable: "ledger_schema_migrations",
		})
	} else {
		driver, err = sqlite.WithInstance(r.db, &sqlite.Config{
			MigrationsTable: "ledger_schema_migrations",
		})
	}
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		r.driver,
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

// RecordOrder stores a freshly placed order in PENDING state. It reports false
// when the order number was already recorded.
func (r *Ledger) RecordOrder(ctx context.Context, sessionID string, order *domain.Order) (bool, error) {
	now := time.Now().UTC()
	state := domain.PaymentStatePending
	if order.IsPaid {
		state = domain.PaymentStateCompleted
	}

	query := `INSERT INTO order_ledger (order_number, order_id, session_id, total, payment_method,
	              checkout_request_id, payment_state, is_paid, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (order_number) DO NOTHING`

	res, err := r.db.ExecContext(ctx, query,
		order.OrderNumber,
		order.ID,
		sessionID,
		order.Total,
		string(order.PaymentMethod.Method),
		order.MPesaCheckoutRequestID,
		string(state),
		order.IsPaid,
		now,
		now)
	if err != nil {
		return false, fmt.Errorf("insert ledger entry: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (r *Ledger) UpdatePaymentState(ctx context.Context, orderNumber string, state domain.PaymentState, receipt, desc string) error {
	query := `UPDATE order_ledger
	          SET payment_state = $1, receipt_number = $2, result_desc = $3, is_paid = $4, updated_at = $5
	          WHERE order_number = $6`

	res, err := r.db.ExecContext(ctx, query,
		string(state),
		receipt,
		desc,
		state == domain.PaymentStateCompleted,
		time.Now().UTC(),
		orderNumber)
	if err != nil {
		return fmt.Errorf("update payment state: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// RecordPaymentAttempt stores the checkout request of a re-initiated payment
// and puts the order back into PENDING.
func (r *Ledger) RecordPaymentAttempt(ctx context.Context, order *domain.Order) error {
	query := `UPDATE order_ledger
	          SET payment_method = $1, checkout_request_id = $2, payment_state = $3,
	              receipt_number = '', result_desc = '', is_paid = FALSE, updated_at = $4
	          WHERE order_number = $5`

	res, err := r.db.ExecContext(ctx, query,
		string(order.PaymentMethod.Method),
		order.MPesaCheckoutRequestID,
		string(domain.PaymentStatePending),
		time.Now().UTC(),
		order.OrderNumber)
	if err != nil {
		return fmt.Errorf("update payment attempt: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

const ledgerColumns = `order_number, order_id, session_id, total, payment_method, checkout_request_id,
	payment_state, receipt_number, result_desc, is_paid, created_at, updated_at`

func (r *Ledger) GetOrder(ctx context.Context, orderNumber string) (*LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM order_ledger WHERE order_number = $1`

	entry, err := scanEntry(r.db.QueryRowContext(ctx, query, orderNumber))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query ledger entry: %w", err)
	}
	return entry, nil
}

// ListUnresolved returns mobile-money orders whose payment outcome is still being polled.
func (r *Ledger) ListUnresolved(ctx context.Context) ([]*LedgerEntry, error) {
	query := `SELECT ` + ledgerColumns + ` FROM order_ledger
	          WHERE payment_state IN ($1, $2) AND checkout_request_id <> ''
	          ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query,
		string(domain.PaymentStatePending),
		string(domain.PaymentStateProcessing))
	if err != nil {
		return nil, fmt.Errorf("query unresolved orders: %w", err)
	}
	defer rows.Close()

	var entries []*LedgerEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan ledger row: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return entries, nil
}

func (r *Ledger) Close() error {
	return r.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (*LedgerEntry, error) {
	var (
		e      LedgerEntry
		method string
		state  string
	)
	err := row.Scan(
		&e.OrderNumber,
		&e.OrderID,
		&e.SessionID,
		&e.Total,
		&method,
		&e.CheckoutRequestID,
		&state,
		&e.ReceiptNumber,
		&e.ResultDesc,
		&e.IsPaid,
		&e.CreatedAt,
		&e.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.PaymentMethod = domain.PaymentMethod(method)
	e.PaymentState = domain.PaymentState(state)
	return &e, nil
}
