package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Nerdware-Systems-Limited/shop-frontend-sub000/internal/domain"
)

var ErrOrderNotFound = errors.New("order not found")

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Credentials struct {
	Driver            string
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	SQLitePath        string
	MigrationsDirPath string
}

// LedgerEntry is the locally recorded outcome of an order placed through this service.
type LedgerEntry struct {
	OrderNumber       string
	OrderID           string
	SessionID         string
	Total             float64
	PaymentMethod     domain.PaymentMethod
	CheckoutRequestID string
	PaymentState      domain.PaymentState
	ReceiptNumber     string
	ResultDesc        string
	IsPaid            bool
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Order rebuilds the subset of the backend order needed to resume reconciliation.
func (e *LedgerEntry) Order() domain.Order {
	return domain.Order{
		ID:                     e.OrderID,
		OrderNumber:            e.OrderNumber,
		Total:                  e.Total,
		PaymentMethod:          domain.PaymentMethodSelection{Method: e.PaymentMethod},
		MPesaCheckoutRequestID: e.CheckoutRequestID,
		IsPaid:                 e.IsPaid,
		CreatedAt:              e.CreatedAt,
		UpdatedAt:              e.UpdatedAt,
	}
}

type OrderLedger interface {
	RecordOrder(ctx context.Context, sessionID string, order *domain.Order) (bool, error)
	UpdatePaymentState(ctx context.Context, orderNumber string, state domain.PaymentState, receipt, desc string) error
	RecordPaymentAttempt(ctx context.Context, order *domain.Order) error
	GetOrder(ctx context.Context, orderNumber string) (*LedgerEntry, error)
	ListUnresolved(ctx context.Context) ([]*LedgerEntry, error)
	RunMigrations(*Credentials) error
	Close() error
}
