package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidInput  = errors.New("invalid input")
	ErrDuplicateName = errors.New("customer name already exists")
	ErrHasDeliveries = errors.New("customer has recorded deliveries")
	ErrConflict      = errors.New("customer was modified concurrently")
)

// Repository is the gateway to the customer, delivery and price tables.
// Each call is a single remote write or read; nothing spans two calls.
type Repository interface {
	ListCustomers(ctx context.Context) ([]domain.Customer, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)
	FindCustomersByName(ctx context.Context, name string) ([]domain.Customer, error)
	CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error)
	UpdateCustomerProfile(ctx context.Context, id string, name string, address string) (*domain.Customer, error)
	// UpdateCustomerBalance writes the snapshot. When expectedRevision is
	// positive the write only lands if the stored revision still matches,
	// otherwise ErrConflict. Every successful write bumps the revision.
	UpdateCustomerBalance(ctx context.Context, id string, snapshot ledger.Snapshot, expectedRevision int64) (*domain.Customer, error)
	DeleteCustomer(ctx context.Context, id string) error
	RecalculateDebts(ctx context.Context, prices ledger.Prices) (int, error)

	InsertDelivery(ctx context.Context, delivery domain.Delivery) (*domain.Delivery, error)
	GetDelivery(ctx context.Context, id string) (*domain.Delivery, error)
	DeleteDelivery(ctx context.Context, id string) error
	ListRecentDeliveries(ctx context.Context, customerID string, limit int) ([]domain.Delivery, error)
	ListActivity(ctx context.Context, limit int) ([]domain.Activity, error)
	SumCollectedSince(ctx context.Context, since time.Time) (decimal.Decimal, error)
	SumOutstandingDebt(ctx context.Context) (decimal.Decimal, error)

	GetPrices(ctx context.Context) (*domain.PriceConfig, error)
	UpdatePrices(ctx context.Context, prices ledger.Prices) (*domain.PriceConfig, error)
	CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error
	ListPriceHistory(ctx context.Context, limit int) ([]domain.PriceHistory, error)

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

// NormalizeName is the form customer names are compared in.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
