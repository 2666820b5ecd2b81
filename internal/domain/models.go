package domain

import (
	"time"

	"github.com/shopspring/decimal"

	"vaskito/backend/internal/ledger"
)

// Customer is one stop on the route. The embedded snapshot is only ever
// replaced with the output of ledger.Mutator.
type Customer struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Address string `json:"address"`
	ledger.Snapshot
	Revision  int64     `json:"revision"`
	CreatedAt time.Time `json:"created_at"`
}

type CustomerCreateRequest struct {
	Name    string `json:"name"`
	Address string `json:"address"`
}

type CustomerUpdateRequest struct {
	Name    *string `json:"name,omitempty"`
	Address *string `json:"address,omitempty"`
}

type CustomerListQuery struct {
	Search string
	SortBy string
}

type CustomerListResponse struct {
	Customers []Customer `json:"customers"`
}

// Delivery is one row of the route ledger.
type Delivery struct {
	ID         string `json:"id"`
	CustomerID string `json:"customer_id"`
	ledger.Entry
	CreatedAt time.Time `json:"created_at"`
}

type DeliveryRequest struct {
	Delivered12   int         `json:"delivered_12"`
	Delivered20   int         `json:"delivered_20"`
	ReturnedEmpty int         `json:"returned_empty"`
	Mode          ledger.Mode `json:"mode"`
}

func (r DeliveryRequest) Intent() ledger.Intent {
	return ledger.Intent{
		Delivered12:   r.Delivered12,
		Delivered20:   r.Delivered20,
		ReturnedEmpty: r.ReturnedEmpty,
		Mode:          r.Mode,
	}
}

// DeliveryResponse returns the refreshed customer so the caller can
// re-render without reloading the list.
type DeliveryResponse struct {
	Delivery Delivery `json:"delivery"`
	Customer Customer `json:"customer"`
}

type UndoDeliveryRequest struct {
	DeliveryID string `json:"delivery_id"`
	ManagerPIN string `json:"manager_pin,omitempty"`
}

type UndoDeliveryResponse struct {
	Reverted Delivery `json:"reverted"`
	Customer Customer `json:"customer"`
}

type DeliveryHistoryResponse struct {
	Deliveries []Delivery `json:"deliveries"`
}

type PriceConfig struct {
	ledger.Prices
	UpdatedAt time.Time `json:"updated_at"`
}

type PriceUpdateRequest struct {
	Price12 decimal.Decimal `json:"price_12l"`
	Price20 decimal.Decimal `json:"price_20l"`
}

type PriceUpdateResponse struct {
	Prices              PriceConfig `json:"prices"`
	CustomersRecomputed int         `json:"customers_recomputed"`
}

type PriceHistory struct {
	ID         string          `json:"id"`
	OldPrice12 decimal.Decimal `json:"old_price_12l"`
	OldPrice20 decimal.Decimal `json:"old_price_20l"`
	NewPrice12 decimal.Decimal `json:"new_price_12l"`
	NewPrice20 decimal.Decimal `json:"new_price_20l"`
	ChangedBy  string          `json:"changed_by"`
	ChangedAt  time.Time       `json:"changed_at"`
}

// Activity is a ledger row joined with the customer's name for the dashboard.
type Activity struct {
	DeliveryID      string          `json:"delivery_id"`
	CustomerID      string          `json:"customer_id"`
	CustomerName    string          `json:"customer_name"`
	Paid            bool            `json:"paid"`
	AmountDeferred  decimal.Decimal `json:"amount_deferred"`
	AmountCollected decimal.Decimal `json:"amount_collected"`
	CreatedAt       time.Time       `json:"created_at"`
}

type Summary struct {
	OutstandingDebt   decimal.Decimal `json:"outstanding_debt"`
	CollectedToday    decimal.Decimal `json:"collected_today"`
	CollectionPercent int             `json:"collection_percent"`
	RecentActivity    []Activity      `json:"recent_activity"`
	Day               string          `json:"day"`
	GeneratedAt       time.Time       `json:"generated_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type OperatorCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type OperatorPasswordRequest struct {
	Password string `json:"password"`
}

type OperatorUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	RoleAdmin    = "admin"
	RoleOperator = "operator"
)

const (
	SortByName = "name"
	SortByDebt = "debt"
)
