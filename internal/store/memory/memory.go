package memory

import (
	"context"
	"log"
	"os"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
	"vaskito/backend/internal/store"
	"vaskito/backend/internal/xid"
)

type Store struct {
	mu              sync.RWMutex
	customersByID   map[string]domain.Customer
	deliveries      []domain.Delivery
	lastDeliveryAt  time.Time
	prices          domain.PriceConfig
	priceHistory    []domain.PriceHistory
	usersByUsername map[string]domain.UserAccount
}

// seedUsers builds the initial in-memory user accounts for dev/demo mode.
// Credentials are read from SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD;
// if unset, dev defaults are used and a warning is logged. The in-memory
// store is never used when a database is configured.
func seedUsers() map[string]domain.UserAccount {
	adminPwd := envOr("SEED_ADMIN_PASSWORD", "admin123")
	operatorPwd := envOr("SEED_OPERATOR_PASSWORD", "reparto123")
	if os.Getenv("SEED_ADMIN_PASSWORD") == "" || os.Getenv("SEED_OPERATOR_PASSWORD") == "" {
		log.Println("[memory-store] WARNING: using default dev credentials. Set SEED_ADMIN_PASSWORD and SEED_OPERATOR_PASSWORD to override.")
	}

	now := time.Now().UTC()
	users := map[string]domain.UserAccount{}
	for _, u := range []struct {
		username string
		password string
		role     string
	}{
		{"admin", adminPwd, domain.RoleAdmin},
		{"reparto", operatorPwd, domain.RoleOperator},
	} {
		hash, err := bcrypt.GenerateFromPassword([]byte(u.password), bcrypt.DefaultCost)
		if err != nil {
			log.Fatalf("[memory-store] failed to hash seed password for %s: %v", u.username, err)
		}
		users[u.username] = domain.UserAccount{
			Username:  u.username,
			Password:  string(hash),
			Role:      u.role,
			Active:    true,
			CreatedAt: now,
		}
	}
	return users
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// DefaultPrices are the unit prices a fresh store starts with.
func DefaultPrices() ledger.Prices {
	return ledger.Prices{
		Price12: decimal.NewFromInt(3000),
		Price20: decimal.NewFromInt(4500),
	}
}

func New() *Store {
	return &Store{
		customersByID:   make(map[string]domain.Customer),
		deliveries:      make([]domain.Delivery, 0, 128),
		prices:          domain.PriceConfig{Prices: DefaultPrices(), UpdatedAt: time.Now().UTC()},
		priceHistory:    make([]domain.PriceHistory, 0, 8),
		usersByUsername: make(map[string]domain.UserAccount),
	}
}

func NewSeeded() *Store {
	s := New()
	s.usersByUsername = seedUsers()
	return s
}

func (s *Store) ListCustomers(_ context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customers := make([]domain.Customer, 0, len(s.customersByID))
	for _, c := range s.customersByID {
		customers = append(customers, c)
	}
	slices.SortFunc(customers, func(a, b domain.Customer) int {
		return strings.Compare(store.NormalizeName(a.Name), store.NormalizeName(b.Name))
	})
	return customers, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindCustomersByName(_ context.Context, name string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := store.NormalizeName(name)
	found := make([]domain.Customer, 0, 1)
	for _, c := range s.customersByID {
		if store.NormalizeName(c.Name) == key {
			found = append(found, c)
		}
	}
	return found, nil
}

func (s *Store) CreateCustomer(_ context.Context, customer domain.Customer) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer.Name = strings.TrimSpace(customer.Name)
	customer.Address = strings.TrimSpace(customer.Address)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if s.nameTakenLocked(customer.Name, "") {
		return nil, store.ErrDuplicateName
	}
	if customer.ID == "" {
		customer.ID = xid.New()
	}
	if _, exists := s.customersByID[customer.ID]; exists {
		return nil, store.ErrInvalidInput
	}
	customer.Snapshot = ledger.Snapshot{DebtCurrency: decimal.Zero}
	customer.Revision = 1
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.customersByID[customer.ID] = customer
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomerProfile(_ context.Context, id string, name string, address string) (*domain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}
	if s.nameTakenLocked(name, id) {
		return nil, store.ErrDuplicateName
	}

	customer.Name = name
	customer.Address = strings.TrimSpace(address)
	s.customersByID[id] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) UpdateCustomerBalance(_ context.Context, id string, snapshot ledger.Snapshot, expectedRevision int64) (*domain.Customer, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	customer, exists := s.customersByID[id]
	if !exists {
		return nil, store.ErrNotFound
	}
	if expectedRevision > 0 && customer.Revision != expectedRevision {
		return nil, store.ErrConflict
	}

	customer.Snapshot = snapshot
	customer.Revision++
	s.customersByID[id] = customer
	updated := customer
	return &updated, nil
}

func (s *Store) DeleteCustomer(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[id]; !exists {
		return store.ErrNotFound
	}
	for _, d := range s.deliveries {
		if d.CustomerID == id {
			return store.ErrHasDeliveries
		}
	}
	delete(s.customersByID, id)
	return nil
}

func (s *Store) RecalculateDebts(_ context.Context, prices ledger.Prices) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, customer := range s.customersByID {
		customer.Snapshot = customer.Snapshot.Reprice(prices)
		customer.Revision++
		s.customersByID[id] = customer
	}
	return len(s.customersByID), nil
}

func (s *Store) InsertDelivery(_ context.Context, delivery domain.Delivery) (*domain.Delivery, error) {
	if err := delivery.Entry.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.customersByID[delivery.CustomerID]; !exists {
		return nil, store.ErrNotFound
	}
	if delivery.ID == "" {
		delivery.ID = xid.New()
	}

	// Server-assigned and strictly increasing, so history order is stable
	// even when two rows land within the clock's resolution.
	at := time.Now().UTC()
	if !at.After(s.lastDeliveryAt) {
		at = s.lastDeliveryAt.Add(time.Microsecond)
	}
	s.lastDeliveryAt = at
	delivery.CreatedAt = at

	s.deliveries = append(s.deliveries, delivery)
	created := delivery
	return &created, nil
}

func (s *Store) GetDelivery(_ context.Context, id string) (*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	idx := slices.IndexFunc(s.deliveries, func(d domain.Delivery) bool { return d.ID == id })
	if idx < 0 {
		return nil, store.ErrNotFound
	}
	found := s.deliveries[idx]
	return &found, nil
}

func (s *Store) DeleteDelivery(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := slices.IndexFunc(s.deliveries, func(d domain.Delivery) bool { return d.ID == id })
	if idx < 0 {
		return store.ErrNotFound
	}
	s.deliveries = slices.Delete(s.deliveries, idx, idx+1)
	return nil
}

func (s *Store) ListRecentDeliveries(_ context.Context, customerID string, limit int) ([]domain.Delivery, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Delivery, 0, limit)
	for i := len(s.deliveries) - 1; i >= 0 && len(result) < limit; i-- {
		if s.deliveries[i].CustomerID == customerID {
			result = append(result, s.deliveries[i])
		}
	}
	return result, nil
}

func (s *Store) ListActivity(_ context.Context, limit int) ([]domain.Activity, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Activity, 0, limit)
	for i := len(s.deliveries) - 1; i >= 0 && len(result) < limit; i-- {
		d := s.deliveries[i]
		result = append(result, domain.Activity{
			DeliveryID:      d.ID,
			CustomerID:      d.CustomerID,
			CustomerName:    s.customersByID[d.CustomerID].Name,
			Paid:            d.Paid,
			AmountDeferred:  d.AmountDeferred,
			AmountCollected: d.AmountCollected,
			CreatedAt:       d.CreatedAt,
		})
	}
	return result, nil
}

func (s *Store) SumCollectedSince(_ context.Context, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, d := range s.deliveries {
		if !d.CreatedAt.Before(since) {
			total = total.Add(d.AmountCollected)
		}
	}
	return total, nil
}

func (s *Store) SumOutstandingDebt(_ context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, c := range s.customersByID {
		total = total.Add(c.DebtCurrency)
	}
	return total, nil
}

func (s *Store) GetPrices(_ context.Context) (*domain.PriceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prices := s.prices
	return &prices, nil
}

func (s *Store) UpdatePrices(_ context.Context, prices ledger.Prices) (*domain.PriceConfig, error) {
	if err := prices.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.prices = domain.PriceConfig{Prices: prices, UpdatedAt: time.Now().UTC()}
	updated := s.prices
	return &updated, nil
}

func (s *Store) CreatePriceHistory(_ context.Context, entry domain.PriceHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}
	s.priceHistory = append(s.priceHistory, entry)
	return nil
}

func (s *Store) ListPriceHistory(_ context.Context, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := make([]domain.PriceHistory, 0, min(limit, len(s.priceHistory)))
	for i := len(s.priceHistory) - 1; i >= 0 && len(history) < limit; i-- {
		history = append(history, s.priceHistory[i])
	}
	return history, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrInvalidInput
	}
	user.Username = username
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Active = true
	s.usersByUsername[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]domain.UserAccount, 0, len(s.usersByUsername))
	for _, user := range s.usersByUsername {
		users = append(users, user)
	}
	slices.SortFunc(users, func(a, b domain.UserAccount) int {
		return strings.Compare(a.Username, b.Username)
	})
	return users, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}
	user, exists := s.usersByUsername[username]
	if !exists {
		return store.ErrNotFound
	}
	user.Password = password
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) nameTakenLocked(name string, exceptID string) bool {
	key := store.NormalizeName(name)
	for id, c := range s.customersByID {
		if id != exceptID && store.NormalizeName(c.Name) == key {
			return true
		}
	}
	return false
}
