package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"slices"
	"strings"
	"time"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
	"vaskito/backend/internal/report"
	"vaskito/backend/internal/store"
)

var (
	ErrAdminRequired = errors.New("admin role required")
	ErrNotLatest     = errors.New("only the most recent delivery can be undone")
)

// StoreWriteError is returned when a write to the repository fails during a
// delivery, undo or price change. Partial is set when an earlier write of
// the same action already landed and the customer may need a manual check.
type StoreWriteError struct {
	Op         string
	CustomerID string
	DeliveryID string
	Partial    bool
	Err        error
}

func (e *StoreWriteError) Error() string {
	if e.Partial {
		return fmt.Sprintf("store write failed during %s after earlier writes landed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("store write failed during %s: %v", e.Op, e.Err)
}

func (e *StoreWriteError) Unwrap() error {
	return e.Err
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	// Strict rejects any delivery or undo that would drive a count below
	// zero instead of clamping it.
	Strict bool
	// OptimisticLocking makes balance writes conditional on the revision
	// read at the start of the action.
	OptimisticLocking bool
	HistoryLimit      int
}

type Service struct {
	repo         store.Repository
	reporter     *report.Engine
	mutator      ledger.Mutator
	optimistic   bool
	historyLimit int
}

func New(repo store.Repository, reporter *report.Engine, opts Options) *Service {
	if reporter == nil {
		reporter = report.NewEngine(repo, nil, 0, time.UTC)
	}
	if opts.HistoryLimit < 1 {
		opts.HistoryLimit = 5
	}

	return &Service{
		repo:         repo,
		reporter:     reporter,
		mutator:      ledger.NewMutator(opts.Strict),
		optimistic:   opts.OptimisticLocking,
		historyLimit: opts.HistoryLimit,
	}
}

func (s *Service) ListCustomers(ctx context.Context, query domain.CustomerListQuery) ([]domain.Customer, error) {
	customers, err := s.repo.ListCustomers(ctx)
	if err != nil {
		return nil, err
	}

	if search := strings.ToLower(strings.TrimSpace(query.Search)); search != "" {
		customers = slices.DeleteFunc(customers, func(c domain.Customer) bool {
			return !strings.Contains(strings.ToLower(c.Name), search) &&
				!strings.Contains(strings.ToLower(c.Address), search)
		})
	}

	switch query.SortBy {
	case domain.SortByDebt:
		slices.SortStableFunc(customers, func(a, b domain.Customer) int {
			return b.DebtCurrency.Cmp(a.DebtCurrency)
		})
	case "", domain.SortByName:
		slices.SortStableFunc(customers, func(a, b domain.Customer) int {
			return strings.Compare(store.NormalizeName(a.Name), store.NormalizeName(b.Name))
		})
	default:
		return nil, fmt.Errorf("%w: unknown sort %q", store.ErrInvalidInput, query.SortBy)
	}
	return customers, nil
}

func (s *Service) GetCustomer(ctx context.Context, id string) (domain.Customer, error) {
	customer, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}
	return *customer, nil
}

func (s *Service) CreateCustomer(ctx context.Context, req domain.CustomerCreateRequest) (domain.Customer, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
	}

	existing, err := s.repo.FindCustomersByName(ctx, name)
	if err != nil {
		return domain.Customer{}, err
	}
	if len(existing) > 0 {
		return domain.Customer{}, store.ErrDuplicateName
	}

	created, err := s.repo.CreateCustomer(ctx, domain.Customer{
		Name:      name,
		Address:   strings.TrimSpace(req.Address),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		return domain.Customer{}, err
	}
	return *created, nil
}

func (s *Service) UpdateCustomer(ctx context.Context, id string, req domain.CustomerUpdateRequest) (domain.Customer, error) {
	existing, err := s.repo.GetCustomer(ctx, id)
	if err != nil {
		return domain.Customer{}, err
	}

	name := existing.Name
	if req.Name != nil {
		name = strings.TrimSpace(*req.Name)
		if name == "" {
			return domain.Customer{}, fmt.Errorf("%w: name is required", store.ErrInvalidInput)
		}
	}
	address := existing.Address
	if req.Address != nil {
		address = strings.TrimSpace(*req.Address)
	}

	if store.NormalizeName(name) != store.NormalizeName(existing.Name) {
		matches, err := s.repo.FindCustomersByName(ctx, name)
		if err != nil {
			return domain.Customer{}, err
		}
		for _, m := range matches {
			if m.ID != id {
				return domain.Customer{}, store.ErrDuplicateName
			}
		}
	}

	updated, err := s.repo.UpdateCustomerProfile(ctx, id, name, address)
	if err != nil {
		return domain.Customer{}, err
	}
	return *updated, nil
}

func (s *Service) DeleteCustomer(ctx context.Context, id string) error {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return ErrAdminRequired
	}

	if err := s.repo.DeleteCustomer(ctx, id); err != nil {
		return err
	}
	s.reporter.Invalidate(ctx)
	return nil
}

// RegisterDelivery applies one route event to the customer and persists the
// record and the new snapshot, in that order.
func (s *Service) RegisterDelivery(ctx context.Context, customerID string, req domain.DeliveryRequest) (domain.DeliveryResponse, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.DeliveryResponse{}, err
	}
	prices, err := s.repo.GetPrices(ctx)
	if err != nil {
		return domain.DeliveryResponse{}, err
	}

	next, entry, err := s.mutator.Apply(customer.Snapshot, req.Intent(), prices.Prices)
	if err != nil {
		return domain.DeliveryResponse{}, err
	}

	inserted, err := s.repo.InsertDelivery(ctx, domain.Delivery{CustomerID: customerID, Entry: entry})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.DeliveryResponse{}, err
		}
		return domain.DeliveryResponse{}, &StoreWriteError{Op: "insert_delivery", CustomerID: customerID, Err: err}
	}

	updated, err := s.repo.UpdateCustomerBalance(ctx, customerID, next, s.expectedRevision(customer))
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			if delErr := s.repo.DeleteDelivery(ctx, inserted.ID); delErr != nil {
				log.Printf("[service] WARN: conflict on customer=%s and failed to remove delivery=%s: %v", customerID, inserted.ID, delErr)
				return domain.DeliveryResponse{}, &StoreWriteError{Op: "delete_delivery", CustomerID: customerID, DeliveryID: inserted.ID, Partial: true, Err: delErr}
			}
			return domain.DeliveryResponse{}, store.ErrConflict
		}
		log.Printf("[service] WARN: delivery=%s recorded but balance update failed customer=%s: %v", inserted.ID, customerID, err)
		return domain.DeliveryResponse{}, &StoreWriteError{Op: "update_customer", CustomerID: customerID, DeliveryID: inserted.ID, Partial: true, Err: err}
	}

	s.reporter.Invalidate(ctx)
	return domain.DeliveryResponse{Delivery: *inserted, Customer: *updated}, nil
}

// UndoLastDelivery takes back the customer's most recent delivery at the
// current prices. deliveryID may be empty to mean "whatever is latest".
func (s *Service) UndoLastDelivery(ctx context.Context, customerID string, deliveryID string) (domain.UndoDeliveryResponse, error) {
	customer, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return domain.UndoDeliveryResponse{}, err
	}

	recent, err := s.repo.ListRecentDeliveries(ctx, customerID, s.historyLimit)
	if err != nil {
		return domain.UndoDeliveryResponse{}, err
	}
	if len(recent) == 0 {
		return domain.UndoDeliveryResponse{}, store.ErrNotFound
	}
	target := recent[0]
	if deliveryID != "" && deliveryID != target.ID {
		return domain.UndoDeliveryResponse{}, s.notLatest(ctx, customerID, deliveryID)
	}

	prices, err := s.repo.GetPrices(ctx)
	if err != nil {
		return domain.UndoDeliveryResponse{}, err
	}

	restored, err := s.mutator.Reverse(target.Entry, customer.Snapshot, prices.Prices)
	if err != nil {
		return domain.UndoDeliveryResponse{}, err
	}

	if err := s.repo.DeleteDelivery(ctx, target.ID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.UndoDeliveryResponse{}, err
		}
		return domain.UndoDeliveryResponse{}, &StoreWriteError{Op: "delete_delivery", CustomerID: customerID, DeliveryID: target.ID, Err: err}
	}

	updated, err := s.repo.UpdateCustomerBalance(ctx, customerID, restored, s.expectedRevision(customer))
	if errors.Is(err, store.ErrConflict) {
		// The record is already gone; reverse against the fresh snapshot once.
		updated, err = s.retryReverse(ctx, customerID, target.Entry, prices.Prices)
	}
	if err != nil {
		log.Printf("[service] WARN: delivery=%s removed but balance restore failed customer=%s: %v", target.ID, customerID, err)
		return domain.UndoDeliveryResponse{}, &StoreWriteError{Op: "update_customer", CustomerID: customerID, DeliveryID: target.ID, Partial: true, Err: err}
	}

	s.reporter.Invalidate(ctx)
	return domain.UndoDeliveryResponse{Reverted: target, Customer: *updated}, nil
}

// notLatest classifies an undo request naming something other than the
// latest delivery. The lookup is not bounded by the history window.
func (s *Service) notLatest(ctx context.Context, customerID string, deliveryID string) error {
	named, err := s.repo.GetDelivery(ctx, deliveryID)
	if err != nil {
		return err
	}
	if named.CustomerID != customerID {
		return store.ErrNotFound
	}
	return ErrNotLatest
}

func (s *Service) retryReverse(ctx context.Context, customerID string, entry ledger.Entry, prices ledger.Prices) (*domain.Customer, error) {
	fresh, err := s.repo.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	restored, err := s.mutator.Reverse(entry, fresh.Snapshot, prices)
	if err != nil {
		return nil, err
	}
	return s.repo.UpdateCustomerBalance(ctx, customerID, restored, s.expectedRevision(fresh))
}

func (s *Service) ListDeliveries(ctx context.Context, customerID string, limit int) ([]domain.Delivery, error) {
	if _, err := s.repo.GetCustomer(ctx, customerID); err != nil {
		return nil, err
	}
	if limit < 1 {
		limit = s.historyLimit
	}
	return s.repo.ListRecentDeliveries(ctx, customerID, limit)
}

func (s *Service) GetPrices(ctx context.Context) (domain.PriceConfig, error) {
	prices, err := s.repo.GetPrices(ctx)
	if err != nil {
		return domain.PriceConfig{}, err
	}
	return *prices, nil
}

// UpdatePrices stores the new prices and recomputes every customer's
// currency debt from their unit debt. Past records keep their amounts.
func (s *Service) UpdatePrices(ctx context.Context, req domain.PriceUpdateRequest) (domain.PriceUpdateResponse, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.PriceUpdateResponse{}, ErrAdminRequired
	}

	next := ledger.Prices{Price12: req.Price12, Price20: req.Price20}
	if err := next.Validate(); err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	previous, err := s.repo.GetPrices(ctx)
	if err != nil {
		return domain.PriceUpdateResponse{}, err
	}

	saved, err := s.repo.UpdatePrices(ctx, next)
	if err != nil {
		return domain.PriceUpdateResponse{}, &StoreWriteError{Op: "update_prices", Err: err}
	}

	if err := s.repo.CreatePriceHistory(ctx, domain.PriceHistory{
		OldPrice12: previous.Price12,
		OldPrice20: previous.Price20,
		NewPrice12: saved.Price12,
		NewPrice20: saved.Price20,
		ChangedBy:  actor.Username,
		ChangedAt:  time.Now().UTC(),
	}); err != nil {
		log.Printf("[service] WARN: failed to record price history: %v", err)
	}

	recomputed, err := s.repo.RecalculateDebts(ctx, saved.Prices)
	if err != nil {
		log.Printf("[service] WARN: prices saved but debt recompute failed: %v", err)
		return domain.PriceUpdateResponse{}, &StoreWriteError{Op: "recalculate_debts", Partial: true, Err: err}
	}

	s.reporter.Invalidate(ctx)
	return domain.PriceUpdateResponse{Prices: *saved, CustomersRecomputed: recomputed}, nil
}

func (s *Service) ListPriceHistory(ctx context.Context, limit int) ([]domain.PriceHistory, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return nil, ErrAdminRequired
	}
	if limit < 1 {
		limit = 50
	}
	return s.repo.ListPriceHistory(ctx, limit)
}

func (s *Service) Summary(ctx context.Context) (domain.Summary, error) {
	return s.reporter.Summary(ctx)
}

func (s *Service) expectedRevision(customer *domain.Customer) int64 {
	if !s.optimistic {
		return 0
	}
	return customer.Revision
}
