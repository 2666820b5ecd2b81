package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
	"vaskito/backend/internal/report"
	"vaskito/backend/internal/store"
	"vaskito/backend/internal/store/memory"
)

// hookRepo wraps the memory store so tests can fail or interleave writes.
type hookRepo struct {
	*memory.Store
	insertErr     error
	balanceErr    error
	beforeBalance func()
}

func (r *hookRepo) InsertDelivery(ctx context.Context, d domain.Delivery) (*domain.Delivery, error) {
	if r.insertErr != nil {
		return nil, r.insertErr
	}
	return r.Store.InsertDelivery(ctx, d)
}

func (r *hookRepo) UpdateCustomerBalance(ctx context.Context, id string, snap ledger.Snapshot, expected int64) (*domain.Customer, error) {
	if hook := r.beforeBalance; hook != nil {
		r.beforeBalance = nil
		hook()
	}
	if r.balanceErr != nil {
		return nil, r.balanceErr
	}
	return r.Store.UpdateCustomerBalance(ctx, id, snap, expected)
}

func newTestService(t *testing.T, opts Options) (*Service, *hookRepo) {
	t.Helper()
	repo := &hookRepo{Store: memory.New()}
	reporter := report.NewEngine(repo, nil, time.Minute, time.UTC)
	return New(repo, reporter, opts), repo
}

func adminCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "admin", Role: domain.RoleAdmin})
}

func operatorCtx() context.Context {
	return WithActor(context.Background(), domain.Actor{Username: "reparto", Role: domain.RoleOperator})
}

func money(v int64) decimal.Decimal {
	return decimal.NewFromInt(v)
}

func assertMoney(t *testing.T, want int64, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(money(want)), "want %d got %s", want, got)
}

func mustCustomer(t *testing.T, svc *Service, name string) domain.Customer {
	t.Helper()
	c, err := svc.CreateCustomer(operatorCtx(), domain.CustomerCreateRequest{Name: name, Address: "Ruta 5 km 3"})
	require.NoError(t, err)
	return c
}

func TestRegisterAndUndoDeliveries(t *testing.T) {
	svc, _ := newTestService(t, Options{OptimisticLocking: true})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Ana")

	deferred, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Delivered20: 2, Mode: ledger.ModeDeferred})
	require.NoError(t, err)
	assert.Equal(t, 1, deferred.Customer.DebtUnits12)
	assert.Equal(t, 2, deferred.Customer.DebtUnits20)
	assert.Equal(t, 3, deferred.Customer.StockUnits)
	assertMoney(t, 12000, deferred.Customer.DebtCurrency)
	assertMoney(t, 12000, deferred.Delivery.AmountDeferred)
	assert.False(t, deferred.Delivery.Paid)

	paid, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, ReturnedEmpty: 2, Mode: ledger.ModePaidToday})
	require.NoError(t, err)
	assert.Equal(t, 2, paid.Customer.StockUnits)
	assertMoney(t, 4500, paid.Delivery.AmountCollected)
	assertMoney(t, 12000, paid.Customer.DebtCurrency)

	history, err := svc.ListDeliveries(ctx, c.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, paid.Delivery.ID, history[0].ID)

	// Only the latest one can be taken back.
	_, err = svc.UndoLastDelivery(ctx, c.ID, deferred.Delivery.ID)
	assert.ErrorIs(t, err, ErrNotLatest)

	undone, err := svc.UndoLastDelivery(ctx, c.ID, paid.Delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, paid.Delivery.ID, undone.Reverted.ID)
	assert.Equal(t, 3, undone.Customer.StockUnits)
	assertMoney(t, 12000, undone.Customer.DebtCurrency)

	undone, err = svc.UndoLastDelivery(ctx, c.ID, "")
	require.NoError(t, err)
	assert.Equal(t, 0, undone.Customer.StockUnits)
	assert.Equal(t, 0, undone.Customer.DebtUnits12)
	assert.Equal(t, 0, undone.Customer.DebtUnits20)
	assert.True(t, undone.Customer.DebtCurrency.IsZero())

	_, err = svc.UndoLastDelivery(ctx, c.ID, "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUndoNamedDeliveryBeyondHistoryWindow(t *testing.T) {
	svc, _ := newTestService(t, Options{HistoryLimit: 1})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Ana")
	other := mustCustomer(t, svc, "Beto")

	var ids []string
	for i := 0; i < 3; i++ {
		resp, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Mode: ledger.ModeDeferred})
		require.NoError(t, err)
		ids = append(ids, resp.Delivery.ID)
	}
	foreign, err := svc.RegisterDelivery(ctx, other.ID, domain.DeliveryRequest{Delivered20: 1, Mode: ledger.ModeDeferred})
	require.NoError(t, err)

	_, err = svc.UndoLastDelivery(ctx, c.ID, ids[0])
	assert.ErrorIs(t, err, ErrNotLatest)

	_, err = svc.UndoLastDelivery(ctx, c.ID, foreign.Delivery.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.UndoLastDelivery(ctx, c.ID, "no-such-delivery")
	assert.ErrorIs(t, err, store.ErrNotFound)

	undone, err := svc.UndoLastDelivery(ctx, c.ID, ids[2])
	require.NoError(t, err)
	assert.Equal(t, 2, undone.Customer.DebtUnits12)
}

func TestUndoClampedReturnRestoresStock(t *testing.T) {
	svc, _ := newTestService(t, Options{OptimisticLocking: true})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Hugo")

	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 2, Mode: ledger.ModePaidToday})
	require.NoError(t, err)

	clamped, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, ReturnedEmpty: 6, Mode: ledger.ModePaidToday})
	require.NoError(t, err)
	assert.Equal(t, 0, clamped.Customer.StockUnits)
	assert.Equal(t, 3, clamped.Delivery.ReturnedEmpty)

	undone, err := svc.UndoLastDelivery(ctx, c.ID, clamped.Delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, undone.Customer.StockUnits)
}

func TestCollectOldDebtThenUndo(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Beto")

	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Delivered20: 2, Mode: ledger.ModeDeferred})
	require.NoError(t, err)

	collected, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Mode: ledger.ModeCollectOldDebt})
	require.NoError(t, err)
	assertMoney(t, 12000, collected.Delivery.AmountCollected)
	assert.True(t, collected.Customer.DebtCurrency.IsZero())
	assert.Equal(t, 3, collected.Customer.StockUnits)

	summary, err := svc.Summary(ctx)
	require.NoError(t, err)
	assertMoney(t, 12000, summary.CollectedToday)
	assert.True(t, summary.OutstandingDebt.IsZero())
	assert.Equal(t, 100, summary.CollectionPercent)

	undone, err := svc.UndoLastDelivery(ctx, c.ID, collected.Delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, undone.Customer.DebtUnits12)
	assert.Equal(t, 2, undone.Customer.DebtUnits20)
	assertMoney(t, 12000, undone.Customer.DebtCurrency)

	summary, err = svc.Summary(ctx)
	require.NoError(t, err)
	assert.True(t, summary.CollectedToday.IsZero())
	assert.Equal(t, 0, summary.CollectionPercent)
}

func TestRegisterDeliveryRejectionsWriteNothing(t *testing.T) {
	svc, repo := newTestService(t, Options{Strict: true})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Carla")

	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Mode: ledger.ModePaidToday})
	assert.ErrorIs(t, err, ledger.ErrValidation)
	assert.ErrorIs(t, err, ledger.ErrNothingToRecord)

	_, err = svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, ReturnedEmpty: 3, Mode: ledger.ModePaidToday})
	assert.ErrorIs(t, err, ledger.ErrReturnExceedsStock)

	_, err = svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Mode: ledger.ModeCollectOldDebt})
	assert.ErrorIs(t, err, ledger.ErrOverCollection)

	_, err = svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Mode: "cash"})
	assert.ErrorIs(t, err, ledger.ErrUnknownMode)

	_, err = svc.RegisterDelivery(ctx, "missing", domain.DeliveryRequest{Delivered12: 1, Mode: ledger.ModePaidToday})
	assert.ErrorIs(t, err, store.ErrNotFound)

	recent, err := repo.ListRecentDeliveries(context.Background(), c.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestRegisterDeliveryStoreWriteFailures(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Dario")

	repo.insertErr = errors.New("connection reset")
	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, Mode: ledger.ModeDeferred})
	var writeErr *StoreWriteError
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "insert_delivery", writeErr.Op)
	assert.False(t, writeErr.Partial)

	repo.insertErr = nil
	repo.balanceErr = errors.New("timeout")
	_, err = svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, Mode: ledger.ModeDeferred})
	require.ErrorAs(t, err, &writeErr)
	assert.Equal(t, "update_customer", writeErr.Op)
	assert.True(t, writeErr.Partial)
	assert.NotEmpty(t, writeErr.DeliveryID)

	// The record landed, the snapshot did not.
	recent, err := repo.ListRecentDeliveries(context.Background(), c.ID, 5)
	require.NoError(t, err)
	assert.Len(t, recent, 1)
	got, err := svc.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.DebtUnits20)
}

func TestRegisterDeliveryConflictRemovesRecord(t *testing.T) {
	svc, repo := newTestService(t, Options{OptimisticLocking: true})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Elena")

	repo.beforeBalance = func() {
		_, err := repo.Store.UpdateCustomerBalance(context.Background(), c.ID, ledger.Snapshot{DebtCurrency: decimal.Zero, StockUnits: 7}, 0)
		require.NoError(t, err)
	}

	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered20: 1, Mode: ledger.ModeDeferred})
	assert.ErrorIs(t, err, store.ErrConflict)

	recent, err := repo.ListRecentDeliveries(context.Background(), c.ID, 5)
	require.NoError(t, err)
	assert.Empty(t, recent)
	got, err := svc.GetCustomer(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, 7, got.StockUnits)
}

func TestUndoRetriesAgainstFreshSnapshotOnConflict(t *testing.T) {
	svc, repo := newTestService(t, Options{OptimisticLocking: true})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Fede")

	registered, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 2, Mode: ledger.ModeDeferred})
	require.NoError(t, err)

	// A price change lands between the read and the write.
	repo.beforeBalance = func() {
		_, err := repo.Store.RecalculateDebts(context.Background(), ledger.Prices{Price12: money(3500), Price20: money(5000)})
		require.NoError(t, err)
	}

	undone, err := svc.UndoLastDelivery(ctx, c.ID, registered.Delivery.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, undone.Customer.DebtUnits12)
	assert.True(t, undone.Customer.DebtCurrency.IsZero())
}

func TestUndoUnknownDelivery(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := operatorCtx()
	c := mustCustomer(t, svc, "Gabi")

	_, err := svc.RegisterDelivery(ctx, c.ID, domain.DeliveryRequest{Delivered12: 1, Mode: ledger.ModePaidToday})
	require.NoError(t, err)

	_, err = svc.UndoLastDelivery(ctx, c.ID, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = svc.UndoLastDelivery(ctx, "missing", "")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdatePricesRecomputesDebts(t *testing.T) {
	svc, repo := newTestService(t, Options{})
	c := mustCustomer(t, svc, "Hugo")

	_, err := svc.RegisterDelivery(operatorCtx(), c.ID, domain.DeliveryRequest{Delivered12: 1, Delivered20: 1, Mode: ledger.ModeDeferred})
	require.NoError(t, err)

	_, err = svc.UpdatePrices(operatorCtx(), domain.PriceUpdateRequest{Price12: money(1), Price20: money(1)})
	assert.ErrorIs(t, err, ErrAdminRequired)

	_, err = svc.UpdatePrices(adminCtx(), domain.PriceUpdateRequest{Price12: money(-1), Price20: money(1)})
	assert.ErrorIs(t, err, ledger.ErrNegativePrice)

	_, err = svc.UpdatePrices(adminCtx(), domain.PriceUpdateRequest{Price12: decimal.RequireFromString("3500.125"), Price20: money(5000)})
	assert.ErrorIs(t, err, ledger.ErrPricePrecision)

	resp, err := svc.UpdatePrices(adminCtx(), domain.PriceUpdateRequest{Price12: money(3500), Price20: money(5000)})
	require.NoError(t, err)
	assert.Equal(t, 1, resp.CustomersRecomputed)
	assertMoney(t, 3500, resp.Prices.Price12)

	got, err := svc.GetCustomer(adminCtx(), c.ID)
	require.NoError(t, err)
	assertMoney(t, 8500, got.DebtCurrency)

	// The old record keeps the amount it was written with.
	recent, err := repo.ListRecentDeliveries(context.Background(), c.ID, 1)
	require.NoError(t, err)
	assertMoney(t, 7500, recent[0].AmountDeferred)

	summary, err := svc.Summary(adminCtx())
	require.NoError(t, err)
	assertMoney(t, 8500, summary.OutstandingDebt)

	history, err := svc.ListPriceHistory(adminCtx(), 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assertMoney(t, 3000, history[0].OldPrice12)
	assert.Equal(t, "admin", history[0].ChangedBy)

	_, err = svc.ListPriceHistory(operatorCtx(), 0)
	assert.ErrorIs(t, err, ErrAdminRequired)
}

func TestCustomerManagement(t *testing.T) {
	svc, _ := newTestService(t, Options{})
	ctx := operatorCtx()

	ana := mustCustomer(t, svc, "Ana")
	beto := mustCustomer(t, svc, "Beto")

	_, err := svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: " ana "})
	assert.ErrorIs(t, err, store.ErrDuplicateName)
	_, err = svc.CreateCustomer(ctx, domain.CustomerCreateRequest{Name: "  "})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	renamed := "BETO"
	updated, err := svc.UpdateCustomer(ctx, beto.ID, domain.CustomerUpdateRequest{Name: &renamed})
	require.NoError(t, err)
	assert.Equal(t, "BETO", updated.Name)

	clash := "ANA"
	_, err = svc.UpdateCustomer(ctx, beto.ID, domain.CustomerUpdateRequest{Name: &clash})
	assert.ErrorIs(t, err, store.ErrDuplicateName)

	_, err = svc.RegisterDelivery(ctx, beto.ID, domain.DeliveryRequest{Delivered20: 1, Mode: ledger.ModeDeferred})
	require.NoError(t, err)

	byDebt, err := svc.ListCustomers(ctx, domain.CustomerListQuery{SortBy: domain.SortByDebt})
	require.NoError(t, err)
	require.Len(t, byDebt, 2)
	assert.Equal(t, beto.ID, byDebt[0].ID)

	search, err := svc.ListCustomers(ctx, domain.CustomerListQuery{Search: "ana"})
	require.NoError(t, err)
	require.Len(t, search, 1)
	assert.Equal(t, ana.ID, search[0].ID)

	_, err = svc.ListCustomers(ctx, domain.CustomerListQuery{SortBy: "age"})
	assert.ErrorIs(t, err, store.ErrInvalidInput)

	assert.ErrorIs(t, svc.DeleteCustomer(ctx, ana.ID), ErrAdminRequired)
	assert.ErrorIs(t, svc.DeleteCustomer(adminCtx(), beto.ID), store.ErrHasDeliveries)
	require.NoError(t, svc.DeleteCustomer(adminCtx(), ana.ID))
	_, err = svc.GetCustomer(ctx, ana.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}
