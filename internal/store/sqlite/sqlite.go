/*
Package sqlite provides an embedded SQLite implementation of store.Repository.

It is meant for single-device deployments: one delivery truck, one tablet,
no network database. Table and column names are the same as the PostgreSQL
store so a dump can move between the two.

STORAGE:
  Money columns are TEXT holding decimal strings and are summed in Go, so
  no amount ever passes through a float. Timestamps are TEXT in a fixed
  width UTC layout that sorts lexicographically.

CONCURRENCY:
  Writes are serialized with a mutex. Duplicate-name checks and the
  strictly increasing fecha are computed under the same lock.

USAGE:
  s, err := sqlite.New("./data/vaskito.db")
  if err != nil {
      log.Fatal(err)
  }
  defer s.Close()
*/
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
	"vaskito/backend/internal/store"
	"vaskito/backend/internal/xid"
)

const timeLayout = "2006-01-02T15:04:05.000000000Z"

type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and migrates it.
// Use ":memory:" for a throwaway database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS clientes (
		id TEXT PRIMARY KEY,
		nombre TEXT NOT NULL,
		direccion TEXT NOT NULL DEFAULT '',
		deuda_total TEXT NOT NULL DEFAULT '0',
		deuda_12l INTEGER NOT NULL DEFAULT 0,
		deuda_20l INTEGER NOT NULL DEFAULT 0,
		envases_12l INTEGER NOT NULL DEFAULT 0,
		envases_20l INTEGER NOT NULL DEFAULT 0,
		revision INTEGER NOT NULL DEFAULT 1,
		creado_en TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS entregas (
		id TEXT PRIMARY KEY,
		cliente_id TEXT NOT NULL REFERENCES clientes (id) ON DELETE RESTRICT,
		bidon_12l INTEGER NOT NULL DEFAULT 0,
		bidon_20l INTEGER NOT NULL DEFAULT 0,
		devueltos_20l INTEGER NOT NULL DEFAULT 0,
		modo TEXT NOT NULL DEFAULT '',
		pago_realizado INTEGER NOT NULL DEFAULT 0,
		monto_deuda TEXT NOT NULL DEFAULT '0',
		monto_pagado TEXT NOT NULL DEFAULT '0',
		cobrado_12l INTEGER NOT NULL DEFAULT 0,
		cobrado_20l INTEGER NOT NULL DEFAULT 0,
		fecha TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_entregas_cliente_fecha ON entregas (cliente_id, fecha DESC);
	CREATE INDEX IF NOT EXISTS idx_entregas_fecha ON entregas (fecha DESC);

	CREATE TABLE IF NOT EXISTS configuracion (
		id INTEGER PRIMARY KEY,
		precio_12l TEXT NOT NULL,
		precio_20l TEXT NOT NULL,
		actualizado_en TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS historial_precios (
		id TEXT PRIMARY KEY,
		precio_12l_anterior TEXT NOT NULL,
		precio_20l_anterior TEXT NOT NULL,
		precio_12l_nuevo TEXT NOT NULL,
		precio_20l_nuevo TEXT NOT NULL,
		modificado_por TEXT NOT NULL DEFAULT '',
		modificado_en TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS app_users (
		username TEXT PRIMARY KEY,
		password TEXT NOT NULL,
		role TEXT NOT NULL,
		active INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO configuracion (id, precio_12l, precio_20l, actualizado_en)
		VALUES (1, '3000', '4500', ?)
	`, formatTime(time.Now()))
	return err
}

const customerColumns = `id, nombre, direccion, deuda_total, deuda_12l, deuda_20l, envases_12l + envases_20l, revision, creado_en`

const deliveryColumns = `id, cliente_id, bidon_12l, bidon_20l, devueltos_20l, modo, pago_realizado,
	monto_deuda, monto_pagado, cobrado_12l, cobrado_20l, fecha`

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var (
		c       domain.Customer
		created string
	)
	if err := row.Scan(&c.ID, &c.Name, &c.Address,
		&c.DebtCurrency, &c.DebtUnits12, &c.DebtUnits20, &c.StockUnits,
		&c.Revision, &created); err != nil {
		return c, err
	}
	var err error
	c.CreatedAt, err = parseTime(created)
	return c, err
}

func scanDelivery(row scanner) (domain.Delivery, error) {
	var (
		d     domain.Delivery
		mode  string
		fecha string
	)
	if err := row.Scan(&d.ID, &d.CustomerID,
		&d.Delivered12, &d.Delivered20, &d.ReturnedEmpty,
		&mode, &d.Paid, &d.AmountDeferred, &d.AmountCollected,
		&d.Collected12, &d.Collected20, &fecha); err != nil {
		return d, err
	}
	d.Mode = ledger.Mode(mode)
	var err error
	d.CreatedAt, err = parseTime(fecha)
	return d, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM clientes ORDER BY lower(nombre), id`)
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getCustomer(ctx, id)
}

func (s *Store) getCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM clientes WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

// FindCustomersByName compares in Go; SQLite's lower() only folds ASCII.
func (s *Store) FindCustomersByName(ctx context.Context, name string) ([]domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all, err := s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM clientes`)
	if err != nil {
		return nil, err
	}
	key := store.NormalizeName(name)
	found := make([]domain.Customer, 0, 1)
	for _, c := range all {
		if store.NormalizeName(c.Name) == key {
			found = append(found, c)
		}
	}
	return found, nil
}

func (s *Store) CreateCustomer(ctx context.Context, customer domain.Customer) (*domain.Customer, error) {
	customer.Name = strings.TrimSpace(customer.Name)
	customer.Address = strings.TrimSpace(customer.Address)
	if customer.Name == "" {
		return nil, store.ErrInvalidInput
	}
	if customer.ID == "" {
		customer.ID = xid.New()
	}
	if customer.CreatedAt.IsZero() {
		customer.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	taken, err := s.nameTakenLocked(ctx, customer.Name, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, store.ErrDuplicateName
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO clientes (id, nombre, direccion, deuda_total, deuda_12l, deuda_20l, envases_12l, envases_20l, revision, creado_en)
		VALUES (?, ?, ?, '0', 0, 0, 0, 0, 1, ?)
	`, customer.ID, customer.Name, customer.Address, formatTime(customer.CreatedAt))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	customer.Snapshot = ledger.Snapshot{DebtCurrency: decimal.Zero}
	customer.Revision = 1
	customer.CreatedAt, _ = parseTime(formatTime(customer.CreatedAt))
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomerProfile(ctx context.Context, id string, name string, address string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.getCustomer(ctx, id); err != nil {
		return nil, err
	}
	taken, err := s.nameTakenLocked(ctx, name, id)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, store.ErrDuplicateName
	}

	if _, err := s.db.ExecContext(ctx, `UPDATE clientes SET nombre = ?, direccion = ? WHERE id = ?`,
		name, strings.TrimSpace(address), id); err != nil {
		return nil, err
	}
	return s.getCustomer(ctx, id)
}

func (s *Store) UpdateCustomerBalance(ctx context.Context, id string, snapshot ledger.Snapshot, expectedRevision int64) (*domain.Customer, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE clientes
		SET deuda_total = ?, deuda_12l = ?, deuda_20l = ?, envases_12l = 0, envases_20l = ?, revision = revision + 1
		WHERE id = ? AND (? = 0 OR revision = ?)
	`, snapshot.DebtCurrency.String(), snapshot.DebtUnits12, snapshot.DebtUnits20, snapshot.StockUnits,
		id, expectedRevision, expectedRevision)
	if err != nil {
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		if _, err := s.getCustomer(ctx, id); err != nil {
			return nil, err
		}
		return nil, store.ErrConflict
	}
	return s.getCustomer(ctx, id)
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM clientes WHERE id = ?`, id)
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return store.ErrHasDeliveries
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RecalculateDebts(ctx context.Context, prices ledger.Prices) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	customers, err := s.queryCustomers(ctx, `SELECT `+customerColumns+` FROM clientes`)
	if err != nil {
		return 0, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	for _, c := range customers {
		repriced := c.Snapshot.Reprice(prices)
		if _, err := tx.ExecContext(ctx, `UPDATE clientes SET deuda_total = ?, revision = revision + 1 WHERE id = ?`,
			repriced.DebtCurrency.String(), c.ID); err != nil {
			return 0, err
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(customers), nil
}

func (s *Store) InsertDelivery(ctx context.Context, delivery domain.Delivery) (*domain.Delivery, error) {
	if err := delivery.Entry.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}
	if delivery.ID == "" {
		delivery.ID = xid.New()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	at := time.Now().UTC()
	var last sql.NullString
	if err := s.db.QueryRowContext(ctx, `SELECT max(fecha) FROM entregas`).Scan(&last); err != nil {
		return nil, err
	}
	if last.Valid {
		prev, err := parseTime(last.String)
		if err != nil {
			return nil, err
		}
		if !at.After(prev) {
			at = prev.Add(time.Microsecond)
		}
	}
	delivery.CreatedAt, _ = parseTime(formatTime(at))

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entregas (
			id, cliente_id, bidon_12l, bidon_20l, devueltos_20l,
			modo, pago_realizado, monto_deuda, monto_pagado,
			cobrado_12l, cobrado_20l, fecha
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, delivery.ID, delivery.CustomerID, delivery.Delivered12, delivery.Delivered20, delivery.ReturnedEmpty,
		string(delivery.Mode), delivery.Paid, delivery.AmountDeferred.String(), delivery.AmountCollected.String(),
		delivery.Collected12, delivery.Collected20, formatTime(delivery.CreatedAt))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintForeignKey) {
			return nil, store.ErrNotFound
		}
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	created := delivery
	return &created, nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, err := scanDelivery(s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM entregas WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteDelivery(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM entregas WHERE id = ?`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ListRecentDeliveries(ctx context.Context, customerID string, limit int) ([]domain.Delivery, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM entregas
		WHERE cliente_id = ?
		ORDER BY fecha DESC, id DESC
		LIMIT ?
	`, customerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	deliveries := make([]domain.Delivery, 0, limit)
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit < 1 {
		limit = 5
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.cliente_id, COALESCE(c.nombre, ''), e.pago_realizado, e.monto_deuda, e.monto_pagado, e.fecha
		FROM entregas e
		LEFT JOIN clientes c ON c.id = e.cliente_id
		ORDER BY e.fecha DESC, e.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activity := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var (
			a     domain.Activity
			fecha string
		)
		if err := rows.Scan(&a.DeliveryID, &a.CustomerID, &a.CustomerName, &a.Paid, &a.AmountDeferred, &a.AmountCollected, &fecha); err != nil {
			return nil, err
		}
		if a.CreatedAt, err = parseTime(fecha); err != nil {
			return nil, err
		}
		activity = append(activity, a)
	}
	return activity, rows.Err()
}

func (s *Store) SumCollectedSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumColumn(ctx, `SELECT monto_pagado FROM entregas WHERE fecha >= ?`, formatTime(since))
}

func (s *Store) SumOutstandingDebt(ctx context.Context) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sumColumn(ctx, `SELECT deuda_total FROM clientes`)
}

func (s *Store) GetPrices(ctx context.Context) (*domain.PriceConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		cfg     domain.PriceConfig
		updated string
	)
	err := s.db.QueryRowContext(ctx, `SELECT precio_12l, precio_20l, actualizado_en FROM configuracion WHERE id = 1`).
		Scan(&cfg.Price12, &cfg.Price20, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	if cfg.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Store) UpdatePrices(ctx context.Context, prices ledger.Prices) (*domain.PriceConfig, error) {
	if err := prices.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO configuracion (id, precio_12l, precio_20l, actualizado_en)
		VALUES (1, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			precio_12l = excluded.precio_12l,
			precio_20l = excluded.precio_20l,
			actualizado_en = excluded.actualizado_en
	`, prices.Price12.String(), prices.Price20.String(), formatTime(now))
	if err != nil {
		return nil, err
	}
	cfg := domain.PriceConfig{Prices: prices}
	cfg.UpdatedAt, _ = parseTime(formatTime(now))
	return &cfg, nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO historial_precios (
			id, precio_12l_anterior, precio_20l_anterior, precio_12l_nuevo, precio_20l_nuevo, modificado_por, modificado_en
		)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, entry.ID, entry.OldPrice12.String(), entry.OldPrice20.String(), entry.NewPrice12.String(), entry.NewPrice20.String(),
		entry.ChangedBy, formatTime(entry.ChangedAt))
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, precio_12l_anterior, precio_20l_anterior, precio_12l_nuevo, precio_20l_nuevo, modificado_por, modificado_en
		FROM historial_precios
		ORDER BY modificado_en DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var (
			h       domain.PriceHistory
			changed string
		)
		if err := rows.Scan(&h.ID, &h.OldPrice12, &h.OldPrice20, &h.NewPrice12, &h.NewPrice20, &h.ChangedBy, &changed); err != nil {
			return nil, err
		}
		if h.ChangedAt, err = parseTime(changed); err != nil {
			return nil, err
		}
		history = append(history, h)
	}
	return history, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	user.Username = strings.ToLower(strings.TrimSpace(user.Username))
	if user.Username == "" || strings.TrimSpace(user.Password) == "" {
		return store.ErrInvalidInput
	}
	if user.Role == "" {
		user.Role = domain.RoleOperator
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, user.Username, user.Password, user.Role, user.Active, formatTime(user.CreatedAt))
	if err != nil {
		if isConstraint(err, sqlite3.ErrConstraintPrimaryKey, sqlite3.ErrConstraintUnique) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT username, password, role, active, created_at FROM app_users ORDER BY username ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var (
			user    domain.UserAccount
			created string
		)
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &created); err != nil {
			return nil, err
		}
		if user.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `UPDATE app_users SET password = ? WHERE username = ?`, password, username)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) queryCustomers(ctx context.Context, query string, args ...any) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	customers := make([]domain.Customer, 0, 64)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		customers = append(customers, c)
	}
	return customers, rows.Err()
}

func (s *Store) nameTakenLocked(ctx context.Context, name string, exceptID string) (bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, nombre FROM clientes`)
	if err != nil {
		return false, err
	}
	defer rows.Close()

	key := store.NormalizeName(name)
	for rows.Next() {
		var id, existing string
		if err := rows.Scan(&id, &existing); err != nil {
			return false, err
		}
		if id != exceptID && store.NormalizeName(existing) == key {
			return true, nil
		}
	}
	return false, rows.Err()
}

func (s *Store) sumColumn(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, err
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, err
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

func isConstraint(err error, codes ...sqlite3.ErrNoExtended) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	for _, code := range codes {
		if sqliteErr.ExtendedCode == code {
			return true
		}
	}
	return false
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(v string) (time.Time, error) {
	t, err := time.Parse(timeLayout, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", v, err)
	}
	return t.UTC(), nil
}
