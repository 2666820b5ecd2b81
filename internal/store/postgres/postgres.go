package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/ledger"
	"vaskito/backend/internal/store"
	"vaskito/backend/internal/xid"
)

//go:embed schema.sql
var schema string

// Combined stock lives in envases_20l; envases_12l is written as 0 and
// summed on read so rows from the split-stock era still add up.
const customerColumns = `
	id, nombre, COALESCE(direccion, ''),
	COALESCE(deuda_total, 0), COALESCE(deuda_12l, 0), COALESCE(deuda_20l, 0),
	COALESCE(envases_12l, 0) + COALESCE(envases_20l, 0),
	revision, creado_en`

const deliveryColumns = `
	id, cliente_id,
	COALESCE(bidon_12l, 0), COALESCE(bidon_20l, 0), COALESCE(devueltos_20l, 0),
	modo, COALESCE(pago_realizado, false),
	COALESCE(monto_deuda, 0), COALESCE(monto_pagado, 0),
	cobrado_12l, cobrado_20l, fecha`

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(4)
	db.SetMaxOpenConns(16)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCustomer(row scanner) (domain.Customer, error) {
	var c domain.Customer
	err := row.Scan(&c.ID, &c.Name, &c.Address,
		&c.DebtCurrency, &c.DebtUnits12, &c.DebtUnits20, &c.StockUnits,
		&c.Revision, &c.CreatedAt)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func scanDelivery(row scanner) (domain.Delivery, error) {
	var (
		d    domain.Delivery
		mode string
	)
	err := row.Scan(&d.ID, &d.CustomerID,
		&d.Delivered12, &d.Delivered20, &d.ReturnedEmpty,
		&mode, &d.Paid, &d.AmountDeferred, &d.AmountCollected,
		&d.Collected12, &d.Collected20, &d.CreatedAt)
	d.Mode = ledger.Mode(mode)
	d.CreatedAt = d.CreatedAt.UTC()
	return d, err
}

func (s *Store) ListCustomers(ctx context.Context) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+customerColumns+` FROM clientes ORDER BY lower(nombre), id`)
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return customers, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	c, err := scanCustomer(s.db.QueryRowContext(ctx, `SELECT `+customerColumns+` FROM clientes WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) FindCustomersByName(ctx context.Context, name string) ([]domain.Customer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+customerColumns+`
		FROM clientes
		WHERE lower(btrim(nombre)) = lower($1::text)
	`, strings.TrimSpace(name))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	found := make([]domain.Customer, 0, 1)
	for rows.Next() {
		c, err := scanCustomer(rows)
		if err != nil {
			return nil, err
		}
		found = append(found, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
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

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO clientes (id, nombre, direccion, deuda_total, deuda_12l, deuda_20l, envases_12l, envases_20l, revision, creado_en)
		SELECT $1::text, $2::text, $3::text, 0, 0, 0, 0, 0, 1, $4::timestamptz
		WHERE NOT EXISTS (SELECT 1 FROM clientes WHERE lower(btrim(nombre)) = lower($2::text))
	`, customer.ID, customer.Name, customer.Address, customer.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, store.ErrDuplicateName
	}

	customer.Snapshot = ledger.Snapshot{DebtCurrency: decimal.Zero}
	customer.Revision = 1
	created := customer
	return &created, nil
}

func (s *Store) UpdateCustomerProfile(ctx context.Context, id string, name string, address string) (*domain.Customer, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, store.ErrInvalidInput
	}

	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE clientes
		SET nombre = $2, direccion = $3
		WHERE id = $1
		  AND NOT EXISTS (
			SELECT 1 FROM clientes other
			WHERE other.id <> $1 AND lower(btrim(other.nombre)) = lower($2::text)
		  )
		RETURNING `+customerColumns,
		id, name, strings.TrimSpace(address)))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetCustomer(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, store.ErrDuplicateName
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) UpdateCustomerBalance(ctx context.Context, id string, snapshot ledger.Snapshot, expectedRevision int64) (*domain.Customer, error) {
	if err := snapshot.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	c, err := scanCustomer(s.db.QueryRowContext(ctx, `
		UPDATE clientes
		SET deuda_total = $2, deuda_12l = $3, deuda_20l = $4,
		    envases_12l = 0, envases_20l = $5,
		    revision = revision + 1
		WHERE id = $1 AND ($6::bigint = 0 OR revision = $6::bigint)
		RETURNING `+customerColumns,
		id, snapshot.DebtCurrency, snapshot.DebtUnits12, snapshot.DebtUnits20, snapshot.StockUnits, expectedRevision))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := s.GetCustomer(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &c, nil
}

func (s *Store) DeleteCustomer(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM clientes WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
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
	res, err := s.db.ExecContext(ctx, `
		UPDATE clientes
		SET deuda_total = COALESCE(deuda_12l, 0) * $1::numeric + COALESCE(deuda_20l, 0) * $2::numeric,
		    revision = revision + 1
	`, prices.Price12, prices.Price20)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(affected), nil
}

func (s *Store) InsertDelivery(ctx context.Context, delivery domain.Delivery) (*domain.Delivery, error) {
	if err := delivery.Entry.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}
	if delivery.ID == "" {
		delivery.ID = xid.New()
	}

	// fecha is strictly increasing across the table so "latest" is never a tie.
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO entregas (
			id, cliente_id, bidon_12l, bidon_20l, devueltos_20l,
			modo, pago_realizado, monto_deuda, monto_pagado,
			cobrado_12l, cobrado_20l, fecha
		)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11,
			GREATEST(
				clock_timestamp(),
				COALESCE((SELECT max(fecha) FROM entregas), '-infinity'::timestamptz) + interval '1 microsecond'
			)
		)
		RETURNING fecha
	`, delivery.ID, delivery.CustomerID, delivery.Delivered12, delivery.Delivered20, delivery.ReturnedEmpty,
		string(delivery.Mode), delivery.Paid, delivery.AmountDeferred, delivery.AmountCollected,
		delivery.Collected12, delivery.Collected20).Scan(&delivery.CreatedAt)
	if err != nil {
		if isForeignKeyViolation(err) {
			return nil, store.ErrNotFound
		}
		if isUniqueViolation(err) {
			return nil, store.ErrInvalidInput
		}
		return nil, err
	}

	delivery.CreatedAt = delivery.CreatedAt.UTC()
	created := delivery
	return &created, nil
}

func (s *Store) GetDelivery(ctx context.Context, id string) (*domain.Delivery, error) {
	d, err := scanDelivery(s.db.QueryRowContext(ctx, `SELECT `+deliveryColumns+` FROM entregas WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (s *Store) DeleteDelivery(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM entregas WHERE id = $1`, id)
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

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM entregas
		WHERE cliente_id = $1
		ORDER BY fecha DESC, id DESC
		LIMIT $2
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
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deliveries, nil
}

func (s *Store) ListActivity(ctx context.Context, limit int) ([]domain.Activity, error) {
	if limit < 1 {
		limit = 5
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.cliente_id, COALESCE(c.nombre, ''),
		       COALESCE(e.pago_realizado, false), COALESCE(e.monto_deuda, 0), COALESCE(e.monto_pagado, 0), e.fecha
		FROM entregas e
		LEFT JOIN clientes c ON c.id = e.cliente_id
		ORDER BY e.fecha DESC, e.id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	activity := make([]domain.Activity, 0, limit)
	for rows.Next() {
		var a domain.Activity
		if err := rows.Scan(&a.DeliveryID, &a.CustomerID, &a.CustomerName,
			&a.Paid, &a.AmountDeferred, &a.AmountCollected, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.CreatedAt = a.CreatedAt.UTC()
		activity = append(activity, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return activity, nil
}

func (s *Store) SumCollectedSince(ctx context.Context, since time.Time) (decimal.Decimal, error) {
	var total decimal.Decimal
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(monto_pagado), 0)
		FROM entregas
		WHERE fecha >= $1
	`, since.UTC()).Scan(&total)
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) SumOutstandingDebt(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(deuda_total), 0) FROM clientes`).Scan(&total); err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

func (s *Store) GetPrices(ctx context.Context) (*domain.PriceConfig, error) {
	var cfg domain.PriceConfig
	err := s.db.QueryRowContext(ctx, `
		SELECT precio_12l, precio_20l, actualizado_en
		FROM configuracion
		WHERE id = 1
	`).Scan(&cfg.Price12, &cfg.Price20, &cfg.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

func (s *Store) UpdatePrices(ctx context.Context, prices ledger.Prices) (*domain.PriceConfig, error) {
	if err := prices.Validate(); err != nil {
		return nil, store.ErrInvalidInput
	}

	var cfg domain.PriceConfig
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO configuracion (id, precio_12l, precio_20l, actualizado_en)
		VALUES (1, $1, $2, now())
		ON CONFLICT (id)
		DO UPDATE SET precio_12l = EXCLUDED.precio_12l, precio_20l = EXCLUDED.precio_20l, actualizado_en = now()
		RETURNING precio_12l, precio_20l, actualizado_en
	`, prices.Price12, prices.Price20).Scan(&cfg.Price12, &cfg.Price20, &cfg.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return &cfg, nil
}

func (s *Store) CreatePriceHistory(ctx context.Context, entry domain.PriceHistory) error {
	if entry.ID == "" {
		entry.ID = xid.New()
	}
	if entry.ChangedAt.IsZero() {
		entry.ChangedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO historial_precios (
			id, precio_12l_anterior, precio_20l_anterior, precio_12l_nuevo, precio_20l_nuevo, modificado_por, modificado_en
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, entry.ID, entry.OldPrice12, entry.OldPrice20, entry.NewPrice12, entry.NewPrice20, entry.ChangedBy, entry.ChangedAt)
	return err
}

func (s *Store) ListPriceHistory(ctx context.Context, limit int) ([]domain.PriceHistory, error) {
	if limit < 1 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, precio_12l_anterior, precio_20l_anterior, precio_12l_nuevo, precio_20l_nuevo, modificado_por, modificado_en
		FROM historial_precios
		ORDER BY modificado_en DESC, id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	history := make([]domain.PriceHistory, 0, limit)
	for rows.Next() {
		var h domain.PriceHistory
		if err := rows.Scan(&h.ID, &h.OldPrice12, &h.OldPrice20, &h.NewPrice12, &h.NewPrice20, &h.ChangedBy, &h.ChangedAt); err != nil {
			return nil, err
		}
		h.ChangedAt = h.ChangedAt.UTC()
		history = append(history, h)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return history, nil
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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,now())
	`, user.Username, user.Password, user.Role, user.Active, user.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return store.ErrInvalidInput
		}
		return err
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at
		FROM app_users
		ORDER BY username ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0, 8)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, err
		}
		user.CreatedAt = user.CreatedAt.UTC()
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return users, nil
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	username = strings.ToLower(strings.TrimSpace(username))
	if username == "" || strings.TrimSpace(password) == "" {
		return store.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE app_users
		SET password = $2, updated_at = now()
		WHERE username = $1
	`, username, password)
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

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
