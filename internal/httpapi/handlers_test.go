package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"vaskito/backend/internal/domain"
	"vaskito/backend/internal/service"
	"vaskito/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()
	return newTestAPIWithOptions(t, service.Options{OptimisticLocking: true})
}

func newTestAPIWithOptions(t *testing.T, opts service.Options) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, opts)
	auth := NewAuthManager("test-secret-key", time.Hour, "739154", repo)

	return New(svc, auth, "*")
}

// mustHashPassword generates a bcrypt hash of the given password or fails the test.
func mustHashPassword(t *testing.T, plain string) string {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte(plain), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	return string(hash)
}

// call sends a JSON request through the full handler chain.
func call(t *testing.T, api *API, method, path, token, csrf string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	var body *bytes.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if csrf != "" {
		req.Header.Set("X-CSRF-Token", csrf)
	}
	rec := httptest.NewRecorder()
	api.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode body: %v (raw: %s)", err, rec.Body.String())
	}
	return out
}

func createCustomer(t *testing.T, api *API, token, csrf, name string) domain.Customer {
	t.Helper()
	rec := call(t, api, http.MethodPost, "/api/v1/customers", token, csrf, domain.CustomerCreateRequest{Name: name, Address: "Calle 1"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create customer: expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	return decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer
}

func TestHandleHealth(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/healthz", "", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	body := decodeBody[map[string]any](t, rec)
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_Success(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "admin123"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	body := decodeBody[domain.LoginResponse](t, rec)
	if body.AccessToken == "" {
		t.Fatalf("expected access_token in response, got %+v", body)
	}
	if body.Role != domain.RoleAdmin {
		t.Fatalf("expected admin role, got %q", body.Role)
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "admin", Password: "wrongpassword"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_UnknownFieldRejected(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", map[string]string{
		"username": "admin",
		"password": "admin123",
		"remember": "yes",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleCustomers_RequiresAuth(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/api/v1/customers", "", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestUnknownRouteReturns404(t *testing.T) {
	api := newTestAPI(t)

	rec := call(t, api, http.MethodGet, "/api/v1/routes", "", "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestCustomerLifecycle(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)

	ana := createCustomer(t, api, token, csrf, "Ana")
	if ana.ID == "" || ana.Revision != 1 {
		t.Fatalf("unexpected customer %+v", ana)
	}

	rec := call(t, api, http.MethodPost, "/api/v1/customers", token, csrf, domain.CustomerCreateRequest{Name: "  ana "})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate name, got %d", rec.Code)
	}

	newAddress := "Calle 2"
	rec = call(t, api, http.MethodPatch, "/api/v1/customers/"+ana.ID, token, csrf, domain.CustomerUpdateRequest{Address: &newAddress})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on update, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/"+ana.ID, token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on get, got %d", rec.Code)
	}
	got := decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer
	if got.Address != "Calle 2" {
		t.Fatalf("expected updated address, got %q", got.Address)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/missing", token, "", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown customer, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodDelete, "/api/v1/customers/"+ana.ID, token, csrf, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 on delete, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestDeliveryRegisterAndUndo(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
		Delivered20: 2,
		Mode:        "deferred",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	registered := decodeBody[domain.DeliveryResponse](t, rec)
	if !registered.Customer.DebtCurrency.Equal(decimal.NewFromInt(9000)) {
		t.Fatalf("expected debt 9000, got %s", registered.Customer.DebtCurrency)
	}
	if registered.Customer.DebtUnits20 != 2 || registered.Customer.StockUnits != 2 {
		t.Fatalf("unexpected snapshot %+v", registered.Customer.Snapshot)
	}
	if registered.Delivery.Paid {
		t.Fatalf("deferred delivery must not be marked paid")
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/"+ana.ID+"/deliveries?limit=5", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on history, got %d", rec.Code)
	}
	history := decodeBody[domain.DeliveryHistoryResponse](t, rec)
	if len(history.Deliveries) != 1 || history.Deliveries[0].ID != registered.Delivery.ID {
		t.Fatalf("unexpected history %+v", history.Deliveries)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{
		DeliveryID: registered.Delivery.ID,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on undo, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	undone := decodeBody[domain.UndoDeliveryResponse](t, rec)
	if !undone.Customer.DebtCurrency.IsZero() || undone.Customer.DebtUnits20 != 0 || undone.Customer.StockUnits != 0 {
		t.Fatalf("expected snapshot restored, got %+v", undone.Customer.Snapshot)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 with nothing to undo, got %d", rec.Code)
	}
}

func TestDeliveryValidationReturns400(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	cases := []domain.DeliveryRequest{
		{Mode: "paid_today"},
		{Delivered12: 1, Mode: "barter"},
		{Delivered12: -1, Mode: "deferred"},
		{Delivered20: 1, Mode: "collect_old_debt"},
	}
	for _, req := range cases {
		rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %+v, got %d (body: %s)", req, rec.Code, rec.Body.String())
		}
	}

	rec := call(t, api, http.MethodGet, "/api/v1/customers/"+ana.ID+"/deliveries", token, "", nil)
	history := decodeBody[domain.DeliveryHistoryResponse](t, rec)
	if len(history.Deliveries) != 0 {
		t.Fatalf("rejected deliveries must not be recorded, got %d", len(history.Deliveries))
	}
}

func TestReturnedEmptiesBeyondStock(t *testing.T) {
	for _, tc := range []struct {
		name   string
		strict bool
		status int
	}{
		{name: "lenient clamps", strict: false, status: http.StatusCreated},
		{name: "strict rejects", strict: true, status: http.StatusBadRequest},
	} {
		t.Run(tc.name, func(t *testing.T) {
			api := newTestAPIWithOptions(t, service.Options{Strict: tc.strict, OptimisticLocking: true})
			token := loginAs(t, api, "reparto", "reparto123")
			csrf := fetchCSRFToken(t, api)
			ana := createCustomer(t, api, token, csrf, "Ana")

			rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
				Delivered20:   1,
				ReturnedEmpty: 3,
				Mode:          "paid_today",
			})
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (body: %s)", tc.status, rec.Code, rec.Body.String())
			}
			if tc.status == http.StatusCreated {
				resp := decodeBody[domain.DeliveryResponse](t, rec)
				if resp.Customer.StockUnits != 0 {
					t.Fatalf("expected stock clamped to 0, got %d", resp.Customer.StockUnits)
				}
			}
		})
	}
}

func TestUndoNonLatestReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	var first domain.DeliveryResponse
	for i := 0; i < 2; i++ {
		rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
			Delivered12: 1,
			Mode:        "paid_today",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
		if i == 0 {
			first = decodeBody[domain.DeliveryResponse](t, rec)
		}
	}

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{
		DeliveryID: first.Delivery.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for non-latest undo, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestAdminUndoWithoutBody(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
		Delivered20: 2,
		Mode:        "deferred",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for bodyless undo, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	undone := decodeBody[domain.UndoDeliveryResponse](t, rec)
	if undone.Customer.StockUnits != 0 || undone.Customer.DebtUnits20 != 0 || !undone.Customer.DebtCurrency.IsZero() {
		t.Fatalf("expected customer restored, got %+v", undone.Customer)
	}
}

func TestUndoOutsideHistoryWindowReturns409(t *testing.T) {
	api := newTestAPIWithOptions(t, service.Options{OptimisticLocking: true, HistoryLimit: 1})
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	var first domain.DeliveryResponse
	for i := 0; i < 3; i++ {
		rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
			Delivered12: 1,
			Mode:        "paid_today",
		})
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
		if i == 0 {
			first = decodeBody[domain.DeliveryResponse](t, rec)
		}
	}

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{
		DeliveryID: first.Delivery.ID,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for old delivery, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestOperatorUndoRequiresManagerPIN(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
		Delivered20: 1,
		Mode:        "paid_today",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without pin, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries/undo", token, csrf, domain.UndoDeliveryRequest{ManagerPIN: "739154"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with pin, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestOperatorCannotDeleteCustomer(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	rec := call(t, api, http.MethodDelete, "/api/v1/customers/"+ana.ID, token, csrf, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestDeleteCustomerWithDeliveriesReturns409(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "admin", "admin123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, domain.DeliveryRequest{
		Delivered12: 1,
		Mode:        "deferred",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodDelete, "/api/v1/customers/"+ana.ID, token, csrf, nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
}

func TestPricesUpdateRecomputesDebt(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	operator := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, admin, csrf, "Ana")

	rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", admin, csrf, domain.DeliveryRequest{
		Delivered12: 1,
		Delivered20: 1,
		Mode:        "deferred",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	update := domain.PriceUpdateRequest{Price12: decimal.NewFromInt(3500), Price20: decimal.NewFromInt(5000)}
	rec = call(t, api, http.MethodPut, "/api/v1/prices", operator, csrf, update)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator price update, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPut, "/api/v1/prices", admin, csrf, update)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}
	resp := decodeBody[domain.PriceUpdateResponse](t, rec)
	if resp.CustomersRecomputed != 1 {
		t.Fatalf("expected 1 customer recomputed, got %d", resp.CustomersRecomputed)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/customers/"+ana.ID, operator, "", nil)
	got := decodeBody[struct {
		Customer domain.Customer `json:"customer"`
	}](t, rec).Customer
	if !got.DebtCurrency.Equal(decimal.NewFromInt(8500)) {
		t.Fatalf("expected debt 8500 after repricing, got %s", got.DebtCurrency)
	}

	rec = call(t, api, http.MethodPut, "/api/v1/prices", admin, csrf, domain.PriceUpdateRequest{Price12: decimal.NewFromInt(-1), Price20: decimal.NewFromInt(5000)})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative price, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodGet, "/api/v1/prices/history", admin, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 on history, got %d", rec.Code)
	}
	history := decodeBody[struct {
		History []domain.PriceHistory `json:"history"`
	}](t, rec).History
	if len(history) != 1 || history[0].ChangedBy != "admin" {
		t.Fatalf("unexpected price history %+v", history)
	}
}

func TestSummaryReflectsDeliveries(t *testing.T) {
	api := newTestAPI(t)
	token := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	ana := createCustomer(t, api, token, csrf, "Ana")

	for _, req := range []domain.DeliveryRequest{
		{Delivered20: 1, Mode: "deferred"},
		{Delivered12: 1, Mode: "paid_today"},
	} {
		rec := call(t, api, http.MethodPost, "/api/v1/customers/"+ana.ID+"/deliveries", token, csrf, req)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
		}
	}

	rec := call(t, api, http.MethodGet, "/api/v1/summary", token, "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	summary := decodeBody[domain.Summary](t, rec)
	if !summary.OutstandingDebt.Equal(decimal.NewFromInt(4500)) {
		t.Fatalf("expected outstanding 4500, got %s", summary.OutstandingDebt)
	}
	if !summary.CollectedToday.Equal(decimal.NewFromInt(3000)) {
		t.Fatalf("expected collected 3000, got %s", summary.CollectedToday)
	}
	if summary.CollectionPercent != 40 {
		t.Fatalf("expected 40%%, got %d", summary.CollectionPercent)
	}
	if len(summary.RecentActivity) != 2 {
		t.Fatalf("expected 2 activity rows, got %d", len(summary.RecentActivity))
	}
}

func TestOperatorsAdminOnly(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	operator := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)

	rec := call(t, api, http.MethodGet, "/api/v1/users/operators", operator, "", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPost, "/api/v1/users/operators", admin, csrf, domain.OperatorCreateRequest{Username: "reparto2", Password: "pass1234"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodGet, "/api/v1/users/operators", admin, "", nil)
	operators := decodeBody[struct {
		Operators []domain.OperatorUser `json:"operators"`
	}](t, rec).Operators
	if len(operators) != 2 {
		t.Fatalf("expected 2 operators, got %+v", operators)
	}

	loginAs(t, api, "reparto2", "pass1234")
}

func TestAdminResetsOperatorPassword(t *testing.T) {
	api := newTestAPI(t)
	admin := loginAs(t, api, "admin", "admin123")
	operator := loginAs(t, api, "reparto", "reparto123")
	csrf := fetchCSRFToken(t, api)
	path := "/api/v1/users/operators/reparto/password"

	rec := call(t, api, http.MethodPut, path, operator, csrf, domain.OperatorPasswordRequest{Password: "clave-nueva"})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPut, "/api/v1/users/operators/admin/password", admin, csrf, domain.OperatorPasswordRequest{Password: "clave-nueva"})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for admin account, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodPut, path, admin, csrf, domain.OperatorPasswordRequest{Password: "abc"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for short password, got %d", rec.Code)
	}

	rec = call(t, api, http.MethodPut, path, admin, csrf, domain.OperatorPasswordRequest{Password: "clave-nueva"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	rec = call(t, api, http.MethodPost, "/api/v1/auth/login", "", "", domain.LoginRequest{Username: "reparto", Password: "reparto123"})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected old password refused, got %d", rec.Code)
	}
	loginAs(t, api, "reparto", "clave-nueva")
}

// TestMustHashPassword verifies that the test helper produces valid bcrypt hashes
// (used to confirm test infrastructure is sound).
func TestMustHashPassword(t *testing.T) {
	hash := mustHashPassword(t, "secret")
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("secret")); err != nil {
		t.Fatalf("hash verification failed: %v", err)
	}
}
