package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"splitledger/internal/services"
	"splitledger/internal/storage/memory"
)

var refNow = time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

func newTestServer(t *testing.T, opts Options) (*Server, *memory.Store) {
	t.Helper()
	store := memory.New()
	clock := func() time.Time { return refNow }

	ledger := services.NewLedgerService(store, nil, "EUR").WithClock(clock)
	registry := services.NewRegistry(store).WithClock(clock)
	executor := services.NewExecutor(store, nil, services.DefaultExecutorConfig()).WithObserver(ledger)

	opts.Now = clock
	srv, err := NewServer(":0", Services{
		Ledger:  ledger,
		Actions: registry,
		History: services.NewHistoryReader(store, store),
		Runner:  executor,
		Ready:   store.Ping,
	}, opts)
	if err != nil {
		t.Fatalf("NewServer() error = %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, store
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func wantStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d; body = %s", rec.Code, status, rec.Body.String())
	}
}

func TestHealthAndReady(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := do(t, srv.Handler, http.MethodGet, "/healthz", "")
	wantStatus(t, rec, http.StatusOK)
	if rec.Header().Get("X-Request-ID") == "" {
		t.Error("missing X-Request-ID header")
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing security headers")
	}

	rec = do(t, srv.Handler, http.MethodGet, "/readyz", "")
	wantStatus(t, rec, http.StatusOK)
	body := decode[map[string]any](t, rec)
	if body["status"] != "ready" {
		t.Errorf("readyz status = %v", body["status"])
	}
}

func TestReady_StoreDown(t *testing.T) {
	srv, err := NewServer(":0", Services{
		Ready: func(context.Context) error { return errors.New("database is closed") },
	}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	defer srv.Shutdown(context.Background())

	rec := do(t, srv.Handler, http.MethodGet, "/readyz", "")
	wantStatus(t, rec, http.StatusServiceUnavailable)
}

func TestExpenseAndBalances(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler

	rec := do(t, h, http.MethodPost, "/groups/g1/entries", `{
		"amount": 30,
		"currency": "EUR",
		"description": "Dinner",
		"paidByUserId": "alice",
		"splitPctShares": {"alice": 50, "bob": 50}
	}`)
	wantStatus(t, rec, http.StatusCreated)
	entry := decode[entryView](t, rec)
	if entry.ID == "" || entry.GroupID != "g1" || entry.Amount != "30.00" || entry.Sign != "debit" {
		t.Fatalf("entry = %+v", entry)
	}
	if len(entry.Participants) != 2 {
		t.Fatalf("participants = %+v", entry.Participants)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/balances", "")
	wantStatus(t, rec, http.StatusOK)
	balances := decode[map[string]map[string]json.Number](t, rec)
	if balances["alice"]["EUR"] != "15.00" || balances["bob"]["EUR"] != "-15.00" {
		t.Errorf("balances = %v", balances)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/balances?viewer=alice", "")
	wantStatus(t, rec, http.StatusOK)
	viewed := decode[map[string]map[string]json.Number](t, rec)
	if viewed["bob"]["EUR"] != "15.00" {
		t.Errorf("viewer balances = %v", viewed)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/debts", "")
	wantStatus(t, rec, http.StatusOK)
	debts := decode[struct{ Debts []debtView }](t, rec)
	if len(debts.Debts) != 1 || debts.Debts[0].From != "bob" || debts.Debts[0].To != "alice" {
		t.Errorf("debts = %+v", debts.Debts)
	}

	rec = do(t, h, http.MethodDelete, "/entries/"+entry.ID, "")
	wantStatus(t, rec, http.StatusNoContent)

	rec = do(t, h, http.MethodDelete, "/entries/"+entry.ID, "")
	wantStatus(t, rec, http.StatusConflict)
	if e := decode[errorBody](t, rec); e.Error.Code != CodeAlreadyDeleted {
		t.Errorf("error code = %s", e.Error.Code)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/balances", "")
	wantStatus(t, rec, http.StatusOK)
	if got := decode[map[string]map[string]json.Number](t, rec); len(got) != 0 {
		t.Errorf("balances after delete = %v, want empty", got)
	}
}

func TestExpense_ExplicitShares(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	rec := do(t, srv.Handler, http.MethodPost, "/groups/g1/entries", `{
		"amount": "10.00",
		"currency": "USD",
		"description": "Taxi",
		"shares": [
			{"userId": "alice", "paid": "10.00", "owed": "4.00"},
			{"userId": "bob", "paid": 0, "owed": "6.00"}
		]
	}`)
	wantStatus(t, rec, http.StatusCreated)

	rec = do(t, srv.Handler, http.MethodPost, "/groups/g1/entries", `{
		"amount": "10.00",
		"currency": "USD",
		"description": "Taxi",
		"shares": [
			{"userId": "alice", "paid": "10.00", "owed": "4.00"},
			{"userId": "bob", "paid": 0, "owed": "5.00"}
		]
	}`)
	wantStatus(t, rec, http.StatusUnprocessableEntity)
	if e := decode[errorBody](t, rec); e.Error.Code != CodeInconsistentEntry {
		t.Errorf("error code = %s", e.Error.Code)
	}
}

func TestExpense_BadRequests(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name     string
		body     string
		wantCode string
	}{
		{"malformed", `{"amount":`, CodeInvalidRequest},
		{"unknown field", `{"amount": 1, "tip": 2}`, CodeInvalidRequest},
		{"negative amount", `{"amount": -5, "currency": "EUR", "paidByUserId": "a"}`, CodeInvalidEntry},
		{"bad sign", `{"amount": 5, "currency": "EUR", "sign": "refund", "paidByUserId": "a"}`, CodeInvalidEntry},
		{"bad time", `{"amount": 5, "currency": "EUR", "addedTime": "yesterday", "paidByUserId": "a"}`, CodeInvalidEntry},
		{"no payer", `{"amount": 5, "currency": "EUR"}`, CodeInvalidEntry},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler, http.MethodPost, "/groups/g1/entries", tt.body)
			wantStatus(t, rec, http.StatusBadRequest)
			if e := decode[errorBody](t, rec); e.Error.Code != tt.wantCode {
				t.Errorf("error code = %s, want %s", e.Error.Code, tt.wantCode)
			}
		})
	}
}

func TestBudgets(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler

	rec := do(t, h, http.MethodPost, "/groups/g1/budgets", `{"name": "Household"}`)
	wantStatus(t, rec, http.StatusCreated)
	budget := decode[budgetView](t, rec)

	rec = do(t, h, http.MethodGet, "/groups/g1/budgets", "")
	wantStatus(t, rec, http.StatusOK)
	if list := decode[struct{ Budgets []budgetView }](t, rec); len(list.Budgets) != 1 {
		t.Errorf("budgets = %+v", list.Budgets)
	}

	rec = do(t, h, http.MethodPost, "/budgets/"+budget.ID+"/entries",
		`{"amount": 100, "currency": "EUR", "description": "Top up", "type": "credit", "addedTime": "2024-02-10T09:00:00Z"}`)
	wantStatus(t, rec, http.StatusCreated)
	rec = do(t, h, http.MethodPost, "/budgets/"+budget.ID+"/entries",
		`{"amount": "30.00", "currency": "EUR", "description": "Groceries", "type": "Debit"}`)
	wantStatus(t, rec, http.StatusCreated)

	rec = do(t, h, http.MethodPost, "/budgets/"+budget.ID+"/entries", `{"amount": 1, "currency": "EUR"}`)
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodGet, "/budgets/"+budget.ID+"/total", "")
	wantStatus(t, rec, http.StatusOK)
	if total := decode[map[string]any](t, rec); total["totalAmount"] != 70.0 {
		t.Errorf("total = %v", total)
	}

	rec = do(t, h, http.MethodGet, "/budgets/"+budget.ID+"/monthly?range=6m&currency=EUR", "")
	wantStatus(t, rec, http.StatusOK)
	monthly := decode[struct{ Months []monthlyTotalView }](t, rec)
	if len(monthly.Months) != 6 {
		t.Fatalf("months = %d, want 6", len(monthly.Months))
	}
	last := monthly.Months[5]
	if last.Month != "2024-03" || last.TotalAmount != "-30.00" {
		t.Errorf("last month = %+v", last)
	}
	if prev := monthly.Months[4]; prev.Month != "2024-02" || prev.TotalAmount != "100.00" {
		t.Errorf("previous month = %+v", prev)
	}

	rec = do(t, h, http.MethodGet, "/budgets/"+budget.ID+"/report?range=All", "")
	wantStatus(t, rec, http.StatusOK)
	report := decode[monthlyReportView](t, rec)
	if report.DefaultCurrency != "EUR" || report.PeriodAnalyzed.From != "2024-02" || report.PeriodAnalyzed.To != "2024-03" {
		t.Errorf("report = %+v", report)
	}

	rec = do(t, h, http.MethodGet, "/budgets/"+budget.ID+"/monthly?range=5Y", "")
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodGet, "/budgets/missing", "")
	wantStatus(t, rec, http.StatusNotFound)
}

func TestListEntries(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler

	for _, desc := range []string{"first", "second", "third"} {
		rec := do(t, h, http.MethodPost, "/groups/g1/entries",
			`{"amount": 10, "currency": "EUR", "description": "`+desc+`", "paidByUserId": "alice", "splitPctShares": {"alice": 50, "bob": 50}}`)
		wantStatus(t, rec, http.StatusCreated)
	}
	rec := do(t, h, http.MethodPost, "/groups/g1/budgets", `{"name": "Household"}`)
	wantStatus(t, rec, http.StatusCreated)
	budget := decode[budgetView](t, rec)
	rec = do(t, h, http.MethodPost, "/budgets/"+budget.ID+"/entries",
		`{"amount": 5, "currency": "EUR", "description": "top up", "type": "credit"}`)
	wantStatus(t, rec, http.StatusCreated)

	rec = do(t, h, http.MethodGet, "/groups/g1/entries?limit=2", "")
	wantStatus(t, rec, http.StatusOK)
	page := decode[entryPageView](t, rec)
	if len(page.Entries) != 2 || page.Entries[0].Description != "third" || page.Entries[1].Description != "second" {
		t.Fatalf("first page = %+v", page.Entries)
	}
	if page.NextCursor == "" {
		t.Fatal("expected a next cursor")
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/entries?limit=2&cursor="+page.NextCursor, "")
	wantStatus(t, rec, http.StatusOK)
	page = decode[entryPageView](t, rec)
	if len(page.Entries) != 1 || page.Entries[0].Description != "first" || page.NextCursor != "" {
		t.Errorf("second page = %+v", page)
	}

	rec = do(t, h, http.MethodGet, "/budgets/"+budget.ID+"/entries", "")
	wantStatus(t, rec, http.StatusOK)
	page = decode[entryPageView](t, rec)
	if len(page.Entries) != 1 || page.Entries[0].Description != "top up" || page.Entries[0].Sign != "credit" {
		t.Errorf("budget entries = %+v", page.Entries)
	}

	tests := []struct {
		name   string
		path   string
		status int
	}{
		{"bad cursor", "/groups/g1/entries?cursor=nope", http.StatusBadRequest},
		{"bad limit", "/groups/g1/entries?limit=-1", http.StatusBadRequest},
		{"unknown budget", "/budgets/missing/entries", http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wantStatus(t, do(t, h, http.MethodGet, tt.path, ""), tt.status)
		})
	}
}

func TestScheduledActionLifecycle(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	h := srv.Handler

	rec := do(t, h, http.MethodPost, "/groups/g1/scheduled-actions", `{
		"actionType": "add_expense",
		"frequency": "monthly",
		"startDate": "2024-03-15",
		"createdBy": "alice",
		"actionData": {
			"amount": "20.00",
			"currency": "EUR",
			"description": "Streaming",
			"paidByUserId": "alice",
			"splitPctShares": {"alice": 50, "bob": 50}
		}
	}`)
	wantStatus(t, rec, http.StatusCreated)
	action := decode[actionView](t, rec)
	if action.NextExecutionDate != "2024-03-15" || !action.IsActive || action.Version != 1 {
		t.Fatalf("action = %+v", action)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/scheduled-actions", "")
	wantStatus(t, rec, http.StatusOK)
	if page := decode[actionPageView](t, rec); len(page.Actions) != 1 || page.NextCursor != "" {
		t.Errorf("page = %+v", page)
	}

	rec = do(t, h, http.MethodPost, "/scheduled-actions/"+action.ID+"/run", "")
	wantStatus(t, rec, http.StatusOK)
	run := decode[historyView](t, rec)
	if run.Status != "succeeded" || run.DueDate != "2024-03-15" {
		t.Fatalf("run = %+v", run)
	}
	if want := "tx_" + action.ID + "_2024-03-15"; run.ResultEntryID != want {
		t.Errorf("resultEntryId = %s, want %s", run.ResultEntryID, want)
	}

	rec = do(t, h, http.MethodGet, "/scheduled-actions/"+action.ID, "")
	wantStatus(t, rec, http.StatusOK)
	if got := decode[actionView](t, rec); got.NextExecutionDate != "2024-04-15" || got.LastExecutedAt == nil {
		t.Errorf("after run = %+v", got)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/balances", "")
	wantStatus(t, rec, http.StatusOK)
	if b := decode[map[string]map[string]json.Number](t, rec); b["alice"]["EUR"] != "10.00" {
		t.Errorf("balances = %v", b)
	}

	rec = do(t, h, http.MethodGet, "/scheduled-actions/"+action.ID+"/history?status=succeeded", "")
	wantStatus(t, rec, http.StatusOK)
	if hist := decode[historyPageView](t, rec); len(hist.Records) != 1 {
		t.Errorf("history = %+v", hist)
	}

	rec = do(t, h, http.MethodGet, "/scheduled-actions/"+action.ID+"/history?cursor=garbage", "")
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodPatch, "/scheduled-actions/"+action.ID, `{"isActive": false}`)
	wantStatus(t, rec, http.StatusOK)
	if got := decode[actionView](t, rec); got.IsActive || got.Version != 3 {
		t.Errorf("after disable = %+v", got)
	}

	rec = do(t, h, http.MethodPost, "/scheduled-actions/"+action.ID+"/run", "")
	wantStatus(t, rec, http.StatusBadRequest)

	rec = do(t, h, http.MethodDelete, "/scheduled-actions/"+action.ID, "")
	wantStatus(t, rec, http.StatusNoContent)

	rec = do(t, h, http.MethodDelete, "/scheduled-actions/"+action.ID, "")
	wantStatus(t, rec, http.StatusConflict)
}

func TestCreateAction_Invalid(t *testing.T) {
	srv, _ := newTestServer(t, Options{})

	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"actionType": "add_income", "frequency": "daily", "startDate": "2024-03-15", "actionData": {}}`},
		{"bad frequency", `{"actionType": "add_expense", "frequency": "hourly", "startDate": "2024-03-15", "actionData": {"amount": 1, "currency": "EUR", "paidByUserId": "a", "splitPctShares": {"a": 100}}}`},
		{"bad date", `{"actionType": "add_expense", "frequency": "daily", "startDate": "2024-02-30", "actionData": {"amount": 1, "currency": "EUR", "paidByUserId": "a", "splitPctShares": {"a": 100}}}`},
		{"missing data", `{"actionType": "add_expense", "frequency": "daily", "startDate": "2024-03-15", "actionData": null}`},
		{"unknown budget", `{"actionType": "add_budget", "frequency": "daily", "startDate": "2024-03-15", "actionData": {"budgetId": "nope", "amount": 1, "currency": "EUR", "description": "Rent", "type": "debit"}}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv.Handler, http.MethodPost, "/groups/g1/scheduled-actions", tt.body)
			wantStatus(t, rec, http.StatusBadRequest)
			if e := decode[errorBody](t, rec); e.Error.Code != CodeInvalidActionDefinition {
				t.Errorf("error code = %s", e.Error.Code)
			}
		})
	}
}

func TestRateLimit_WritesOnly(t *testing.T) {
	srv, _ := newTestServer(t, Options{RequestsPerMinute: 2})
	h := srv.Handler

	for i := 0; i < 2; i++ {
		rec := do(t, h, http.MethodPost, "/groups/g1/budgets", `{"name": "B"}`)
		wantStatus(t, rec, http.StatusCreated)
	}
	rec := do(t, h, http.MethodPost, "/groups/g1/budgets", `{"name": "B"}`)
	wantStatus(t, rec, http.StatusTooManyRequests)
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if e := decode[errorBody](t, rec); e.Error.Code != CodeRateLimited {
		t.Errorf("error code = %s", e.Error.Code)
	}

	rec = do(t, h, http.MethodGet, "/groups/g1/budgets", "")
	wantStatus(t, rec, http.StatusOK)
}

func TestMetrics(t *testing.T) {
	srv, _ := newTestServer(t, Options{})
	do(t, srv.Handler, http.MethodGet, "/healthz", "")

	rec := do(t, srv.Handler, http.MethodGet, "/metrics", "")
	wantStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "http_requests_total") {
		t.Errorf("metrics body = %s", rec.Body.String())
	}
}
