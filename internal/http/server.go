package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
	"splitledger/internal/middleware/ratelimit"
	"splitledger/internal/middleware/security"
	"splitledger/internal/middleware/trace"
	"splitledger/internal/services"
)

// LedgerAPI is the ledger surface the handlers call.
type LedgerAPI interface {
	AddExpense(ctx context.Context, groupID string, in services.ExpenseInput) (core.LedgerEntry, error)
	AddBudgetEntry(ctx context.Context, budgetID string, in services.BudgetEntryInput) (core.LedgerEntry, error)
	DeleteEntry(ctx context.Context, id string) (core.LedgerEntry, error)
	Balances(ctx context.Context, groupID string) (core.Balances, error)
	BalancesFor(ctx context.Context, groupID, viewer string) (core.Balances, error)
	Debts(ctx context.Context, groupID string) ([]core.Debt, error)
	CreateBudget(ctx context.Context, groupID, name string) (core.Budget, error)
	GetBudget(ctx context.Context, id string) (core.Budget, error)
	ListBudgets(ctx context.Context, groupID string) ([]core.Budget, error)
	BudgetMonthly(ctx context.Context, budgetID, currency string, r services.BudgetRange, now time.Time) ([]core.MonthlyTotal, error)
	BudgetReport(ctx context.Context, budgetID string, r services.BudgetRange, now time.Time) (core.MonthlyReport, error)
	BudgetTotal(ctx context.Context, budgetID, currency string) (core.Money, error)
	ListEntries(ctx context.Context, groupID, pageToken string, limit int) (services.EntryPage, error)
	ListBudgetEntries(ctx context.Context, budgetID, pageToken string, limit int) (services.EntryPage, error)
}

// ActionAPI manages scheduled action definitions.
type ActionAPI interface {
	Create(ctx context.Context, in services.CreateActionInput) (core.ScheduledAction, error)
	Get(ctx context.Context, id string) (core.ScheduledAction, error)
	List(ctx context.Context, groupID, pageToken string, limit int) (services.ActionPage, error)
	Update(ctx context.Context, id string, in services.UpdateActionInput) (core.ScheduledAction, error)
	Delete(ctx context.Context, id string) error
}

type HistoryAPI interface {
	ListHistory(ctx context.Context, actionID, pageToken, status string, limit int) (services.HistoryPage, error)
}

// Runner executes an action's current occurrence on demand.
type Runner interface {
	RunNow(ctx context.Context, actionID string, now time.Time) (core.HistoryRecord, error)
}

// Services bundles the collaborators behind the API. Ready is optional and
// backs /readyz.
type Services struct {
	Ledger  LedgerAPI
	Actions ActionAPI
	History HistoryAPI
	Runner  Runner
	Ready   func(context.Context) error
	Logger  *applog.Logger
}

type Options struct {
	RequestsPerMinute int
	TrustedProxies    []string
	// Now overrides the clock used for run-now and budget windows.
	Now func() time.Time
}

type Server struct {
	http.Server
	svc     Services
	now     func() time.Time
	started time.Time

	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	clientIP *security.ClientIPResolver

	shutdownOnce sync.Once
}

// NewServer wires routes and middleware, returning a ready-to-run server.
func NewServer(addr string, svc Services, opts Options) (*Server, error) {
	resolver, err := security.NewClientIPResolver(opts.TrustedProxies...)
	if err != nil {
		return nil, err
	}
	if svc.Logger == nil {
		svc.Logger = applog.FromContext(context.Background())
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	rlCfg := ratelimit.DefaultConfig()
	if opts.RequestsPerMinute > 0 {
		rlCfg.RequestsPerMinute = opts.RequestsPerMinute
	}

	s := &Server{
		svc:      svc,
		now:      now,
		started:  now(),
		limiter:  ratelimit.NewLimiter(rlCfg),
		tracer:   trace.NewMiddleware(resolver.ClientIP),
		clientIP: resolver,
	}

	mux := http.NewServeMux()
	s.routes(mux)

	var handler http.Handler = mux
	handler = s.limiter.Middleware(resolver.ClientIP, s.rateLimited)(handler)
	handler = applog.Middleware(svc.Logger.WithComponent(applog.ComponentHTTP), trace.GetRequestID)(handler)
	handler = s.tracer.Middleware(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("POST /groups/{groupID}/entries", s.handleAddExpense)
	mux.HandleFunc("GET /groups/{groupID}/entries", s.handleListEntries)
	mux.HandleFunc("DELETE /entries/{id}", s.handleDeleteEntry)
	mux.HandleFunc("GET /groups/{groupID}/balances", s.handleBalances)
	mux.HandleFunc("GET /groups/{groupID}/debts", s.handleDebts)

	mux.HandleFunc("POST /groups/{groupID}/budgets", s.handleCreateBudget)
	mux.HandleFunc("GET /groups/{groupID}/budgets", s.handleListBudgets)
	mux.HandleFunc("GET /budgets/{budgetID}", s.handleGetBudget)
	mux.HandleFunc("POST /budgets/{budgetID}/entries", s.handleAddBudgetEntry)
	mux.HandleFunc("GET /budgets/{budgetID}/entries", s.handleListBudgetEntries)
	mux.HandleFunc("GET /budgets/{budgetID}/monthly", s.handleBudgetMonthly)
	mux.HandleFunc("GET /budgets/{budgetID}/report", s.handleBudgetReport)
	mux.HandleFunc("GET /budgets/{budgetID}/total", s.handleBudgetTotal)

	mux.HandleFunc("POST /groups/{groupID}/scheduled-actions", s.handleCreateAction)
	mux.HandleFunc("GET /groups/{groupID}/scheduled-actions", s.handleListActions)
	mux.HandleFunc("GET /scheduled-actions/{id}", s.handleGetAction)
	mux.HandleFunc("PATCH /scheduled-actions/{id}", s.handleUpdateAction)
	mux.HandleFunc("DELETE /scheduled-actions/{id}", s.handleDeleteAction)
	mux.HandleFunc("POST /scheduled-actions/{id}/run", s.handleRunAction)
	mux.HandleFunc("GET /scheduled-actions/{id}/history", s.handleListHistory)
}

func (s *Server) rateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(),
		"Rate limit exceeded",
		applog.FieldClientIP, s.clientIP.ClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, CodeRateLimited, "rate limit exceeded, retry later").Write(w)
}

// Shutdown stops background routines and drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		err = s.Server.Shutdown(ctx)
	})
	return err
}
