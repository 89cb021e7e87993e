package http

import (
	"fmt"
	"net/http"
	"strings"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
	"splitledger/internal/services"
)

func (s *Server) handleAddExpense(w http.ResponseWriter, r *http.Request) {
	var req expenseRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	in, err := expenseInput(req)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}

	entry, err := s.svc.Ledger.AddExpense(r.Context(), pathValue(r, "groupID"), in)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentLedger).InfoContext(r.Context(), "Expense recorded",
		applog.NewFields().
			WithOperation(applog.OpCreate).
			WithEntry(entry.ID, entry.GroupID, entry.Amount.Minor, entry.Currency).
			ToSlice()...)
	NewJSONResponse().Status(http.StatusCreated).Body(toEntryView(entry)).Write(w)
}

func expenseInput(req expenseRequest) (services.ExpenseInput, error) {
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		return services.ExpenseInput{}, err
	}
	sign, err := parseOptionalSign("sign", req.Sign, core.Debit)
	if err != nil {
		return services.ExpenseInput{}, err
	}
	added, err := parseOptionalTime("addedTime", req.AddedTime)
	if err != nil {
		return services.ExpenseInput{}, err
	}
	pct, err := parsePercentages(req.SplitPctShares)
	if err != nil {
		return services.ExpenseInput{}, err
	}

	in := services.ExpenseInput{
		Amount:      amt,
		Currency:    sanitizeInput(req.Currency),
		Description: sanitizeInput(req.Description),
		Sign:        sign,
		AddedTime:   added,
		PaidBy:      sanitizeInput(req.PaidByUserID),
		SplitPct:    pct,
		CreatedBy:   sanitizeInput(req.CreatedBy),
	}
	for i, sh := range req.Shares {
		paid, err := parseShareAmount(fmt.Sprintf("shares[%d].paid", i), sh.Paid)
		if err != nil {
			return services.ExpenseInput{}, err
		}
		owed, err := parseShareAmount(fmt.Sprintf("shares[%d].owed", i), sh.Owed)
		if err != nil {
			return services.ExpenseInput{}, err
		}
		in.Shares = append(in.Shares, core.Share{UserID: sanitizeInput(sh.UserID), Paid: paid, Owed: owed})
	}
	return in, nil
}

func (s *Server) handleDeleteEntry(w http.ResponseWriter, r *http.Request) {
	entry, err := s.svc.Ledger.DeleteEntry(r.Context(), pathValue(r, "id"))
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentLedger).InfoContext(r.Context(), "Entry deleted",
		applog.FieldEntryID, entry.ID,
		applog.FieldGroupID, entry.GroupID)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleBalances returns net balances, or the viewer-relative view when
// ?viewer= is set.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	groupID := pathValue(r, "groupID")
	var (
		balances core.Balances
		err      error
	)
	if viewer := queryValue(r, "viewer"); viewer != "" {
		balances, err = s.svc.Ledger.BalancesFor(r.Context(), groupID, viewer)
	} else {
		balances, err = s.svc.Ledger.Balances(r.Context(), groupID)
	}
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(toBalancesView(balances)).Write(w)
}

func (s *Server) handleListEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	page, err := s.svc.Ledger.ListEntries(r.Context(), pathValue(r, "groupID"), queryValue(r, "cursor"), limit)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(toEntryPageView(page)).Write(w)
}

func (s *Server) handleListBudgetEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	page, err := s.svc.Ledger.ListBudgetEntries(r.Context(), pathValue(r, "budgetID"), queryValue(r, "cursor"), limit)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(toEntryPageView(page)).Write(w)
}

func (s *Server) handleDebts(w http.ResponseWriter, r *http.Request) {
	debts, err := s.svc.Ledger.Debts(r.Context(), pathValue(r, "groupID"))
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"debts": toDebtViews(debts)}).Write(w)
}

func (s *Server) handleCreateBudget(w http.ResponseWriter, r *http.Request) {
	var req budgetRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	b, err := s.svc.Ledger.CreateBudget(r.Context(), pathValue(r, "groupID"), sanitizeInput(req.Name))
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toBudgetView(b)).Write(w)
}

func (s *Server) handleListBudgets(w http.ResponseWriter, r *http.Request) {
	budgets, err := s.svc.Ledger.ListBudgets(r.Context(), pathValue(r, "groupID"))
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	views := make([]budgetView, 0, len(budgets))
	for _, b := range budgets {
		views = append(views, toBudgetView(b))
	}
	NewJSONResponse().Body(map[string]any{"budgets": views}).Write(w)
}

func (s *Server) handleGetBudget(w http.ResponseWriter, r *http.Request) {
	b, err := s.svc.Ledger.GetBudget(r.Context(), pathValue(r, "budgetID"))
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(toBudgetView(b)).Write(w)
}

func (s *Server) handleAddBudgetEntry(w http.ResponseWriter, r *http.Request) {
	var req budgetEntryRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	amt, err := parseAmount("amount", req.Amount)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	if strings.TrimSpace(req.Type) == "" {
		writeError(w, r, applog.ComponentLedger, core.InvalidEntry("type", "is required"))
		return
	}
	typ, err := parseOptionalSign("type", req.Type, "")
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	added, err := parseOptionalTime("addedTime", req.AddedTime)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}

	entry, err := s.svc.Ledger.AddBudgetEntry(r.Context(), pathValue(r, "budgetID"), services.BudgetEntryInput{
		Amount:      amt,
		Currency:    sanitizeInput(req.Currency),
		Description: sanitizeInput(req.Description),
		Type:        typ,
		AddedTime:   added,
		CreatedBy:   sanitizeInput(req.CreatedBy),
	})
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Status(http.StatusCreated).Body(toEntryView(entry)).Write(w)
}

func budgetRange(r *http.Request) (services.BudgetRange, error) {
	rng, err := services.ParseBudgetRange(queryValue(r, "range"))
	if err != nil {
		return "", core.InvalidEntry("range", err.Error())
	}
	return rng, nil
}

func (s *Server) handleBudgetMonthly(w http.ResponseWriter, r *http.Request) {
	rng, err := budgetRange(r)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	series, err := s.svc.Ledger.BudgetMonthly(r.Context(), pathValue(r, "budgetID"), queryValue(r, "currency"), rng, s.now())
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(map[string]any{"months": toMonthlyTotalViews(series)}).Write(w)
}

func (s *Server) handleBudgetReport(w http.ResponseWriter, r *http.Request) {
	rng, err := budgetRange(r)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	report, err := s.svc.Ledger.BudgetReport(r.Context(), pathValue(r, "budgetID"), rng, s.now())
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	NewJSONResponse().Body(toMonthlyReportView(report)).Write(w)
}

func (s *Server) handleBudgetTotal(w http.ResponseWriter, r *http.Request) {
	currency := queryValue(r, "currency")
	total, err := s.svc.Ledger.BudgetTotal(r.Context(), pathValue(r, "budgetID"), currency)
	if err != nil {
		writeError(w, r, applog.ComponentLedger, err)
		return
	}
	body := map[string]any{
		"budgetId":    pathValue(r, "budgetID"),
		"totalAmount": amount(total),
	}
	// blank means the service default
	if currency != "" {
		body["currency"] = currency
	}
	NewJSONResponse().Body(body).Write(w)
}
