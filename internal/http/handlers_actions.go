package http

import (
	"net/http"

	"splitledger/internal/core"
	applog "splitledger/internal/log"
	"splitledger/internal/services"
)

func (s *Server) handleCreateAction(w http.ResponseWriter, r *http.Request) {
	var req createActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	a, err := s.svc.Actions.Create(r.Context(), services.CreateActionInput{
		GroupID:    pathValue(r, "groupID"),
		CreatedBy:  sanitizeInput(req.CreatedBy),
		ActionType: core.ActionType(sanitizeInput(req.ActionType)),
		ActionData: rawOrNil(req.ActionData),
		Frequency:  sanitizeInput(req.Frequency),
		StartDate:  sanitizeInput(req.StartDate),
		IsActive:   req.IsActive,
	})
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRegistry).InfoContext(r.Context(), "Scheduled action created",
		applog.FieldActionID, a.ID,
		applog.FieldGroupID, a.GroupID,
		"next_execution_date", a.NextExecutionDate.String())
	s.writeAction(w, r, http.StatusCreated, a)
}

func (s *Server) handleListActions(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	page, err := s.svc.Actions.List(r.Context(), pathValue(r, "groupID"), queryValue(r, "cursor"), limit)
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	view, err := toActionPageView(page)
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

func (s *Server) handleGetAction(w http.ResponseWriter, r *http.Request) {
	a, err := s.svc.Actions.Get(r.Context(), pathValue(r, "id"))
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	s.writeAction(w, r, http.StatusOK, a)
}

func (s *Server) handleUpdateAction(w http.ResponseWriter, r *http.Request) {
	var req updateActionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		BadRequestError(err.Error()).Write(w)
		return
	}
	a, err := s.svc.Actions.Update(r.Context(), pathValue(r, "id"), services.UpdateActionInput{
		IsActive:          req.IsActive,
		Frequency:         req.Frequency,
		StartDate:         req.StartDate,
		ActionData:        rawOrNil(req.ActionData),
		NextExecutionDate: req.NextExecutionDate,
		SkipNext:          req.SkipNext,
	})
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	s.writeAction(w, r, http.StatusOK, a)
}

func (s *Server) handleDeleteAction(w http.ResponseWriter, r *http.Request) {
	id := pathValue(r, "id")
	if err := s.svc.Actions.Delete(r.Context(), id); err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRegistry).InfoContext(r.Context(), "Scheduled action deleted",
		applog.FieldActionID, id)
	NewJSONResponse().Status(http.StatusNoContent).Write(w)
}

// handleRunAction executes the action's current occurrence now. A failed
// execution is still a 200: the history record carries the outcome.
func (s *Server) handleRunAction(w http.ResponseWriter, r *http.Request) {
	if s.svc.Runner == nil {
		ErrorResponse(http.StatusServiceUnavailable, CodeUnavailable, "executor not configured").Write(w)
		return
	}
	rec, err := s.svc.Runner.RunNow(r.Context(), pathValue(r, "id"), s.now())
	if err != nil {
		writeError(w, r, applog.ComponentExecutor, err)
		return
	}
	NewJSONResponse().Body(toHistoryView(rec)).Write(w)
}

func (s *Server) handleListHistory(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		writeError(w, r, applog.ComponentExecutor, err)
		return
	}
	page, err := s.svc.History.ListHistory(r.Context(), pathValue(r, "id"), queryValue(r, "cursor"), queryValue(r, "status"), limit)
	if err != nil {
		writeError(w, r, applog.ComponentExecutor, err)
		return
	}
	NewJSONResponse().Body(toHistoryPageView(page)).Write(w)
}

func (s *Server) writeAction(w http.ResponseWriter, r *http.Request, status int, a core.ScheduledAction) {
	view, err := toActionView(a)
	if err != nil {
		writeError(w, r, applog.ComponentRegistry, err)
		return
	}
	NewJSONResponse().Status(status).Body(view).Write(w)
}
