package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"costlens/internal/aggregate"
	"costlens/internal/filter"
	"costlens/internal/log"
)

const readyTimeout = 5 * time.Second

// respond writes b and logs an encoding failure against the request.
func respond(w http.ResponseWriter, r *http.Request, b *JSONResponseBuilder) {
	if err := b.Write(w); err != nil {
		log.FromContext(r.Context()).ErrorContext(r.Context(), "Failed to write response", log.FieldError, err.Error())
	}
}

// fail maps engine errors onto status codes. Anything unrecognized is a 500
// and is logged.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, filter.ErrUnknownDimension):
		respond(w, r, NotFoundError(err.Error()))
	case errors.Is(err, filter.ErrUnknownKey):
		respond(w, r, UnprocessableEntityError(err.Error()))
	case errors.Is(err, ErrBodyTooBig):
		respond(w, r, PayloadTooLargeError(err.Error()))
	case errors.Is(err, ErrInvalidBody), errors.Is(err, ErrNoFiles), errors.Is(err, errBadMode):
		respond(w, r, BadRequestError(err.Error()))
	default:
		log.NewStructuredLogger(log.FromContext(r.Context())).
			LogError(r.Context(), "Request failed", err, log.ComponentHTTP, op, nil)
		respond(w, r, InternalServerError("internal error"))
	}
}

var errBadMode = errors.New("mode must be service or account")

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respond(w, r, NewJSONResponse().Body(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := map[string]any{
		"rate_limiter": map[string]any{"active_clients": s.limiter.ActiveClients()},
	}
	status, code := "ready", http.StatusOK
	if err := s.session.Ready(ctx); err != nil {
		checks["store"] = "failed: " + err.Error()
		status, code = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}
	respond(w, r, NewJSONResponse().Status(code).Body(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}))
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	sources, form, err := parseUploads(w, r, s.maxUpload)
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	defer func() { _ = form.RemoveAll() }()

	// A client disconnect must not split a batch.
	res, err := s.session.Import(context.WithoutCancel(r.Context()), sources)
	if err != nil {
		s.fail(w, r, log.OpImport, err)
		return
	}
	code := http.StatusOK
	if len(res.Imported) == 0 {
		code = http.StatusUnprocessableEntity
	}
	respond(w, r, NewJSONResponse().Status(code).Body(res))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Clear(r.Context()); err != nil {
		s.fail(w, r, log.OpClear, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMonths(w http.ResponseWriter, r *http.Request) {
	months, err := s.session.Months(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(map[string][]string{"months": nonNil(months)}))
}

func (s *Server) handleAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := s.session.Accounts(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(map[string][]string{"accounts": nonNil(accounts)}))
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.session.Services(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	if ranked == nil {
		ranked = []aggregate.Ranked{}
	}
	respond(w, r, NewJSONResponse().Body(map[string][]aggregate.Ranked{"services": ranked}))
}

func (s *Server) handleFilters(w http.ResponseWriter, r *http.Request) {
	respond(w, r, NewJSONResponse().Body(s.session.Filters()))
}

// filterOp runs a dimension-scoped mutation and answers with the new state.
func (s *Server) filterOp(w http.ResponseWriter, r *http.Request, fn func(filter.Dimension) error) {
	d, err := dimensionParam(r)
	if err == nil {
		err = fn(d)
	}
	if err != nil {
		s.fail(w, r, log.OpFilter, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(s.session.Filters()))
}

func (s *Server) handleToggle(w http.ResponseWriter, r *http.Request) {
	s.filterOp(w, r, func(d filter.Dimension) error {
		var req toggleRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		if err := req.validate(); err != nil {
			return err
		}
		return s.session.Toggle(d, req.Key)
	})
}

func (s *Server) handleSelectAll(w http.ResponseWriter, r *http.Request) {
	s.filterOp(w, r, s.session.SelectAll)
}

func (s *Server) handleSelectNone(w http.ResponseWriter, r *http.Request) {
	s.filterOp(w, r, s.session.ClearSelection)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	s.filterOp(w, r, func(d filter.Dimension) error {
		var req searchRequest
		if err := decodeJSON(w, r, &req); err != nil {
			return err
		}
		return s.session.SetSearch(d, req.Query)
	})
}

func (s *Server) handleTop10(w http.ResponseWriter, r *http.Request) {
	picked, err := s.session.Top10(r.Context())
	if err != nil {
		s.fail(w, r, log.OpFilter, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(struct {
		Picked  []string    `json:"picked"`
		Filters filter.View `json:"filters"`
	}{Picked: nonNil(picked), Filters: s.session.Filters()}))
}

func (s *Server) handleMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.fail(w, r, log.OpFilter, err)
		return
	}
	mode, err := aggregate.ParseMode(req.Mode)
	if err != nil {
		s.fail(w, r, log.OpFilter, errBadMode)
		return
	}
	if err := s.session.SetMode(mode); err != nil {
		s.fail(w, r, log.OpFilter, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(s.session.Filters()))
}

func (s *Server) handleChart(w http.ResponseWriter, r *http.Request) {
	view, err := s.session.Chart(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(view))
}

func (s *Server) handleYearlyChart(w http.ResponseWriter, r *http.Request) {
	view, err := s.session.YearlyChart(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(view))
}

func (s *Server) handleTotal(w http.ResponseWriter, r *http.Request) {
	total, err := s.session.GrandTotal(r.Context())
	if err != nil {
		s.fail(w, r, log.OpView, err)
		return
	}
	respond(w, r, NewJSONResponse().Body(map[string]any{"total": total}))
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
