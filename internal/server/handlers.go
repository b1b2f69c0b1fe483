package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/auraplan/aura/internal/calendar"
	"github.com/auraplan/aura/internal/planner"
)

type scheduleRequest struct {
	Window      *planner.Window      `json:"window,omitempty"`
	Start       *planner.Date        `json:"start,omitempty"`
	Days        int                  `json:"days,omitempty"`
	Order       string               `json:"order,omitempty"`
	Commitments []planner.Commitment `json:"commitments,omitempty"`
	Assignments []planner.Assignment `json:"assignments"`
	Busy        []planner.Interval   `json:"busy,omitempty"`
}

type scheduleResponse struct {
	PlanID           int64                  `json:"plan_id"`
	Window           planner.Window         `json:"window"`
	Order            planner.Order          `json:"order"`
	Events           []planner.Event        `json:"events"`
	Dropped          []planner.DroppedChunk `json:"dropped"`
	PlannedMinutes   int                    `json:"planned_minutes"`
	ScheduledMinutes int                    `json:"scheduled_minutes"`
}

func (s *Server) handleSchedule(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var req scheduleRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	window, err := s.requestWindow(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	opts := s.cfg.PlannerOptions()
	if req.Order != "" {
		if opts.Order, err = planner.ParseOrder(req.Order); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	commitments := req.Commitments
	if commitments == nil {
		if commitments, err = s.db.Commitments(user); err != nil {
			s.internalError(w, r, "loading commitments", err)
			return
		}
	}

	res, err := planner.New(opts, s.logger).Plan(r.Context(), planner.Request{
		Window:      window,
		Commitments: commitments,
		Assignments: req.Assignments,
		Busy:        req.Busy,
		OffHours:    s.cfg.OffHours(),
	})
	if err != nil {
		if isInputError(err) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.internalError(w, r, "planning", err)
		return
	}

	planID, err := s.db.SavePlan(user, window, res)
	if err != nil {
		s.internalError(w, r, "saving plan", err)
		return
	}

	s.logger.Info("plan created",
		"user", user,
		"plan_id", planID,
		"events", len(res.Events),
		"dropped", len(res.Dropped),
	)

	writeJSON(w, http.StatusOK, scheduleResponse{
		PlanID:           planID,
		Window:           window,
		Order:            opts.Order,
		Events:           nonNil(res.Events),
		Dropped:          nonNil(res.Dropped),
		PlannedMinutes:   res.PlannedMinutes,
		ScheduledMinutes: res.ScheduledMinutes,
	})
}

// requestWindow uses the explicit window when given and otherwise builds
// one from start and days, defaulting to today and the configured length.
func (s *Server) requestWindow(req scheduleRequest) (planner.Window, error) {
	if req.Window != nil {
		return *req.Window, req.Window.Validate()
	}
	if req.Days < 0 {
		return planner.Window{}, fmt.Errorf("days must not be negative")
	}

	loc, err := s.cfg.Location()
	if err != nil {
		return planner.Window{}, err
	}
	anchor := s.now().In(loc)
	if req.Start != nil {
		anchor = req.Start.At(planner.Clock{Hour: 12}, loc)
	}
	return s.cfg.BuildWindow(anchor, req.Days)
}

func (s *Server) handleGetCommitments(w http.ResponseWriter, r *http.Request) {
	commitments, err := s.db.Commitments(chi.URLParam(r, "user"))
	if err != nil {
		s.internalError(w, r, "loading commitments", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"commitments": nonNil(commitments)})
}

// handlePutCommitments replaces the user's commitments. The body is either
// an array or an object with a "commitments" array.
func (s *Server) handlePutCommitments(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var raw json.RawMessage
	if err := decodeBody(w, r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	var commitments []planner.Commitment
	var err error
	if trimmed := bytes.TrimSpace(raw); len(trimmed) > 0 && trimmed[0] == '{' {
		var doc struct {
			Commitments []planner.Commitment `json:"commitments"`
		}
		err = json.Unmarshal(trimmed, &doc)
		commitments = doc.Commitments
	} else {
		err = json.Unmarshal(raw, &commitments)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid commitments: %v", err))
		return
	}
	if err := planner.ValidateCommitments(commitments); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := s.db.SaveCommitments(user, commitments); err != nil {
		s.internalError(w, r, "saving commitments", err)
		return
	}
	s.logger.Info("commitments replaced", "user", user, "count", len(commitments))
	writeJSON(w, http.StatusOK, map[string]any{"commitments": nonNil(commitments)})
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	plan, err := s.db.LatestPlan(chi.URLParam(r, "user"))
	if err != nil {
		s.internalError(w, r, "loading plan", err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "no plan for this user")
		return
	}
	plan.Events = nonNil(plan.Events)
	plan.Dropped = nonNil(plan.Dropped)
	writeJSON(w, http.StatusOK, plan)
}

func (s *Server) handleGetPlanICS(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	plan, err := s.db.LatestPlan(user)
	if err != nil {
		s.internalError(w, r, "loading plan", err)
		return
	}
	if plan == nil {
		writeError(w, http.StatusNotFound, "no plan for this user")
		return
	}
	commitments, err := s.db.Commitments(user)
	if err != nil {
		s.internalError(w, r, "loading commitments", err)
		return
	}

	var buf bytes.Buffer
	if err := calendar.Render(&buf, plan.PlannerEvents(), commitments, plan.Window, s.now()); err != nil {
		s.internalError(w, r, "rendering calendar", err)
		return
	}
	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+sanitizeFilename(user)+`-plan.ics"`)
	w.Write(buf.Bytes())
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, what string, err error) {
	s.logger.Error(what+" failed",
		"error", err,
		"path", r.URL.Path,
	)
	writeError(w, http.StatusInternalServerError, what+" failed")
}

func isInputError(err error) bool {
	return errors.Is(err, planner.ErrInvalidInput) ||
		errors.Is(err, planner.ErrDegenerateWindow) ||
		errors.Is(err, planner.ErrWindowTooLong) ||
		errors.Is(err, planner.ErrTooManyChunks)
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '/' || r == '\\' || r < ' ' {
			return '_'
		}
		return r
	}, s)
}
