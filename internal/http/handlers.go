package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/conceptd/internal/checkpoint"
	"github.com/fyrsmithlabs/conceptd/internal/engine"
	"github.com/fyrsmithlabs/conceptd/internal/memory"
	"github.com/fyrsmithlabs/conceptd/internal/mode"
	"github.com/fyrsmithlabs/conceptd/internal/session"
)

// StartSessionRequest is the request body for POST /api/v1/sessions.
type StartSessionRequest struct {
	ModeHint string `json:"mode_hint,omitempty"`
}

// StartSessionResponse is the response body for POST /api/v1/sessions.
type StartSessionResponse struct {
	SessionID string `json:"session_id"`
}

// ForceRequest is the request body for POST /api/v1/sessions/:id/force.
type ForceRequest struct {
	Target string `json:"target"`
	Reason string `json:"reason"`
}

// ValidateRequest is the request body for POST /api/v1/sessions/:id/validate.
type ValidateRequest struct {
	Threshold float64 `json:"threshold,omitempty"`
}

// RollbackRequest is the request body for POST /api/v1/sessions/:id/rollback.
type RollbackRequest struct {
	CheckpointID string `json:"checkpoint_id"`
}

// AbandonRequest is the request body for DELETE /api/v1/sessions/:id.
type AbandonRequest struct {
	Reason string `json:"reason"`
}

// AdvanceResponse is the response body for POST /api/v1/sessions/:id/advance.
type AdvanceResponse struct {
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
	NoOp       bool                   `json:"no_op,omitempty"`
}

func (s *Server) handleStartSession(c echo.Context) error {
	var req StartSessionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	id, err := s.engine.StartSession(c.Request().Context(), req.ModeHint)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusCreated, StartSessionResponse{SessionID: id})
}

func (s *Server) handleGetSession(c echo.Context) error {
	info, err := s.engine.Info(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, info)
}

func (s *Server) handleAbandonSession(c echo.Context) error {
	var req AbandonRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Reason == "" {
		req.Reason = "abandoned via api"
	}
	if err := s.engine.Abandon(c.Request().Context(), c.Param("id"), req.Reason); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleSubmitTurn(c echo.Context) error {
	var in engine.TurnInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.engine.SubmitTurn(c.Request().Context(), c.Param("id"), in)
	if err != nil {
		// Entities applied before the failure stay applied. Return
		// them with the error so the caller can reconcile.
		if res != nil && len(res.Deltas) > 0 {
			return c.JSON(statusFor(err), echo.Map{
				"error":  err.Error(),
				"deltas": res.Deltas,
			})
		}
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleAdvance(c echo.Context) error {
	cp, err := s.engine.AdvancePhase(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, AdvanceResponse{Checkpoint: cp, NoOp: cp == nil})
}

func (s *Server) handleForce(c echo.Context) error {
	var req ForceRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	tr, err := s.engine.ForcePhase(c.Request().Context(), c.Param("id"), session.Phase(req.Target), req.Reason)
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, tr)
}

func (s *Server) handleValidate(c echo.Context) error {
	var req ValidateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	res, err := s.engine.RequestValidation(c.Request().Context(), c.Param("id"),
		engine.SignalConfig{Threshold: req.Threshold})
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleGetMode(c echo.Context) error {
	decision, err := s.engine.GetRecommendedMode(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, decision)
}

func (s *Server) handleConfirmDowngrade(c echo.Context) error {
	m, err := s.engine.ConfirmModeDowngrade(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"mode": m})
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	cps, err := s.engine.Checkpoints(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.mapError(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"checkpoints": cps})
}

func (s *Server) handleRollback(c echo.Context) error {
	var req RollbackRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.CheckpointID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "checkpoint_id field is required")
	}
	if err := s.engine.Rollback(c.Request().Context(), c.Param("id"), req.CheckpointID); err != nil {
		return s.mapError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// statusFor maps engine and domain errors to HTTP status codes.
func statusFor(err error) int {
	var (
		transition *session.StateTransitionError
		conflict   *memory.ConflictError
		phaseErr   *engine.PhaseError
		exists     *checkpoint.AlreadyExistsError
	)
	switch {
	case errors.Is(err, engine.ErrSessionNotFound),
		errors.Is(err, checkpoint.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &transition):
		return http.StatusPreconditionFailed
	case errors.As(err, &conflict), errors.As(err, &exists),
		errors.Is(err, session.ErrTerminal),
		errors.Is(err, mode.ErrNoPendingDowngrade):
		return http.StatusConflict
	case errors.As(err, &phaseErr):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrInvalidModeHint),
		errors.Is(err, engine.ErrNoEntities),
		errors.Is(err, session.ErrEmptyReason),
		errors.Is(err, session.ErrInvalidTarget),
		errors.Is(err, memory.ErrEmptyKey),
		errors.Is(err, memory.ErrUnknownKind),
		errors.Is(err, memory.ErrMissingPayload):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) mapError(c echo.Context, err error) error {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
		return echo.NewHTTPError(status, "internal error")
	}
	return echo.NewHTTPError(status, err.Error())
}
