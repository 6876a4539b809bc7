package scheduling

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinic/scheduler/internal/platform/auth"
	"github.com/clinic/scheduler/internal/platform/lock"
	"github.com/clinic/scheduler/pkg/pagination"
)

type Handler struct {
	svc *Service
	// OnReject, when set, is told the kind of every domain error returned
	// to a caller.
	OnReject func(reason string)
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) fail(err error) error {
	if h.OnReject != nil {
		if reason := RejectionReason(err); reason != "" {
			h.OnReject(reason)
		}
	}
	return httpError(err)
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("", auth.RequireActive())
	g.GET("/appointments", h.ListAppointments)
	g.POST("/appointments", h.CreateAppointment)
	g.GET("/appointments/:id", h.GetAppointment)
	g.PUT("/appointments/:id", h.EditAppointment)
	g.PATCH("/appointments/:id", h.EditAppointment)
	g.DELETE("/appointments/:id", h.DeleteAppointment)
	g.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	g.POST("/appointments/:id/cancel", h.CancelAppointment)
	g.POST("/appointments/:id/complete", h.CompleteAppointment)
	g.GET("/patients/:id/appointments", h.PatientHistory)
	g.GET("/business-hours", h.GetBusinessHours)
}

// appointmentResponse decorates an appointment with its end time and the
// actions still legal from its state.
type appointmentResponse struct {
	*Appointment
	End     time.Time `json:"end"`
	Actions []Action  `json:"actions"`
}

func respond(a *Appointment) appointmentResponse {
	actions := Transitionable(a.State)
	if actions == nil {
		actions = []Action{}
	}
	return appointmentResponse{Appointment: a, End: a.End(), Actions: actions}
}

func respondAll(items []*Appointment) []appointmentResponse {
	out := make([]appointmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, respond(a))
	}
	return out
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	var in CreateInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Create(c.Request().Context(), in, actor)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusCreated, respond(appt))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	appt, err := h.svc.Get(c.Request().Context(), id, actor)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, respond(appt))
}

func (h *Handler) ListAppointments(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	pg := pagination.FromContext(c)
	f := Filter{Limit: pg.Limit, Offset: pg.Offset}

	if v := c.QueryParam("provider_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid provider_id")
		}
		f.ProviderID = &id
	}
	if v := c.QueryParam("patient_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		f.PatientID = &id
	}
	if v := c.QueryParam("state"); v != "" {
		st, err := ParseState(v)
		if err != nil {
			return h.fail(err)
		}
		f.State = &st
	}
	if v := c.QueryParam("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid from: want RFC 3339")
		}
		f.From = &t
	}
	if v := c.QueryParam("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid to: want RFC 3339")
		}
		f.To = &t
	}

	items, total, err := h.svc.Query(c.Request().Context(), f, actor)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(respondAll(items), total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) EditAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var in EditInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	appt, err := h.svc.Edit(c.Request().Context(), id, in, actor)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, respond(appt))
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.transition(c, ActionConfirm)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	return h.transition(c, ActionCancel)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.transition(c, ActionComplete)
}

func (h *Handler) transition(c echo.Context, action Action) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var payload TransitionPayload
	if c.Request().ContentLength != 0 {
		if err := c.Bind(&payload); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
	}
	appt, err := h.svc.Transition(c.Request().Context(), id, action, actor, payload)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, respond(appt))
}

func (h *Handler) DeleteAppointment(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if err := h.svc.Delete(c.Request().Context(), id, actor); err != nil {
		return h.fail(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) PatientHistory(c echo.Context) error {
	actor, err := actorFromContext(c)
	if err != nil {
		return err
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.PatientHistory(c.Request().Context(), id, pg.Limit, pg.Offset, actor)
	if err != nil {
		return h.fail(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(respondAll(items), total, pg.Limit, pg.Offset).WithLinks(c.Request().URL.Path))
}

func (h *Handler) GetBusinessHours(c echo.Context) error {
	hours := h.svc.Hours()
	days := make([]string, 0, len(hours.Workdays))
	for _, d := range hours.Workdays {
		days = append(days, d.String())
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"name":     hours.Name,
		"workdays": days,
		"open":     hours.Open.String(),
		"close":    hours.Close.String(),
		"timezone": hours.location().String(),
	})
}

// actorFromContext builds the acting identity from the authenticated request.
func actorFromContext(c echo.Context) (Actor, error) {
	ctx := c.Request().Context()
	id, err := uuid.Parse(auth.UserIDFromContext(ctx))
	if err != nil {
		return Actor{}, echo.NewHTTPError(http.StatusUnauthorized, "subject is not a valid actor id")
	}
	for _, r := range auth.RolesFromContext(ctx) {
		if role, err := ParseRole(r); err == nil {
			return Actor{ID: id, Role: role, Active: auth.ActiveFromContext(ctx)}, nil
		}
	}
	return Actor{}, echo.NewHTTPError(http.StatusForbidden, "no scheduling role")
}

// RejectionReason names the domain error kind of err, or "" for
// infrastructure failures.
func RejectionReason(err error) string {
	var (
		validation *ValidationError
		conflict   *ConflictError
		authz      *AuthorizationError
		notFound   *NotFoundError
		illegal    *IllegalStateTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return "validation"
	case errors.As(err, &conflict):
		return "conflict"
	case errors.As(err, &authz):
		return "authorization"
	case errors.As(err, &notFound):
		return "not_found"
	case errors.As(err, &illegal):
		return "illegal_transition"
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return "lock_timeout"
	}
	return ""
}

// httpError maps domain errors onto HTTP status codes.
func httpError(err error) error {
	var (
		validation *ValidationError
		conflict   *ConflictError
		authz      *AuthorizationError
		notFound   *NotFoundError
		illegal    *IllegalStateTransitionError
	)
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &conflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &authz):
		return echo.NewHTTPError(http.StatusForbidden, err.Error())
	case errors.As(err, &notFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &illegal):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, lock.ErrLockTimeout), errors.Is(err, context.DeadlineExceeded):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "calendar is busy, retry")
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
