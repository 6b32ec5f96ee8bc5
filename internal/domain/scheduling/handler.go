package scheduling

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/clinicdesk/clinicdesk/internal/platform/auth"
	"github.com/clinicdesk/clinicdesk/pkg/pagination"
)

type Handler struct {
	schedules *ScheduleStore
	engine    *AvailabilityEngine
	bookings  *BookingCoordinator
}

func NewHandler(schedules *ScheduleStore, engine *AvailabilityEngine, bookings *BookingCoordinator) *Handler {
	return &Handler{schedules: schedules, engine: engine, bookings: bookings}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	readGroup := api.Group("", auth.RequireRole("admin", "doctor", "nurse", "receptionist"))
	readGroup.GET("/schedules", h.ListSchedules)
	readGroup.GET("/schedules/:id", h.GetSchedule)
	readGroup.GET("/availability/slots", h.GetAvailableSlots)
	readGroup.GET("/availability/check", h.CheckAvailability)
	readGroup.GET("/availability/week", h.GetWeeklyAvailability)
	readGroup.GET("/availability/next", h.GetNextAvailableSlots)
	readGroup.GET("/appointments", h.ListAppointments)
	readGroup.GET("/appointments/:id", h.GetAppointment)

	scheduleWrite := api.Group("", auth.RequireRole("admin", "doctor"))
	scheduleWrite.POST("/schedules", h.CreateSchedule)
	scheduleWrite.PUT("/schedules/:id", h.UpdateSchedule)
	scheduleWrite.DELETE("/schedules/:id", h.DeleteSchedule)

	apptWrite := api.Group("", auth.RequireRole("admin", "doctor", "nurse", "receptionist"))
	apptWrite.POST("/appointments", h.CreateAppointment)
	apptWrite.PATCH("/appointments/:id", h.UpdateAppointment)
	apptWrite.POST("/appointments/:id/confirm", h.ConfirmAppointment)
	apptWrite.POST("/appointments/:id/start", h.StartAppointment)
	apptWrite.POST("/appointments/:id/complete", h.CompleteAppointment)
	apptWrite.POST("/appointments/:id/cancel", h.CancelAppointment)
	apptWrite.POST("/appointments/:id/no-show", h.NoShowAppointment)
	apptWrite.POST("/appointments/:id/reschedule", h.RescheduleAppointment)
}

// httpError maps the domain error taxonomy onto HTTP status codes. Unknown
// errors stay internal so storage details never leak to clients.
func httpError(err error) error {
	var (
		vErr  *ValidationError
		nfErr *NotFoundError
		scErr *ScheduleConflictError
		cErr  *ConflictError
		uErr  *UnavailableError
		tErr  *InvalidStateTransitionError
	)
	switch {
	case errors.As(err, &vErr):
		return echo.NewHTTPError(http.StatusBadRequest, vErr.Messages)
	case errors.As(err, &nfErr):
		return echo.NewHTTPError(http.StatusNotFound, nfErr.Error())
	case errors.As(err, &scErr):
		return echo.NewHTTPError(http.StatusConflict, scErr.Error())
	case errors.As(err, &cErr):
		return echo.NewHTTPError(http.StatusConflict, cErr.Error())
	case errors.As(err, &uErr):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, uErr.Error())
	case errors.As(err, &tErr):
		return echo.NewHTTPError(http.StatusConflict, tErr.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func actorID(c echo.Context) uuid.UUID {
	id, err := uuid.Parse(auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return uuid.Nil
	}
	return id
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryDate(c echo.Context, name string) (time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, name+" query parameter required")
	}
	d, err := time.Parse(DateFormat, raw)
	if err != nil {
		return time.Time{}, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name+", expected YYYY-MM-DD")
	}
	return d, nil
}

func queryUUID(c echo.Context, name string) (uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, name+" query parameter required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return id, nil
}

// -- Schedule Handlers --

func (h *Handler) CreateSchedule(c echo.Context) error {
	var b ScheduleBlock
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.schedules.Create(c.Request().Context(), &b, actorID(c)); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) GetSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	b, err := h.schedules.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	blocks, err := h.schedules.FindActiveByDoctor(c.Request().Context(), doctorID)
	if err != nil {
		return httpError(err)
	}
	if blocks == nil {
		blocks = []*ScheduleBlock{}
	}
	return c.JSON(http.StatusOK, blocks)
}

func (h *Handler) UpdateSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var patch ScheduleBlockPatch
	if err := c.Bind(&patch); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.schedules.Update(c.Request().Context(), id, patch, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteSchedule(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.schedules.SoftDelete(c.Request().Context(), id, actorID(c)); err != nil {
		return httpError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

// -- Availability Handlers --

func (h *Handler) GetAvailableSlots(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	duration := intQueryParam(c, "duration", 0)
	slots, err := h.engine.GetAvailableSlots(c.Request().Context(), doctorID, date, duration)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []TimeSlot{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"doctor_id": doctorID,
		"date":      date.Format(DateFormat),
		"slots":     slots,
	})
}

func (h *Handler) CheckAvailability(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	date, err := queryDate(c, "date")
	if err != nil {
		return err
	}
	clock := c.QueryParam("time")
	if clock == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "time query parameter required")
	}
	duration := intQueryParam(c, "duration", 0)
	avail, err := h.engine.CheckAvailability(c.Request().Context(), doctorID, date, clock, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, avail)
}

func (h *Handler) GetWeeklyAvailability(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	start, err := queryDate(c, "start_date")
	if err != nil {
		return err
	}
	end, err := queryDate(c, "end_date")
	if err != nil {
		return err
	}
	duration := intQueryParam(c, "duration", 0)
	days, err := h.engine.GetWeeklyAvailability(c.Request().Context(), doctorID, start, end, duration)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, days)
}

func (h *Handler) GetNextAvailableSlots(c echo.Context) error {
	doctorID, err := queryUUID(c, "doctor_id")
	if err != nil {
		return err
	}
	limit := intQueryParam(c, "limit", 5)
	duration := intQueryParam(c, "duration", 0)
	slots, err := h.engine.GetNextAvailableSlots(c.Request().Context(), doctorID, limit, duration)
	if err != nil {
		return httpError(err)
	}
	if slots == nil {
		slots = []AvailableSlot{}
	}
	return c.JSON(http.StatusOK, slots)
}

// -- Appointment Handlers --

type bookingPayload struct {
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Date      string    `json:"appointment_date"`
	Time      string    `json:"appointment_time"`
	Reason    string    `json:"reason"`
	Duration  int       `json:"estimated_duration"`
	Priority  Priority  `json:"priority"`
	Notes     string    `json:"notes"`
}

func (h *Handler) CreateAppointment(c echo.Context) error {
	var p bookingPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := time.Parse(DateFormat, p.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, expected YYYY-MM-DD")
	}
	a, err := h.bookings.CreateAppointment(c.Request().Context(), BookingRequest{
		PatientID: p.PatientID,
		DoctorID:  p.DoctorID,
		Date:      date,
		Time:      p.Time,
		Reason:    p.Reason,
		Duration:  p.Duration,
		Priority:  p.Priority,
		Notes:     p.Notes,
	}, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.bookings.Get(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	ctx := c.Request().Context()

	if patientID := c.QueryParam("patient_id"); patientID != "" {
		pid, err := uuid.Parse(patientID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		items, total, err := h.bookings.ListByPatient(ctx, pid, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
	if doctorID := c.QueryParam("doctor_id"); doctorID != "" {
		did, err := uuid.Parse(doctorID)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid doctor_id")
		}
		items, total, err := h.bookings.ListByDoctor(ctx, did, pg.Limit, pg.Offset)
		if err != nil {
			return httpError(err)
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}

	params := map[string]string{}
	for _, k := range []string{"status", "date"} {
		if v := c.QueryParam(k); v != "" {
			params[k] = v
		}
	}
	items, total, err := h.bookings.Search(ctx, params, pg.Limit, pg.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type appointmentPatchPayload struct {
	Date     *string    `json:"appointment_date"`
	Time     *string    `json:"appointment_time"`
	DoctorID *uuid.UUID `json:"doctor_id"`
	Duration *int       `json:"estimated_duration"`
	Priority *Priority  `json:"priority"`
	Reason   *string    `json:"reason"`
	Notes    *string    `json:"notes"`
}

func (h *Handler) UpdateAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p appointmentPatchPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	patch := AppointmentPatch{
		Time:     p.Time,
		DoctorID: p.DoctorID,
		Duration: p.Duration,
		Priority: p.Priority,
		Reason:   p.Reason,
		Notes:    p.Notes,
	}
	if p.Date != nil {
		d, err := time.Parse(DateFormat, *p.Date)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, expected YYYY-MM-DD")
		}
		patch.Date = &d
	}
	a, err := h.bookings.UpdateAppointment(c.Request().Context(), id, patch, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) ConfirmAppointment(c echo.Context) error {
	return h.doTransition(c, h.bookings.Confirm)
}

func (h *Handler) StartAppointment(c echo.Context) error {
	return h.doTransition(c, h.bookings.Start)
}

func (h *Handler) CompleteAppointment(c echo.Context) error {
	return h.doTransition(c, h.bookings.Complete)
}

func (h *Handler) NoShowAppointment(c echo.Context) error {
	return h.doTransition(c, h.bookings.NoShow)
}

func (h *Handler) doTransition(c echo.Context, fn func(ctx context.Context, id, actorID uuid.UUID) (*Appointment, error)) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := fn(c.Request().Context(), id, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) CancelAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p struct {
		Reason string `json:"cancellation_reason"`
	}
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	a, err := h.bookings.Cancel(c.Request().Context(), id, p.Reason, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

type reschedulePayload struct {
	Date     string    `json:"appointment_date"`
	Time     string    `json:"appointment_time"`
	DoctorID uuid.UUID `json:"doctor_id"`
}

func (h *Handler) RescheduleAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var p reschedulePayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	date, err := time.Parse(DateFormat, p.Date)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid appointment_date, expected YYYY-MM-DD")
	}
	a, err := h.bookings.Reschedule(c.Request().Context(), id, RescheduleRequest{
		Date:     date,
		Time:     p.Time,
		DoctorID: p.DoctorID,
	}, actorID(c))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, a)
}

func intQueryParam(c echo.Context, name string, def int) int {
	raw := c.QueryParam(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return def
	}
	return v
}
