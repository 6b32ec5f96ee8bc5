package scheduling

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	minReasonLen       = 10
	maxReasonLen       = 500
	minDurationMinutes = 15
	maxDurationMinutes = 240
	defaultDuration    = 30
	minCancelReasonLen = 5
)

// DirectoryLookup answers existence-and-active checks against an external
// patient or doctor directory.
type DirectoryLookup interface {
	ActiveExists(ctx context.Context, id uuid.UUID) (bool, error)
}

// SlotCacheInvalidator drops cached availability for a doctor+date after a
// mutation. A nil invalidator is a no-op.
type SlotCacheInvalidator interface {
	InvalidateSlots(ctx context.Context, doctorID uuid.UUID, date time.Time)
}

// Transactor runs fn atomically. The database implementation opens a
// transaction that the repositories join through fn's context.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// BookingRequest carries the fields for a new appointment.
type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	Time      string
	Reason    string
	Duration  int
	Priority  Priority
	Notes     string
}

// AppointmentPatch carries optional fields for a partial appointment update.
type AppointmentPatch struct {
	Date     *time.Time
	Time     *string
	DoctorID *uuid.UUID
	Duration *int
	Priority *Priority
	Reason   *string
	Notes    *string
}

// RescheduleRequest moves an appointment to a new date/time and optionally a
// new doctor.
type RescheduleRequest struct {
	Date     time.Time
	Time     string
	DoctorID uuid.UUID // uuid.Nil keeps the current doctor
}

// BookingCoordinator orchestrates field validation, directory checks,
// availability evaluation and lifecycle transitions into atomic-intent
// operations. Every check runs before the write; a validation failure never
// leaves a partial row. The storage layer's unique booking constraint backs
// up the read-side conflict check, so the losing writer of a race gets a
// clean *ConflictError.
type BookingCoordinator struct {
	appts    AppointmentRepository
	engine   *AvailabilityEngine
	patients DirectoryLookup
	doctors  DirectoryLookup
	cache    SlotCacheInvalidator
	tx       Transactor
	log      zerolog.Logger
	now      func() time.Time
}

func NewBookingCoordinator(appts AppointmentRepository, engine *AvailabilityEngine,
	patients, doctors DirectoryLookup, cache SlotCacheInvalidator, log zerolog.Logger) *BookingCoordinator {
	return &BookingCoordinator{
		appts:    appts,
		engine:   engine,
		patients: patients,
		doctors:  doctors,
		cache:    cache,
		log:      log,
		now:      time.Now,
	}
}

// WithTransactor makes the coordinator's check-then-write sequences run
// inside a transaction, so the conflict check and the write it guards see
// one consistent snapshot. A nil transactor runs them directly.
func (c *BookingCoordinator) WithTransactor(tx Transactor) *BookingCoordinator {
	c.tx = tx
	return c
}

func (c *BookingCoordinator) inTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if c.tx == nil {
		return fn(ctx)
	}
	return c.tx.InTx(ctx, fn)
}

// validateFields checks the request's scalar fields, normalizing time,
// duration and priority in place. All problems are collected into one
// *ValidationError.
func (c *BookingCoordinator) validateFields(req *BookingRequest) error {
	var msgs []string

	if req.PatientID == uuid.Nil {
		msgs = append(msgs, "patient_id is required")
	}
	if req.DoctorID == uuid.Nil {
		msgs = append(msgs, "doctor_id is required")
	}

	if req.Date.IsZero() {
		msgs = append(msgs, "date is required")
	} else if dateOnly(req.Date).Before(dateOnly(c.now())) {
		msgs = append(msgs, "appointment date cannot be in the past")
	}

	if min, err := ParseClock(req.Time); err != nil {
		msgs = append(msgs, "time: "+err.Error())
	} else {
		req.Time = NormalizeClock(min)
	}

	reason := strings.TrimSpace(req.Reason)
	if len(reason) < minReasonLen || len(reason) > maxReasonLen {
		msgs = append(msgs, fmt.Sprintf("reason must be between %d and %d characters", minReasonLen, maxReasonLen))
	}
	req.Reason = reason

	if req.Duration == 0 {
		req.Duration = defaultDuration
	}
	if req.Duration < minDurationMinutes || req.Duration > maxDurationMinutes {
		msgs = append(msgs, fmt.Sprintf("duration must be between %d and %d minutes", minDurationMinutes, maxDurationMinutes))
	}

	if req.Priority == "" {
		req.Priority = PriorityNormal
	}
	if !req.Priority.Valid() {
		msgs = append(msgs, fmt.Sprintf("priority must be one of low, normal, high, urgent; got %q", req.Priority))
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

// checkDirectories verifies the referenced patient and doctor exist and are
// active.
func (c *BookingCoordinator) checkDirectories(ctx context.Context, patientID, doctorID uuid.UUID) error {
	ok, err := c.patients.ActiveExists(ctx, patientID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Resource: "patient", ID: patientID}
	}
	ok, err = c.doctors.ActiveExists(ctx, doctorID)
	if err != nil {
		return err
	}
	if !ok {
		return &NotFoundError{Resource: "doctor", ID: doctorID}
	}
	return nil
}

// checkSlot runs the schedule, break and conflict checks for a candidate
// slot and maps the verdict to the error taxonomy.
func (c *BookingCoordinator) checkSlot(ctx context.Context, doctorID uuid.UUID, date time.Time,
	clock string, duration int, excludeApptID uuid.UUID) error {

	verdict, err := c.engine.evaluate(ctx, doctorID, date, clock, duration, excludeApptID)
	if err != nil {
		return err
	}
	switch verdict {
	case slotNoSchedule:
		return &UnavailableError{Reason: fmt.Sprintf("doctor has no schedule on %s", date.Weekday())}
	case slotOutsideHours:
		return &UnavailableError{Reason: "requested time is outside the doctor's working hours"}
	case slotInBreak:
		return &UnavailableError{Reason: "requested time falls within the doctor's break"}
	case slotConflict:
		return &ConflictError{DoctorID: doctorID, Date: date, StartTime: clock}
	}
	return nil
}

// CreateAppointment validates and books a new appointment in state
// scheduled. All checks run before the insert.
func (c *BookingCoordinator) CreateAppointment(ctx context.Context, req BookingRequest, actorID uuid.UUID) (*Appointment, error) {
	if err := c.validateFields(&req); err != nil {
		return nil, err
	}
	if err := c.checkDirectories(ctx, req.PatientID, req.DoctorID); err != nil {
		return nil, err
	}

	a := &Appointment{
		PatientID:         req.PatientID,
		DoctorID:          req.DoctorID,
		AppointmentDate:   dateOnly(req.Date),
		AppointmentTime:   req.Time,
		EstimatedDuration: req.Duration,
		Status:            StatusScheduled,
		Priority:          req.Priority,
		Reason:            req.Reason,
	}
	if req.Notes != "" {
		a.Notes = &req.Notes
	}
	if actorID != uuid.Nil {
		a.CreatedBy = &actorID
		a.UpdatedBy = &actorID
	}

	err := c.inTx(ctx, func(ctx context.Context) error {
		if err := c.checkSlot(ctx, a.DoctorID, a.AppointmentDate, a.AppointmentTime, a.EstimatedDuration, uuid.Nil); err != nil {
			return err
		}
		return c.appts.Create(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, a.DoctorID, a.AppointmentDate)
	c.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("doctor_id", a.DoctorID.String()).
		Str("date", a.AppointmentDate.Format(DateFormat)).
		Str("time", a.AppointmentTime).
		Msg("appointment booked")
	return a, nil
}

// UpdateAppointment merges the patch onto the stored appointment. Edits are
// rejected for completed and cancelled appointments. When the date, time or
// doctor change, the merged values re-run the schedule and conflict checks
// before the write.
func (c *BookingCoordinator) UpdateAppointment(ctx context.Context, id uuid.UUID, patch AppointmentPatch, actorID uuid.UUID) (*Appointment, error) {
	var (
		a         *Appointment
		oldDoctor uuid.UUID
		oldDate   time.Time
		rebook    bool
	)
	err := c.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = c.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Resource: "appointment", ID: id}
		}
		if a.Status == StatusCompleted || a.Status == StatusCancelled {
			return &ValidationError{Messages: []string{
				fmt.Sprintf("cannot modify an appointment in state %q", a.Status),
			}}
		}

		oldDoctor, oldDate = a.DoctorID, a.AppointmentDate

		if patch.Date != nil {
			a.AppointmentDate = dateOnly(*patch.Date)
			rebook = true
		}
		if patch.Time != nil {
			min, err := ParseClock(*patch.Time)
			if err != nil {
				return &ValidationError{Messages: []string{"time: " + err.Error()}}
			}
			a.AppointmentTime = NormalizeClock(min)
			rebook = true
		}
		if patch.DoctorID != nil && *patch.DoctorID != a.DoctorID {
			a.DoctorID = *patch.DoctorID
			rebook = true
		}
		if patch.Duration != nil {
			if *patch.Duration < minDurationMinutes || *patch.Duration > maxDurationMinutes {
				return &ValidationError{Messages: []string{
					fmt.Sprintf("duration must be between %d and %d minutes", minDurationMinutes, maxDurationMinutes),
				}}
			}
			a.EstimatedDuration = *patch.Duration
			rebook = true
		}
		if patch.Priority != nil {
			if !patch.Priority.Valid() {
				return &ValidationError{Messages: []string{
					fmt.Sprintf("priority must be one of low, normal, high, urgent; got %q", *patch.Priority),
				}}
			}
			a.Priority = *patch.Priority
		}
		if patch.Reason != nil {
			reason := strings.TrimSpace(*patch.Reason)
			if len(reason) < minReasonLen || len(reason) > maxReasonLen {
				return &ValidationError{Messages: []string{
					fmt.Sprintf("reason must be between %d and %d characters", minReasonLen, maxReasonLen),
				}}
			}
			a.Reason = reason
		}
		if patch.Notes != nil {
			a.Notes = patch.Notes
		}

		if rebook {
			if dateOnly(a.AppointmentDate).Before(dateOnly(c.now())) {
				return &ValidationError{Messages: []string{"appointment date cannot be in the past"}}
			}
			if a.DoctorID != oldDoctor {
				ok, err := c.doctors.ActiveExists(ctx, a.DoctorID)
				if err != nil {
					return err
				}
				if !ok {
					return &NotFoundError{Resource: "doctor", ID: a.DoctorID}
				}
			}
			if err := c.checkSlot(ctx, a.DoctorID, a.AppointmentDate, a.AppointmentTime, a.EstimatedDuration, a.ID); err != nil {
				return err
			}
		}

		if actorID != uuid.Nil {
			a.UpdatedBy = &actorID
		}
		return c.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	if rebook {
		c.invalidate(ctx, oldDoctor, oldDate)
	}
	c.invalidate(ctx, a.DoctorID, a.AppointmentDate)
	return a, nil
}

// Confirm moves a scheduled appointment to confirmed.
func (c *BookingCoordinator) Confirm(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, id, ActionConfirm, actorID)
}

// Start moves a scheduled or confirmed appointment to in_progress.
func (c *BookingCoordinator) Start(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, id, ActionStart, actorID)
}

// Complete moves a confirmed or in-progress appointment to completed.
func (c *BookingCoordinator) Complete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*Appointment, error) {
	return c.transition(ctx, id, ActionComplete, actorID)
}

// NoShow marks a confirmed appointment as a no-show, freeing its slot.
func (c *BookingCoordinator) NoShow(ctx context.Context, id uuid.UUID, actorID uuid.UUID) (*Appointment, error) {
	a, err := c.transition(ctx, id, ActionNoShow, actorID)
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, a.DoctorID, a.AppointmentDate)
	return a, nil
}

// Cancel cancels an appointment with a reason of at least five characters.
// Cancellation is a status change, never a deletion. Cancelling within two
// hours of the scheduled start is permitted but recorded as late.
func (c *BookingCoordinator) Cancel(ctx context.Context, id uuid.UUID, reason string, actorID uuid.UUID) (*Appointment, error) {
	reason = strings.TrimSpace(reason)
	if len(reason) < minCancelReasonLen {
		return nil, &ValidationError{Messages: []string{
			fmt.Sprintf("cancellation reason must be at least %d characters", minCancelReasonLen),
		}}
	}

	a, err := c.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}

	late := IsLateCancellation(a, c.now())
	if err := Transition(a, ActionCancel); err != nil {
		return nil, err
	}
	a.CancellationReason = &reason
	a.LateCancellation = late
	if actorID != uuid.Nil {
		a.UpdatedBy = &actorID
	}

	if err := c.appts.Update(ctx, a); err != nil {
		return nil, err
	}
	c.invalidate(ctx, a.DoctorID, a.AppointmentDate)
	c.log.Info().
		Str("appointment_id", a.ID.String()).
		Bool("late", late).
		Msg("appointment cancelled")
	return a, nil
}

// Reschedule moves an appointment to a new date/time (and optionally a new
// doctor), re-running the full booking validation pipeline against the new
// values. The appointment id is preserved and an explanatory note appended.
func (c *BookingCoordinator) Reschedule(ctx context.Context, id uuid.UUID, req RescheduleRequest, actorID uuid.UUID) (*Appointment, error) {
	var (
		a         *Appointment
		oldDoctor uuid.UUID
		oldDate   time.Time
	)
	err := c.inTx(ctx, func(ctx context.Context) error {
		var err error
		a, err = c.appts.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if a == nil {
			return &NotFoundError{Resource: "appointment", ID: id}
		}
		if !CanTransition(a.Status, ActionReschedule) {
			return &InvalidStateTransitionError{
				Current: a.Status,
				Action:  ActionReschedule,
				Allowed: AllowedSources(ActionReschedule),
			}
		}

		newDoctor := a.DoctorID
		if req.DoctorID != uuid.Nil {
			newDoctor = req.DoctorID
		}

		var msgs []string
		if req.Date.IsZero() {
			msgs = append(msgs, "date is required")
		} else if dateOnly(req.Date).Before(dateOnly(c.now())) {
			msgs = append(msgs, "appointment date cannot be in the past")
		}
		newTime := req.Time
		if min, err := ParseClock(req.Time); err != nil {
			msgs = append(msgs, "time: "+err.Error())
		} else {
			newTime = NormalizeClock(min)
		}
		if len(msgs) > 0 {
			return &ValidationError{Messages: msgs}
		}

		if err := c.checkDirectories(ctx, a.PatientID, newDoctor); err != nil {
			return err
		}
		if err := c.checkSlot(ctx, newDoctor, req.Date, newTime, a.EstimatedDuration, a.ID); err != nil {
			return err
		}

		var oldTime string
		oldDoctor, oldDate, oldTime = a.DoctorID, a.AppointmentDate, a.AppointmentTime
		a.DoctorID = newDoctor
		a.AppointmentDate = dateOnly(req.Date)
		a.AppointmentTime = newTime
		if err := Transition(a, ActionReschedule); err != nil {
			return err
		}

		note := fmt.Sprintf("rescheduled from %s %s", oldDate.Format(DateFormat), oldTime)
		if a.Notes != nil && *a.Notes != "" {
			note = *a.Notes + "\n" + note
		}
		a.Notes = &note
		if actorID != uuid.Nil {
			a.UpdatedBy = &actorID
		}
		return c.appts.Update(ctx, a)
	})
	if err != nil {
		return nil, err
	}
	c.invalidate(ctx, oldDoctor, oldDate)
	c.invalidate(ctx, a.DoctorID, a.AppointmentDate)
	c.log.Info().
		Str("appointment_id", a.ID.String()).
		Str("date", a.AppointmentDate.Format(DateFormat)).
		Str("time", a.AppointmentTime).
		Msg("appointment rescheduled")
	return a, nil
}

// Get returns the appointment by id.
func (c *BookingCoordinator) Get(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := c.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	return a, nil
}

// ListByPatient returns the patient's appointments, newest first.
func (c *BookingCoordinator) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return c.appts.ListByPatient(ctx, patientID, limit, offset)
}

// ListByDoctor returns the doctor's appointments, newest first.
func (c *BookingCoordinator) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	return c.appts.ListByDoctor(ctx, doctorID, limit, offset)
}

// Search filters appointments by the supported query parameters.
func (c *BookingCoordinator) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	return c.appts.Search(ctx, params, limit, offset)
}

// transition loads, applies a lifecycle action, stamps the actor and writes.
func (c *BookingCoordinator) transition(ctx context.Context, id uuid.UUID, action Action, actorID uuid.UUID) (*Appointment, error) {
	a, err := c.appts.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a == nil {
		return nil, &NotFoundError{Resource: "appointment", ID: id}
	}
	if err := Transition(a, action); err != nil {
		return nil, err
	}
	if actorID != uuid.Nil {
		a.UpdatedBy = &actorID
	}
	if err := c.appts.Update(ctx, a); err != nil {
		return nil, err
	}
	return a, nil
}

func (c *BookingCoordinator) invalidate(ctx context.Context, doctorID uuid.UUID, date time.Time) {
	if c.cache != nil {
		c.cache.InvalidateSlots(ctx, doctorID, date)
	}
}
