package scheduling

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ValidationError reports one or more field-level problems with a request.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Messages, "; ")
}

// NotFoundError indicates a referenced entity is missing or inactive.
type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found or inactive", e.Resource, e.ID)
}

// ScheduleConflictError indicates a schedule block overlaps an existing
// active block for the same doctor and weekday.
type ScheduleConflictError struct {
	DoctorID  uuid.UUID
	DayOfWeek time.Weekday
	StartTime string
	EndTime   string
}

func (e *ScheduleConflictError) Error() string {
	return fmt.Sprintf("schedule conflict: doctor %s already has a block overlapping %s-%s on %s",
		e.DoctorID, e.StartTime, e.EndTime, e.DayOfWeek)
}

// ConflictError indicates an appointment overlaps an existing booked
// appointment for the same doctor and date.
type ConflictError struct {
	DoctorID  uuid.UUID
	Date      time.Time
	StartTime string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("appointment conflict: doctor %s already has a booking overlapping %s at %s",
		e.DoctorID, e.Date.Format(DateFormat), e.StartTime)
}

// UnavailableError indicates the requested slot is not bookable, with a
// human-readable reason.
type UnavailableError struct {
	Reason string
}

func (e *UnavailableError) Error() string {
	return "slot unavailable: " + e.Reason
}

// InvalidStateTransitionError indicates an illegal appointment status change.
type InvalidStateTransitionError struct {
	Current AppointmentStatus
	Action  Action
	Allowed []AppointmentStatus
}

func (e *InvalidStateTransitionError) Error() string {
	allowed := make([]string, len(e.Allowed))
	for i, s := range e.Allowed {
		allowed[i] = string(s)
	}
	return fmt.Sprintf("cannot %s an appointment in state %q; allowed from: %s",
		e.Action, e.Current, strings.Join(allowed, ", "))
}
