package scheduling

import (
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
)

// ScheduleType classifies a recurring availability block.
type ScheduleType string

const (
	ScheduleRegular   ScheduleType = "regular"
	ScheduleSpecial   ScheduleType = "special"
	ScheduleEmergency ScheduleType = "emergency"
	ScheduleSurgery   ScheduleType = "surgery"
)

// Valid reports whether t is a known schedule type.
func (t ScheduleType) Valid() bool {
	switch t {
	case ScheduleRegular, ScheduleSpecial, ScheduleEmergency, ScheduleSurgery:
		return true
	}
	return false
}

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusScheduled  AppointmentStatus = "scheduled"
	StatusConfirmed  AppointmentStatus = "confirmed"
	StatusInProgress AppointmentStatus = "in_progress"
	StatusCompleted  AppointmentStatus = "completed"
	StatusCancelled  AppointmentStatus = "cancelled"
	StatusNoShow     AppointmentStatus = "no_show"
)

// Terminal reports whether no further transitions leave this state.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled || s == StatusNoShow
}

// Blocking reports whether an appointment in this state occupies its time
// slot for conflict purposes. Cancelled and no-show appointments free the
// slot; everything else holds it.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// Priority is the urgency of an appointment.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is a known priority.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityNormal, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// clockRE matches 24-hour clock times, HH:MM with optional seconds.
var clockRE = regexp.MustCompile(`^([01][0-9]|2[0-3]):([0-5][0-9])(?::([0-5][0-9]))?$`)

// ParseClock parses an HH:MM or HH:MM:SS 24-hour time into minutes since
// midnight. Seconds, if present, are dropped.
func ParseClock(s string) (int, error) {
	m := clockRE.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("invalid time %q: expected 24-hour HH:MM or HH:MM:SS", s)
	}
	var h, min int
	fmt.Sscanf(m[1], "%d", &h)
	fmt.Sscanf(m[2], "%d", &min)
	return h*60 + min, nil
}

// FormatClock renders minutes since midnight as HH:MM.
func FormatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}

// NormalizeClock renders minutes since midnight as HH:MM:SS, the storage
// format for clock times.
func NormalizeClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d:00", minutes/60, minutes%60)
}

// ScheduleBlock is one doctor's recurring weekly working-hours interval on a
// single weekday, optionally with a break and a validity date range. Clock
// times are stored as HH:MM:SS strings; the day-of-week encoding follows
// time.Weekday (0=Sunday..6=Saturday).
type ScheduleBlock struct {
	ID                 uuid.UUID    `db:"id" json:"id"`
	DoctorID           uuid.UUID    `db:"doctor_id" json:"doctor_id"`
	DayOfWeek          time.Weekday `db:"day_of_week" json:"day_of_week"`
	StartTime          string       `db:"start_time" json:"start_time"`
	EndTime            string       `db:"end_time" json:"end_time"`
	BreakStart         *string      `db:"break_start" json:"break_start,omitempty"`
	BreakEnd           *string      `db:"break_end" json:"break_end,omitempty"`
	SlotDuration       int          `db:"slot_duration" json:"slot_duration"`
	MaxPatientsPerSlot int          `db:"max_patients_per_slot" json:"max_patients_per_slot"`
	ScheduleType       ScheduleType `db:"schedule_type" json:"schedule_type"`
	ValidFrom          *time.Time   `db:"valid_from" json:"valid_from,omitempty"`
	ValidTo            *time.Time   `db:"valid_to" json:"valid_to,omitempty"`
	IsAvailable        bool         `db:"is_available" json:"is_available"`
	IsRecurring        bool         `db:"is_recurring" json:"is_recurring"`
	Active             bool         `db:"active" json:"active"`
	DeletedAt          *time.Time   `db:"deleted_at" json:"deleted_at,omitempty"`
	CreatedBy          *uuid.UUID   `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy          *uuid.UUID   `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt          time.Time    `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time    `db:"updated_at" json:"updated_at"`
}

// Span returns the working interval as minutes since midnight. The block must
// have been validated first.
func (b *ScheduleBlock) Span() (start, end int) {
	start, _ = ParseClock(b.StartTime)
	end, _ = ParseClock(b.EndTime)
	return start, end
}

// BreakSpan returns the break interval in minutes since midnight, and whether
// a break is configured.
func (b *ScheduleBlock) BreakSpan() (start, end int, ok bool) {
	if b.BreakStart == nil || b.BreakEnd == nil {
		return 0, 0, false
	}
	start, _ = ParseClock(*b.BreakStart)
	end, _ = ParseClock(*b.BreakEnd)
	return start, end, true
}

// ValidOn reports whether the block's validity window contains the given
// calendar date. Open-ended bounds always match.
func (b *ScheduleBlock) ValidOn(date time.Time) bool {
	d := dateOnly(date)
	if b.ValidFrom != nil && d.Before(dateOnly(*b.ValidFrom)) {
		return false
	}
	if b.ValidTo != nil && d.After(dateOnly(*b.ValidTo)) {
		return false
	}
	return true
}

// Validate checks the block's structural invariants and normalizes its clock
// strings to HH:MM:SS. It returns a *ValidationError listing every problem.
func (b *ScheduleBlock) Validate() error {
	var msgs []string

	if b.DoctorID == uuid.Nil {
		msgs = append(msgs, "doctor_id is required")
	}
	if b.DayOfWeek < time.Sunday || b.DayOfWeek > time.Saturday {
		msgs = append(msgs, fmt.Sprintf("day_of_week must be 0 (Sunday) through 6 (Saturday), got %d", b.DayOfWeek))
	}

	start, err := ParseClock(b.StartTime)
	if err != nil {
		msgs = append(msgs, "start_time: "+err.Error())
	}
	end, err2 := ParseClock(b.EndTime)
	if err2 != nil {
		msgs = append(msgs, "end_time: "+err2.Error())
	}
	if err == nil && err2 == nil {
		if start >= end {
			msgs = append(msgs, "start_time must be before end_time")
		}
		b.StartTime = NormalizeClock(start)
		b.EndTime = NormalizeClock(end)
	}

	if (b.BreakStart == nil) != (b.BreakEnd == nil) {
		msgs = append(msgs, "break_start and break_end must both be set or both be empty")
	} else if b.BreakStart != nil {
		bs, errBS := ParseClock(*b.BreakStart)
		be, errBE := ParseClock(*b.BreakEnd)
		if errBS != nil {
			msgs = append(msgs, "break_start: "+errBS.Error())
		}
		if errBE != nil {
			msgs = append(msgs, "break_end: "+errBE.Error())
		}
		if errBS == nil && errBE == nil && err == nil && err2 == nil {
			if bs >= be {
				msgs = append(msgs, "break_start must be before break_end")
			}
			if bs < start || be > end {
				msgs = append(msgs, "break interval must fall within working hours")
			}
			ns, ne := NormalizeClock(bs), NormalizeClock(be)
			b.BreakStart, b.BreakEnd = &ns, &ne
		}
	}

	if b.SlotDuration <= 0 {
		msgs = append(msgs, "slot_duration must be a positive number of minutes")
	}
	if b.MaxPatientsPerSlot < 1 {
		msgs = append(msgs, "max_patients_per_slot must be at least 1")
	}
	if !b.ScheduleType.Valid() {
		msgs = append(msgs, fmt.Sprintf("schedule_type must be one of regular, special, emergency, surgery; got %q", b.ScheduleType))
	}
	if b.ValidFrom != nil && b.ValidTo != nil && b.ValidTo.Before(*b.ValidFrom) {
		msgs = append(msgs, "valid_to must not be before valid_from")
	}

	if len(msgs) > 0 {
		return &ValidationError{Messages: msgs}
	}
	return nil
}

// Appointment is a booked visit. The date is a calendar date; the time is an
// HH:MM:SS clock string; the occupied interval is
// [appointment_time, appointment_time + estimated_duration).
type Appointment struct {
	ID                 uuid.UUID         `db:"id" json:"id"`
	PatientID          uuid.UUID         `db:"patient_id" json:"patient_id"`
	DoctorID           uuid.UUID         `db:"doctor_id" json:"doctor_id"`
	AppointmentDate    time.Time         `db:"appointment_date" json:"appointment_date"`
	AppointmentTime    string            `db:"appointment_time" json:"appointment_time"`
	EstimatedDuration  int               `db:"estimated_duration" json:"estimated_duration"`
	Status             AppointmentStatus `db:"status" json:"status"`
	Priority           Priority          `db:"priority" json:"priority"`
	Reason             string            `db:"reason" json:"reason"`
	Notes              *string           `db:"notes" json:"notes,omitempty"`
	CancellationReason *string           `db:"cancellation_reason" json:"cancellation_reason,omitempty"`
	LateCancellation   bool              `db:"late_cancellation" json:"late_cancellation"`
	CreatedBy          *uuid.UUID        `db:"created_by" json:"created_by,omitempty"`
	UpdatedBy          *uuid.UUID        `db:"updated_by" json:"updated_by,omitempty"`
	CreatedAt          time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time         `db:"updated_at" json:"updated_at"`
}

// Span returns the appointment's occupied interval in minutes since midnight,
// using the appointment's own stored duration.
func (a *Appointment) Span() (start, end int) {
	start, _ = ParseClock(a.AppointmentTime)
	return start, start + a.EstimatedDuration
}

// StartsAt returns the appointment's scheduled wall-clock start.
func (a *Appointment) StartsAt() time.Time {
	min, _ := ParseClock(a.AppointmentTime)
	d := dateOnly(a.AppointmentDate)
	return time.Date(d.Year(), d.Month(), d.Day(), min/60, min%60, 0, 0, d.Location())
}

// TimeSlot is a derived bookable interval. It is never persisted.
type TimeSlot struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Duration  int    `json:"duration"`
}

// AvailableSlot is a TimeSlot tagged with the calendar date it falls on,
// returned by next-available searches.
type AvailableSlot struct {
	Date string `json:"date"`
	TimeSlot
}

// DayAvailability is one day's worth of open slots in a weekly view.
type DayAvailability struct {
	Date  string     `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

// dateOnly strips the time-of-day component.
func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// DateFormat is the wire format for calendar dates.
const DateFormat = "2006-01-02"
