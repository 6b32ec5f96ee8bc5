package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [startA, endA) and
// [startB, endB) intersect. Touching boundaries (endA == startB) do not
// overlap. Both schedule-block and appointment conflict checks go through
// this one predicate.
func Overlaps(startA, endA, startB, endB int) bool {
	return startA < endB && endA > startB
}

// windowsIntersect reports whether two validity date ranges intersect. A nil
// bound is open-ended. Bounds are inclusive calendar dates.
func windowsIntersect(aFrom, aTo, bFrom, bTo *time.Time) bool {
	if aFrom != nil && bTo != nil && dateOnly(*aFrom).After(dateOnly(*bTo)) {
		return false
	}
	if bFrom != nil && aTo != nil && dateOnly(*bFrom).After(dateOnly(*aTo)) {
		return false
	}
	return true
}

// ConflictDetector answers whether a proposed schedule block or appointment
// collides with existing rows. It is stateless; every check round-trips
// through the repositories.
type ConflictDetector struct {
	blocks ScheduleBlockRepository
	appts  AppointmentRepository
}

func NewConflictDetector(blocks ScheduleBlockRepository, appts AppointmentRepository) *ConflictDetector {
	return &ConflictDetector{blocks: blocks, appts: appts}
}

// BlockConflicts reports whether an active block for the same doctor and
// weekday overlaps the proposed time interval and validity window.
// excludeID, when non-nil, skips that block (used on update).
func (d *ConflictDetector) BlockConflicts(ctx context.Context, doctorID uuid.UUID, day time.Weekday,
	startTime, endTime string, validFrom, validTo *time.Time, excludeID uuid.UUID) (bool, error) {

	start, err := ParseClock(startTime)
	if err != nil {
		return false, err
	}
	end, err := ParseClock(endTime)
	if err != nil {
		return false, err
	}

	existing, err := d.blocks.ListActiveByDoctorAndDay(ctx, doctorID, day)
	if err != nil {
		return false, err
	}
	for _, b := range existing {
		if b.ID == excludeID {
			continue
		}
		if !windowsIntersect(validFrom, validTo, b.ValidFrom, b.ValidTo) {
			continue
		}
		bs, be := b.Span()
		if Overlaps(start, end, bs, be) {
			return true, nil
		}
	}
	return false, nil
}

// AppointmentConflicts reports whether a proposed appointment interval
// overlaps any booked appointment for the same doctor and date. Each existing
// appointment is compared using its own stored duration.
func (d *ConflictDetector) AppointmentConflicts(ctx context.Context, doctorID uuid.UUID, date time.Time,
	startTime string, duration int, excludeID uuid.UUID) (bool, error) {

	start, err := ParseClock(startTime)
	if err != nil {
		return false, err
	}
	end := start + duration

	existing, err := d.appts.ListBookedByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return false, err
	}
	for _, a := range existing {
		if a.ID == excludeID {
			continue
		}
		as, ae := a.Span()
		if Overlaps(start, end, as, ae) {
			return true, nil
		}
	}
	return false, nil
}
