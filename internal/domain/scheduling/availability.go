package scheduling

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// nextSlotHorizonDays bounds the forward search for the next available
// slots so it always terminates.
const nextSlotHorizonDays = 30

// Availability is the answer to "is this slot free" with a human-readable
// reason when it is not.
type Availability struct {
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// slotVerdict classifies why a requested slot is or is not bookable.
type slotVerdict int

const (
	slotOK slotVerdict = iota
	slotNoSchedule
	slotOutsideHours
	slotInBreak
	slotConflict
)

// AvailabilityEngine derives bookable time slots from schedule blocks and
// existing bookings. It is stateless; all data comes from the repositories
// per call.
type AvailabilityEngine struct {
	blocks ScheduleBlockRepository
	appts  AppointmentRepository
	cache  SlotCacheReader
	now    func() time.Time
}

// SlotCacheReader is an optional read-through cache for the default slot
// listing of a doctor and date. Get returns an error on miss; Set and cache
// failures are the implementation's problem, never the caller's.
type SlotCacheReader interface {
	Get(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error)
	Set(ctx context.Context, doctorID uuid.UUID, date time.Time, slots []TimeSlot)
}

func NewAvailabilityEngine(blocks ScheduleBlockRepository, appts AppointmentRepository) *AvailabilityEngine {
	return &AvailabilityEngine{blocks: blocks, appts: appts, now: time.Now}
}

// WithSlotCache attaches a read-through cache used by GetAvailableSlots for
// default-duration listings only; custom durations always recompute.
func (e *AvailabilityEngine) WithSlotCache(c SlotCacheReader) *AvailabilityEngine {
	e.cache = c
	return e
}

// GenerateSlots slices one block into slots of the given duration, starting
// at the block's start time and stepping by duration while the slot still
// fits before the block's end. A slot that would overlap the break is
// skipped and the grid resumes at the break's end. A slot is emitted only
// if it also misses every booked appointment's interval; a trailing
// remainder shorter than duration is dropped. Deterministic for fixed
// inputs.
func GenerateSlots(b *ScheduleBlock, booked []*Appointment, duration int) []TimeSlot {
	if duration <= 0 {
		duration = b.SlotDuration
	}
	start, end := b.Span()
	brStart, brEnd, hasBreak := b.BreakSpan()

	var slots []TimeSlot
	for t := start; t+duration <= end; t += duration {
		if hasBreak && Overlaps(t, t+duration, brStart, brEnd) {
			// Resume on the far side of the break; the loop's own
			// step is backed out first.
			t = brEnd - duration
			continue
		}
		free := true
		for _, a := range booked {
			as, ae := a.Span()
			if Overlaps(t, t+duration, as, ae) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		slots = append(slots, TimeSlot{
			StartTime: FormatClock(t),
			EndTime:   FormatClock(t + duration),
			Duration:  duration,
		})
	}
	return slots
}

// validBlocksOn returns the doctor's available blocks whose validity window
// covers the date's weekday and calendar date.
func (e *AvailabilityEngine) validBlocksOn(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*ScheduleBlock, error) {
	all, err := e.blocks.ListActiveByDoctorAndDay(ctx, doctorID, date.Weekday())
	if err != nil {
		return nil, err
	}
	var valid []*ScheduleBlock
	for _, b := range all {
		if b.IsAvailable && b.ValidOn(date) {
			valid = append(valid, b)
		}
	}
	return valid, nil
}

// GetAvailableSlots returns the doctor's open slots on a date. Each valid
// block is sliced independently; the results are concatenated and sorted
// ascending by start time. A zero duration uses each block's own
// slot_duration.
func (e *AvailabilityEngine) GetAvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time, duration int) ([]TimeSlot, error) {
	cacheable := duration == 0 && e.cache != nil
	if cacheable {
		if slots, err := e.cache.Get(ctx, doctorID, date); err == nil {
			return slots, nil
		}
	}

	blocks, err := e.validBlocksOn(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}
	if len(blocks) == 0 {
		return nil, nil
	}

	booked, err := e.appts.ListBookedByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return nil, err
	}

	var slots []TimeSlot
	for _, b := range blocks {
		slots = append(slots, GenerateSlots(b, booked, duration)...)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].StartTime < slots[j].StartTime })
	if cacheable {
		e.cache.Set(ctx, doctorID, date, slots)
	}
	return slots, nil
}

// evaluate classifies a requested (date, time, duration) slot for a doctor.
// Both CheckAvailability and the booking pipeline go through this single
// path so a green availability check and a successful booking cannot drift
// apart. excludeApptID skips one appointment in conflict checks (reschedule
// and update of an existing booking).
func (e *AvailabilityEngine) evaluate(ctx context.Context, doctorID uuid.UUID, date time.Time,
	clock string, duration int, excludeApptID uuid.UUID) (slotVerdict, error) {

	start, err := ParseClock(clock)
	if err != nil {
		return slotNoSchedule, &ValidationError{Messages: []string{"time: " + err.Error()}}
	}

	blocks, err := e.validBlocksOn(ctx, doctorID, date)
	if err != nil {
		return slotNoSchedule, err
	}
	if len(blocks) == 0 {
		return slotNoSchedule, nil
	}

	// Find a block whose working interval contains the requested slot.
	verdict := slotOutsideHours
	for _, b := range blocks {
		bs, be := b.Span()
		if start < bs || start+duration > be {
			continue
		}
		if brS, brE, ok := b.BreakSpan(); ok && Overlaps(start, start+duration, brS, brE) {
			verdict = slotInBreak
			continue
		}
		verdict = slotOK
		break
	}
	if verdict != slotOK {
		return verdict, nil
	}

	booked, err := e.appts.ListBookedByDoctorAndDate(ctx, doctorID, date)
	if err != nil {
		return slotNoSchedule, err
	}
	for _, a := range booked {
		if a.ID == excludeApptID {
			continue
		}
		as, ae := a.Span()
		if Overlaps(start, start+duration, as, ae) {
			return slotConflict, nil
		}
	}
	return slotOK, nil
}

// CheckAvailability answers whether the doctor can be booked at the given
// date and time for the given duration, with a distinct reason per failure
// mode.
func (e *AvailabilityEngine) CheckAvailability(ctx context.Context, doctorID uuid.UUID, date time.Time, clock string, duration int) (Availability, error) {
	if duration <= 0 {
		duration = 30
	}
	verdict, err := e.evaluate(ctx, doctorID, date, clock, duration, uuid.Nil)
	if err != nil {
		return Availability{}, err
	}
	switch verdict {
	case slotNoSchedule:
		return Availability{Reason: fmt.Sprintf("doctor has no schedule on %s", date.Weekday())}, nil
	case slotOutsideHours:
		return Availability{Reason: "requested time is outside the doctor's working hours"}, nil
	case slotInBreak:
		return Availability{Reason: "requested time falls within the doctor's break"}, nil
	case slotConflict:
		return Availability{Reason: "requested time conflicts with an existing appointment"}, nil
	}
	return Availability{Available: true}, nil
}

// GetWeeklyAvailability walks each calendar day in [startDate, endDate]
// inclusive and collects the open slots per day.
func (e *AvailabilityEngine) GetWeeklyAvailability(ctx context.Context, doctorID uuid.UUID, startDate, endDate time.Time, duration int) ([]DayAvailability, error) {
	start, end := dateOnly(startDate), dateOnly(endDate)
	if end.Before(start) {
		return nil, &ValidationError{Messages: []string{"end_date must not be before start_date"}}
	}

	var days []DayAvailability
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		slots, err := e.GetAvailableSlots(ctx, doctorID, d, duration)
		if err != nil {
			return nil, err
		}
		days = append(days, DayAvailability{Date: d.Format(DateFormat), Slots: slots})
	}
	return days, nil
}

// GetNextAvailableSlots walks forward from today collecting open slots until
// limit is reached or the 30-day horizon is exhausted. Today's slots are
// filtered to those strictly after the current time. Fewer than limit slots
// is not an error.
func (e *AvailabilityEngine) GetNextAvailableSlots(ctx context.Context, doctorID uuid.UUID, limit, duration int) ([]AvailableSlot, error) {
	if limit <= 0 {
		limit = 1
	}
	now := e.now()
	today := dateOnly(now)
	nowMinutes := now.Hour()*60 + now.Minute()

	var out []AvailableSlot
	for i := 0; i <= nextSlotHorizonDays && len(out) < limit; i++ {
		day := today.AddDate(0, 0, i)
		slots, err := e.GetAvailableSlots(ctx, doctorID, day, duration)
		if err != nil {
			return nil, err
		}
		for _, sl := range slots {
			if i == 0 {
				start, _ := ParseClock(sl.StartTime)
				if start <= nowMinutes {
					continue
				}
			}
			out = append(out, AvailableSlot{Date: day.Format(DateFormat), TimeSlot: sl})
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}
