package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ScheduleStore manages recurring weekly availability blocks and enforces
// their invariants: well-formed times, breaks inside working hours, and no
// two active, validity-overlapping blocks for the same doctor and weekday
// with overlapping time intervals.
type ScheduleStore struct {
	repo     ScheduleBlockRepository
	detector *ConflictDetector
	log      zerolog.Logger
}

func NewScheduleStore(repo ScheduleBlockRepository, detector *ConflictDetector, log zerolog.Logger) *ScheduleStore {
	return &ScheduleStore{repo: repo, detector: detector, log: log}
}

// Create validates the block, checks it against its active siblings, and
// persists it. Defaults: schedule_type regular, slot_duration 30,
// max_patients_per_slot 1, available and recurring.
func (s *ScheduleStore) Create(ctx context.Context, b *ScheduleBlock, actorID uuid.UUID) error {
	if b.ScheduleType == "" {
		b.ScheduleType = ScheduleRegular
	}
	if b.SlotDuration == 0 {
		b.SlotDuration = 30
	}
	if b.MaxPatientsPerSlot == 0 {
		b.MaxPatientsPerSlot = 1
	}
	b.IsAvailable = true
	b.IsRecurring = true
	b.Active = true

	if err := b.Validate(); err != nil {
		return err
	}

	conflict, err := s.detector.BlockConflicts(ctx, b.DoctorID, b.DayOfWeek,
		b.StartTime, b.EndTime, b.ValidFrom, b.ValidTo, uuid.Nil)
	if err != nil {
		return err
	}
	if conflict {
		return &ScheduleConflictError{
			DoctorID:  b.DoctorID,
			DayOfWeek: b.DayOfWeek,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
		}
	}

	if actorID != uuid.Nil {
		b.CreatedBy = &actorID
		b.UpdatedBy = &actorID
	}
	if err := s.repo.Create(ctx, b); err != nil {
		return err
	}
	s.log.Info().
		Str("block_id", b.ID.String()).
		Str("doctor_id", b.DoctorID.String()).
		Int("day_of_week", int(b.DayOfWeek)).
		Msg("schedule block created")
	return nil
}

// ScheduleBlockPatch carries optional fields for a partial block update.
type ScheduleBlockPatch struct {
	DayOfWeek          *time.Weekday `json:"day_of_week,omitempty"`
	StartTime          *string       `json:"start_time,omitempty"`
	EndTime            *string       `json:"end_time,omitempty"`
	BreakStart         *string       `json:"break_start,omitempty"`
	BreakEnd           *string       `json:"break_end,omitempty"`
	ClearBreak         bool          `json:"clear_break,omitempty"`
	SlotDuration       *int          `json:"slot_duration,omitempty"`
	MaxPatientsPerSlot *int          `json:"max_patients_per_slot,omitempty"`
	ScheduleType       *ScheduleType `json:"schedule_type,omitempty"`
	ValidFrom          *time.Time    `json:"valid_from,omitempty"`
	ValidTo            *time.Time    `json:"valid_to,omitempty"`
	IsAvailable        *bool         `json:"is_available,omitempty"`
}

// Update merges the patch onto the stored block, re-validates the result
// against the same invariants and against its siblings (excluding itself),
// and persists it.
func (s *ScheduleStore) Update(ctx context.Context, id uuid.UUID, patch ScheduleBlockPatch, actorID uuid.UUID) (*ScheduleBlock, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil || !b.Active {
		return nil, &NotFoundError{Resource: "schedule block", ID: id}
	}

	if patch.DayOfWeek != nil {
		b.DayOfWeek = *patch.DayOfWeek
	}
	if patch.StartTime != nil {
		b.StartTime = *patch.StartTime
	}
	if patch.EndTime != nil {
		b.EndTime = *patch.EndTime
	}
	if patch.ClearBreak {
		b.BreakStart, b.BreakEnd = nil, nil
	}
	if patch.BreakStart != nil {
		b.BreakStart = patch.BreakStart
	}
	if patch.BreakEnd != nil {
		b.BreakEnd = patch.BreakEnd
	}
	if patch.SlotDuration != nil {
		b.SlotDuration = *patch.SlotDuration
	}
	if patch.MaxPatientsPerSlot != nil {
		b.MaxPatientsPerSlot = *patch.MaxPatientsPerSlot
	}
	if patch.ScheduleType != nil {
		b.ScheduleType = *patch.ScheduleType
	}
	if patch.ValidFrom != nil {
		b.ValidFrom = patch.ValidFrom
	}
	if patch.ValidTo != nil {
		b.ValidTo = patch.ValidTo
	}
	if patch.IsAvailable != nil {
		b.IsAvailable = *patch.IsAvailable
	}

	if err := b.Validate(); err != nil {
		return nil, err
	}

	conflict, err := s.detector.BlockConflicts(ctx, b.DoctorID, b.DayOfWeek,
		b.StartTime, b.EndTime, b.ValidFrom, b.ValidTo, b.ID)
	if err != nil {
		return nil, err
	}
	if conflict {
		return nil, &ScheduleConflictError{
			DoctorID:  b.DoctorID,
			DayOfWeek: b.DayOfWeek,
			StartTime: b.StartTime,
			EndTime:   b.EndTime,
		}
	}

	if actorID != uuid.Nil {
		b.UpdatedBy = &actorID
	}
	if err := s.repo.Update(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns the block by id, including soft-deleted ones so audit views
// keep working.
func (s *ScheduleStore) Get(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if b == nil {
		return nil, &NotFoundError{Resource: "schedule block", ID: id}
	}
	return b, nil
}

// FindByDoctorAndDay returns the first active block for the doctor and
// weekday whose validity window contains asOf, or nil when none applies.
func (s *ScheduleStore) FindByDoctorAndDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday, asOf time.Time) (*ScheduleBlock, error) {
	blocks, err := s.repo.ListActiveByDoctorAndDay(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		if b.ValidOn(asOf) {
			return b, nil
		}
	}
	return nil, nil
}

// FindActiveByDoctor returns the doctor's full weekly view, ordered by
// day_of_week then start_time.
func (s *ScheduleStore) FindActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleBlock, error) {
	return s.repo.ListActiveByDoctor(ctx, doctorID)
}

// SoftDelete flags the block inactive. Existing bookings inside the block
// are intentionally not checked or cancelled; callers surface that as a
// warning, not an error.
func (s *ScheduleStore) SoftDelete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if b == nil || !b.Active {
		return &NotFoundError{Resource: "schedule block", ID: id}
	}
	if err := s.repo.SoftDelete(ctx, id, actorID); err != nil {
		return err
	}
	s.log.Info().Str("block_id", id.String()).Msg("schedule block soft-deleted")
	return nil
}
