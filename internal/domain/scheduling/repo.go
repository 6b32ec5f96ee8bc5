package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ScheduleBlockRepository persists recurring weekly availability blocks.
// Listing methods return only active (non-soft-deleted) blocks.
type ScheduleBlockRepository interface {
	Create(ctx context.Context, b *ScheduleBlock) error
	GetByID(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error)
	Update(ctx context.Context, b *ScheduleBlock) error
	SoftDelete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error
	// ListActiveByDoctor returns the full weekly view, ordered by
	// day_of_week then start_time.
	ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleBlock, error)
	ListActiveByDoctorAndDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleBlock, error)
}

// AppointmentRepository persists appointments. Create must enforce the
// one-booking-per-(doctor, date, time) invariant at the storage layer and
// return *ConflictError when it is violated, so that two racing writers
// cannot both commit.
type AppointmentRepository interface {
	Create(ctx context.Context, a *Appointment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	Update(ctx context.Context, a *Appointment) error
	// ListBookedByDoctorAndDate returns appointments that occupy their slot
	// (everything except cancelled and no_show), ordered by time.
	ListBookedByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error)
	Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error)
}
