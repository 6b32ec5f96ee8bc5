package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicdesk/clinicdesk/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

// =========== ScheduleBlock Repository ===========

type scheduleBlockRepoPG struct{ pool *pgxpool.Pool }

func NewScheduleBlockRepoPG(pool *pgxpool.Pool) ScheduleBlockRepository {
	return &scheduleBlockRepoPG{pool: pool}
}

func (r *scheduleBlockRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const blockCols = `id, doctor_id, day_of_week, start_time, end_time, break_start, break_end,
	slot_duration, max_patients_per_slot, schedule_type, valid_from, valid_to,
	is_available, is_recurring, active, deleted_at, created_by, updated_by, created_at, updated_at`

func (r *scheduleBlockRepoPG) scanBlock(row pgx.Row) (*ScheduleBlock, error) {
	var b ScheduleBlock
	var day int
	err := row.Scan(&b.ID, &b.DoctorID, &day, &b.StartTime, &b.EndTime, &b.BreakStart, &b.BreakEnd,
		&b.SlotDuration, &b.MaxPatientsPerSlot, &b.ScheduleType, &b.ValidFrom, &b.ValidTo,
		&b.IsAvailable, &b.IsRecurring, &b.Active, &b.DeletedAt, &b.CreatedBy, &b.UpdatedBy,
		&b.CreatedAt, &b.UpdatedAt)
	b.DayOfWeek = time.Weekday(day)
	return &b, err
}

func (r *scheduleBlockRepoPG) Create(ctx context.Context, b *ScheduleBlock) error {
	b.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO schedule_block (id, doctor_id, day_of_week, start_time, end_time,
			break_start, break_end, slot_duration, max_patients_per_slot, schedule_type,
			valid_from, valid_to, is_available, is_recurring, active, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)`,
		b.ID, b.DoctorID, int(b.DayOfWeek), b.StartTime, b.EndTime,
		b.BreakStart, b.BreakEnd, b.SlotDuration, b.MaxPatientsPerSlot, b.ScheduleType,
		b.ValidFrom, b.ValidTo, b.IsAvailable, b.IsRecurring, b.Active, b.CreatedBy, b.UpdatedBy)
	return err
}

func (r *scheduleBlockRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	b, err := r.scanBlock(r.conn(ctx).QueryRow(ctx,
		`SELECT `+blockCols+` FROM schedule_block WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (r *scheduleBlockRepoPG) Update(ctx context.Context, b *ScheduleBlock) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_block SET day_of_week=$2, start_time=$3, end_time=$4,
			break_start=$5, break_end=$6, slot_duration=$7, max_patients_per_slot=$8,
			schedule_type=$9, valid_from=$10, valid_to=$11, is_available=$12,
			updated_by=$13, updated_at=NOW()
		WHERE id = $1`,
		b.ID, int(b.DayOfWeek), b.StartTime, b.EndTime,
		b.BreakStart, b.BreakEnd, b.SlotDuration, b.MaxPatientsPerSlot,
		b.ScheduleType, b.ValidFrom, b.ValidTo, b.IsAvailable, b.UpdatedBy)
	return err
}

func (r *scheduleBlockRepoPG) SoftDelete(ctx context.Context, id uuid.UUID, actorID uuid.UUID) error {
	var updatedBy *uuid.UUID
	if actorID != uuid.Nil {
		updatedBy = &actorID
	}
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE schedule_block SET active=false, deleted_at=NOW(), updated_by=$2, updated_at=NOW()
		WHERE id = $1`, id, updatedBy)
	return err
}

func (r *scheduleBlockRepoPG) ListActiveByDoctor(ctx context.Context, doctorID uuid.UUID) ([]*ScheduleBlock, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+blockCols+` FROM schedule_block
		WHERE doctor_id = $1 AND active
		ORDER BY day_of_week ASC, start_time ASC`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectBlocks(rows)
}

func (r *scheduleBlockRepoPG) ListActiveByDoctorAndDay(ctx context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleBlock, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+blockCols+` FROM schedule_block
		WHERE doctor_id = $1 AND day_of_week = $2 AND active
		ORDER BY start_time ASC`, doctorID, int(day))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectBlocks(rows)
}

func (r *scheduleBlockRepoPG) collectBlocks(rows pgx.Rows) ([]*ScheduleBlock, error) {
	var items []*ScheduleBlock
	for rows.Next() {
		b, err := r.scanBlock(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

// =========== Appointment Repository ===========

// bookedSlotConstraint is the partial unique index over non-cancelled,
// non-no-show appointments on (doctor_id, appointment_date,
// appointment_time). A 23505 on it means a racing writer won the slot.
const bookedSlotConstraint = "appointment_doctor_slot_key"

type appointmentRepoPG struct{ pool *pgxpool.Pool }

func NewAppointmentRepoPG(pool *pgxpool.Pool) AppointmentRepository {
	return &appointmentRepoPG{pool: pool}
}

func (r *appointmentRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const apptCols = `id, patient_id, doctor_id, appointment_date, appointment_time,
	estimated_duration, status, priority, reason, notes, cancellation_reason,
	late_cancellation, created_by, updated_by, created_at, updated_at`

func (r *appointmentRepoPG) scanAppt(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(&a.ID, &a.PatientID, &a.DoctorID, &a.AppointmentDate, &a.AppointmentTime,
		&a.EstimatedDuration, &a.Status, &a.Priority, &a.Reason, &a.Notes, &a.CancellationReason,
		&a.LateCancellation, &a.CreatedBy, &a.UpdatedBy, &a.CreatedAt, &a.UpdatedAt)
	return &a, err
}

// mapConflict converts a unique violation on the booked-slot index into a
// *ConflictError so callers can tell a lost booking race from a plain db error.
func mapConflict(err error, a *Appointment) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == bookedSlotConstraint {
		return &ConflictError{DoctorID: a.DoctorID, Date: a.AppointmentDate, StartTime: a.AppointmentTime}
	}
	return err
}

func (r *appointmentRepoPG) Create(ctx context.Context, a *Appointment) error {
	a.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO appointment (id, patient_id, doctor_id, appointment_date, appointment_time,
			estimated_duration, status, priority, reason, notes, created_by, updated_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`,
		a.ID, a.PatientID, a.DoctorID, a.AppointmentDate, a.AppointmentTime,
		a.EstimatedDuration, a.Status, a.Priority, a.Reason, a.Notes, a.CreatedBy, a.UpdatedBy)
	if err != nil {
		return mapConflict(err, a)
	}
	return nil
}

func (r *appointmentRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := r.scanAppt(r.conn(ctx).QueryRow(ctx,
		`SELECT `+apptCols+` FROM appointment WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (r *appointmentRepoPG) Update(ctx context.Context, a *Appointment) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE appointment SET doctor_id=$2, appointment_date=$3, appointment_time=$4,
			estimated_duration=$5, status=$6, priority=$7, reason=$8, notes=$9,
			cancellation_reason=$10, late_cancellation=$11, updated_by=$12, updated_at=NOW()
		WHERE id = $1`,
		a.ID, a.DoctorID, a.AppointmentDate, a.AppointmentTime,
		a.EstimatedDuration, a.Status, a.Priority, a.Reason, a.Notes,
		a.CancellationReason, a.LateCancellation, a.UpdatedBy)
	if err != nil {
		return mapConflict(err, a)
	}
	return nil
}

func (r *appointmentRepoPG) ListBookedByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment
		WHERE doctor_id = $1 AND appointment_date = $2
		  AND status NOT IN ('cancelled', 'no_show')
		ORDER BY appointment_time ASC`, doctorID, dateOnly(date))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.collectAppts(rows)
}

func (r *appointmentRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment WHERE patient_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collectAppts(rows)
	return items, total, err
}

func (r *appointmentRepoPG) ListByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM appointment WHERE doctor_id = $1`, doctorID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+apptCols+` FROM appointment WHERE doctor_id = $1
		ORDER BY appointment_date DESC, appointment_time DESC LIMIT $2 OFFSET $3`,
		doctorID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collectAppts(rows)
	return items, total, err
}

func (r *appointmentRepoPG) Search(ctx context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	query := `SELECT ` + apptCols + ` FROM appointment WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM appointment WHERE 1=1`
	var args []interface{}
	idx := 1

	for param, col := range map[string]string{
		"patient": "patient_id",
		"doctor":  "doctor_id",
		"status":  "status",
		"date":    "appointment_date",
	} {
		if p, ok := params[param]; ok {
			clause := fmt.Sprintf(` AND %s = $%d`, col, idx)
			query += clause
			countQuery += clause
			args = append(args, p)
			idx++
		}
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY appointment_date DESC, appointment_time DESC LIMIT $%d OFFSET $%d`, idx, idx+1)
	args = append(args, limit, offset)

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	items, err := r.collectAppts(rows)
	return items, total, err
}

func (r *appointmentRepoPG) collectAppts(rows pgx.Rows) ([]*Appointment, error) {
	var items []*Appointment
	for rows.Next() {
		a, err := r.scanAppt(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	return items, rows.Err()
}
