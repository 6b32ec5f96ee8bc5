package scheduling

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// -- Mock Repositories --

type mockBlockRepo struct {
	blocks map[uuid.UUID]*ScheduleBlock
}

func newMockBlockRepo() *mockBlockRepo {
	return &mockBlockRepo{blocks: make(map[uuid.UUID]*ScheduleBlock)}
}

func (m *mockBlockRepo) Create(_ context.Context, b *ScheduleBlock) error {
	b.ID = uuid.New()
	b.CreatedAt = time.Now()
	b.UpdatedAt = time.Now()
	cp := *b
	m.blocks[b.ID] = &cp
	return nil
}

func (m *mockBlockRepo) GetByID(_ context.Context, id uuid.UUID) (*ScheduleBlock, error) {
	b, ok := m.blocks[id]
	if !ok {
		return nil, nil
	}
	cp := *b
	return &cp, nil
}

func (m *mockBlockRepo) Update(_ context.Context, b *ScheduleBlock) error {
	b.UpdatedAt = time.Now()
	cp := *b
	m.blocks[b.ID] = &cp
	return nil
}

func (m *mockBlockRepo) SoftDelete(_ context.Context, id uuid.UUID, actorID uuid.UUID) error {
	b, ok := m.blocks[id]
	if !ok {
		return nil
	}
	now := time.Now()
	b.Active = false
	b.DeletedAt = &now
	if actorID != uuid.Nil {
		b.UpdatedBy = &actorID
	}
	return nil
}

func (m *mockBlockRepo) ListActiveByDoctor(_ context.Context, doctorID uuid.UUID) ([]*ScheduleBlock, error) {
	var result []*ScheduleBlock
	for _, b := range m.blocks {
		if b.Active && b.DoctorID == doctorID {
			cp := *b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].DayOfWeek != result[j].DayOfWeek {
			return result[i].DayOfWeek < result[j].DayOfWeek
		}
		return result[i].StartTime < result[j].StartTime
	})
	return result, nil
}

func (m *mockBlockRepo) ListActiveByDoctorAndDay(_ context.Context, doctorID uuid.UUID, day time.Weekday) ([]*ScheduleBlock, error) {
	var result []*ScheduleBlock
	for _, b := range m.blocks {
		if b.Active && b.DoctorID == doctorID && b.DayOfWeek == day {
			cp := *b
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].StartTime < result[j].StartTime })
	return result, nil
}

type mockApptRepo struct {
	appts map[uuid.UUID]*Appointment
}

func newMockApptRepo() *mockApptRepo {
	return &mockApptRepo{appts: make(map[uuid.UUID]*Appointment)}
}

func (m *mockApptRepo) Create(_ context.Context, a *Appointment) error {
	// Mirror the storage-level unique booking constraint.
	for _, existing := range m.appts {
		if existing.Status.Blocking() &&
			existing.DoctorID == a.DoctorID &&
			existing.AppointmentDate.Equal(a.AppointmentDate) &&
			existing.AppointmentTime == a.AppointmentTime {
			return &ConflictError{DoctorID: a.DoctorID, Date: a.AppointmentDate, StartTime: a.AppointmentTime}
		}
	}
	a.ID = uuid.New()
	a.CreatedAt = time.Now()
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) GetByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := m.appts[id]
	if !ok {
		return nil, nil
	}
	cp := *a
	return &cp, nil
}

func (m *mockApptRepo) Update(_ context.Context, a *Appointment) error {
	a.UpdatedAt = time.Now()
	cp := *a
	m.appts[a.ID] = &cp
	return nil
}

func (m *mockApptRepo) ListBookedByDoctorAndDate(_ context.Context, doctorID uuid.UUID, date time.Time) ([]*Appointment, error) {
	day := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	var result []*Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID && a.AppointmentDate.Equal(day) && a.Status.Blocking() {
			cp := *a
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].AppointmentTime < result[j].AppointmentTime })
	return result, nil
}

func (m *mockApptRepo) ListByPatient(_ context.Context, patientID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.PatientID == patientID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockApptRepo) ListByDoctor(_ context.Context, doctorID uuid.UUID, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if a.DoctorID == doctorID {
			cp := *a
			result = append(result, &cp)
		}
	}
	return result, len(result), nil
}

func (m *mockApptRepo) Search(_ context.Context, params map[string]string, limit, offset int) ([]*Appointment, int, error) {
	var result []*Appointment
	for _, a := range m.appts {
		if s, ok := params["status"]; ok && string(a.Status) != s {
			continue
		}
		if d, ok := params["doctor"]; ok && a.DoctorID.String() != d {
			continue
		}
		if p, ok := params["patient"]; ok && a.PatientID.String() != p {
			continue
		}
		cp := *a
		result = append(result, &cp)
	}
	return result, len(result), nil
}

// -- Mock Directory Lookup --

type mockDirectory struct {
	known map[uuid.UUID]bool // id -> active
}

func newMockDirectory(ids ...uuid.UUID) *mockDirectory {
	m := &mockDirectory{known: make(map[uuid.UUID]bool)}
	for _, id := range ids {
		m.known[id] = true
	}
	return m
}

func (m *mockDirectory) ActiveExists(_ context.Context, id uuid.UUID) (bool, error) {
	return m.known[id], nil
}

// -- Mock Slot Cache --

type mockSlotCache struct {
	entries     map[string][]TimeSlot
	gets        int
	hits        int
	sets        int
	invalidated []string
}

func newMockSlotCache() *mockSlotCache {
	return &mockSlotCache{entries: make(map[string][]TimeSlot)}
}

func cacheKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + date.Format(DateFormat)
}

func (m *mockSlotCache) Get(_ context.Context, doctorID uuid.UUID, date time.Time) ([]TimeSlot, error) {
	m.gets++
	slots, ok := m.entries[cacheKey(doctorID, date)]
	if !ok {
		return nil, errCacheMiss
	}
	m.hits++
	return slots, nil
}

func (m *mockSlotCache) Set(_ context.Context, doctorID uuid.UUID, date time.Time, slots []TimeSlot) {
	m.sets++
	m.entries[cacheKey(doctorID, date)] = slots
}

func (m *mockSlotCache) InvalidateSlots(_ context.Context, doctorID uuid.UUID, date time.Time) {
	key := cacheKey(doctorID, date)
	delete(m.entries, key)
	m.invalidated = append(m.invalidated, key)
}

// errCacheMiss is what the mock's Get returns for an absent entry.
var errCacheMiss = errors.New("cache miss")

// -- Shared helpers --

// mockTransactor counts atomic sections; fn runs directly, there is no
// database to roll back.
type mockTransactor struct {
	calls int
}

func (m *mockTransactor) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	m.calls++
	return fn(ctx)
}

func strPtr(s string) *string { return &s }

func testLogger() zerolog.Logger { return zerolog.Nop() }

// mondayBlock is the canonical test block: Monday 09:00-12:00 with a
// 10:30-10:45 break and 30-minute slots.
func mondayBlock(doctorID uuid.UUID) *ScheduleBlock {
	return &ScheduleBlock{
		DoctorID:           doctorID,
		DayOfWeek:          time.Monday,
		StartTime:          "09:00:00",
		EndTime:            "12:00:00",
		BreakStart:         strPtr("10:30:00"),
		BreakEnd:           strPtr("10:45:00"),
		SlotDuration:       30,
		MaxPatientsPerSlot: 1,
		ScheduleType:       ScheduleRegular,
		IsAvailable:        true,
		IsRecurring:        true,
		Active:             true,
	}
}

// nextMonday returns the first Monday strictly after now's date.
func nextMonday(now time.Time) time.Time {
	d := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	for {
		d = d.AddDate(0, 0, 1)
		if d.Weekday() == time.Monday {
			return d
		}
	}
}
