package scheduling

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

// bookingFixture wires a coordinator over mocks with a fixed clock of
// Sunday 2026-03-01 08:00 UTC and one doctor working Mondays 09:00-12:00.
type bookingFixture struct {
	coord     *BookingCoordinator
	engine    *AvailabilityEngine
	appts     *mockApptRepo
	blocks    *mockBlockRepo
	cache     *mockSlotCache
	tx        *mockTransactor
	patientID uuid.UUID
	doctorID  uuid.UUID
}

func newBookingFixture(t *testing.T) *bookingFixture {
	t.Helper()
	f := &bookingFixture{
		appts:     newMockApptRepo(),
		blocks:    newMockBlockRepo(),
		cache:     newMockSlotCache(),
		tx:        &mockTransactor{},
		patientID: uuid.New(),
		doctorID:  uuid.New(),
	}
	f.blocks.Create(context.Background(), mondayBlock(f.doctorID))

	now := func() time.Time { return time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC) }
	f.engine = NewAvailabilityEngine(f.blocks, f.appts).WithSlotCache(f.cache)
	f.engine.now = now

	f.coord = NewBookingCoordinator(f.appts, f.engine,
		newMockDirectory(f.patientID), newMockDirectory(f.doctorID),
		f.cache, testLogger()).WithTransactor(f.tx)
	f.coord.now = now
	return f
}

func (f *bookingFixture) request() BookingRequest {
	return BookingRequest{
		PatientID: f.patientID,
		DoctorID:  f.doctorID,
		Date:      monday,
		Time:      "09:00",
		Reason:    "persistent lower back pain",
	}
}

func TestCreateAppointment(t *testing.T) {
	f := newBookingFixture(t)
	a, err := f.coord.CreateAppointment(context.Background(), f.request(), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected status scheduled, got %s", a.Status)
	}
	if a.AppointmentTime != "09:00:00" {
		t.Errorf("expected normalized time, got %s", a.AppointmentTime)
	}
	if a.EstimatedDuration != 30 {
		t.Errorf("expected default duration 30, got %d", a.EstimatedDuration)
	}
	if a.Priority != PriorityNormal {
		t.Errorf("expected default priority normal, got %s", a.Priority)
	}
}

func TestCreateAppointment_CollectsFieldProblems(t *testing.T) {
	f := newBookingFixture(t)
	req := BookingRequest{
		Date:     time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), // past
		Time:     "25:00",
		Reason:   "short",
		Duration: 5,
		Priority: "asap",
	}
	_, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if len(ve.Messages) < 6 {
		t.Errorf("expected every field problem reported at once, got %d: %v", len(ve.Messages), ve.Messages)
	}
}

func TestCreateAppointment_ReasonBounds(t *testing.T) {
	f := newBookingFixture(t)

	req := f.request()
	req.Reason = strings.Repeat("x", 501)
	if _, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil); err == nil {
		t.Error("expected error for a 501-character reason")
	}

	req = f.request()
	req.Time = "09:30"
	req.Reason = "  " + strings.Repeat("x", 10) + "  " // trims to exactly 10
	if _, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil); err != nil {
		t.Errorf("expected 10-character reason to pass after trimming: %v", err)
	}
}

func TestCreateAppointment_UnknownPatient(t *testing.T) {
	f := newBookingFixture(t)
	req := f.request()
	req.PatientID = uuid.New()
	_, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nfe.Resource != "patient" {
		t.Errorf("expected patient not found, got %s", nfe.Resource)
	}
}

func TestCreateAppointment_UnknownDoctor(t *testing.T) {
	f := newBookingFixture(t)
	req := f.request()
	req.DoctorID = uuid.New()
	_, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	if nfe.Resource != "doctor" {
		t.Errorf("expected doctor not found, got %s", nfe.Resource)
	}
}

func TestCreateAppointment_OutsideSchedule(t *testing.T) {
	f := newBookingFixture(t)

	req := f.request()
	req.Time = "14:00" // afternoon, block ends at noon
	_, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil)
	var ue *UnavailableError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UnavailableError, got %v", err)
	}

	req = f.request()
	req.Date = monday.AddDate(0, 0, 1) // Tuesday, no schedule
	if _, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil); !errors.As(err, &ue) {
		t.Fatalf("expected *UnavailableError for no-schedule day, got %v", err)
	}

	req = f.request()
	req.Time = "10:30" // break
	if _, err := f.coord.CreateAppointment(context.Background(), req, uuid.Nil); !errors.As(err, &ue) {
		t.Fatalf("expected *UnavailableError inside break, got %v", err)
	}
}

func TestCreateAppointment_DoubleBooking(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	var ce *ConflictError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}

	// Overlapping but not identical start also collides.
	req := f.request()
	req.Time = "09:15"
	if _, err := f.coord.CreateAppointment(ctx, req, uuid.Nil); !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError for overlapping interval, got %v", err)
	}
}

func TestCreateAppointment_CheckThenBookAgree(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	for _, clock := range []string{"09:00", "09:30", "10:45", "14:00", "10:30"} {
		avail, err := f.engine.CheckAvailability(ctx, f.doctorID, monday, clock, 30)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		req := f.request()
		req.Time = clock
		_, bookErr := f.coord.CreateAppointment(ctx, req, uuid.Nil)
		if avail.Available != (bookErr == nil) {
			t.Errorf("check and book disagree at %s: available=%v bookErr=%v", clock, avail.Available, bookErr)
		}
	}
}

func TestCreateAppointment_InvalidatesCache(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	// Warm the cache.
	if _, err := f.engine.GetAvailableSlots(ctx, f.doctorID, monday, 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.cache.entries) != 1 {
		t.Fatalf("expected a warm cache entry")
	}

	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(f.cache.entries) != 0 {
		t.Error("expected booking to invalidate the cached slots")
	}
}

func TestUpdateAppointment_Reschedule(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	newTime := "11:15"
	updated, err := f.coord.UpdateAppointment(ctx, a.ID, AppointmentPatch{Time: &newTime}, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if updated.AppointmentTime != "11:15:00" {
		t.Errorf("expected 11:15:00, got %s", updated.AppointmentTime)
	}
}

func TestUpdateAppointment_KeepsOwnSlot(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	// Changing only the duration re-checks the same slot; the appointment
	// must not conflict with itself.
	dur := 45
	if _, err := f.coord.UpdateAppointment(ctx, a.ID, AppointmentPatch{Duration: &dur}, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateAppointment_TerminalStates(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Confirm(ctx, a.ID, uuid.Nil)
	f.coord.Start(ctx, a.ID, uuid.Nil)
	f.coord.Complete(ctx, a.ID, uuid.Nil)

	newTime := "11:15"
	_, err := f.coord.UpdateAppointment(ctx, a.ID, AppointmentPatch{Time: &newTime}, uuid.Nil)
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError for completed appointment, got %v", err)
	}
}

func TestLifecycleHappyPath(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	a, err := f.coord.Confirm(ctx, a.ID, uuid.Nil)
	if err != nil || a.Status != StatusConfirmed {
		t.Fatalf("confirm: status=%v err=%v", a.Status, err)
	}
	a, err = f.coord.Start(ctx, a.ID, uuid.Nil)
	if err != nil || a.Status != StatusInProgress {
		t.Fatalf("start: status=%v err=%v", a.Status, err)
	}
	a, err = f.coord.Complete(ctx, a.ID, uuid.Nil)
	if err != nil || a.Status != StatusCompleted {
		t.Fatalf("complete: status=%v err=%v", a.Status, err)
	}
}

func TestNoShowFreesSlot(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Confirm(ctx, a.ID, uuid.Nil)

	if _, err := f.coord.NoShow(ctx, a.ID, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The slot opens back up.
	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("expected the no-show slot to be bookable again: %v", err)
	}
}

func TestNoShow_RequiresConfirmed(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	_, err := f.coord.NoShow(ctx, a.ID, uuid.Nil)
	var ist *InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("expected *InvalidStateTransitionError for scheduled appointment, got %v", err)
	}
}

func TestCancel(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	cancelled, err := f.coord.Cancel(ctx, a.ID, "patient request", uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cancelled.Status != StatusCancelled {
		t.Errorf("expected cancelled, got %s", cancelled.Status)
	}
	if cancelled.CancellationReason == nil || *cancelled.CancellationReason != "patient request" {
		t.Error("expected cancellation reason recorded")
	}
	if cancelled.LateCancellation {
		t.Error("expected a day-ahead cancellation not to be late")
	}

	// The row survives as a status change, never a deletion.
	stored, _ := f.appts.GetByID(ctx, a.ID)
	if stored == nil {
		t.Fatal("expected cancelled appointment to remain stored")
	}

	// And its slot is free again.
	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("expected the cancelled slot to be bookable again: %v", err)
	}
}

func TestCancel_ReasonRequired(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	var ve *ValidationError
	if _, err := f.coord.Cancel(ctx, a.ID, "", uuid.Nil); !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError for empty reason, got %v", err)
	}
	if _, err := f.coord.Cancel(ctx, a.ID, "  no  ", uuid.Nil); !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError for a too-short reason, got %v", err)
	}

	// Still scheduled after rejected cancellations.
	stored, _ := f.appts.GetByID(ctx, a.ID)
	if stored.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", stored.Status)
	}
}

func TestCancel_Completed(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Confirm(ctx, a.ID, uuid.Nil)
	f.coord.Complete(ctx, a.ID, uuid.Nil)

	_, err := f.coord.Cancel(ctx, a.ID, "changed my mind", uuid.Nil)
	var ist *InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("expected *InvalidStateTransitionError, got %v", err)
	}
}

func TestCancel_LateFlag(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	// 90 minutes before the 09:00 Monday start.
	f.coord.now = func() time.Time { return time.Date(2026, 3, 2, 7, 30, 0, 0, time.UTC) }
	cancelled, err := f.coord.Cancel(ctx, a.ID, "overslept badly", uuid.Nil)
	if err != nil {
		t.Fatalf("expected late cancellation to be permitted: %v", err)
	}
	if !cancelled.LateCancellation {
		t.Error("expected late_cancellation flag set")
	}
}

func TestReschedule(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Confirm(ctx, a.ID, uuid.Nil)

	moved, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "11:15"}, uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if moved.ID != a.ID {
		t.Error("expected the appointment id to be preserved")
	}
	if moved.Status != StatusScheduled {
		t.Errorf("expected reschedule to return to scheduled, got %s", moved.Status)
	}
	if moved.AppointmentTime != "11:15:00" {
		t.Errorf("expected 11:15:00, got %s", moved.AppointmentTime)
	}
	if moved.Notes == nil || !strings.Contains(*moved.Notes, "rescheduled from 2026-03-02 09:00:00") {
		t.Errorf("expected an explanatory note, got %v", moved.Notes)
	}

	// The old slot is free again.
	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("expected the vacated slot to be bookable: %v", err)
	}
}

func TestReschedule_SameSlotAllowed(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	// Rescheduling onto its own slot must not self-conflict.
	if _, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "09:00"}, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestReschedule_FromNoShow(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Confirm(ctx, a.ID, uuid.Nil)
	f.coord.NoShow(ctx, a.ID, uuid.Nil)

	moved, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "11:15"}, uuid.Nil)
	if err != nil {
		t.Fatalf("expected a no-show appointment to be reschedulable: %v", err)
	}
	if moved.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", moved.Status)
	}
}

func TestReschedule_Terminal(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	f.coord.Cancel(ctx, a.ID, "patient request", uuid.Nil)

	_, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "11:15"}, uuid.Nil)
	var ist *InvalidStateTransitionError
	if !errors.As(err, &ist) {
		t.Fatalf("expected *InvalidStateTransitionError, got %v", err)
	}
}

func TestReschedule_NewDoctor(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()
	a, _ := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)

	// Unknown doctor is rejected before any write.
	_, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "11:15", DoctorID: uuid.New()}, uuid.Nil)
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
	stored, _ := f.appts.GetByID(ctx, a.ID)
	if stored.AppointmentTime != "09:00:00" {
		t.Error("expected failed reschedule to leave the appointment untouched")
	}
}

func TestGetAppointment_NotFound(t *testing.T) {
	f := newBookingFixture(t)
	_, err := f.coord.Get(context.Background(), uuid.New())
	var nfe *NotFoundError
	if !errors.As(err, &nfe) {
		t.Fatalf("expected *NotFoundError, got %v", err)
	}
}

func TestBookingMutations_RunAtomically(t *testing.T) {
	f := newBookingFixture(t)
	ctx := context.Background()

	a, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.tx.calls != 1 {
		t.Errorf("create: expected 1 atomic section, got %d", f.tx.calls)
	}

	if _, err := f.coord.UpdateAppointment(ctx, a.ID, AppointmentPatch{Time: strPtr("09:30")}, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.tx.calls != 2 {
		t.Errorf("update: expected 2 atomic sections, got %d", f.tx.calls)
	}

	if _, err := f.coord.Reschedule(ctx, a.ID, RescheduleRequest{Date: monday, Time: "10:45"}, uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f.tx.calls != 3 {
		t.Errorf("reschedule: expected 3 atomic sections, got %d", f.tx.calls)
	}
}

func TestCreateAppointment_ConflictSurfacesFromAtomicSection(t *testing.T) {
	// The slot check and the insert share the atomic section, so the losing
	// writer's conflict comes out of it as a *ConflictError.
	f := newBookingFixture(t)
	ctx := context.Background()

	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var ce *ConflictError
	if _, err := f.coord.CreateAppointment(ctx, f.request(), uuid.Nil); !errors.As(err, &ce) {
		t.Fatalf("expected *ConflictError, got %v", err)
	}
	if f.tx.calls != 2 {
		t.Errorf("expected both attempts inside atomic sections, got %d", f.tx.calls)
	}
}

func TestBookingCoordinator_NoTransactorRunsDirectly(t *testing.T) {
	f := newBookingFixture(t)
	f.coord.tx = nil

	a, err := f.coord.CreateAppointment(context.Background(), f.request(), uuid.Nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Status != StatusScheduled {
		t.Errorf("expected scheduled, got %s", a.Status)
	}
}
