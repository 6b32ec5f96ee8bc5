package scheduling

import "time"

// Action is a requested appointment status change.
type Action string

const (
	ActionConfirm    Action = "confirm"
	ActionStart      Action = "start"
	ActionComplete   Action = "complete"
	ActionCancel     Action = "cancel"
	ActionNoShow     Action = "no_show"
	ActionReschedule Action = "reschedule"
)

// allowedSources maps each action to the states it may be applied from.
// This is the whole state machine:
//
//	scheduled -> confirmed -> in_progress -> completed
//	scheduled/confirmed/in_progress -> cancelled
//	confirmed -> no_show
//
// Reschedule is permitted from any state other than completed and cancelled
// and returns the appointment to scheduled.
var allowedSources = map[Action][]AppointmentStatus{
	ActionConfirm:    {StatusScheduled},
	ActionStart:      {StatusScheduled, StatusConfirmed},
	ActionComplete:   {StatusConfirmed, StatusInProgress},
	ActionCancel:     {StatusScheduled, StatusConfirmed, StatusInProgress},
	ActionNoShow:     {StatusConfirmed},
	ActionReschedule: {StatusScheduled, StatusConfirmed, StatusInProgress, StatusNoShow},
}

// resultStatus maps each action to the state it produces.
var resultStatus = map[Action]AppointmentStatus{
	ActionConfirm:    StatusConfirmed,
	ActionStart:      StatusInProgress,
	ActionComplete:   StatusCompleted,
	ActionCancel:     StatusCancelled,
	ActionNoShow:     StatusNoShow,
	ActionReschedule: StatusScheduled,
}

// AllowedSources returns the states an action may be applied from.
func AllowedSources(action Action) []AppointmentStatus {
	return allowedSources[action]
}

// CanTransition reports whether action is legal from the current state.
func CanTransition(current AppointmentStatus, action Action) bool {
	for _, s := range allowedSources[action] {
		if s == current {
			return true
		}
	}
	return false
}

// Transition applies action to the appointment's status. On an illegal
// transition it returns an *InvalidStateTransitionError naming the current
// state, the requested action and the allowed source states, and leaves the
// appointment untouched.
func Transition(a *Appointment, action Action) error {
	if !CanTransition(a.Status, action) {
		return &InvalidStateTransitionError{
			Current: a.Status,
			Action:  action,
			Allowed: allowedSources[action],
		}
	}
	a.Status = resultStatus[action]
	return nil
}

// LateCancelWindow is the cutoff before the scheduled start under which a
// cancellation is recorded as late. Late cancellations are permitted, not
// rejected.
const LateCancelWindow = 2 * time.Hour

// IsLateCancellation reports whether cancelling at the given instant falls
// inside the late-cancel window of the appointment's scheduled start.
func IsLateCancellation(a *Appointment, at time.Time) bool {
	return a.StartsAt().Sub(at) < LateCancelWindow
}
