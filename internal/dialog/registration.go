package dialog

import (
	"errors"
	"fmt"
	"time"

	"github.com/dietfurt/kolpingbot/internal/models"
)

// ErrCorruptState is returned when a persisted record cannot be mapped to a step.
var ErrCorruptState = errors.New("corrupt dialog state")

// step is one position of the registration flow. Each variant carries exactly the
// fields that have been collected before it.
type step interface {
	dialogStep() models.DialogStep
}

type awaitingFirstName struct{}

type awaitingLastName struct {
	firstName string
}

type awaitingAge struct {
	firstName string
	lastName  string
}

// awaitingSwimmer is persisted as the "finished" step: all text fields are known and
// only the swim answer is outstanding.
type awaitingSwimmer struct {
	firstName string
	lastName  string
	age       string
}

func (awaitingFirstName) dialogStep() models.DialogStep { return models.StepFirstName }
func (awaitingLastName) dialogStep() models.DialogStep  { return models.StepLastName }
func (awaitingAge) dialogStep() models.DialogStep       { return models.StepAge }
func (awaitingSwimmer) dialogStep() models.DialogStep   { return models.StepFinished }

// decodeState maps a persisted record onto its step variant.
func decodeState(st models.DialogState) (step, error) {
	if st.Action != models.DialogActionRegistration {
		return nil, fmt.Errorf("%w: unknown action %q", ErrCorruptState, st.Action)
	}
	switch st.Step {
	case models.StepFirstName:
		return awaitingFirstName{}, nil
	case models.StepLastName:
		if st.FirstName == "" {
			return nil, fmt.Errorf("%w: step %s without first name", ErrCorruptState, st.Step)
		}
		return awaitingLastName{firstName: st.FirstName}, nil
	case models.StepAge:
		if st.FirstName == "" || st.LastName == "" {
			return nil, fmt.Errorf("%w: step %s without names", ErrCorruptState, st.Step)
		}
		return awaitingAge{firstName: st.FirstName, lastName: st.LastName}, nil
	case models.StepFinished:
		if st.FirstName == "" || st.LastName == "" || st.Age == "" {
			return nil, fmt.Errorf("%w: step %s with missing fields", ErrCorruptState, st.Step)
		}
		return awaitingSwimmer{firstName: st.FirstName, lastName: st.LastName, age: st.Age}, nil
	default:
		return nil, fmt.Errorf("%w: unknown step %q", ErrCorruptState, st.Step)
	}
}

// encodeState flattens a step variant for the session store.
func encodeState(userID string, s step, createdAt, now time.Time) models.DialogState {
	st := models.DialogState{
		UserID:    userID,
		Action:    models.DialogActionRegistration,
		Step:      s.dialogStep(),
		CreatedAt: createdAt,
		UpdatedAt: now,
	}
	switch v := s.(type) {
	case awaitingLastName:
		st.FirstName = v.firstName
	case awaitingAge:
		st.FirstName, st.LastName = v.firstName, v.lastName
	case awaitingSwimmer:
		st.FirstName, st.LastName, st.Age = v.firstName, v.lastName, v.age
	}
	return st
}
