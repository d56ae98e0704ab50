package purchase

import "eventtix/internal/models"

var transitions = map[models.AttemptState][]models.AttemptState{
	models.AttemptIdle:             {models.AttemptAwaitingPayment},
	models.AttemptAwaitingPayment:  {models.AttemptConfirmingLedger, models.AttemptFailed},
	models.AttemptConfirmingLedger: {models.AttemptCompleted, models.AttemptUnrecorded},
}

// CanTransition reports whether an attempt may move from one state to
// another. Progress reports within AwaitingPayment are allowed; terminal
// states never change.
func CanTransition(from, to models.AttemptState) bool {
	if from == to {
		return from == models.AttemptAwaitingPayment
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
