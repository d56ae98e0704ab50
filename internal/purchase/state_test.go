package purchase

import (
	"testing"

	"eventtix/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	allowed := []struct{ from, to models.AttemptState }{
		{models.AttemptIdle, models.AttemptAwaitingPayment},
		{models.AttemptAwaitingPayment, models.AttemptAwaitingPayment},
		{models.AttemptAwaitingPayment, models.AttemptConfirmingLedger},
		{models.AttemptAwaitingPayment, models.AttemptFailed},
		{models.AttemptConfirmingLedger, models.AttemptCompleted},
		{models.AttemptConfirmingLedger, models.AttemptUnrecorded},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}

	forbidden := []struct{ from, to models.AttemptState }{
		{models.AttemptIdle, models.AttemptConfirmingLedger},
		{models.AttemptIdle, models.AttemptCompleted},
		{models.AttemptAwaitingPayment, models.AttemptCompleted},
		{models.AttemptConfirmingLedger, models.AttemptFailed},
		{models.AttemptCompleted, models.AttemptAwaitingPayment},
		{models.AttemptFailed, models.AttemptAwaitingPayment},
		{models.AttemptUnrecorded, models.AttemptCompleted},
		{models.AttemptCompleted, models.AttemptCompleted},
	}
	for _, tc := range forbidden {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestErrorKindsMatchSentinels(t *testing.T) {
	err := &Error{Kind: KindLedgerWriteFailed, Message: "boom"}
	assert.ErrorIs(t, err, ErrLedgerWriteFailed)
	assert.NotErrorIs(t, err, ErrPaymentRejected)
	assert.Equal(t, KindLedgerWriteFailed, KindOf(err))
	assert.Equal(t, "LedgerWriteFailed: boom", err.Error())
}
