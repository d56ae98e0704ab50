package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"eventtix/internal/logger"
	"eventtix/internal/models"

	"github.com/uptrace/bun"
)

var ErrEntryNotFound = errors.New("reconciliation entry not found")

// Journal records payments that moved without a ticket being written, so an
// operator can issue the ticket or refund by hand. It observes attempts and
// only acts on the unrecorded state.
type Journal struct {
	Bun    *bun.DB
	Logger *logger.Logger
}

func (j *Journal) Observe(ctx context.Context, t models.AttemptTransition) {
	if t.To != models.AttemptUnrecorded || t.From == t.To {
		return
	}
	a := t.Attempt
	entry := &models.UnrecordedPayment{
		AttemptID:        a.ID,
		UserID:           a.UserID,
		EventID:          a.Selection.EventID,
		Type:             a.Selection.Type,
		Quantity:         a.Selection.Quantity,
		Amount:           a.TotalPrice,
		Currency:         a.Currency,
		PaymentRail:      a.PaymentRail,
		PaymentReference: a.PaymentReference,
		Error:            a.FailureMessage,
		CreatedAt:        t.At,
	}
	if err := j.Record(ctx, entry); err != nil {
		// the log line is the last copy of the proof
		j.Logger.Error("RECONCILIATION", fmt.Sprintf("Failed to journal unrecorded payment %s %s:%s: %v",
			a.ID, a.PaymentRail, a.PaymentReference, err))
	}
}

// Record adds entry unless its attempt is already journaled.
func (j *Journal) Record(ctx context.Context, entry *models.UnrecordedPayment) error {
	if _, err := j.Bun.NewInsert().Model(entry).On("CONFLICT (attempt_id) DO NOTHING").Exec(ctx); err != nil {
		return err
	}
	j.Logger.LogDatabase("INSERT", "unrecorded_payments", fmt.Sprintf("journaled attempt %s", entry.AttemptID))
	return nil
}

// List returns journal entries, newest first.
func (j *Journal) List(ctx context.Context, includeResolved bool) ([]models.UnrecordedPayment, error) {
	var entries []models.UnrecordedPayment
	q := j.Bun.NewSelect().Model(&entries).Order("created_at DESC")
	if !includeResolved {
		q = q.Where("resolved = ?", false)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return entries, nil
}

// Resolve marks an entry as handled.
func (j *Journal) Resolve(ctx context.Context, attemptID string) error {
	res, err := j.Bun.NewUpdate().
		Model((*models.UnrecordedPayment)(nil)).
		Set("resolved = ?", true).
		Where("attempt_id = ?", attemptID).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, attemptID)
	}
	return nil
}

// Get returns a single entry.
func (j *Journal) Get(ctx context.Context, attemptID string) (*models.UnrecordedPayment, error) {
	var entry models.UnrecordedPayment
	err := j.Bun.NewSelect().Model(&entry).Where("attempt_id = ?", attemptID).Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrEntryNotFound, attemptID)
	}
	if err != nil {
		return nil, err
	}
	return &entry, nil
}
