package purchase

import (
	"context"

	"eventtix/internal/models"
)

// Observer is told about every attempt transition. Implementations handle
// their own errors; a slow or failing observer never changes the outcome of
// a purchase.
type Observer interface {
	Observe(ctx context.Context, t models.AttemptTransition)
}

type ObserverFunc func(ctx context.Context, t models.AttemptTransition)

func (f ObserverFunc) Observe(ctx context.Context, t models.AttemptTransition) {
	f(ctx, t)
}

// Observers fans a transition out in order.
type Observers []Observer

func (o Observers) Observe(ctx context.Context, t models.AttemptTransition) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, t)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(context.Context, models.AttemptTransition) {}
