package tracking

import (
	"context"

	"github.com/ignite/broadcast/internal/domain"
	"github.com/ignite/broadcast/internal/metrics"
	"github.com/ignite/broadcast/internal/service/suppression"
)

// DirectRecorder writes events straight to the store and counts them.
type DirectRecorder struct {
	Store suppression.EventRecorder
}

// RecordEvent implements suppression.EventRecorder.
func (d DirectRecorder) RecordEvent(ctx context.Context, ev *domain.Event) error {
	if err := d.Store.RecordEvent(ctx, ev); err != nil {
		return err
	}
	metrics.TrackingEvents.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
