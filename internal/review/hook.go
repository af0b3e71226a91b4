package review

import (
	"context"
	"fmt"
	"time"

	"github.com/oslsr/kestrel/internal/bus"
	"github.com/oslsr/kestrel/internal/domain"
)

// StatusChange is published when a resolution changes an enumerator's
// account status.
type StatusChange struct {
	EnumeratorID string            `json:"enumeratorId"`
	Resolution   domain.Resolution `json:"resolution"`
	ReviewerID   string            `json:"reviewerId"`
	At           time.Time         `json:"at"`
}

// BusStatusHook forwards account status changes to the event bus, where
// the account service consumes them.
type BusStatusHook struct {
	bus domain.EventBus
	now func() time.Time
}

// NewBusStatusHook creates a hook publishing on TopicEnumeratorStatus.
func NewBusStatusHook(eventBus domain.EventBus) *BusStatusHook {
	return &BusStatusHook{bus: eventBus, now: time.Now}
}

// OnEnumeratorResolution publishes the status change.
func (h *BusStatusHook) OnEnumeratorResolution(ctx context.Context, enumeratorID string, resolution domain.Resolution, reviewerID string) error {
	change := StatusChange{
		EnumeratorID: enumeratorID,
		Resolution:   resolution,
		ReviewerID:   reviewerID,
		At:           h.now().UTC(),
	}
	if err := bus.PublishJSON(ctx, h.bus, domain.TopicEnumeratorStatus, change); err != nil {
		return fmt.Errorf("failed to publish status of %s: %w", enumeratorID, err)
	}
	return nil
}
