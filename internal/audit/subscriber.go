package audit

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/safecity/platform/internal/shared/events"
	"github.com/safecity/platform/internal/shared/logging"
	"github.com/safecity/platform/internal/shared/types"
)

// Subscriber listens to domain events and appends audit entries
type Subscriber struct {
	repo *Repository
	bus  events.EventBus
	log  *logging.Logger
}

// NewSubscriber creates a new audit subscriber
func NewSubscriber(repo *Repository, bus events.EventBus, log *logging.Logger) *Subscriber {
	return &Subscriber{repo: repo, bus: bus, log: log.WithComponent("audit")}
}

// Start subscribes to all audited event streams
func (s *Subscriber) Start(ctx context.Context) error {
	patterns := []struct {
		pattern      string
		consumerName string
	}{
		{"report.*", "audit-report-subscriber"},
		{"dispatch.*", "audit-dispatch-subscriber"},
		{"principal.*", "audit-principal-subscriber"},
		{"company.*", "audit-company-subscriber"},
		{"authz.*", "audit-authz-subscriber"},
	}

	for _, p := range patterns {
		if err := s.bus.Subscribe(ctx, p.pattern, p.consumerName, s.handleEvent); err != nil {
			return fmt.Errorf("failed to subscribe to %s: %w", p.pattern, err)
		}
	}

	return nil
}

// handleEvent appends the event to the audit log
func (s *Subscriber) handleEvent(ctx context.Context, event events.Event) error {
	entry := s.eventToEntry(event)
	if entry == nil {
		return nil
	}

	if err := s.repo.Append(ctx, entry); err != nil {
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}

// eventToEntry converts a domain event to an audit entry
func (s *Subscriber) eventToEntry(event events.Event) *Entry {
	parts := strings.SplitN(event.Type, ".", 2)
	if len(parts) < 2 {
		return nil
	}
	subjectType := parts[0]

	var payload map[string]any
	var subjectID types.ID

	if data, ok := event.Data.(map[string]any); ok {
		payload = data

		// Common ID field patterns in event payloads.
		for _, field := range []string{subjectType + "_id", "id"} {
			if v, ok := data[field]; ok {
				if str, ok := v.(string); ok {
					subjectID = types.ID(str)
					break
				}
				if id, ok := v.(types.ID); ok {
					subjectID = id
					break
				}
			}
		}
	}

	entry := NewEntry(event.Type, event.ActorID, subjectType, subjectID, payload)
	if !event.Timestamp.IsZero() {
		entry.RecordedAt = event.Timestamp.UTC().Truncate(time.Microsecond)
	}

	return entry
}
