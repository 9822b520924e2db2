// Package memory provides the process-lifetime roster used by default.
package memory

import (
	"context"
	"sync"
	"time"

	"example.com/mergington/internal/domain"
	"example.com/mergington/internal/observability"
)

// Roster stores activities in a map guarded by a single lock.
type Roster struct {
	mu         sync.RWMutex
	activities map[string]domain.Activity
}

// NewRoster constructs a Roster holding copies of the provided activities.
func NewRoster(seed []domain.Activity) *Roster {
	r := &Roster{activities: make(map[string]domain.Activity, len(seed))}
	for _, activity := range seed {
		r.activities[activity.Name] = activity.Clone()
		observability.RecordParticipants(activity.Name, len(activity.Participants))
	}
	return r
}

// NewSeededRoster constructs a Roster populated with the default activities.
func NewSeededRoster() *Roster {
	return NewRoster(domain.DefaultActivities())
}

// List implements domain.Roster.
func (r *Roster) List(ctx context.Context) (map[string]domain.Activity, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]domain.Activity, len(r.activities))
	for name, activity := range r.activities {
		out[name] = activity.Clone()
	}
	return out, nil
}

// Update implements domain.Roster.
func (r *Roster) Update(ctx context.Context, name string, fn func(*domain.Activity) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.activities[name]
	if !ok {
		return domain.ErrActivityNotFound
	}

	working := current.Clone()
	if err := fn(&working); err != nil {
		return err
	}
	working.Name = name
	r.activities[name] = working

	observability.RecordParticipants(name, len(working.Participants))
	observability.RecordMutation(time.Now())
	return nil
}
