// Package domain defines the roster business rules for the signup service.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrActivityNotFound is returned when no activity has the requested name.
	ErrActivityNotFound = errors.New("activity not found")
	// ErrConflict groups signup state conflicts; match with errors.Is.
	ErrConflict = errors.New("roster conflict")
	// ErrAlreadySignedUp indicates the email is already a participant.
	ErrAlreadySignedUp = fmt.Errorf("%w: student is already signed up for this activity", ErrConflict)
	// ErrNotSignedUp indicates the email is not a participant.
	ErrNotSignedUp = fmt.Errorf("%w: student is not signed up for this activity", ErrConflict)
)

// Roster captures storage operations over the activity roster.
type Roster interface {
	// List returns every activity keyed by name. Callers may mutate the result.
	List(ctx context.Context) (map[string]Activity, error)
	// Update applies fn to the named activity as a single read-modify-write.
	// The activity is written back only when fn returns nil.
	Update(ctx context.Context, name string, fn func(*Activity) error) error
}

// EventType names a roster change.
type EventType string

const (
	EventParticipantSignedUp     EventType = "participant.signed_up"
	EventParticipantUnregistered EventType = "participant.unregistered"
)

// RosterEvent describes a committed roster change.
type RosterEvent struct {
	ID               string
	Type             EventType
	Activity         string
	Email            string
	ParticipantCount int
	OccurredAt       time.Time
}

// Publisher forwards roster events to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, event RosterEvent) error
}

// NoopPublisher discards events.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, RosterEvent) error { return nil }

// Confirmation is returned for a successful signup or unregister.
type Confirmation struct {
	Activity string
	Email    string
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithPublisher sets the destination for roster events.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.publisher = p
	}
}

// WithLogger overrides the logger used to report publish failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// Service orchestrates signup workflows.
type Service struct {
	roster    Roster
	publisher Publisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewService constructs a Service.
func NewService(roster Roster, opts ...Option) *Service {
	s := &Service{
		roster:    roster,
		publisher: NoopPublisher{},
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListActivities returns the full roster.
func (s *Service) ListActivities(ctx context.Context) (map[string]Activity, error) {
	return s.roster.List(ctx)
}

// Signup appends email to the named activity's participants.
// Capacity is informational and is not checked.
func (s *Service) Signup(ctx context.Context, activity, email string) (Confirmation, error) {
	var count int
	err := s.roster.Update(ctx, activity, func(a *Activity) error {
		if a.HasParticipant(email) {
			return ErrAlreadySignedUp
		}
		a.Participants = append(a.Participants, email)
		count = len(a.Participants)
		return nil
	})
	if err != nil {
		return Confirmation{}, err
	}

	s.emit(ctx, EventParticipantSignedUp, activity, email, count)
	return Confirmation{Activity: activity, Email: email}, nil
}

// Unregister removes email from the named activity's participants.
func (s *Service) Unregister(ctx context.Context, activity, email string) (Confirmation, error) {
	var count int
	err := s.roster.Update(ctx, activity, func(a *Activity) error {
		idx := slices.Index(a.Participants, email)
		if idx < 0 {
			return ErrNotSignedUp
		}
		a.Participants = slices.Delete(a.Participants, idx, idx+1)
		count = len(a.Participants)
		return nil
	})
	if err != nil {
		return Confirmation{}, err
	}

	s.emit(ctx, EventParticipantUnregistered, activity, email, count)
	return Confirmation{Activity: activity, Email: email}, nil
}

func (s *Service) emit(ctx context.Context, eventType EventType, activity, email string, count int) {
	event := RosterEvent{
		ID:               uuid.NewString(),
		Type:             eventType,
		Activity:         activity,
		Email:            email,
		ParticipantCount: count,
		OccurredAt:       s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.Warn("roster event not published",
			slog.String("event_type", string(eventType)),
			slog.String("activity", activity),
			slog.Any("error", err),
		)
	}
}
