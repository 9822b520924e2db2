// Package events defines the roster event payloads published to Kafka.
package events

import "time"

// ParticipantSignedUp is emitted when a student joins an activity.
type ParticipantSignedUp struct {
	EventID          string    `json:"event_id"`
	Activity         string    `json:"activity"`
	Email            string    `json:"email"`
	ParticipantCount int       `json:"participant_count"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// ParticipantUnregistered is emitted when a student leaves an activity.
type ParticipantUnregistered struct {
	EventID          string    `json:"event_id"`
	Activity         string    `json:"activity"`
	Email            string    `json:"email"`
	ParticipantCount int       `json:"participant_count"`
	OccurredAt       time.Time `json:"occurred_at"`
}
