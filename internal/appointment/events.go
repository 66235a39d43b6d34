package appointment

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventTimeBlockCreated     = "TIMEBLOCK_CREATED"
	EventTimeBlockDeleted     = "TIMEBLOCK_DELETED"
	EventDoctorRemoved        = "DOCTOR_REMOVED"
	EventFeedbackSubmitted    = "FEEDBACK_SUBMITTED"
)

// Event is the envelope published on redisclient.EventsChannel.
type Event struct {
	Type          string         `json:"type"`
	AppointmentID *uuid.UUID     `json:"appointment_id,omitempty"`
	Data          map[string]any `json:"data,omitempty"`
	At            time.Time      `json:"at"`
}

// EventRecorder writes lifecycle events to the event log and publishes them.
// Both writes are best-effort: failures are logged and never returned.
type EventRecorder struct {
	repo      Repository
	publisher redisclient.Publisher
	log       zerolog.Logger
}

func NewEventRecorder(repo Repository, publisher redisclient.Publisher, log zerolog.Logger) *EventRecorder {
	if publisher == nil {
		publisher = redisclient.NoopPublisher{}
	}
	return &EventRecorder{repo: repo, publisher: publisher, log: log}
}

func (r *EventRecorder) Record(ctx context.Context, eventType string, appointmentID *uuid.UUID, data map[string]any) {
	now := time.Now()

	payload, err := json.Marshal(data)
	if err != nil {
		r.log.Warn().Err(err).Str("event", eventType).Msg("marshal event payload")
		payload = nil
	}

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: appointmentID,
		Payload:       payload,
		CreatedAt:     now,
	}
	if err := r.repo.InsertEvent(ctx, ev); err != nil {
		r.log.Error().Err(err).Str("event", eventType).Msg("insert event log")
	}

	envelope, err := json.Marshal(Event{Type: eventType, AppointmentID: appointmentID, Data: data, At: now})
	if err != nil {
		return
	}
	if err := r.publisher.Publish(ctx, redisclient.EventsChannel, envelope); err != nil {
		r.log.Warn().Err(err).Str("event", eventType).Msg("publish event")
	}
}
