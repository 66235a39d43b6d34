// Package rating aggregates patient feedback into per-doctor ratings.
package rating

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const allServicesKey = "ratings:all"

type Service struct {
	repo   appointment.Repository
	events *appointment.EventRecorder
	cache  *cache.Cache
	log    zerolog.Logger
}

func NewService(repo appointment.Repository, events *appointment.EventRecorder, ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if events == nil {
		events = appointment.NewEventRecorder(repo, nil, log)
	}
	return &Service{
		repo:   repo,
		events: events,
		cache:  cache.New(ttl, 2*ttl),
		log:    log.With().Str("component", "rating").Logger(),
	}
}

// DoctorRatings returns the average rating and feedback count per doctor,
// best first. A non-nil serviceID restricts the list to doctors offering it.
func (s *Service) DoctorRatings(ctx context.Context, serviceID *uuid.UUID) ([]appointment.DoctorRating, error) {
	key := allServicesKey
	if serviceID != nil {
		key = "ratings:" + serviceID.String()
	}

	if cached, ok := s.cache.Get(key); ok {
		metrics.RatingCacheLookups.WithLabelValues("hit").Inc()
		return cached.([]appointment.DoctorRating), nil
	}
	metrics.RatingCacheLookups.WithLabelValues("miss").Inc()

	ratings, err := s.repo.ListDoctorRatings(ctx, serviceID)
	if err != nil {
		return nil, fmt.Errorf("list doctor ratings: %w", err)
	}
	if ratings == nil {
		ratings = []appointment.DoctorRating{}
	}
	s.cache.Set(key, ratings, cache.DefaultExpiration)
	return ratings, nil
}

// SubmitFeedback records the patient's rating of a completed appointment.
// Each appointment takes one feedback.
func (s *Service) SubmitFeedback(ctx context.Context, appointmentID uuid.UUID, patientEmail string, rating int, comment *string) (*appointment.Feedback, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		if errors.Is(err, appointment.ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !strings.EqualFold(strings.TrimSpace(detail.Patient.Email), strings.TrimSpace(patientEmail)) {
		return nil, appointment.ErrNotPatientsAppointment
	}
	if detail.Status != appointment.StatusCompleted {
		return nil, fmt.Errorf("appointment is %s: %w", detail.Status, appointment.ErrInvalidState)
	}
	if rating < 1 || rating > 5 {
		return nil, fmt.Errorf("rating %d out of range 1..5: %w", rating, appointment.ErrInvalidInput)
	}
	if comment != nil {
		trimmed := strings.TrimSpace(*comment)
		if trimmed == "" {
			comment = nil
		} else {
			comment = &trimmed
		}
	}

	fb := &appointment.Feedback{
		AppointmentID: detail.ID,
		PatientID:     detail.PatientID,
		DoctorID:      detail.DoctorID,
		Rating:        rating,
		Comment:       comment,
	}
	if err := s.repo.CreateFeedback(ctx, fb); err != nil {
		return nil, err
	}

	s.Invalidate()
	s.events.Record(ctx, appointment.EventFeedbackSubmitted, &detail.ID, map[string]any{
		"doctor_id": detail.DoctorID.String(),
		"rating":    rating,
	})
	return fb, nil
}

// Invalidate drops every cached rating list.
func (s *Service) Invalidate() {
	s.cache.Flush()
}
