package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
)

// Notifier delivers booking and cancellation notices. Errors are logged by
// the caller and never undo the booking change that triggered them.
type Notifier interface {
	AppointmentBooked(ctx context.Context, d AppointmentDetail) error
	AppointmentCancelled(ctx context.Context, d AppointmentDetail, by CancelledBy) error
}

type BookingRequest struct {
	PatientID uuid.UUID
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Date      string // 2006-01-02, clinic timezone
	StartTime string // 15:04
	Mode      Mode
}

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier Notifier
	events   *EventRecorder
	cfg      config.Config
	log      zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier Notifier, events *EventRecorder, cfg config.Config, log zerolog.Logger) *Service {
	if locker == nil {
		locker = redisclient.NoopLocker{}
	}
	if events == nil {
		events = NewEventRecorder(repo, nil, log)
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.SlotSize <= 0 {
		cfg.SlotSize = DefaultSlotSize
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		events:   events,
		cfg:      cfg,
		log:      log.With().Str("component", "booking").Logger(),
		now:      time.Now,
	}
}

// WithClock replaces the time source.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// BookAppointment books the slot starting at req.Date/req.StartTime with the
// requested doctor. The overlap check, the slot claim and the appointment
// insert commit together; notifications go out after the commit.
func (s *Service) BookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	started := time.Now()
	appt, err := s.bookAppointment(ctx, req)
	metrics.BookingAttempts.WithLabelValues(bookingOutcome(err)).Inc()
	metrics.BookingLatency.Observe(time.Since(started).Seconds())
	return appt, err
}

func (s *Service) bookAppointment(ctx context.Context, req BookingRequest) (*Appointment, error) {
	patient, err := s.repo.GetPatientByID(ctx, req.PatientID)
	if err != nil {
		return nil, lookupErr("load patient", err)
	}
	doctor, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		return nil, lookupErr("load doctor", err)
	}
	service, err := s.repo.GetServiceByID(ctx, req.ServiceID)
	if err != nil {
		return nil, lookupErr("load service", err)
	}
	offered, err := s.repo.DoctorOffersService(ctx, doctor.ID, service.ID)
	if err != nil {
		return nil, fmt.Errorf("check doctor service: %w", err)
	}
	if !offered {
		return nil, ErrServiceNotOffered
	}

	mode := req.Mode
	if mode == "" {
		mode = ModeInPerson
	}
	if mode != ModeInPerson && mode != ModeVirtual {
		return nil, invalidInput("unknown mode %q", mode)
	}

	start, err := s.combine(req.Date, req.StartTime)
	if err != nil {
		return nil, err
	}
	end := start.Add(service.Duration())

	if !start.After(s.now()) {
		return nil, ErrStartNotInFuture
	}

	overlapping, err := s.repo.ListConfirmedOverlapping(ctx, doctor.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check overlapping appointments: %w", err)
	}
	if len(overlapping) > 0 {
		return nil, ErrOverlappingAppointment
	}

	var created *Appointment

	err = s.locker.WithClaimLock(ctx, doctor.ID, start, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(tx Repository) error {
			if err := tx.LockDoctor(lockCtx, doctor.ID, false); err != nil {
				return lookupErr("lock doctor", err)
			}
			slot, err := TryClaim(lockCtx, tx, doctor.ID, start, end)
			if err != nil {
				return err
			}

			appt := &Appointment{
				ID:        uuid.New(),
				PatientID: patient.ID,
				DoctorID:  doctor.ID,
				ServiceID: service.ID,
				SlotID:    &slot.ID,
				StartAt:   start,
				EndAt:     end,
				Mode:      mode,
				Status:    StatusConfirmed,
			}
			if mode == ModeVirtual {
				link := s.videoLink(appt.ID)
				appt.VideoLink = &link
			}

			if err := tx.CreateAppointment(lockCtx, appt); err != nil {
				return fmt.Errorf("create appointment: %w", err)
			}
			created = appt
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("slot is being booked by another request: %w", ErrSlotUnavailable)
		}
		return nil, err
	}

	s.events.Record(ctx, EventAppointmentBooked, &created.ID, map[string]any{
		"doctor_id":  doctor.ID.String(),
		"patient_id": patient.ID.String(),
		"slot_id":    created.SlotID.String(),
		"start_at":   created.StartAt,
		"mode":       created.Mode,
	})

	s.notifyBooked(ctx, AppointmentDetail{
		Appointment: *created,
		Patient:     *patient,
		Doctor:      *doctor,
		Service:     *service,
	})

	return created, nil
}

// CancelByPatient cancels an appointment on behalf of the patient who owns it.
func (s *Service) CancelByPatient(ctx context.Context, appointmentID uuid.UUID, patientEmail string) (*Appointment, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		return nil, lookupErr("load appointment", err)
	}
	if !strings.EqualFold(strings.TrimSpace(detail.Patient.Email), strings.TrimSpace(patientEmail)) {
		return nil, ErrNotPatientsAppointment
	}
	return s.cancel(ctx, detail, CancelledByPatient)
}

// CancelByDoctor cancels an appointment on behalf of its doctor, or of a
// collaborator acting for that doctor.
func (s *Service) CancelByDoctor(ctx context.Context, appointmentID, actingDoctorID uuid.UUID) (*Appointment, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, appointmentID)
	if err != nil {
		return nil, lookupErr("load appointment", err)
	}
	if detail.DoctorID != actingDoctorID {
		return nil, ErrNotDoctorsAppointment
	}
	return s.cancel(ctx, detail, CancelledByDoctor)
}

func (s *Service) cancel(ctx context.Context, detail *AppointmentDetail, by CancelledBy) (*Appointment, error) {
	var updated *Appointment

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		a, err := tx.UpdateAppointmentStatus(ctx, detail.ID, StatusConfirmed, StatusCancelled, &by)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				return ErrInvalidStatusTransition
			}
			return fmt.Errorf("cancel appointment: %w", err)
		}
		if a.SlotID != nil {
			if err := Release(ctx, tx, *a.SlotID); err != nil {
				return err
			}
		}
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.Cancellations.WithLabelValues(strings.ToLower(string(by))).Inc()
	s.events.Record(ctx, EventAppointmentCancelled, &updated.ID, map[string]any{
		"cancelled_by": by,
		"doctor_id":    updated.DoctorID.String(),
		"patient_id":   updated.PatientID.String(),
	})

	detail.Appointment = *updated
	if s.notifier != nil {
		if err := s.notifier.AppointmentCancelled(ctx, *detail, by); err != nil {
			s.log.Warn().Err(err).Str("appointment_id", updated.ID.String()).Msg("cancellation notice failed")
		}
	}

	return updated, nil
}

// DeleteDoctorCascade removes a doctor and everything hanging off it. It is
// refused while the doctor still has confirmed appointments in the future.
func (s *Service) DeleteDoctorCascade(ctx context.Context, doctorID uuid.UUID) (DeletionCounts, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return DeletionCounts{}, lookupErr("load doctor", err)
	}

	var counts DeletionCounts
	err := s.repo.WithTx(ctx, func(tx Repository) error {
		// Bookings hold a shared lock on the doctor, so none can commit
		// between the count and the delete.
		if err := tx.LockDoctor(ctx, doctorID, true); err != nil {
			return lookupErr("lock doctor", err)
		}
		n, err := tx.CountFutureConfirmedForDoctor(ctx, doctorID, s.now())
		if err != nil {
			return fmt.Errorf("count future appointments: %w", err)
		}
		if n > 0 {
			return fmt.Errorf("%d pending: %w", n, ErrDoctorHasFutureBookings)
		}

		counts, err = tx.DeleteDoctorCascade(ctx, doctorID)
		return err
	})
	if err != nil {
		return DeletionCounts{}, err
	}

	s.events.Record(ctx, EventDoctorRemoved, nil, map[string]any{
		"doctor_id": doctorID.String(),
		"counts":    counts,
	})
	s.log.Info().
		Str("doctor_id", doctorID.String()).
		Int64("appointments", counts.Appointments).
		Int64("slots", counts.Slots).
		Int64("time_blocks", counts.TimeBlocks).
		Msg("doctor removed")

	return counts, nil
}

// GetAppointment retrieves an appointment together with its parties.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := s.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, lookupErr("get appointment", err)
	}
	return detail, nil
}

func (s *Service) notifyBooked(ctx context.Context, d AppointmentDetail) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.AppointmentBooked(ctx, d); err != nil {
		s.log.Warn().Err(err).Str("appointment_id", d.ID.String()).Msg("booking confirmation failed")
	}
}

func (s *Service) videoLink(id uuid.UUID) string {
	return strings.TrimRight(s.cfg.VideoLinkBase, "/") + "/clinic-" + id.String()
}

func lookupErr(op string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrSlotNotFound):
		return "slot_not_found"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrInvalidState), errors.Is(err, ErrInvalidInput):
		return "rejected"
	default:
		return "error"
	}
}
