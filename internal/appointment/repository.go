package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationFlag names one of the one-shot notification flags on an appointment.
type NotificationFlag string

const (
	FlagReminder        NotificationFlag = "reminder_sent"
	FlagSMSReminder     NotificationFlag = "sms_reminder_sent"
	FlagFeedbackRequest NotificationFlag = "feedback_request_sent"
)

// Repository contains all storage interactions needed by the booking core.
// Methods called on the Repository handed to a WithTx callback run inside
// that transaction.
type Repository interface {
	WithTx(ctx context.Context, fn func(tx Repository) error) error

	// Reference data
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	// LockDoctor row-locks the doctor for the rest of the transaction:
	// exclusively for removal, shared for bookings.
	LockDoctor(ctx context.Context, id uuid.UUID, exclusive bool) error
	GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error)
	DoctorOffersService(ctx context.Context, doctorID, serviceID uuid.UUID) (bool, error)

	// Time blocks
	CreateTimeBlock(ctx context.Context, b *TimeBlock) error
	GetTimeBlockByID(ctx context.Context, id uuid.UUID) (*TimeBlock, error)
	ListTimeBlocksByDoctor(ctx context.Context, doctorID uuid.UUID, fromDate time.Time) ([]TimeBlock, error)
	ListOverlappingTimeBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeBlock, error)
	ListOpenTimeBlocks(ctx context.Context, now time.Time) ([]TimeBlock, error)
	DeleteTimeBlock(ctx context.Context, id uuid.UUID) (int64, error)

	// Slots
	InsertSlotIfAbsent(ctx context.Context, s *Slot) (bool, error)
	ListSlotsByTimeBlock(ctx context.Context, blockID uuid.UUID) ([]Slot, error)
	LockSlotForUpdate(ctx context.Context, doctorID uuid.UUID, start time.Time) (*Slot, error)
	UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (bool, error)
	DeleteSlotsByTimeBlock(ctx context.Context, blockID uuid.UUID) (int64, error)
	DeleteExpiredAvailableSlots(ctx context.Context, now time.Time) (int64, error)
	DeleteOrphanSlots(ctx context.Context) (int64, error)

	// Appointments
	CreateAppointment(ctx context.Context, a *Appointment) error
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListConfirmedOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error)
	CountFutureConfirmedForDoctor(ctx context.Context, doctorID uuid.UUID, now time.Time) (int, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, by *CancelledBy) (*Appointment, error)

	// Sweeps
	CompletePastAppointments(ctx context.Context, now time.Time) (int64, error)
	ListReminderCandidates(ctx context.Context, from, to time.Time) ([]AppointmentDetail, error)
	ListFeedbackCandidates(ctx context.Context) ([]AppointmentDetail, error)
	ClaimNotificationFlag(ctx context.Context, id uuid.UUID, flag NotificationFlag) (bool, error)

	// Feedback and ratings
	CreateFeedback(ctx context.Context, f *Feedback) error
	GetFeedbackByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Feedback, error)
	ListDoctorRatings(ctx context.Context, serviceID *uuid.UUID) ([]DoctorRating, error)

	// Administrative
	DeleteDoctorCascade(ctx context.Context, doctorID uuid.UUID) (DeletionCounts, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error
}
