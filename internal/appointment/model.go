package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "CONFIRMED"
	StatusCompleted AppointmentStatus = "COMPLETED"
	StatusCancelled AppointmentStatus = "CANCELLED"
)

type SlotStatus string

const (
	SlotAvailable SlotStatus = "AVAILABLE"
	SlotBooked    SlotStatus = "BOOKED"
)

type Mode string

const (
	ModeInPerson Mode = "IN_PERSON"
	ModeVirtual  Mode = "VIRTUAL"
)

type CreatorType string

const (
	CreatorDoctor       CreatorType = "DOCTOR"
	CreatorCollaborator CreatorType = "COLLABORATOR"
	CreatorAdmin        CreatorType = "ADMIN"
)

type CancelledBy string

const (
	CancelledByPatient CancelledBy = "PATIENT"
	CancelledByDoctor  CancelledBy = "DOCTOR"
)

type Patient struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     *string
	CreatedAt time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Phone     *string
	Specialty *string
	CreatedAt time.Time
}

type MedicalService struct {
	ID              uuid.UUID
	Name            string
	DurationMinutes int
}

func (s MedicalService) Duration() time.Duration {
	return time.Duration(s.DurationMinutes) * time.Minute
}

// TimeBlock is a doctor-declared working window. StartAt and EndAt are the
// absolute instants of the window; Date is the calendar day it was declared for.
type TimeBlock struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	Date        time.Time
	StartAt     time.Time
	EndAt       time.Time
	CreatorType CreatorType
	CreatorID   uuid.UUID
	CreatorName string
	CreatedAt   time.Time
}

func (b TimeBlock) Overlaps(start, end time.Time) bool {
	return b.StartAt.Before(end) && start.Before(b.EndAt)
}

type Slot struct {
	ID          uuid.UUID
	DoctorID    uuid.UUID
	TimeBlockID uuid.UUID
	StartAt     time.Time
	EndAt       time.Time
	Status      SlotStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Appointment struct {
	ID                  uuid.UUID
	PatientID           uuid.UUID
	DoctorID            uuid.UUID
	ServiceID           uuid.UUID
	SlotID              *uuid.UUID
	StartAt             time.Time
	EndAt               time.Time
	Mode                Mode
	VideoLink           *string
	Status              AppointmentStatus
	CancelledBy         *CancelledBy
	BookedAt            time.Time
	UpdatedAt           time.Time
	ReminderSent        bool
	SMSReminderSent     bool
	FeedbackRequestSent bool
}

func (a Appointment) Overlaps(start, end time.Time) bool {
	return a.StartAt.Before(end) && start.Before(a.EndAt)
}

type Feedback struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	PatientID     uuid.UUID
	DoctorID      uuid.UUID
	Rating        int
	Comment       *string
	CreatedAt     time.Time
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

// AppointmentDetail carries the parties of an appointment, as needed by
// ownership checks and notifications.
type AppointmentDetail struct {
	Appointment
	Patient Patient
	Doctor  Doctor
	Service MedicalService
}

type DoctorRating struct {
	DoctorID   uuid.UUID
	DoctorName string
	Average    float64
	Count      int
}

// DeletionCounts reports what a doctor removal deleted, per entity kind.
type DeletionCounts struct {
	Feedback     int64 `json:"feedback"`
	Appointments int64 `json:"appointments"`
	Slots        int64 `json:"slots"`
	TimeBlocks   int64 `json:"time_blocks"`
	ServiceLinks int64 `json:"service_links"`
	Doctors      int64 `json:"doctors"`
}
