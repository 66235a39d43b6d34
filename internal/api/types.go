package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type CreateTimeBlockRequest struct {
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	EndTime   string `json:"end_time" validate:"required"`
}

type CreateAppointmentRequest struct {
	DoctorID  string `json:"doctor_id" validate:"required,uuid"`
	ServiceID string `json:"service_id" validate:"required,uuid"`
	Date      string `json:"date" validate:"required,datetime=2006-01-02"`
	StartTime string `json:"start_time" validate:"required"`
	Mode      string `json:"mode" validate:"omitempty,oneof=IN_PERSON VIRTUAL"`
}

type SubmitFeedbackRequest struct {
	Rating  int     `json:"rating" validate:"required,min=1,max=5"`
	Comment *string `json:"comment" validate:"omitempty,max=2000"`
}

type SlotResponse struct {
	ID      uuid.UUID `json:"id"`
	StartAt time.Time `json:"start_at"`
	EndAt   time.Time `json:"end_at"`
	Status  string    `json:"status"`
}

type TimeBlockResponse struct {
	ID          uuid.UUID      `json:"id"`
	DoctorID    uuid.UUID      `json:"doctor_id"`
	Date        string         `json:"date"`
	StartAt     time.Time      `json:"start_at"`
	EndAt       time.Time      `json:"end_at"`
	CreatorType string         `json:"creator_type"`
	CreatorName string         `json:"creator_name,omitempty"`
	Slots       []SlotResponse `json:"slots,omitempty"`
}

type DeleteTimeBlockResponse struct {
	SlotsDeleted int64 `json:"slots_deleted"`
}

type AppointmentResponse struct {
	ID          uuid.UUID  `json:"id"`
	PatientID   uuid.UUID  `json:"patient_id"`
	DoctorID    uuid.UUID  `json:"doctor_id"`
	ServiceID   uuid.UUID  `json:"service_id"`
	SlotID      *uuid.UUID `json:"slot_id,omitempty"`
	StartAt     time.Time  `json:"start_at"`
	EndAt       time.Time  `json:"end_at"`
	Mode        string     `json:"mode"`
	VideoLink   *string    `json:"video_link,omitempty"`
	Status      string     `json:"status"`
	CancelledBy *string    `json:"cancelled_by,omitempty"`
	BookedAt    time.Time  `json:"booked_at"`
}

type AppointmentDetailResponse struct {
	AppointmentResponse
	PatientName string `json:"patient_name"`
	DoctorName  string `json:"doctor_name"`
	ServiceName string `json:"service_name"`
}

type FeedbackResponse struct {
	ID            uuid.UUID `json:"id"`
	AppointmentID uuid.UUID `json:"appointment_id"`
	DoctorID      uuid.UUID `json:"doctor_id"`
	Rating        int       `json:"rating"`
	Comment       *string   `json:"comment,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type RatingResponse struct {
	DoctorID   uuid.UUID `json:"doctor_id"`
	DoctorName string    `json:"doctor_name"`
	Average    float64   `json:"average"`
	Count      int       `json:"count"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toTimeBlockResponse(b appointment.TimeBlock, slots []appointment.Slot) TimeBlockResponse {
	resp := TimeBlockResponse{
		ID:          b.ID,
		DoctorID:    b.DoctorID,
		Date:        b.Date.Format("2006-01-02"),
		StartAt:     b.StartAt,
		EndAt:       b.EndAt,
		CreatorType: string(b.CreatorType),
		CreatorName: b.CreatorName,
	}
	for _, s := range slots {
		resp.Slots = append(resp.Slots, SlotResponse{ID: s.ID, StartAt: s.StartAt, EndAt: s.EndAt, Status: string(s.Status)})
	}
	return resp
}

func toAppointmentResponse(a appointment.Appointment) AppointmentResponse {
	resp := AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		ServiceID: a.ServiceID,
		SlotID:    a.SlotID,
		StartAt:   a.StartAt,
		EndAt:     a.EndAt,
		Mode:      string(a.Mode),
		VideoLink: a.VideoLink,
		Status:    string(a.Status),
		BookedAt:  a.BookedAt,
	}
	if a.CancelledBy != nil {
		by := string(*a.CancelledBy)
		resp.CancelledBy = &by
	}
	return resp
}
