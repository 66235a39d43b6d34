package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/auth"
	"github.com/hackgods/clinic-scheduling/internal/rating"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return fld.Name
		}
		return name
	})
	return v
}

func createTimeBlockHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		doctorID, ok := pathUUID(w, r, "doctorID")
		if !ok {
			return
		}
		if !id.ActsForDoctor(doctorID) {
			writeDomainError(w, r, appointment.ErrNotBlockOwner)
			return
		}

		var req CreateTimeBlockRequest
		if !decode(w, r, &req) {
			return
		}

		block, slots, err := svc.CreateTimeBlock(r.Context(), appointment.CreateTimeBlockRequest{
			DoctorID:    doctorID,
			Date:        req.Date,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			CreatorType: creatorType(id.Role),
			CreatorID:   id.UserID,
			CreatorName: id.Name,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toTimeBlockResponse(*block, slots))
	}
}

func listTimeBlocksHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "doctorID")
		if !ok {
			return
		}

		blocks, err := svc.ListFutureVisibleTimeBlocks(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp := make([]TimeBlockResponse, 0, len(blocks))
		for _, b := range blocks {
			resp = append(resp, toTimeBlockResponse(b, nil))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteTimeBlockHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		blockID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		deleted, err := svc.DeleteTimeBlock(r.Context(), blockID, id.DoctorID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, DeleteTimeBlockResponse{SlotsDeleted: deleted})
	}
}

func createAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())

		var req CreateAppointmentRequest
		if !decode(w, r, &req) {
			return
		}

		appt, err := svc.BookAppointment(r.Context(), appointment.BookingRequest{
			PatientID: id.UserID,
			DoctorID:  uuid.MustParse(req.DoctorID),
			ServiceID: uuid.MustParse(req.ServiceID),
			Date:      req.Date,
			StartTime: req.StartTime,
			Mode:      appointment.Mode(req.Mode),
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toAppointmentResponse(*appt))
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		apptID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), apptID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !canView(id, detail) {
			writeDomainError(w, r, appointment.ErrForbidden)
			return
		}

		writeJSON(w, http.StatusOK, AppointmentDetailResponse{
			AppointmentResponse: toAppointmentResponse(detail.Appointment),
			PatientName:         detail.Patient.Name,
			DoctorName:          detail.Doctor.Name,
			ServiceName:         detail.Service.Name,
		})
	}
}

func cancelByPatientHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		apptID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.CancelByPatient(r.Context(), apptID, id.Email)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func cancelByDoctorHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		apptID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		appt, err := svc.CancelByDoctor(r.Context(), apptID, id.DoctorID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt))
	}
}

func submitFeedbackHandler(svc *rating.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.FromContext(r.Context())
		apptID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		var req SubmitFeedbackRequest
		if !decode(w, r, &req) {
			return
		}

		fb, err := svc.SubmitFeedback(r.Context(), apptID, id.Email, req.Rating, req.Comment)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, FeedbackResponse{
			ID:            fb.ID,
			AppointmentID: fb.AppointmentID,
			DoctorID:      fb.DoctorID,
			Rating:        fb.Rating,
			Comment:       fb.Comment,
			CreatedAt:     fb.CreatedAt,
		})
	}
}

func listRatingsHandler(svc *rating.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var serviceID *uuid.UUID
		if raw := r.URL.Query().Get("service_id"); raw != "" {
			parsed, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_input", "service_id must be a valid UUID")
				return
			}
			serviceID = &parsed
		}

		ratings, err := svc.DoctorRatings(r.Context(), serviceID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		resp := make([]RatingResponse, 0, len(ratings))
		for _, dr := range ratings {
			resp = append(resp, RatingResponse{DoctorID: dr.DoctorID, DoctorName: dr.DoctorName, Average: dr.Average, Count: dr.Count})
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func deleteDoctorHandler(svc *appointment.Service, ratings *rating.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathUUID(w, r, "id")
		if !ok {
			return
		}

		counts, err := svc.DeleteDoctorCascade(r.Context(), doctorID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if ratings != nil {
			ratings.Invalidate()
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func canView(id auth.Identity, d *appointment.AppointmentDetail) bool {
	switch id.Role {
	case auth.RoleAdmin:
		return true
	case auth.RolePatient:
		return strings.EqualFold(strings.TrimSpace(d.Patient.Email), strings.TrimSpace(id.Email))
	default:
		return id.ActsForDoctor(d.DoctorID)
	}
}

func creatorType(role auth.Role) appointment.CreatorType {
	switch role {
	case auth.RoleCollaborator:
		return appointment.CreatorCollaborator
	case auth.RoleAdmin:
		return appointment.CreatorAdmin
	default:
		return appointment.CreatorDoctor
	}
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", param+" must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it, writing a 400 on failure.
func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_input", "could not parse JSON body")
		return false
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
			}
			writeError(w, http.StatusBadRequest, "invalid_input", strings.Join(fields, "; "))
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
		return false
	}
	return true
}

// statusFor maps a domain error kind to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, appointment.ErrSlotNotFound):
		return http.StatusNotFound, "slot_not_found"
	case errors.Is(err, appointment.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, appointment.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, appointment.ErrInvalidState):
		return http.StatusUnprocessableEntity, "invalid_state"
	case errors.Is(err, appointment.ErrSlotUnavailable):
		return http.StatusConflict, "slot_unavailable"
	case errors.Is(err, appointment.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, appointment.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("request failed")
		writeError(w, status, code, "internal server error")
		return
	}
	writeError(w, status, code, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
