package rating

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

type env struct {
	repo    *appointment.MemoryRepository
	svc     *Service
	patient appointment.Patient
	house   appointment.Doctor
	grey    appointment.Doctor
	consult appointment.MedicalService
	surgery appointment.MedicalService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	repo := appointment.NewMemoryRepository()
	e := &env{repo: repo}
	e.patient = repo.AddPatient(appointment.Patient{Name: "Ana", Email: "ana@example.com"})
	e.house = repo.AddDoctor(appointment.Doctor{Name: "Dr. House"})
	e.grey = repo.AddDoctor(appointment.Doctor{Name: "Dr. Grey"})
	e.consult = repo.AddService(appointment.MedicalService{Name: "Consultation", DurationMinutes: 30}, e.house.ID, e.grey.ID)
	e.surgery = repo.AddService(appointment.MedicalService{Name: "Surgery", DurationMinutes: 120}, e.grey.ID)
	e.svc = NewService(repo, nil, time.Minute, zerolog.Nop())
	return e
}

func (e *env) completed(t *testing.T, doctor appointment.Doctor, status appointment.AppointmentStatus) uuid.UUID {
	t.Helper()
	start := time.Now().Add(-48 * time.Hour)
	a := &appointment.Appointment{
		PatientID: e.patient.ID,
		DoctorID:  doctor.ID,
		ServiceID: e.consult.ID,
		StartAt:   start,
		EndAt:     start.Add(30 * time.Minute),
		Status:    status,
	}
	require.NoError(t, e.repo.CreateAppointment(context.Background(), a))
	return a.ID
}

func TestSubmitFeedback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	id := e.completed(t, e.house, appointment.StatusCompleted)

	comment := "  very thorough  "
	fb, err := e.svc.SubmitFeedback(ctx, id, "ANA@example.com", 5, &comment)
	require.NoError(t, err)
	assert.Equal(t, 5, fb.Rating)
	require.NotNil(t, fb.Comment)
	assert.Equal(t, "very thorough", *fb.Comment)
	assert.Equal(t, e.house.ID, fb.DoctorID)

	_, err = e.svc.SubmitFeedback(ctx, id, e.patient.Email, 4, nil)
	assert.ErrorIs(t, err, appointment.ErrConflict)
}

func TestSubmitFeedbackRejections(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)
	done := e.completed(t, e.house, appointment.StatusCompleted)
	confirmed := e.completed(t, e.house, appointment.StatusConfirmed)
	cancelled := e.completed(t, e.house, appointment.StatusCancelled)

	tests := []struct {
		name   string
		id     uuid.UUID
		email  string
		rating int
		want   error
	}{
		{"unknown appointment", uuid.New(), e.patient.Email, 5, appointment.ErrNotFound},
		{"someone else", done, "bo@example.com", 5, appointment.ErrForbidden},
		{"not yet completed", confirmed, e.patient.Email, 5, appointment.ErrInvalidState},
		{"cancelled", cancelled, e.patient.Email, 5, appointment.ErrInvalidState},
		{"rating too low", done, e.patient.Email, 0, appointment.ErrInvalidInput},
		{"rating too high", done, e.patient.Email, 6, appointment.ErrInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.svc.SubmitFeedback(ctx, tt.id, tt.email, tt.rating, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDoctorRatings(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	for _, r := range []int{5, 4} {
		_, err := e.svc.SubmitFeedback(ctx, e.completed(t, e.house, appointment.StatusCompleted), e.patient.Email, r, nil)
		require.NoError(t, err)
	}
	_, err := e.svc.SubmitFeedback(ctx, e.completed(t, e.grey, appointment.StatusCompleted), e.patient.Email, 3, nil)
	require.NoError(t, err)

	all, err := e.svc.DoctorRatings(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, e.house.ID, all[0].DoctorID)
	assert.InDelta(t, 4.5, all[0].Average, 0.001)
	assert.Equal(t, 2, all[0].Count)
	assert.Equal(t, e.grey.ID, all[1].DoctorID)

	surgeons, err := e.svc.DoctorRatings(ctx, &e.surgery.ID)
	require.NoError(t, err)
	require.Len(t, surgeons, 1)
	assert.Equal(t, e.grey.ID, surgeons[0].DoctorID)
}

func TestDoctorRatingsTieBreaksByName(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	_, err := e.svc.SubmitFeedback(ctx, e.completed(t, e.house, appointment.StatusCompleted), e.patient.Email, 4, nil)
	require.NoError(t, err)
	_, err = e.svc.SubmitFeedback(ctx, e.completed(t, e.grey, appointment.StatusCompleted), e.patient.Email, 4, nil)
	require.NoError(t, err)

	all, err := e.svc.DoctorRatings(ctx, nil)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dr. Grey", all[0].DoctorName)
	assert.Equal(t, "Dr. House", all[1].DoctorName)
}

func TestDoctorRatingsCacheIsFlushedOnFeedback(t *testing.T) {
	ctx := context.Background()
	e := newEnv(t)

	empty, err := e.svc.DoctorRatings(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)

	// Written behind the service's back, so the cached empty list stays.
	require.NoError(t, e.repo.CreateFeedback(ctx, &appointment.Feedback{
		AppointmentID: uuid.New(), PatientID: e.patient.ID, DoctorID: e.house.ID, Rating: 2,
	}))
	cached, err := e.svc.DoctorRatings(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, cached)

	_, err = e.svc.SubmitFeedback(ctx, e.completed(t, e.grey, appointment.StatusCompleted), e.patient.Email, 5, nil)
	require.NoError(t, err)

	fresh, err := e.svc.DoctorRatings(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, fresh, 2)
}
