package appointment

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBookAppointment(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")

	appt, err := f.book(f.patient, "09:00")
	require.NoError(t, err)

	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, at("09:00"), appt.StartAt)
	assert.Equal(t, at("09:30"), appt.EndAt)
	require.NotNil(t, appt.SlotID)
	assert.Nil(t, appt.VideoLink)

	slot, ok := f.repo.FindSlot(f.doctor.ID, at("09:00"))
	require.True(t, ok)
	assert.Equal(t, *appt.SlotID, slot.ID)
	assert.Equal(t, SlotBooked, slot.Status)

	require.Len(t, f.notifier.booked, 1)
	assert.Equal(t, f.patient.Email, f.notifier.booked[0].Patient.Email)

	var types []string
	for _, ev := range f.repo.Events() {
		types = append(types, ev.EventType)
	}
	assert.Contains(t, types, EventAppointmentBooked)
}

func TestBookAppointmentSecondRequestFails(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	other := f.repo.AddPatient(Patient{Name: "Bo", Email: "bo@example.com"})

	_, err := f.book(f.patient, "09:00")
	require.NoError(t, err)

	_, err = f.book(other, "09:00")
	assert.ErrorIs(t, err, ErrSlotUnavailable)
}

func TestBookAppointmentVirtualGetsVideoLink(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")

	appt, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		ServiceID: f.service.ID,
		Date:      testDay,
		StartTime: "09:30",
		Mode:      ModeVirtual,
	})
	require.NoError(t, err)
	require.NotNil(t, appt.VideoLink)
	assert.True(t, strings.HasPrefix(*appt.VideoLink, "https://meet.example.com/clinic-"))
	assert.True(t, strings.HasSuffix(*appt.VideoLink, appt.ID.String()))
}

func TestBookAppointmentRejections(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	unlinked := f.repo.AddService(MedicalService{Name: "Surgery", DurationMinutes: 90})

	tests := []struct {
		name string
		req  BookingRequest
		want error
	}{
		{
			name: "unknown patient",
			req:  BookingRequest{PatientID: uuid.New(), DoctorID: f.doctor.ID, ServiceID: f.service.ID, Date: testDay, StartTime: "09:00"},
			want: ErrNotFound,
		},
		{
			name: "unknown doctor",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: uuid.New(), ServiceID: f.service.ID, Date: testDay, StartTime: "09:00"},
			want: ErrNotFound,
		},
		{
			name: "service not offered",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: unlinked.ID, Date: testDay, StartTime: "09:00"},
			want: ErrNotFound,
		},
		{
			name: "malformed date",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: f.service.ID, Date: "03/03/2031", StartTime: "09:00"},
			want: ErrInvalidInput,
		},
		{
			name: "start in the past",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: f.service.ID, Date: testDay, StartTime: "07:30"},
			want: ErrInvalidState,
		},
		{
			name: "no slot at that time",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: f.service.ID, Date: testDay, StartTime: "09:15"},
			want: ErrSlotNotFound,
		},
		{
			name: "unknown mode",
			req:  BookingRequest{PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: f.service.ID, Date: testDay, StartTime: "09:00", Mode: "PHONE"},
			want: ErrInvalidInput,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.BookAppointment(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	slot, ok := f.repo.FindSlot(f.doctor.ID, at("09:00"))
	require.True(t, ok)
	assert.Equal(t, SlotAvailable, slot.Status)
}

func TestBookAppointmentLongServiceBlocksFollowingSlot(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	long := f.repo.AddService(MedicalService{Name: "Check-up", DurationMinutes: 60}, f.doctor.ID)
	other := f.repo.AddPatient(Patient{Name: "Bo", Email: "bo@example.com"})

	_, err := f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: f.patient.ID, DoctorID: f.doctor.ID, ServiceID: long.ID, Date: testDay, StartTime: "09:00",
	})
	require.NoError(t, err)

	_, err = f.book(other, "09:30")
	assert.ErrorIs(t, err, ErrOverlappingAppointment)
}

func TestBookAppointmentConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")

	const contenders = 25
	patients := make([]Patient, contenders)
	for i := range patients {
		patients[i] = f.repo.AddPatient(Patient{Name: "P", Email: uuid.NewString() + "@example.com"})
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		wins    int
		refused int
		other   []error
	)
	start := make(chan struct{})
	for _, p := range patients {
		wg.Add(1)
		go func(p Patient) {
			defer wg.Done()
			<-start
			_, err := f.book(p, "09:00")
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, ErrSlotUnavailable):
				refused++
			default:
				other = append(other, err)
			}
		}(p)
	}
	close(start)
	wg.Wait()

	assert.Empty(t, other)
	assert.Equal(t, 1, wins)
	assert.Equal(t, contenders-1, refused)
}

func TestCancelByPatientReleasesSlot(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	ctx := context.Background()

	appt, err := f.book(f.patient, "09:00")
	require.NoError(t, err)

	cancelled, err := f.svc.CancelByPatient(ctx, appt.ID, "  ANA@example.com ")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledBy)
	assert.Equal(t, CancelledByPatient, *cancelled.CancelledBy)

	slot, _ := f.repo.FindSlot(f.doctor.ID, at("09:00"))
	assert.Equal(t, SlotAvailable, slot.Status)
	assert.Equal(t, []CancelledBy{CancelledByPatient}, f.notifier.cancelled)

	rebooked, err := f.book(f.patient, "09:00")
	require.NoError(t, err)
	assert.NotEqual(t, appt.ID, rebooked.ID)
}

func TestCancelRejections(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	ctx := context.Background()

	appt, err := f.book(f.patient, "09:00")
	require.NoError(t, err)

	_, err = f.svc.CancelByPatient(ctx, appt.ID, "mallory@example.com")
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CancelByDoctor(ctx, appt.ID, uuid.New())
	assert.ErrorIs(t, err, ErrForbidden)

	_, err = f.svc.CancelByPatient(ctx, uuid.New(), f.patient.Email)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = f.svc.CancelByDoctor(ctx, appt.ID, f.doctor.ID)
	require.NoError(t, err)

	_, err = f.svc.CancelByDoctor(ctx, appt.ID, f.doctor.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	_, err = f.svc.CancelByPatient(ctx, appt.ID, f.patient.Email)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestCancelToleratesMissingSlot(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	slotID := uuid.New()

	appt := &Appointment{
		PatientID: f.patient.ID,
		DoctorID:  f.doctor.ID,
		ServiceID: f.service.ID,
		SlotID:    &slotID,
		StartAt:   at("11:00"),
		EndAt:     at("11:30"),
		Mode:      ModeInPerson,
		Status:    StatusConfirmed,
	}
	require.NoError(t, f.repo.CreateAppointment(ctx, appt))

	cancelled, err := f.svc.CancelByDoctor(ctx, appt.ID, f.doctor.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
}

func TestNotificationFailureKeepsCommittedChange(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")
	f.notifier.err = errors.New("smtp: connection refused")
	ctx := context.Background()

	appt, err := f.book(f.patient, "09:00")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Len(t, f.notifier.booked, 1)

	stored, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, stored.Status)
	slot, ok := f.repo.FindSlot(f.doctor.ID, at("09:00"))
	require.True(t, ok)
	assert.Equal(t, SlotBooked, slot.Status)

	cancelled, err := f.svc.CancelByPatient(ctx, appt.ID, f.patient.Email)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, cancelled.Status)
	assert.Equal(t, []CancelledBy{CancelledByPatient}, f.notifier.cancelled)

	stored, err = f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)
	slot, _ = f.repo.FindSlot(f.doctor.ID, at("09:00"))
	assert.Equal(t, SlotAvailable, slot.Status)
}

func TestDeleteDoctorCascade(t *testing.T) {
	ctx := context.Background()

	t.Run("refused with future bookings", func(t *testing.T) {
		f := newFixture(t)
		f.addBlock(t, "09:00", "10:00")
		_, err := f.book(f.patient, "09:00")
		require.NoError(t, err)

		_, err = f.svc.DeleteDoctorCascade(ctx, f.doctor.ID)
		assert.ErrorIs(t, err, ErrConflict)

		_, err = f.repo.GetDoctorByID(ctx, f.doctor.ID)
		assert.NoError(t, err)
	})

	t.Run("unknown doctor", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.DeleteDoctorCascade(ctx, uuid.New())
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("removes everything", func(t *testing.T) {
		f := newFixture(t)
		f.addBlock(t, "09:00", "10:00")
		f.addBlock(t, "14:00", "15:30")

		appt, err := f.book(f.patient, "09:00")
		require.NoError(t, err)
		_, err = f.svc.CancelByPatient(ctx, appt.ID, f.patient.Email)
		require.NoError(t, err)

		counts, err := f.svc.DeleteDoctorCascade(ctx, f.doctor.ID)
		require.NoError(t, err)
		assert.Equal(t, DeletionCounts{
			Appointments: 1,
			Slots:        5,
			TimeBlocks:   2,
			ServiceLinks: 1,
			Doctors:      1,
		}, counts)

		_, err = f.repo.GetDoctorByID(ctx, f.doctor.ID)
		assert.ErrorIs(t, err, ErrDoctorNotFound)
		_, ok := f.repo.FindSlot(f.doctor.ID, at("14:00"))
		assert.False(t, ok)
	})
}

func TestGetAppointment(t *testing.T) {
	f := newFixture(t)
	f.addBlock(t, "09:00", "10:00")

	appt, err := f.book(f.patient, "09:30")
	require.NoError(t, err)

	detail, err := f.svc.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, f.doctor.Name, detail.Doctor.Name)
	assert.Equal(t, f.service.Name, detail.Service.Name)
	assert.Equal(t, 30*time.Minute, detail.EndAt.Sub(detail.StartAt))

	_, err = f.svc.GetAppointment(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}
