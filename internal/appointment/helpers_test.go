package appointment

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/config"
)

var testNow = time.Date(2031, 3, 3, 8, 0, 0, 0, time.UTC)

const testDay = "2031-03-03"

type recordingNotifier struct {
	mu        sync.Mutex
	booked    []AppointmentDetail
	cancelled []CancelledBy
	err       error
}

func (n *recordingNotifier) AppointmentBooked(_ context.Context, d AppointmentDetail) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.booked = append(n.booked, d)
	return n.err
}

func (n *recordingNotifier) AppointmentCancelled(_ context.Context, _ AppointmentDetail, by CancelledBy) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.cancelled = append(n.cancelled, by)
	return n.err
}

type fixture struct {
	repo     *MemoryRepository
	svc      *Service
	notifier *recordingNotifier
	patient  Patient
	doctor   Doctor
	service  MedicalService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := NewMemoryRepository()
	notifier := &recordingNotifier{}
	cfg := config.Config{
		Location:      time.UTC,
		SlotSize:      30 * time.Minute,
		VideoLinkBase: "https://meet.example.com/",
	}

	f := &fixture{repo: repo, notifier: notifier}
	f.patient = repo.AddPatient(Patient{Name: "Ana Lopez", Email: "ana@example.com"})
	f.doctor = repo.AddDoctor(Doctor{Name: "Dr. House", Email: "house@example.com"})
	f.service = repo.AddService(MedicalService{Name: "Consultation", DurationMinutes: 30}, f.doctor.ID)

	f.svc = NewService(repo, nil, notifier, nil, cfg, zerolog.Nop()).WithClock(func() time.Time { return testNow })
	return f
}

// addBlock creates a time block for the fixture doctor on testDay.
func (f *fixture) addBlock(t *testing.T, start, end string) (*TimeBlock, []Slot) {
	t.Helper()
	block, slots, err := f.svc.CreateTimeBlock(context.Background(), CreateTimeBlockRequest{
		DoctorID:    f.doctor.ID,
		Date:        testDay,
		StartTime:   start,
		EndTime:     end,
		CreatorType: CreatorDoctor,
		CreatorID:   f.doctor.ID,
		CreatorName: f.doctor.Name,
	})
	require.NoError(t, err)
	return block, slots
}

func (f *fixture) book(patient Patient, clock string) (*Appointment, error) {
	return f.svc.BookAppointment(context.Background(), BookingRequest{
		PatientID: patient.ID,
		DoctorID:  f.doctor.ID,
		ServiceID: f.service.ID,
		Date:      testDay,
		StartTime: clock,
		Mode:      ModeInPerson,
	})
}

func at(clock string) time.Time {
	t, err := time.Parse("2006-01-02 15:04", testDay+" "+clock)
	if err != nil {
		panic(err)
	}
	return t
}
