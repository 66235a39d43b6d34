package appointment

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a process-local Repository. Transactions are serialized
// on a single mutex and applied to a copy of the data, which is swapped in on
// commit and discarded on error. It backs STORAGE=memory and the tests.
type MemoryRepository struct {
	mu   *sync.Mutex
	data *memData
	inTx bool
}

type doctorServiceKey struct {
	doctorID  uuid.UUID
	serviceID uuid.UUID
}

type slotKey struct {
	doctorID uuid.UUID
	start    int64
}

type memData struct {
	patients       map[uuid.UUID]Patient
	doctors        map[uuid.UUID]Doctor
	services       map[uuid.UUID]MedicalService
	doctorServices map[doctorServiceKey]struct{}
	blocks         map[uuid.UUID]TimeBlock
	slots          map[uuid.UUID]Slot
	slotIndex      map[slotKey]uuid.UUID
	appointments   map[uuid.UUID]Appointment
	feedback       map[uuid.UUID]Feedback
	events         []EventLog
}

func newMemData() *memData {
	return &memData{
		patients:       make(map[uuid.UUID]Patient),
		doctors:        make(map[uuid.UUID]Doctor),
		services:       make(map[uuid.UUID]MedicalService),
		doctorServices: make(map[doctorServiceKey]struct{}),
		blocks:         make(map[uuid.UUID]TimeBlock),
		slots:          make(map[uuid.UUID]Slot),
		slotIndex:      make(map[slotKey]uuid.UUID),
		appointments:   make(map[uuid.UUID]Appointment),
		feedback:       make(map[uuid.UUID]Feedback),
	}
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (d *memData) clone() *memData {
	return &memData{
		patients:       cloneMap(d.patients),
		doctors:        cloneMap(d.doctors),
		services:       cloneMap(d.services),
		doctorServices: cloneMap(d.doctorServices),
		blocks:         cloneMap(d.blocks),
		slots:          cloneMap(d.slots),
		slotIndex:      cloneMap(d.slotIndex),
		appointments:   cloneMap(d.appointments),
		feedback:       cloneMap(d.feedback),
		events:         append([]EventLog(nil), d.events...),
	}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{mu: &sync.Mutex{}, data: newMemData()}
}

func (m *MemoryRepository) lock() func() {
	if m.inTx {
		return func() {}
	}
	m.mu.Lock()
	return m.mu.Unlock
}

func (m *MemoryRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if m.inTx {
		return fn(m)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &MemoryRepository{mu: m.mu, data: m.data.clone(), inTx: true}
	if err := fn(tx); err != nil {
		return err
	}
	m.data = tx.data
	return nil
}

// Seeding helpers for reference data, which the core never writes.

func (m *MemoryRepository) AddPatient(p Patient) Patient {
	defer m.lock()()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now()
	}
	m.data.patients[p.ID] = p
	return p
}

func (m *MemoryRepository) AddDoctor(d Doctor) Doctor {
	defer m.lock()()
	if d.ID == uuid.Nil {
		d.ID = uuid.New()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.data.doctors[d.ID] = d
	return d
}

func (m *MemoryRepository) AddService(s MedicalService, doctorIDs ...uuid.UUID) MedicalService {
	defer m.lock()()
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	m.data.services[s.ID] = s
	for _, id := range doctorIDs {
		m.data.doctorServices[doctorServiceKey{doctorID: id, serviceID: s.ID}] = struct{}{}
	}
	return s
}

// FindSlot returns the slot for (doctor, start) without locking it.
func (m *MemoryRepository) FindSlot(doctorID uuid.UUID, start time.Time) (*Slot, bool) {
	defer m.lock()()
	id, ok := m.data.slotIndex[slotKey{doctorID: doctorID, start: start.UnixNano()}]
	if !ok {
		return nil, false
	}
	s := m.data.slots[id]
	return &s, true
}

func (m *MemoryRepository) Events() []EventLog {
	defer m.lock()()
	return append([]EventLog(nil), m.data.events...)
}

// Reference data

func (m *MemoryRepository) GetPatientByID(_ context.Context, id uuid.UUID) (*Patient, error) {
	defer m.lock()()
	p, ok := m.data.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	defer m.lock()()
	d, ok := m.data.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

// LockDoctor only checks existence; transactions are already serialized.
func (m *MemoryRepository) LockDoctor(_ context.Context, id uuid.UUID, _ bool) error {
	defer m.lock()()
	if _, ok := m.data.doctors[id]; !ok {
		return ErrDoctorNotFound
	}
	return nil
}

func (m *MemoryRepository) GetServiceByID(_ context.Context, id uuid.UUID) (*MedicalService, error) {
	defer m.lock()()
	s, ok := m.data.services[id]
	if !ok {
		return nil, ErrServiceNotFound
	}
	return &s, nil
}

func (m *MemoryRepository) DoctorOffersService(_ context.Context, doctorID, serviceID uuid.UUID) (bool, error) {
	defer m.lock()()
	_, ok := m.data.doctorServices[doctorServiceKey{doctorID: doctorID, serviceID: serviceID}]
	return ok, nil
}

// Time blocks

func (m *MemoryRepository) CreateTimeBlock(_ context.Context, b *TimeBlock) error {
	defer m.lock()()
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	b.CreatedAt = time.Now()
	m.data.blocks[b.ID] = *b
	return nil
}

func (m *MemoryRepository) GetTimeBlockByID(_ context.Context, id uuid.UUID) (*TimeBlock, error) {
	defer m.lock()()
	b, ok := m.data.blocks[id]
	if !ok {
		return nil, ErrTimeBlockNotFound
	}
	return &b, nil
}

func (m *MemoryRepository) filterBlocks(keep func(TimeBlock) bool) []TimeBlock {
	var out []TimeBlock
	for _, b := range m.data.blocks {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *MemoryRepository) ListTimeBlocksByDoctor(_ context.Context, doctorID uuid.UUID, fromDate time.Time) ([]TimeBlock, error) {
	defer m.lock()()
	return m.filterBlocks(func(b TimeBlock) bool {
		return b.DoctorID == doctorID && !b.Date.Before(fromDate)
	}), nil
}

func (m *MemoryRepository) ListOverlappingTimeBlocks(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeBlock, error) {
	defer m.lock()()
	return m.filterBlocks(func(b TimeBlock) bool {
		return b.DoctorID == doctorID && b.Overlaps(start, end)
	}), nil
}

func (m *MemoryRepository) ListOpenTimeBlocks(_ context.Context, now time.Time) ([]TimeBlock, error) {
	defer m.lock()()
	return m.filterBlocks(func(b TimeBlock) bool {
		return b.EndAt.After(now)
	}), nil
}

func (m *MemoryRepository) DeleteTimeBlock(_ context.Context, id uuid.UUID) (int64, error) {
	defer m.lock()()
	if _, ok := m.data.blocks[id]; !ok {
		return 0, nil
	}
	delete(m.data.blocks, id)
	return 1, nil
}

// Slots

func (m *MemoryRepository) InsertSlotIfAbsent(_ context.Context, s *Slot) (bool, error) {
	defer m.lock()()
	key := slotKey{doctorID: s.DoctorID, start: s.StartAt.UnixNano()}
	if _, exists := m.data.slotIndex[key]; exists {
		return false, nil
	}
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	now := time.Now()
	s.Status = SlotAvailable
	s.CreatedAt = now
	s.UpdatedAt = now
	m.data.slots[s.ID] = *s
	m.data.slotIndex[key] = s.ID
	return true, nil
}

func (m *MemoryRepository) sortedSlots(keep func(Slot) bool) []Slot {
	var out []Slot
	for _, s := range m.data.slots {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *MemoryRepository) ListSlotsByTimeBlock(_ context.Context, blockID uuid.UUID) ([]Slot, error) {
	defer m.lock()()
	return m.sortedSlots(func(s Slot) bool { return s.TimeBlockID == blockID }), nil
}

func (m *MemoryRepository) LockSlotForUpdate(_ context.Context, doctorID uuid.UUID, start time.Time) (*Slot, error) {
	defer m.lock()()
	id, ok := m.data.slotIndex[slotKey{doctorID: doctorID, start: start.UnixNano()}]
	if !ok {
		return nil, ErrSlotNotFound
	}
	s := m.data.slots[id]
	return &s, nil
}

func (m *MemoryRepository) UpdateSlotStatus(_ context.Context, id uuid.UUID, from, to SlotStatus) (bool, error) {
	defer m.lock()()
	s, ok := m.data.slots[id]
	if !ok || s.Status != from {
		return false, nil
	}
	s.Status = to
	s.UpdatedAt = time.Now()
	m.data.slots[id] = s
	return true, nil
}

func (m *MemoryRepository) deleteSlots(keep func(Slot) bool) int64 {
	var n int64
	for id, s := range m.data.slots {
		if keep(s) {
			continue
		}
		delete(m.data.slots, id)
		delete(m.data.slotIndex, slotKey{doctorID: s.DoctorID, start: s.StartAt.UnixNano()})
		n++
	}
	return n
}

func (m *MemoryRepository) slotReferenced(id uuid.UUID) bool {
	for _, a := range m.data.appointments {
		if a.SlotID != nil && *a.SlotID == id {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) DeleteSlotsByTimeBlock(_ context.Context, blockID uuid.UUID) (int64, error) {
	defer m.lock()()
	return m.deleteSlots(func(s Slot) bool { return s.TimeBlockID != blockID }), nil
}

func (m *MemoryRepository) DeleteExpiredAvailableSlots(_ context.Context, now time.Time) (int64, error) {
	defer m.lock()()
	return m.deleteSlots(func(s Slot) bool {
		return s.Status != SlotAvailable || !s.EndAt.Before(now) || m.slotReferenced(s.ID)
	}), nil
}

func (m *MemoryRepository) DeleteOrphanSlots(_ context.Context) (int64, error) {
	defer m.lock()()
	return m.deleteSlots(func(s Slot) bool {
		_, hasBlock := m.data.blocks[s.TimeBlockID]
		return hasBlock || m.slotReferenced(s.ID)
	}), nil
}

// Appointments

func (m *MemoryRepository) CreateAppointment(_ context.Context, a *Appointment) error {
	defer m.lock()()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == StatusConfirmed {
		for _, other := range m.data.appointments {
			if other.DoctorID == a.DoctorID && other.Status == StatusConfirmed && other.Overlaps(a.StartAt, a.EndAt) {
				return ErrOverlappingAppointment
			}
		}
	}
	now := time.Now()
	a.BookedAt = now
	a.UpdatedAt = now
	m.data.appointments[a.ID] = *a
	return nil
}

func (m *MemoryRepository) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	defer m.lock()()
	a, ok := m.data.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (m *MemoryRepository) detail(a Appointment) AppointmentDetail {
	return AppointmentDetail{
		Appointment: a,
		Patient:     m.data.patients[a.PatientID],
		Doctor:      m.data.doctors[a.DoctorID],
		Service:     m.data.services[a.ServiceID],
	}
}

func (m *MemoryRepository) GetAppointmentDetail(_ context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	defer m.lock()()
	a, ok := m.data.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	d := m.detail(a)
	return &d, nil
}

func (m *MemoryRepository) sortedAppointments(keep func(Appointment) bool) []Appointment {
	var out []Appointment
	for _, a := range m.data.appointments {
		if keep(a) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func (m *MemoryRepository) ListConfirmedOverlapping(_ context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	defer m.lock()()
	return m.sortedAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Status == StatusConfirmed && a.Overlaps(start, end)
	}), nil
}

func (m *MemoryRepository) CountFutureConfirmedForDoctor(_ context.Context, doctorID uuid.UUID, now time.Time) (int, error) {
	defer m.lock()()
	return len(m.sortedAppointments(func(a Appointment) bool {
		return a.DoctorID == doctorID && a.Status == StatusConfirmed && a.StartAt.After(now)
	})), nil
}

func (m *MemoryRepository) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to AppointmentStatus, by *CancelledBy) (*Appointment, error) {
	defer m.lock()()
	a, ok := m.data.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if by != nil {
		a.CancelledBy = by
	}
	a.UpdatedAt = time.Now()
	m.data.appointments[id] = a
	return &a, nil
}

// Sweeps

func (m *MemoryRepository) CompletePastAppointments(_ context.Context, now time.Time) (int64, error) {
	defer m.lock()()
	var n int64
	for id, a := range m.data.appointments {
		if a.Status == StatusConfirmed && a.EndAt.Before(now) {
			a.Status = StatusCompleted
			a.UpdatedAt = now
			m.data.appointments[id] = a
			n++
		}
	}
	return n, nil
}

func (m *MemoryRepository) ListReminderCandidates(_ context.Context, from, to time.Time) ([]AppointmentDetail, error) {
	defer m.lock()()
	var out []AppointmentDetail
	for _, a := range m.sortedAppointments(func(a Appointment) bool {
		return a.Status == StatusConfirmed &&
			a.StartAt.After(from) && !a.StartAt.After(to) &&
			(!a.ReminderSent || !a.SMSReminderSent)
	}) {
		out = append(out, m.detail(a))
	}
	return out, nil
}

func (m *MemoryRepository) ListFeedbackCandidates(_ context.Context) ([]AppointmentDetail, error) {
	defer m.lock()()
	var out []AppointmentDetail
	for _, a := range m.sortedAppointments(func(a Appointment) bool {
		return a.Status == StatusCompleted && !a.FeedbackRequestSent
	}) {
		out = append(out, m.detail(a))
	}
	return out, nil
}

func (m *MemoryRepository) ClaimNotificationFlag(_ context.Context, id uuid.UUID, flag NotificationFlag) (bool, error) {
	defer m.lock()()
	a, ok := m.data.appointments[id]
	if !ok {
		return false, nil
	}

	var field *bool
	switch flag {
	case FlagReminder:
		field = &a.ReminderSent
	case FlagSMSReminder:
		field = &a.SMSReminderSent
	case FlagFeedbackRequest:
		field = &a.FeedbackRequestSent
	default:
		return false, fmt.Errorf("unknown notification flag %q", flag)
	}
	if *field {
		return false, nil
	}
	*field = true
	a.UpdatedAt = time.Now()
	m.data.appointments[id] = a
	return true, nil
}

// Feedback and ratings

func (m *MemoryRepository) CreateFeedback(_ context.Context, f *Feedback) error {
	defer m.lock()()
	for _, existing := range m.data.feedback {
		if existing.AppointmentID == f.AppointmentID {
			return ErrFeedbackExists
		}
	}
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	f.CreatedAt = time.Now()
	m.data.feedback[f.ID] = *f
	return nil
}

func (m *MemoryRepository) GetFeedbackByAppointment(_ context.Context, appointmentID uuid.UUID) (*Feedback, error) {
	defer m.lock()()
	for _, f := range m.data.feedback {
		if f.AppointmentID == appointmentID {
			return &f, nil
		}
	}
	return nil, ErrFeedbackNotFound
}

func (m *MemoryRepository) ListDoctorRatings(_ context.Context, serviceID *uuid.UUID) ([]DoctorRating, error) {
	defer m.lock()()

	sums := make(map[uuid.UUID]int)
	counts := make(map[uuid.UUID]int)
	for _, f := range m.data.feedback {
		sums[f.DoctorID] += f.Rating
		counts[f.DoctorID]++
	}

	var out []DoctorRating
	for doctorID, n := range counts {
		doc, ok := m.data.doctors[doctorID]
		if !ok {
			continue
		}
		if serviceID != nil {
			if _, offers := m.data.doctorServices[doctorServiceKey{doctorID: doctorID, serviceID: *serviceID}]; !offers {
				continue
			}
		}
		out = append(out, DoctorRating{
			DoctorID:   doctorID,
			DoctorName: doc.Name,
			Average:    float64(sums[doctorID]) / float64(n),
			Count:      n,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Average != out[j].Average {
			return out[i].Average > out[j].Average
		}
		return strings.Compare(out[i].DoctorName, out[j].DoctorName) < 0
	})
	return out, nil
}

// Administrative

func (m *MemoryRepository) DeleteDoctorCascade(_ context.Context, doctorID uuid.UUID) (DeletionCounts, error) {
	defer m.lock()()
	var c DeletionCounts

	for id, f := range m.data.feedback {
		if f.DoctorID == doctorID {
			delete(m.data.feedback, id)
			c.Feedback++
		}
	}
	for id, a := range m.data.appointments {
		if a.DoctorID == doctorID {
			delete(m.data.appointments, id)
			c.Appointments++
		}
	}
	c.Slots = m.deleteSlots(func(s Slot) bool { return s.DoctorID != doctorID })
	for id, b := range m.data.blocks {
		if b.DoctorID == doctorID {
			delete(m.data.blocks, id)
			c.TimeBlocks++
		}
	}
	for key := range m.data.doctorServices {
		if key.doctorID == doctorID {
			delete(m.data.doctorServices, key)
			c.ServiceLinks++
		}
	}
	if _, ok := m.data.doctors[doctorID]; ok {
		delete(m.data.doctors, doctorID)
		c.Doctors++
	}
	return c, nil
}

// Event logging

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	defer m.lock()()
	ev.ID = int64(len(m.data.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	m.data.events = append(m.data.events, ev)
	return nil
}
