package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PgRepository struct {
	pool *pgxpool.Pool
	db   querier
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

// WithTx runs fn inside a transaction. A repository that is already bound to
// a transaction runs fn directly in it.
func (r *PgRepository) WithTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.pool == nil {
		return fn(r)
	}
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&PgRepository{db: tx})
	})
}

const (
	timeBlockCols   = `id, doctor_id, block_date, start_at, end_at, creator_type, creator_id, creator_name, created_at`
	slotCols        = `id, doctor_id, time_block_id, start_at, end_at, status, created_at, updated_at`
	appointmentCols = `id, patient_id, doctor_id, service_id, slot_id, start_at, end_at, mode, video_link, status,
		cancelled_by, booked_at, updated_at, reminder_sent, sms_reminder_sent, feedback_request_sent`
	detailSelect = `
		SELECT a.id, a.patient_id, a.doctor_id, a.service_id, a.slot_id, a.start_at, a.end_at, a.mode, a.video_link, a.status,
		       a.cancelled_by, a.booked_at, a.updated_at, a.reminder_sent, a.sms_reminder_sent, a.feedback_request_sent,
		       p.id, p.name, p.email, p.phone, p.created_at,
		       d.id, d.name, d.email, d.phone, d.specialty, d.created_at,
		       s.id, s.name, s.duration_minutes
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN doctors d ON d.id = a.doctor_id
		JOIN services s ON s.id = a.service_id`
)

// Helpers

func scanTimeBlock(row pgx.Row) (*TimeBlock, error) {
	var b TimeBlock
	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.Date,
		&b.StartAt,
		&b.EndAt,
		&b.CreatorType,
		&b.CreatorID,
		&b.CreatorName,
		&b.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTimeBlockNotFound
		}
		return nil, err
	}
	return &b, nil
}

func scanSlot(row pgx.Row) (*Slot, error) {
	var s Slot
	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.TimeBlockID,
		&s.StartAt,
		&s.EndAt,
		&s.Status,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}
	return &s, nil
}

func appointmentDest(a *Appointment) []any {
	return []any{
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ServiceID,
		&a.SlotID,
		&a.StartAt,
		&a.EndAt,
		&a.Mode,
		&a.VideoLink,
		&a.Status,
		&a.CancelledBy,
		&a.BookedAt,
		&a.UpdatedAt,
		&a.ReminderSent,
		&a.SMSReminderSent,
		&a.FeedbackRequestSent,
	}
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	if err := row.Scan(appointmentDest(&a)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanDetail(row pgx.Row) (*AppointmentDetail, error) {
	var d AppointmentDetail
	dest := appointmentDest(&d.Appointment)
	dest = append(dest,
		&d.Patient.ID, &d.Patient.Name, &d.Patient.Email, &d.Patient.Phone, &d.Patient.CreatedAt,
		&d.Doctor.ID, &d.Doctor.Name, &d.Doctor.Email, &d.Doctor.Phone, &d.Doctor.Specialty, &d.Doctor.CreatedAt,
		&d.Service.ID, &d.Service.Name, &d.Service.DurationMinutes,
	)
	if err := row.Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &d, nil
}

func collect[T any](rows pgx.Rows, scan func(pgx.Row) (*T, error)) ([]T, error) {
	defer rows.Close()

	var result []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Reference data

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, phone, created_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.Phone, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.db.QueryRow(ctx, `
		SELECT id, name, email, phone, specialty, created_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &d.Email, &d.Phone, &d.Specialty, &d.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *PgRepository) LockDoctor(ctx context.Context, id uuid.UUID, exclusive bool) error {
	mode := "FOR SHARE"
	if exclusive {
		mode = "FOR UPDATE"
	}
	var locked uuid.UUID
	err := r.db.QueryRow(ctx, `SELECT id FROM doctors WHERE id = $1 `+mode, id).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrDoctorNotFound
		}
		return fmt.Errorf("lock doctor: %w", err)
	}
	return nil
}

func (r *PgRepository) GetServiceByID(ctx context.Context, id uuid.UUID) (*MedicalService, error) {
	var s MedicalService
	err := r.db.QueryRow(ctx, `
		SELECT id, name, duration_minutes
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMinutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrServiceNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) DoctorOffersService(ctx context.Context, doctorID, serviceID uuid.UUID) (bool, error) {
	var ok bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_services WHERE doctor_id = $1 AND service_id = $2
		)
	`, doctorID, serviceID).Scan(&ok)
	return ok, err
}

// Time blocks

func (r *PgRepository) CreateTimeBlock(ctx context.Context, b *TimeBlock) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO time_blocks (id, doctor_id, block_date, start_at, end_at, creator_type, creator_id, creator_name, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING `+timeBlockCols,
		b.ID, b.DoctorID, b.Date, b.StartAt, b.EndAt, b.CreatorType, b.CreatorID, b.CreatorName)

	created, err := scanTimeBlock(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrOverlappingTimeBlock
		}
		return fmt.Errorf("insert time block: %w", err)
	}
	*b = *created
	return nil
}

func (r *PgRepository) GetTimeBlockByID(ctx context.Context, id uuid.UUID) (*TimeBlock, error) {
	row := r.db.QueryRow(ctx, `SELECT `+timeBlockCols+` FROM time_blocks WHERE id = $1`, id)
	return scanTimeBlock(row)
}

func (r *PgRepository) ListTimeBlocksByDoctor(ctx context.Context, doctorID uuid.UUID, fromDate time.Time) ([]TimeBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+timeBlockCols+`
		FROM time_blocks
		WHERE doctor_id = $1 AND block_date >= $2
		ORDER BY start_at
	`, doctorID, fromDate)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTimeBlock)
}

func (r *PgRepository) ListOverlappingTimeBlocks(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]TimeBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+timeBlockCols+`
		FROM time_blocks
		WHERE doctor_id = $1 AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTimeBlock)
}

func (r *PgRepository) ListOpenTimeBlocks(ctx context.Context, now time.Time) ([]TimeBlock, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+timeBlockCols+`
		FROM time_blocks
		WHERE end_at > $1
		ORDER BY start_at
	`, now)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanTimeBlock)
}

func (r *PgRepository) DeleteTimeBlock(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM time_blocks WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("delete time block: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Slots

func (r *PgRepository) InsertSlotIfAbsent(ctx context.Context, s *Slot) (bool, error) {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO slots (id, doctor_id, time_block_id, start_at, end_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		ON CONFLICT (doctor_id, start_at) DO NOTHING
		RETURNING `+slotCols,
		s.ID, s.DoctorID, s.TimeBlockID, s.StartAt, s.EndAt, SlotAvailable)

	created, err := scanSlot(row)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("insert slot: %w", err)
	}
	*s = *created
	return true, nil
}

func (r *PgRepository) ListSlotsByTimeBlock(ctx context.Context, blockID uuid.UUID) ([]Slot, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE time_block_id = $1
		ORDER BY start_at
	`, blockID)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanSlot)
}

// LockSlotForUpdate takes the row lock on the (doctor, start) slot. It must be
// called on a transaction-bound repository; competing callers block until the
// holder commits or rolls back and then read the committed status.
func (r *PgRepository) LockSlotForUpdate(ctx context.Context, doctorID uuid.UUID, start time.Time) (*Slot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+slotCols+`
		FROM slots
		WHERE doctor_id = $1 AND start_at = $2
		FOR UPDATE
	`, doctorID, start)
	return scanSlot(row)
}

func (r *PgRepository) UpdateSlotStatus(ctx context.Context, id uuid.UUID, from, to SlotStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE slots
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, to, from)
	if err != nil {
		return false, fmt.Errorf("update slot status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *PgRepository) DeleteSlotsByTimeBlock(ctx context.Context, blockID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM slots WHERE time_block_id = $1`, blockID)
	if err != nil {
		return 0, fmt.Errorf("delete slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) DeleteExpiredAvailableSlots(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM slots s
		WHERE s.status = 'AVAILABLE'
		  AND s.end_at < $1
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)
	`, now)
	if err != nil {
		return 0, fmt.Errorf("delete expired slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) DeleteOrphanSlots(ctx context.Context) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM slots s
		WHERE NOT EXISTS (SELECT 1 FROM time_blocks b WHERE b.id = s.time_block_id)
		  AND NOT EXISTS (SELECT 1 FROM appointments a WHERE a.slot_id = s.id)
	`)
	if err != nil {
		return 0, fmt.Errorf("delete orphan slots: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Appointments

func (r *PgRepository) CreateAppointment(ctx context.Context, a *Appointment) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, service_id, slot_id, start_at, end_at, mode, video_link,
		                          status, booked_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentCols,
		a.ID, a.PatientID, a.DoctorID, a.ServiceID, a.SlotID, a.StartAt, a.EndAt, a.Mode, a.VideoLink, a.Status)

	created, err := scanAppointment(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return ErrOverlappingAppointment
		}
		return fmt.Errorf("insert appointment: %w", err)
	}
	*a = *created
	return nil
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentCols+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	row := r.db.QueryRow(ctx, detailSelect+` WHERE a.id = $1`, id)
	return scanDetail(row)
}

func (r *PgRepository) ListConfirmedOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentCols+`
		FROM appointments
		WHERE doctor_id = $1
		  AND status = 'CONFIRMED'
		  AND start_at < $3
		  AND end_at > $2
		ORDER BY start_at
	`, doctorID, start, end)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanAppointment)
}

func (r *PgRepository) CountFutureConfirmedForDoctor(ctx context.Context, doctorID uuid.UUID, now time.Time) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE doctor_id = $1 AND status = 'CONFIRMED' AND start_at > $2
	`, doctorID, now).Scan(&n)
	return n, err
}

// UpdateAppointmentStatus moves an appointment from one status to another.
// It returns ErrAppointmentNotFound when no row is in the expected status.
func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, by *CancelledBy) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    cancelled_by = COALESCE($4, cancelled_by),
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentCols,
		id, to, from, by)

	return scanAppointment(row)
}

// Sweeps

func (r *PgRepository) CompletePastAppointments(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET status = 'COMPLETED',
		    updated_at = now()
		WHERE status = 'CONFIRMED'
		  AND end_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("complete past appointments: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (r *PgRepository) ListReminderCandidates(ctx context.Context, from, to time.Time) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, detailSelect+`
		WHERE a.status = 'CONFIRMED'
		  AND a.start_at > $1
		  AND a.start_at <= $2
		  AND (a.reminder_sent = false OR a.sms_reminder_sent = false)
		ORDER BY a.start_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDetail)
}

func (r *PgRepository) ListFeedbackCandidates(ctx context.Context) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, detailSelect+`
		WHERE a.status = 'COMPLETED'
		  AND a.feedback_request_sent = false
		ORDER BY a.end_at
	`)
	if err != nil {
		return nil, err
	}
	return collect(rows, scanDetail)
}

// ClaimNotificationFlag flips a one-shot flag from false to true and reports
// whether this call was the one that flipped it.
func (r *PgRepository) ClaimNotificationFlag(ctx context.Context, id uuid.UUID, flag NotificationFlag) (bool, error) {
	var column string
	switch flag {
	case FlagReminder, FlagSMSReminder, FlagFeedbackRequest:
		column = string(flag)
	default:
		return false, fmt.Errorf("unknown notification flag %q", flag)
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE appointments
		SET `+column+` = true,
		    updated_at = now()
		WHERE id = $1
		  AND `+column+` = false
	`, id)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", column, err)
	}
	return tag.RowsAffected() == 1, nil
}

// Feedback and ratings

func (r *PgRepository) CreateFeedback(ctx context.Context, f *Feedback) error {
	if f.ID == uuid.Nil {
		f.ID = uuid.New()
	}
	err := r.db.QueryRow(ctx, `
		INSERT INTO feedback (id, appointment_id, patient_id, doctor_id, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		RETURNING created_at
	`, f.ID, f.AppointmentID, f.PatientID, f.DoctorID, f.Rating, f.Comment).Scan(&f.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrFeedbackExists
		}
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}

func (r *PgRepository) GetFeedbackByAppointment(ctx context.Context, appointmentID uuid.UUID) (*Feedback, error) {
	var f Feedback
	err := r.db.QueryRow(ctx, `
		SELECT id, appointment_id, patient_id, doctor_id, rating, comment, created_at
		FROM feedback
		WHERE appointment_id = $1
	`, appointmentID).Scan(&f.ID, &f.AppointmentID, &f.PatientID, &f.DoctorID, &f.Rating, &f.Comment, &f.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrFeedbackNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (r *PgRepository) ListDoctorRatings(ctx context.Context, serviceID *uuid.UUID) ([]DoctorRating, error) {
	rows, err := r.db.Query(ctx, `
		SELECT d.id, d.name, AVG(f.rating)::float8, COUNT(f.id)
		FROM doctors d
		JOIN feedback f ON f.doctor_id = d.id
		WHERE $1::uuid IS NULL
		   OR EXISTS (SELECT 1 FROM doctor_services ds WHERE ds.doctor_id = d.id AND ds.service_id = $1)
		GROUP BY d.id, d.name
		ORDER BY 3 DESC, d.name
	`, serviceID)
	if err != nil {
		return nil, err
	}
	return collect(rows, func(row pgx.Row) (*DoctorRating, error) {
		var dr DoctorRating
		if err := row.Scan(&dr.DoctorID, &dr.DoctorName, &dr.Average, &dr.Count); err != nil {
			return nil, err
		}
		return &dr, nil
	})
}

// Administrative

// DeleteDoctorCascade removes everything owned by a doctor, children first.
// Callers are expected to run it inside WithTx.
func (r *PgRepository) DeleteDoctorCascade(ctx context.Context, doctorID uuid.UUID) (DeletionCounts, error) {
	var counts DeletionCounts

	steps := []struct {
		sql  string
		dest *int64
	}{
		{`DELETE FROM feedback WHERE doctor_id = $1`, &counts.Feedback},
		{`DELETE FROM appointments WHERE doctor_id = $1`, &counts.Appointments},
		{`DELETE FROM slots WHERE doctor_id = $1`, &counts.Slots},
		{`DELETE FROM time_blocks WHERE doctor_id = $1`, &counts.TimeBlocks},
		{`DELETE FROM doctor_services WHERE doctor_id = $1`, &counts.ServiceLinks},
		{`DELETE FROM doctors WHERE id = $1`, &counts.Doctors},
	}

	for _, step := range steps {
		tag, err := r.db.Exec(ctx, step.sql, doctorID)
		if err != nil {
			return DeletionCounts{}, fmt.Errorf("cascade delete doctor %s: %w", doctorID, err)
		}
		*step.dest = tag.RowsAffected()
	}

	return counts, nil
}

// Event logging

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
