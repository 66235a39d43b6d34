// Package seed generates fake clinic reference data and schedules.
package seed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

var specialties = []string{
	"Dermatology",
	"Cardiology",
	"General Practice",
	"Orthopedics",
	"Endocrinology",
	"Neurology",
	"Pediatrics",
	"Psychiatry",
	"Ophthalmology",
	"ENT",
}

var catalog = []appointment.MedicalService{
	{Name: "Consultation", DurationMinutes: 30},
	{Name: "Follow-up", DurationMinutes: 30},
	{Name: "Extended consultation", DurationMinutes: 60},
	{Name: "Minor procedure", DurationMinutes: 90},
}

// Dataset is a generated set of reference entities. Offers maps a doctor to
// the services it provides.
type Dataset struct {
	Patients []appointment.Patient
	Doctors  []appointment.Doctor
	Services []appointment.MedicalService
	Offers   map[uuid.UUID][]uuid.UUID
}

// Generate builds a dataset. The same seed yields the same names and emails.
func Generate(seed uint64, doctors, patients int) Dataset {
	f := gofakeit.New(seed)
	ds := Dataset{Offers: make(map[uuid.UUID][]uuid.UUID, doctors)}

	for _, s := range catalog {
		s.ID = uuid.New()
		ds.Services = append(ds.Services, s)
	}

	for i := 0; i < doctors; i++ {
		specialty := specialties[f.Number(0, len(specialties)-1)]
		d := appointment.Doctor{
			ID:        uuid.New(),
			Name:      "Dr. " + f.Name(),
			Email:     fmt.Sprintf("doctor%d.%s", i, strings.ToLower(f.Email())),
			Specialty: &specialty,
		}
		if f.Bool() {
			phone := f.Phone()
			d.Phone = &phone
		}
		ds.Doctors = append(ds.Doctors, d)

		// Everyone consults; the rest is a coin flip per service.
		offered := []uuid.UUID{ds.Services[0].ID}
		for _, s := range ds.Services[1:] {
			if f.Bool() {
				offered = append(offered, s.ID)
			}
		}
		ds.Offers[d.ID] = offered
	}

	for i := 0; i < patients; i++ {
		p := appointment.Patient{
			ID:    uuid.New(),
			Name:  f.Name(),
			Email: fmt.Sprintf("patient%d.%s", i, strings.ToLower(f.Email())),
		}
		if f.Number(0, 9) < 7 {
			phone := f.Phone()
			p.Phone = &phone
		}
		ds.Patients = append(ds.Patients, p)
	}
	return ds
}

// LoadMemory copies the dataset into an in-memory repository.
func (ds Dataset) LoadMemory(repo *appointment.MemoryRepository) {
	for _, p := range ds.Patients {
		repo.AddPatient(p)
	}
	for _, d := range ds.Doctors {
		repo.AddDoctor(d)
	}
	for _, s := range ds.Services {
		var doctorIDs []uuid.UUID
		for doctorID, offered := range ds.Offers {
			for _, id := range offered {
				if id == s.ID {
					doctorIDs = append(doctorIDs, doctorID)
				}
			}
		}
		repo.AddService(s, doctorIDs...)
	}
}

// InsertPostgres writes the dataset in one transaction. Patients go through
// COPY since they are the bulk of the rows.
func (ds Dataset) InsertPostgres(ctx context.Context, pool *pgxpool.Pool) error {
	return pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, s := range ds.Services {
			if _, err := tx.Exec(ctx, `
				INSERT INTO services (id, name, duration_minutes)
				VALUES ($1, $2, $3)
			`, s.ID, s.Name, s.DurationMinutes); err != nil {
				return fmt.Errorf("insert service %s: %w", s.Name, err)
			}
		}

		for _, d := range ds.Doctors {
			if _, err := tx.Exec(ctx, `
				INSERT INTO doctors (id, name, email, phone, specialty, created_at)
				VALUES ($1, $2, $3, $4, $5, now())
			`, d.ID, d.Name, d.Email, d.Phone, d.Specialty); err != nil {
				return fmt.Errorf("insert doctor: %w", err)
			}
			for _, serviceID := range ds.Offers[d.ID] {
				if _, err := tx.Exec(ctx, `
					INSERT INTO doctor_services (doctor_id, service_id) VALUES ($1, $2)
				`, d.ID, serviceID); err != nil {
					return fmt.Errorf("link doctor service: %w", err)
				}
			}
		}

		rows := make([][]any, 0, len(ds.Patients))
		for _, p := range ds.Patients {
			rows = append(rows, []any{p.ID, p.Name, p.Email, p.Phone})
		}
		if _, err := tx.CopyFrom(ctx,
			pgx.Identifier{"patients"},
			[]string{"id", "name", "email", "phone"},
			pgx.CopyFromRows(rows),
		); err != nil {
			return fmt.Errorf("copy patients: %w", err)
		}
		return nil
	})
}

// Schedule declares a morning and an afternoon block for every doctor on each
// of the next days weekdays, starting tomorrow in loc. Slots are generated by
// the booking service as usual.
func Schedule(ctx context.Context, svc *appointment.Service, doctors []appointment.Doctor, days int, loc *time.Location, log zerolog.Logger) (int, error) {
	if loc == nil {
		loc = time.UTC
	}
	created := 0
	day := time.Now().In(loc).AddDate(0, 0, 1)

	for scheduled := 0; scheduled < days; day = day.AddDate(0, 0, 1) {
		if day.Weekday() == time.Saturday || day.Weekday() == time.Sunday {
			continue
		}
		scheduled++

		for _, d := range doctors {
			for _, window := range [][2]string{{"09:00", "12:00"}, {"14:00", "17:30"}} {
				_, _, err := svc.CreateTimeBlock(ctx, appointment.CreateTimeBlockRequest{
					DoctorID:    d.ID,
					Date:        day.Format("2006-01-02"),
					StartTime:   window[0],
					EndTime:     window[1],
					CreatorType: appointment.CreatorAdmin,
					CreatorID:   uuid.Nil,
					CreatorName: "seed",
				})
				if err != nil {
					return created, fmt.Errorf("schedule %s on %s: %w", d.Name, day.Format("2006-01-02"), err)
				}
				created++
			}
		}
		log.Debug().Str("day", day.Format("2006-01-02")).Int("doctors", len(doctors)).Msg("day scheduled")
	}
	return created, nil
}
