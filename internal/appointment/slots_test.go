package appointment

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateSlots(t *testing.T) {
	doctorID := uuid.New()

	tests := []struct {
		name   string
		start  string
		end    string
		starts []string
	}{
		{"exact hour", "09:00", "10:00", []string{"09:00", "09:30"}},
		{"short tail is dropped", "09:00", "10:15", []string{"09:00", "09:30"}},
		{"shorter than a slot", "09:00", "09:20", nil},
		{"full morning", "09:00", "11:00", []string{"09:00", "09:30", "10:00", "10:30"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := NewMemoryRepository()
			block := TimeBlock{ID: uuid.New(), DoctorID: doctorID, StartAt: at(tt.start), EndAt: at(tt.end)}

			slots, err := GenerateSlots(context.Background(), repo, block, DefaultSlotSize)
			require.NoError(t, err)
			require.Len(t, slots, len(tt.starts))

			for i, s := range slots {
				assert.Equal(t, at(tt.starts[i]), s.StartAt)
				assert.Equal(t, DefaultSlotSize, s.EndAt.Sub(s.StartAt))
				assert.Equal(t, SlotAvailable, s.Status)
				assert.False(t, s.EndAt.After(block.EndAt))
			}
		})
	}
}

func TestGenerateSlotsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	block := TimeBlock{ID: uuid.New(), DoctorID: uuid.New(), StartAt: at("09:00"), EndAt: at("11:00")}

	first, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)
	assert.Len(t, first, 4)

	second, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)
	assert.Empty(t, second)

	all, err := repo.ListSlotsByTimeBlock(ctx, block.ID)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestGenerateSlotsFillsGaps(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	block := TimeBlock{ID: uuid.New(), DoctorID: uuid.New(), StartAt: at("09:00"), EndAt: at("10:30")}

	_, err := repo.InsertSlotIfAbsent(ctx, &Slot{DoctorID: block.DoctorID, TimeBlockID: block.ID, StartAt: at("09:30"), EndAt: at("10:00")})
	require.NoError(t, err)

	created, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)
	require.Len(t, created, 2)
	assert.Equal(t, at("09:00"), created[0].StartAt)
	assert.Equal(t, at("10:00"), created[1].StartAt)
}

func TestGenerateSlotsRejectsNonPositiveSize(t *testing.T) {
	block := TimeBlock{ID: uuid.New(), DoctorID: uuid.New(), StartAt: at("09:00"), EndAt: at("10:00")}

	_, err := GenerateSlots(context.Background(), NewMemoryRepository(), block, 0)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestTryClaim(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	block := TimeBlock{ID: uuid.New(), DoctorID: doctorID, StartAt: at("09:00"), EndAt: at("10:00")}
	_, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)

	t.Run("missing slot", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx Repository) error {
			_, err := TryClaim(ctx, tx, doctorID, at("12:00"), at("12:30"))
			return err
		})
		assert.ErrorIs(t, err, ErrSlotNotFound)
	})

	t.Run("first claim wins", func(t *testing.T) {
		var claimed *Slot
		err := repo.WithTx(ctx, func(tx Repository) error {
			var err error
			claimed, err = TryClaim(ctx, tx, doctorID, at("09:00"), at("09:30"))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, SlotBooked, claimed.Status)

		stored, ok := repo.FindSlot(doctorID, at("09:00"))
		require.True(t, ok)
		assert.Equal(t, SlotBooked, stored.Status)
	})

	t.Run("second claim is rejected", func(t *testing.T) {
		err := repo.WithTx(ctx, func(tx Repository) error {
			_, err := TryClaim(ctx, tx, doctorID, at("09:00"), at("09:30"))
			return err
		})
		assert.ErrorIs(t, err, ErrSlotUnavailable)
	})
}

func TestTryClaimRollsBackWithTransaction(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	block := TimeBlock{ID: uuid.New(), DoctorID: doctorID, StartAt: at("09:00"), EndAt: at("09:30")}
	_, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)

	err = repo.WithTx(ctx, func(tx Repository) error {
		if _, err := TryClaim(ctx, tx, doctorID, at("09:00"), at("09:30")); err != nil {
			return err
		}
		return assert.AnError
	})
	require.ErrorIs(t, err, assert.AnError)

	stored, ok := repo.FindSlot(doctorID, at("09:00"))
	require.True(t, ok)
	assert.Equal(t, SlotAvailable, stored.Status)
}

func TestReleaseIsReversibleAndTolerant(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	block := TimeBlock{ID: uuid.New(), DoctorID: doctorID, StartAt: at("09:00"), EndAt: at("09:30")}
	_, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)

	var slot *Slot
	require.NoError(t, repo.WithTx(ctx, func(tx Repository) error {
		var err error
		slot, err = TryClaim(ctx, tx, doctorID, at("09:00"), at("09:30"))
		return err
	}))

	require.NoError(t, repo.WithTx(ctx, func(tx Repository) error {
		return Release(ctx, tx, slot.ID)
	}))
	stored, _ := repo.FindSlot(doctorID, at("09:00"))
	assert.Equal(t, SlotAvailable, stored.Status)

	assert.NoError(t, repo.WithTx(ctx, func(tx Repository) error {
		return Release(ctx, tx, uuid.New())
	}))
}

func TestTryClaimSeesOverlappingAppointment(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()
	block := TimeBlock{ID: uuid.New(), DoctorID: doctorID, StartAt: at("09:00"), EndAt: at("10:00")}
	_, err := GenerateSlots(ctx, repo, block, DefaultSlotSize)
	require.NoError(t, err)

	// A 60 minute appointment at 09:00 only claims the 09:00 slot.
	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		DoctorID: doctorID,
		StartAt:  at("09:00"),
		EndAt:    at("09:00").Add(time.Hour),
		Status:   StatusConfirmed,
	}))

	err = repo.WithTx(ctx, func(tx Repository) error {
		_, err := TryClaim(ctx, tx, doctorID, at("09:30"), at("10:00"))
		return err
	})
	assert.ErrorIs(t, err, ErrOverlappingAppointment)
}

func TestCreateAppointmentRejectsConfirmedOverlap(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	doctorID := uuid.New()

	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		DoctorID: doctorID, StartAt: at("09:00"), EndAt: at("10:00"), Status: StatusConfirmed,
	}))

	err := repo.CreateAppointment(ctx, &Appointment{
		DoctorID: doctorID, StartAt: at("09:30"), EndAt: at("10:00"), Status: StatusConfirmed,
	})
	assert.ErrorIs(t, err, ErrOverlappingAppointment)
	assert.ErrorIs(t, err, ErrSlotUnavailable)

	// Back to back, other doctors and non-confirmed rows are fine.
	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		DoctorID: doctorID, StartAt: at("10:00"), EndAt: at("10:30"), Status: StatusConfirmed,
	}))
	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		DoctorID: uuid.New(), StartAt: at("09:30"), EndAt: at("10:00"), Status: StatusConfirmed,
	}))
	require.NoError(t, repo.CreateAppointment(ctx, &Appointment{
		DoctorID: doctorID, StartAt: at("09:30"), EndAt: at("10:00"), Status: StatusCancelled,
	}))
}
