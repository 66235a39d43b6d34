package seed

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
)

func TestGenerate(t *testing.T) {
	ds := Generate(42, 5, 20)

	require.Len(t, ds.Doctors, 5)
	require.Len(t, ds.Patients, 20)
	require.Len(t, ds.Services, len(catalog))

	emails := map[string]bool{}
	for _, p := range ds.Patients {
		assert.False(t, emails[p.Email], "duplicate email %s", p.Email)
		emails[p.Email] = true
	}
	for _, d := range ds.Doctors {
		require.NotEmpty(t, ds.Offers[d.ID])
		assert.Equal(t, ds.Services[0].ID, ds.Offers[d.ID][0])
		require.NotNil(t, d.Specialty)
	}

	again := Generate(42, 5, 20)
	assert.Equal(t, ds.Patients[3].Name, again.Patients[3].Name)
}

func TestLoadMemoryAndSchedule(t *testing.T) {
	ctx := context.Background()
	ds := Generate(7, 2, 3)
	repo := appointment.NewMemoryRepository()
	ds.LoadMemory(repo)

	for _, d := range ds.Doctors {
		ok, err := repo.DoctorOffersService(ctx, d.ID, ds.Services[0].ID)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	_, err := repo.GetPatientByID(ctx, ds.Patients[0].ID)
	require.NoError(t, err)

	svc := appointment.NewService(repo, nil, nil, nil, config.Config{Location: time.UTC, SlotSize: 30 * time.Minute}, zerolog.Nop())
	created, err := Schedule(ctx, svc, ds.Doctors, 2, time.UTC, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2*2*2, created)

	blocks, err := repo.ListTimeBlocksByDoctor(ctx, ds.Doctors[0].ID, time.Now().UTC().Truncate(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, blocks, 4)
	for _, b := range blocks {
		wd := b.StartAt.Weekday()
		assert.NotEqual(t, time.Saturday, wd)
		assert.NotEqual(t, time.Sunday, wd)
	}

	slots, err := repo.ListSlotsByTimeBlock(ctx, blocks[0].ID)
	require.NoError(t, err)
	assert.NotEmpty(t, slots)
}
