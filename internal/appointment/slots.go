package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const DefaultSlotSize = 30 * time.Minute

// GenerateSlots materializes AVAILABLE slots of the given size across
// [block.StartAt, block.EndAt). A tail shorter than size is dropped. Slots
// whose (doctor, start) already exists are skipped, so re-running it over a
// partially generated block fills the gaps without duplicating anything.
// Only the slots inserted by this call are returned.
func GenerateSlots(ctx context.Context, repo Repository, block TimeBlock, size time.Duration) ([]Slot, error) {
	return generateSlots(ctx, repo, block, size, time.Time{})
}

// FillSlots is GenerateSlots for a block that may already be under way: steps
// that end at or before now are not recreated.
func FillSlots(ctx context.Context, repo Repository, block TimeBlock, size time.Duration, now time.Time) ([]Slot, error) {
	return generateSlots(ctx, repo, block, size, now)
}

func generateSlots(ctx context.Context, repo Repository, block TimeBlock, size time.Duration, since time.Time) ([]Slot, error) {
	if size <= 0 {
		return nil, invalidInput("slot size must be positive, got %s", size)
	}

	var created []Slot
	for start := block.StartAt; !start.Add(size).After(block.EndAt); start = start.Add(size) {
		if err := ctx.Err(); err != nil {
			return created, err
		}
		if !start.Add(size).After(since) {
			continue
		}

		s := Slot{
			DoctorID:    block.DoctorID,
			TimeBlockID: block.ID,
			StartAt:     start,
			EndAt:       start.Add(size),
			Status:      SlotAvailable,
		}
		inserted, err := repo.InsertSlotIfAbsent(ctx, &s)
		if err != nil {
			return created, fmt.Errorf("generate slot at %s: %w", start.Format(time.RFC3339), err)
		}
		if inserted {
			created = append(created, s)
		}
	}

	return created, nil
}

// TryClaim flips the (doctor, start) slot from AVAILABLE to BOOKED. It must
// run on a transaction-bound repository so the flip commits or rolls back
// together with the appointment insert.
//
// The slot row is locked first; a competitor blocks on that lock and, once it
// gets it, sees the committed BOOKED status and fails with ErrSlotUnavailable.
func TryClaim(ctx context.Context, tx Repository, doctorID uuid.UUID, start, end time.Time) (*Slot, error) {
	slot, err := tx.LockSlotForUpdate(ctx, doctorID, start)
	if err != nil {
		if errors.Is(err, ErrSlotNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("lock slot: %w", err)
	}
	if slot.Status != SlotAvailable {
		return nil, ErrSlotAlreadyBooked
	}

	// Appointments written outside the slot table still block the interval.
	overlapping, err := tx.ListConfirmedOverlapping(ctx, doctorID, start, end)
	if err != nil {
		return nil, fmt.Errorf("check overlapping appointments: %w", err)
	}
	if len(overlapping) > 0 {
		return nil, ErrOverlappingAppointment
	}

	flipped, err := tx.UpdateSlotStatus(ctx, slot.ID, SlotAvailable, SlotBooked)
	if err != nil {
		return nil, err
	}
	if !flipped {
		return nil, ErrSlotAlreadyBooked
	}

	slot.Status = SlotBooked
	return slot, nil
}

// Release puts a slot back to AVAILABLE. A slot that no longer exists, or is
// already available, is left alone.
func Release(ctx context.Context, tx Repository, slotID uuid.UUID) error {
	if _, err := tx.UpdateSlotStatus(ctx, slotID, SlotBooked, SlotAvailable); err != nil {
		return fmt.Errorf("release slot %s: %w", slotID, err)
	}
	return nil
}
