package appointment

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const dateLayout = "2006-01-02"

var clockLayouts = []string{"15:04", "15:04:05"}

type CreateTimeBlockRequest struct {
	DoctorID    uuid.UUID
	Date        string
	StartTime   string
	EndTime     string
	CreatorType CreatorType
	CreatorID   uuid.UUID
	CreatorName string
}

// CreateTimeBlock stores a working window for a doctor and materializes its
// slots. The block is committed before generation starts; a generation
// failure is logged and left for the startup sweep to repair.
func (s *Service) CreateTimeBlock(ctx context.Context, req CreateTimeBlockRequest) (*TimeBlock, []Slot, error) {
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		return nil, nil, lookupErr("load doctor", err)
	}

	day, err := parseDate(req.Date)
	if err != nil {
		return nil, nil, err
	}
	start, err := s.combine(req.Date, req.StartTime)
	if err != nil {
		return nil, nil, err
	}
	end, err := s.combine(req.Date, req.EndTime)
	if err != nil {
		return nil, nil, err
	}
	if !start.Before(end) {
		return nil, nil, fmt.Errorf("start %s is not before end %s: %w", req.StartTime, req.EndTime, ErrInvalidState)
	}
	if !end.After(s.now()) {
		return nil, nil, fmt.Errorf("time block already ended: %w", ErrInvalidState)
	}

	creator := req.CreatorType
	if creator == "" {
		creator = CreatorDoctor
	}

	block := &TimeBlock{
		ID:          uuid.New(),
		DoctorID:    req.DoctorID,
		Date:        day,
		StartAt:     start,
		EndAt:       end,
		CreatorType: creator,
		CreatorID:   req.CreatorID,
		CreatorName: req.CreatorName,
	}

	err = s.repo.WithTx(ctx, func(tx Repository) error {
		overlapping, err := tx.ListOverlappingTimeBlocks(ctx, block.DoctorID, block.StartAt, block.EndAt)
		if err != nil {
			return fmt.Errorf("check overlapping blocks: %w", err)
		}
		if len(overlapping) > 0 {
			return ErrOverlappingTimeBlock
		}
		return tx.CreateTimeBlock(ctx, block)
	})
	if err != nil {
		return nil, nil, err
	}

	slots, err := GenerateSlots(ctx, s.repo, *block, s.cfg.SlotSize)
	metrics.SlotsGenerated.Add(float64(len(slots)))
	if err != nil {
		s.log.Error().Err(err).
			Str("time_block_id", block.ID.String()).
			Int("generated", len(slots)).
			Msg("slot generation incomplete")
	}

	s.events.Record(ctx, EventTimeBlockCreated, nil, map[string]any{
		"time_block_id": block.ID.String(),
		"doctor_id":     block.DoctorID.String(),
		"creator_type":  block.CreatorType,
		"slots":         len(slots),
	})

	return block, slots, nil
}

// ListFutureVisibleTimeBlocks returns the doctor's blocks from today onward
// that still matter to someone: they have a bookable slot ahead, a confirmed
// appointment that has not ended, or no slots yet and have not ended.
func (s *Service) ListFutureVisibleTimeBlocks(ctx context.Context, doctorID uuid.UUID) ([]TimeBlock, error) {
	if _, err := s.repo.GetDoctorByID(ctx, doctorID); err != nil {
		return nil, lookupErr("load doctor", err)
	}

	now := s.now()
	local := now.In(s.cfg.Location)
	today := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)

	blocks, err := s.repo.ListTimeBlocksByDoctor(ctx, doctorID, today)
	if err != nil {
		return nil, fmt.Errorf("list time blocks: %w", err)
	}

	visible := make([]TimeBlock, 0, len(blocks))
	for _, b := range blocks {
		ok, err := s.blockVisible(ctx, b, now)
		if err != nil {
			return nil, err
		}
		if ok {
			visible = append(visible, b)
		}
	}
	return visible, nil
}

func (s *Service) blockVisible(ctx context.Context, b TimeBlock, now time.Time) (bool, error) {
	slots, err := s.repo.ListSlotsByTimeBlock(ctx, b.ID)
	if err != nil {
		return false, fmt.Errorf("list slots: %w", err)
	}
	if len(slots) == 0 && b.EndAt.After(now) {
		return true, nil
	}
	for _, sl := range slots {
		if sl.Status == SlotAvailable && sl.StartAt.After(now) {
			return true, nil
		}
	}

	appts, err := s.repo.ListConfirmedOverlapping(ctx, b.DoctorID, b.StartAt, b.EndAt)
	if err != nil {
		return false, fmt.Errorf("list appointments: %w", err)
	}
	for _, a := range appts {
		if a.EndAt.After(now) {
			return true, nil
		}
	}
	return false, nil
}

// DeleteTimeBlock removes a block and its slots. Only the owning doctor may
// remove it, and not while any appointment still holds time inside it.
func (s *Service) DeleteTimeBlock(ctx context.Context, blockID, requestingDoctorID uuid.UUID) (int64, error) {
	var removed int64

	err := s.repo.WithTx(ctx, func(tx Repository) error {
		block, err := tx.GetTimeBlockByID(ctx, blockID)
		if err != nil {
			return lookupErr("load time block", err)
		}
		if block.DoctorID != requestingDoctorID {
			return ErrNotBlockOwner
		}

		appts, err := tx.ListConfirmedOverlapping(ctx, block.DoctorID, block.StartAt, block.EndAt)
		if err != nil {
			return fmt.Errorf("list appointments: %w", err)
		}
		if len(appts) > 0 {
			return fmt.Errorf("%d confirmed: %w", len(appts), ErrTimeBlockInUse)
		}

		slots, err := tx.ListSlotsByTimeBlock(ctx, block.ID)
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		for _, sl := range slots {
			if sl.Status == SlotBooked {
				return ErrTimeBlockInUse
			}
		}

		if removed, err = tx.DeleteSlotsByTimeBlock(ctx, block.ID); err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}
		n, err := tx.DeleteTimeBlock(ctx, block.ID)
		if err != nil {
			return fmt.Errorf("delete time block: %w", err)
		}
		if n == 0 {
			return ErrTimeBlockNotFound
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.events.Record(ctx, EventTimeBlockDeleted, nil, map[string]any{
		"time_block_id": blockID.String(),
		"doctor_id":     requestingDoctorID.String(),
		"slots_removed": removed,
	})
	return removed, nil
}

// combine resolves a calendar date and a wall-clock time in the clinic
// timezone to an absolute instant.
func (s *Service) combine(date, clock string) (time.Time, error) {
	day, err := parseDate(date)
	if err != nil {
		return time.Time{}, err
	}
	hm, err := parseClock(clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(day.Year(), day.Month(), day.Day(), hm.Hour(), hm.Minute(), hm.Second(), 0, s.cfg.Location), nil
}

func parseDate(v string) (time.Time, error) {
	d, err := time.Parse(dateLayout, strings.TrimSpace(v))
	if err != nil {
		return time.Time{}, invalidInput("date %q must be YYYY-MM-DD", v)
	}
	return d, nil
}

func parseClock(v string) (time.Time, error) {
	trimmed := strings.TrimSpace(v)
	for _, layout := range clockLayouts {
		if t, err := time.Parse(layout, trimmed); err == nil {
			return t, nil
		}
	}
	return time.Time{}, invalidInput("time %q must be HH:MM", v)
}
