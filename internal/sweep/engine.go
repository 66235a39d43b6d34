// Package sweep runs the time-driven passes over appointments: rollover to
// COMPLETED, reminders, feedback requests and slot housekeeping.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// Notifier sends the messages the sweeps trigger. Each call covers one
// appointment on one channel.
type Notifier interface {
	ReminderEmail(ctx context.Context, a appointment.AppointmentDetail) error
	ReminderSMS(ctx context.Context, a appointment.AppointmentDetail) error
	FeedbackRequest(ctx context.Context, a appointment.AppointmentDetail) error
}

// Result counts what one notification sweep did.
type Result struct {
	Candidates int
	Sent       int
	Failed     int
}

type Summary struct {
	Completed        int64
	Reminders        Result
	Feedback         Result
	SlotsCleaned     int64
	SlotsRegenerated int
}

type Engine struct {
	repo     appointment.Repository
	notifier Notifier
	events   *appointment.EventRecorder
	window   time.Duration
	slotSize time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

func NewEngine(repo appointment.Repository, notifier Notifier, events *appointment.EventRecorder, cfg config.Config, log zerolog.Logger) *Engine {
	if events == nil {
		events = appointment.NewEventRecorder(repo, nil, log)
	}
	window := cfg.ReminderWindow
	if window <= 0 {
		window = 24 * time.Hour
	}
	size := cfg.SlotSize
	if size <= 0 {
		size = appointment.DefaultSlotSize
	}
	return &Engine{
		repo:     repo,
		notifier: notifier,
		events:   events,
		window:   window,
		slotSize: size,
		log:      log.With().Str("component", "sweep").Logger(),
		now:      time.Now,
	}
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Rollover marks every CONFIRMED appointment that has ended as COMPLETED.
func (e *Engine) Rollover(ctx context.Context) (int64, error) {
	defer observe("rollover")()

	n, err := e.repo.CompletePastAppointments(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("complete past appointments: %w", err)
	}
	if n > 0 {
		metrics.AppointmentsCompleted.Add(float64(n))
		e.events.Record(ctx, appointment.EventAppointmentCompleted, nil, map[string]any{"count": n})
	}
	return n, nil
}

// SendReminders notifies patients of confirmed appointments starting within
// the reminder window. Email and SMS are tracked by separate flags. A flag is
// claimed before its message goes out, so a failed send is not retried.
func (e *Engine) SendReminders(ctx context.Context) (Result, error) {
	defer observe("reminders")()

	now := e.now()
	candidates, err := e.repo.ListReminderCandidates(ctx, now, now.Add(e.window))
	if err != nil {
		return Result{}, fmt.Errorf("list reminder candidates: %w", err)
	}

	res := Result{Candidates: len(candidates)}
	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !a.ReminderSent {
			e.deliver(ctx, a, appointment.FlagReminder, "reminder", "email", e.notifier.ReminderEmail, &res)
		}
		if !a.SMSReminderSent && hasPhone(a) {
			e.deliver(ctx, a, appointment.FlagSMSReminder, "reminder", "sms", e.notifier.ReminderSMS, &res)
		}
	}
	return res, nil
}

// SendFeedbackRequests asks patients of completed appointments for a rating,
// once per appointment.
func (e *Engine) SendFeedbackRequests(ctx context.Context) (Result, error) {
	defer observe("feedback")()

	candidates, err := e.repo.ListFeedbackCandidates(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("list feedback candidates: %w", err)
	}

	res := Result{Candidates: len(candidates)}
	for _, a := range candidates {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		e.deliver(ctx, a, appointment.FlagFeedbackRequest, "feedback", "email", e.notifier.FeedbackRequest, &res)
	}
	return res, nil
}

func (e *Engine) deliver(
	ctx context.Context,
	a appointment.AppointmentDetail,
	flag appointment.NotificationFlag,
	kind, channel string,
	send func(context.Context, appointment.AppointmentDetail) error,
	res *Result,
) {
	log := e.log.With().
		Str("appointment_id", a.ID.String()).
		Str("kind", kind).
		Str("channel", channel).
		Logger()

	claimed, err := e.repo.ClaimNotificationFlag(ctx, a.ID, flag)
	if err != nil {
		log.Error().Err(err).Msg("claim notification flag")
		res.Failed++
		metrics.Notifications.WithLabelValues(kind, channel, "error").Inc()
		return
	}
	if !claimed {
		// Another sweep got there first.
		return
	}

	if err := send(ctx, a); err != nil {
		log.Warn().Err(err).Msg("notification failed")
		res.Failed++
		metrics.Notifications.WithLabelValues(kind, channel, "failed").Inc()
		return
	}
	res.Sent++
	metrics.Notifications.WithLabelValues(kind, channel, "sent").Inc()
}

// CleanupSlots removes available slots that have already ended and slots
// whose time block is gone. Slots still referenced by an appointment stay.
func (e *Engine) CleanupSlots(ctx context.Context) (int64, error) {
	defer observe("cleanup")()

	expired, err := e.repo.DeleteExpiredAvailableSlots(ctx, e.now())
	if err != nil {
		return 0, fmt.Errorf("delete expired slots: %w", err)
	}
	metrics.SlotsCleaned.WithLabelValues("expired").Add(float64(expired))

	orphans, err := e.repo.DeleteOrphanSlots(ctx)
	if err != nil {
		return expired, fmt.Errorf("delete orphan slots: %w", err)
	}
	metrics.SlotsCleaned.WithLabelValues("orphan").Add(float64(orphans))

	return expired + orphans, nil
}

// RegenerateSlots re-runs slot generation over every block that has not
// ended, filling in whatever an interrupted generation left out. Slots that
// have already ended are left to CleanupSlots.
func (e *Engine) RegenerateSlots(ctx context.Context) (int, error) {
	defer observe("regenerate")()

	now := e.now()
	blocks, err := e.repo.ListOpenTimeBlocks(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("list open time blocks: %w", err)
	}

	total := 0
	for _, b := range blocks {
		created, err := appointment.FillSlots(ctx, e.repo, b, e.slotSize, now)
		total += len(created)
		if err != nil {
			if ctx.Err() != nil {
				return total, ctx.Err()
			}
			e.log.Error().Err(err).Str("time_block_id", b.ID.String()).Msg("regenerate slots")
		}
	}
	metrics.SlotsGenerated.Add(float64(total))
	return total, nil
}

// RunStartupSweep runs every sweep in order. A failing sweep is logged and
// the remaining ones still run; the failures are joined into the result.
func (e *Engine) RunStartupSweep(ctx context.Context) (Summary, error) {
	var (
		sum  Summary
		errs []error
		err  error
	)

	step := func(name string, err error) {
		if err != nil {
			e.log.Error().Err(err).Str("sweep", name).Msg("sweep failed")
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}

	sum.Completed, err = e.Rollover(ctx)
	step("rollover", err)
	sum.Reminders, err = e.SendReminders(ctx)
	step("reminders", err)
	sum.Feedback, err = e.SendFeedbackRequests(ctx)
	step("feedback", err)
	sum.SlotsCleaned, err = e.CleanupSlots(ctx)
	step("cleanup", err)
	sum.SlotsRegenerated, err = e.RegenerateSlots(ctx)
	step("regenerate", err)

	e.log.Info().
		Int64("completed", sum.Completed).
		Int("reminders_sent", sum.Reminders.Sent).
		Int("feedback_sent", sum.Feedback.Sent).
		Int64("slots_cleaned", sum.SlotsCleaned).
		Int("slots_regenerated", sum.SlotsRegenerated).
		Msg("sweep finished")

	return sum, errors.Join(errs...)
}

func hasPhone(a appointment.AppointmentDetail) bool {
	return a.Patient.Phone != nil && strings.TrimSpace(*a.Patient.Phone) != ""
}

func observe(name string) func() {
	start := time.Now()
	return func() {
		metrics.SweepDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}
}
