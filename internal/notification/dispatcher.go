package notification

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
)

// Dispatcher turns appointment events into rendered messages on the right
// channels. It serves both the booking service and the sweep engine.
type Dispatcher struct {
	email EmailSender
	sms   SMSSender
	loc   *time.Location
	log   zerolog.Logger
}

func NewDispatcher(email EmailSender, sms SMSSender, loc *time.Location, log zerolog.Logger) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{email: email, sms: sms, loc: loc, log: log.With().Str("component", "dispatcher").Logger()}
}

func (d *Dispatcher) AppointmentBooked(ctx context.Context, a appointment.AppointmentDetail) error {
	data := d.data(a)
	errs := []error{
		d.sendEmail(ctx, a.Patient.Email, TplBookedPatient, data),
		d.sendEmail(ctx, a.Doctor.Email, TplBookedDoctor, data),
	}
	if phone := patientPhone(a); phone != "" {
		errs = append(errs, d.sendSMS(ctx, phone, TplBookedSMS, data))
	}
	return errors.Join(errs...)
}

// AppointmentCancelled tells the other party about the cancellation. A
// patient cancellation also confirms back to the patient.
func (d *Dispatcher) AppointmentCancelled(ctx context.Context, a appointment.AppointmentDetail, by appointment.CancelledBy) error {
	data := d.data(a)
	data["cancelled_by"] = strings.ToLower(string(by))

	errs := []error{d.sendEmail(ctx, a.Patient.Email, TplCancelledPatient, data)}
	switch by {
	case appointment.CancelledByPatient:
		errs = append(errs, d.sendEmail(ctx, a.Doctor.Email, TplCancelledDoctor, data))
	case appointment.CancelledByDoctor:
		if phone := patientPhone(a); phone != "" {
			errs = append(errs, d.sendSMS(ctx, phone, TplCancelledSMS, data))
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) ReminderEmail(ctx context.Context, a appointment.AppointmentDetail) error {
	return d.sendEmail(ctx, a.Patient.Email, TplReminderEmail, d.data(a))
}

func (d *Dispatcher) ReminderSMS(ctx context.Context, a appointment.AppointmentDetail) error {
	return d.sendSMS(ctx, patientPhone(a), TplReminderSMS, d.data(a))
}

func (d *Dispatcher) FeedbackRequest(ctx context.Context, a appointment.AppointmentDetail) error {
	return d.sendEmail(ctx, a.Patient.Email, TplFeedbackRequest, d.data(a))
}

func (d *Dispatcher) sendEmail(ctx context.Context, to, tpl string, data map[string]string) error {
	subject, body, err := Render(tpl, data)
	if err != nil {
		return err
	}
	if err := d.email.SendEmail(ctx, to, subject, body); err != nil {
		d.log.Warn().Err(err).Str("template", tpl).Msg("email failed")
		return err
	}
	return nil
}

func (d *Dispatcher) sendSMS(ctx context.Context, to, tpl string, data map[string]string) error {
	_, body, err := Render(tpl, data)
	if err != nil {
		return err
	}
	if err := d.sms.SendSMS(ctx, to, body); err != nil {
		d.log.Warn().Err(err).Str("template", tpl).Msg("sms failed")
		return err
	}
	return nil
}

func (d *Dispatcher) data(a appointment.AppointmentDetail) map[string]string {
	start := a.StartAt.In(d.loc)
	video := ""
	if a.VideoLink != nil {
		video = " Join at " + *a.VideoLink
	}
	return map[string]string{
		"patient": a.Patient.Name,
		"doctor":  a.Doctor.Name,
		"service": a.Service.Name,
		"date":    start.Format("2006-01-02"),
		"time":    start.Format("15:04"),
		"video":   video,
	}
}

func patientPhone(a appointment.AppointmentDetail) string {
	if a.Patient.Phone == nil {
		return ""
	}
	return strings.TrimSpace(*a.Patient.Phone)
}
