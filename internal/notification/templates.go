package notification

import (
	"fmt"
	"strings"
)

const (
	TplBookedPatient    = "booked-patient"
	TplBookedDoctor     = "booked-doctor"
	TplBookedSMS        = "booked-sms"
	TplCancelledPatient = "cancelled-patient"
	TplCancelledDoctor  = "cancelled-doctor"
	TplCancelledSMS     = "cancelled-sms"
	TplReminderEmail    = "reminder-email"
	TplReminderSMS      = "reminder-sms"
	TplFeedbackRequest  = "feedback-request"
)

type Template struct {
	Subject string
	Body    string
}

var builtIn = map[string]Template{
	TplBookedPatient: {
		Subject: "Appointment confirmed with {{doctor}}",
		Body:    "Dear {{patient}}, your {{service}} appointment with {{doctor}} is confirmed for {{date}} at {{time}}.{{video}}",
	},
	TplBookedDoctor: {
		Subject: "New appointment on {{date}} at {{time}}",
		Body:    "{{patient}} booked {{service}} on {{date}} at {{time}}.{{video}}",
	},
	TplBookedSMS: {
		Body: "Confirmed: {{service}} with {{doctor}} on {{date}} {{time}}.",
	},
	TplCancelledPatient: {
		Subject: "Appointment cancelled",
		Body:    "Dear {{patient}}, your appointment with {{doctor}} on {{date}} at {{time}} was cancelled by {{cancelled_by}}.",
	},
	TplCancelledDoctor: {
		Subject: "Appointment cancelled on {{date}} at {{time}}",
		Body:    "The {{service}} appointment with {{patient}} on {{date}} at {{time}} was cancelled by {{cancelled_by}}.",
	},
	TplCancelledSMS: {
		Body: "Cancelled: {{service}} with {{doctor}} on {{date}} {{time}}.",
	},
	TplReminderEmail: {
		Subject: "Reminder: appointment with {{doctor}}",
		Body:    "Dear {{patient}}, this is a reminder of your {{service}} appointment with {{doctor}} on {{date}} at {{time}}.{{video}}",
	},
	TplReminderSMS: {
		Body: "Reminder: {{service}} with {{doctor}} on {{date}} {{time}}.",
	},
	TplFeedbackRequest: {
		Subject: "How was your visit with {{doctor}}?",
		Body:    "Dear {{patient}}, thank you for visiting {{doctor}} on {{date}}. Please rate your {{service}} appointment from 1 to 5.",
	},
}

// Render fills the {{key}} placeholders of a built-in template. Keys missing
// from data are left as they are.
func Render(id string, data map[string]string) (subject, body string, err error) {
	t, ok := builtIn[id]
	if !ok {
		return "", "", fmt.Errorf("template %q not found", id)
	}

	subject, body = t.Subject, t.Body
	for k, v := range data {
		placeholder := "{{" + k + "}}"
		subject = strings.ReplaceAll(subject, placeholder, v)
		body = strings.ReplaceAll(body, placeholder, v)
	}
	return subject, body, nil
}
