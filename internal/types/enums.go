package types

// ReminderType identifies the kind of standing reminder a client has
// configured. The delivery pipeline currently processes only daily check-in
// reminders; new types slot in without schema changes.
type ReminderType string

const (
	// ReminderDailyCheckin nudges the client to record today's check-in.
	ReminderDailyCheckin ReminderType = "daily_checkin"
)

// Valid reports whether the reminder type is one the pipeline knows about.
func (t ReminderType) Valid() bool {
	return t == ReminderDailyCheckin
}

// Language is the ISO 639-1 code a client's reminder emails are written in.
type Language string

const (
	LangEnglish Language = "en"
	LangHebrew  Language = "he"
	LangRussian Language = "ru"
	LangArabic  Language = "ar"
)

// DefaultLanguage is used when a reminder row carries no language.
const DefaultLanguage = LangEnglish

// Valid reports whether the language is one of the supported codes.
func (l Language) Valid() bool {
	switch l {
	case LangEnglish, LangHebrew, LangRussian, LangArabic:
		return true
	}
	return false
}

// OrDefault returns the language itself when valid, English otherwise.
func (l Language) OrDefault() Language {
	if l.Valid() {
		return l
	}
	return DefaultLanguage
}

// EmailStatus is the lifecycle state of an outbound email queue entry.
// Transitions are monotonic except sending -> pending on retry.
type EmailStatus string

const (
	EmailStatusPending EmailStatus = "pending"
	EmailStatusSending EmailStatus = "sending"
	EmailStatusSent    EmailStatus = "sent"
	EmailStatusFailed  EmailStatus = "failed"
)

// BreakerService names a downstream service protected by a persisted circuit
// breaker. Breaker rows are keyed by this value.
type BreakerService string

const (
	// BreakerEmail guards the SMTP submission path.
	BreakerEmail BreakerService = "email"
)

// SendOutcome classifies the result of a single transport submission.
type SendOutcome string

const (
	// SendOK means the message was accepted by the SMTP server.
	SendOK SendOutcome = "ok"
	// SendTransient covers network errors, throttling and 5xx class replies;
	// the caller should retry later.
	SendTransient SendOutcome = "transient"
	// SendPermanent covers invalid-recipient class replies; retrying cannot
	// succeed and the recipient address should be flagged.
	SendPermanent SendOutcome = "permanent"
)
