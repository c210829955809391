// Package email implements reminder email delivery: localized message
// composition, SMTP submission with outcome classification, the durable
// database-backed circuit breaker, the send service with in-process retries,
// and the queue drain that re-delivers entries left behind by crashed
// workers.
package email

import "companion/internal/types"

// Translation keys for reminder email content.
const (
	KeySubject  = "reminder.subject"
	KeyGreeting = "reminder.greeting"
	KeyBody     = "reminder.body"
	KeyCTA      = "reminder.cta"
	KeyFooter   = "reminder.footer"
)

// translations holds the reminder email strings per language. English is the
// fallback for any missing (key, language) pair, so new keys only need an
// English entry to ship.
var translations = map[types.Language]map[string]string{
	types.LangEnglish: {
		KeySubject:  "Your daily check-in",
		KeyGreeting: "Hi,",
		KeyBody:     "This is a gentle reminder to record how you are doing today.",
		KeyCTA:      "Record today's check-in",
		KeyFooter:   "You receive this email because daily reminders are enabled for you. Your therapist can turn them off at any time.",
	},
	types.LangHebrew: {
		KeySubject:  "הצ'ק-אין היומי שלך",
		KeyGreeting: "שלום,",
		KeyBody:     "זוהי תזכורת עדינה לתעד איך אתה מרגיש היום.",
		KeyCTA:      "לתיעוד הצ'ק-אין של היום",
		KeyFooter:   "קיבלת אימייל זה כי תזכורות יומיות מופעלות עבורך. המטפל שלך יכול לכבות אותן בכל עת.",
	},
	types.LangRussian: {
		KeySubject:  "Ваш ежедневный чек-ин",
		KeyGreeting: "Здравствуйте,",
		KeyBody:     "Это мягкое напоминание отметить, как вы себя чувствуете сегодня.",
		KeyCTA:      "Отметить сегодняшний чек-ин",
		KeyFooter:   "Вы получили это письмо, потому что для вас включены ежедневные напоминания. Ваш терапевт может отключить их в любой момент.",
	},
	types.LangArabic: {
		KeySubject:  "تسجيل حالتك اليومي",
		KeyGreeting: "مرحباً،",
		KeyBody:     "هذا تذكير لطيف لتسجيل حالتك اليوم.",
		KeyCTA:      "سجّل حالتك اليوم",
		KeyFooter:   "تلقيت هذا البريد لأن التذكيرات اليومية مفعّلة لك. يمكن لمعالجك إيقافها في أي وقت.",
	},
}

// Translate returns the string for (key, lang), falling back to English for
// unknown languages or untranslated keys, and finally to the key itself so a
// missing entry is visible rather than blank.
func Translate(key string, lang types.Language) string {
	if m, ok := translations[lang.OrDefault()]; ok {
		if s, ok := m[key]; ok {
			return s
		}
	}
	if s, ok := translations[types.LangEnglish][key]; ok {
		return s
	}
	return key
}

// IsRTL reports whether the language renders right-to-left, which the HTML
// composer uses to set the direction attribute.
func IsRTL(lang types.Language) bool {
	switch lang.OrDefault() {
	case types.LangHebrew, types.LangArabic:
		return true
	}
	return false
}
