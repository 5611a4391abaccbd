package resolver

import (
	"errors"
	"strings"

	"yasmin/internal/provider"
)

const (
	// DefaultOfflineReply is delivered when no vendor answered and no canned phrase matched.
	DefaultOfflineReply = "أعتذر، لا يمكنني معالجة طلبك الآن. يبدو أن هناك مشكلة في الاتصال بالإنترنت أو بخدمات الذكاء الاصطناعي."

	allFailedReason = "فشل الاتصال بخدمات الذكاء الاصطناعي"
	safetyReason    = "الرد محظور بواسطة فلتر السلامة"
	warningPrefix   = "عذرًا، حدث خطأ أثناء معالجة طلبك: "
)

type phrase struct {
	key   string
	reply string
}

// Checked in order; the first key found in the message wins.
var offlinePhrases = []phrase{
	{"السلام عليكم", "وعليكم السلام! أنا ياسمين. للأسف، لا يوجد اتصال بالإنترنت حالياً."},
	{"كيف حالك", "أنا بخير شكراً لك. لكن لا يمكنني الوصول للنماذج الذكية الآن بسبب انقطاع الإنترنت."},
	{"مرحبا", "أهلاً بك! أنا ياسمين. أعتذر، خدمة الإنترنت غير متوفرة حالياً."},
	{"شكرا", "على الرحب والسعة! أتمنى أن يعود الاتصال قريباً."},
	{"مع السلامة", "إلى اللقاء! آمل أن أتمكن من مساعدتك بشكل أفضل عند عودة الإنترنت."},
}

// FormatWarning renders the apology shown to the user for a failed turn.
func FormatWarning(reason string) string {
	return warningPrefix + reason
}

// offlineReply picks a canned reply for the last user message.
func (r *Resolver) offlineReply(lastUser string) string {
	if r.offlinePhrases {
		text := strings.ToLower(lastUser)
		for _, p := range offlinePhrases {
			if strings.Contains(text, p.key) {
				return p.reply
			}
		}
	}
	return DefaultOfflineReply
}

func safetyWarning(err error) string {
	var pe *provider.Error
	if errors.As(err, &pe) && pe.Err != nil {
		return safetyReason + ": " + pe.Err.Error()
	}
	return safetyReason
}
