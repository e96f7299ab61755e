package notify

import (
	"fmt"
	"strings"

	"github.com/ABeGood/reservation-pl/internal/events"
)

var markdownEscaper = strings.NewReplacer(
	"_", `\_`,
	"*", `\*`,
	"`", "\\`",
	"[", `\[`,
)

// Render formats an event as a Telegram Markdown message.
func Render(e events.Event) string {
	msg := markdownEscaper.Replace(e.Message)
	who := markdownEscaper.Replace(e.Participant)

	var b strings.Builder
	switch e.Kind {
	case events.KindError:
		icon := "⚠️"
		if e.Priority == events.PriorityUrgent {
			icon = "🔥"
		}
		fmt.Fprintf(&b, "🚨%s *ERROR*\n%s", icon, msg)

	case events.KindSlotFound:
		fmt.Fprintf(&b, "🎯 *SLOTS FOUND*\n%s", msg)
		if e.Slot != nil {
			fmt.Fprintf(&b, "\n\n📅 %s at %s", e.Slot.DateString(), e.Slot.Time)
		}

	case events.KindClaimSucceeded:
		fmt.Fprintf(&b, "✅ *REGISTRATION SUCCESS*\n👤 %s", who)
		if e.Slot != nil {
			fmt.Fprintf(&b, "\n📅 %s at %s", e.Slot.DateString(), e.Slot.Time)
		}

	case events.KindClaimFailed:
		fmt.Fprintf(&b, "❌ *REGISTRATION FAILED*\n👤 %s\nError: %s", who, msg)

	case events.KindMonitorStarted:
		fmt.Fprintf(&b, "🚀 *MONITOR STARTED*\n%s", msg)

	case events.KindMonitorStopped:
		fmt.Fprintf(&b, "⏹️ *MONITOR STOPPED*\n📊 %s", msg)

	default:
		fmt.Fprintf(&b, "ℹ️ %s", msg)
	}
	return b.String()
}
