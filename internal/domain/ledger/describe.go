package ledger

import (
	"fmt"
	"strings"
)

// Describe renders the human-readable line shown in history for a row.
func Describe(reason Reason, delta int64) string {
	var label string
	switch reason {
	case ReasonActivityComplete:
		label = "Completed activity"
	case ReasonWeeklyGoal:
		label = "Weekly goal achieved"
	case ReasonHelpfulAnswer:
		label = "Helpful answer"
	case ReasonEngagementBonus:
		label = "Engagement bonus"
	case ReasonPurchase:
		label = "Shop purchase"
	case ReasonGift:
		label = "Gift received"
	case ReasonRefund:
		label = "Purchase refunded"
	default:
		label = titleCase(string(reason))
	}
	return fmt.Sprintf("%s (%+d tokens)", label, delta)
}

func titleCase(s string) string {
	words := strings.Fields(strings.ReplaceAll(s, "_", " "))
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
