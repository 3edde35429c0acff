package notify

import (
	"encoding/json"
	"fmt"

	"github.com/alanyoungcy/reconbot/internal/domain"
)

// Format renders ev as a chat title and body.
func Format(ev Event) (title, message string) {
	f := fields(ev.Payload)
	account := fmt.Sprintf("wallet %v (%v)", f["wallet_id"], f["mode"])

	switch ev.Name {
	case domain.EventGhostsCleaned:
		title = "Ghost positions cleaned"
		message = fmt.Sprintf("%s: %v found, %v cleaned, %v failed",
			account, f["found"], f["cleaned"], f["failed"])
		if label, ok := f["label"].(string); ok && label != "" {
			message += "\nsnapshot: " + label
		}
	case domain.EventReconcileFailed:
		title = "Reconciliation failed"
		message = fmt.Sprintf("%s pass %v: %v", account, f["pass_id"], f["error"])
	case domain.EventAttemptsReset:
		title = "Reconcile attempts reset"
		message = account
	default:
		title = ev.Name
		raw, _ := json.Marshal(ev.Payload)
		message = string(raw)
	}
	return title, message
}

// fields flattens a payload into a map through its JSON form.
func fields(payload any) map[string]any {
	if m, ok := payload.(map[string]any); ok {
		return m
	}
	out := map[string]any{}
	raw, err := json.Marshal(payload)
	if err != nil {
		return out
	}
	_ = json.Unmarshal(raw, &out)
	return out
}
