package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

// renderers build the webhook body of an alert per target type.
var renderers = map[string]func(*Alert) any{
	"slack": slackBody,
	"teams": teamsBody,
	"http":  func(a *Alert) any { return map[string]any{"alert": a} },
}

// deliver posts a to every configured webhook with a URL set.
// Failures are logged; they never reach the rule engine.
func (e *Engine) deliver(a *Alert) {
	for _, wh := range e.webhooks {
		url := wh.URL()
		if url == "" {
			continue
		}
		render, ok := renderers[wh.Type]
		if !ok {
			slog.Warn("alerts: unknown webhook type, skipping", "type", wh.Type)
			continue
		}
		body, err := json.Marshal(render(a))
		if err == nil {
			err = e.post(url, body)
		}
		if err != nil {
			slog.Error("alerts: webhook delivery failed",
				"type", wh.Type, "rule", a.RuleName, "line", a.LineID, "err", err)
			continue
		}
		slog.Debug("alerts: webhook delivered",
			"type", wh.Type, "rule", a.RuleName, "line", a.LineID, "state", a.State)
	}
}

// headline is the one-line summary shared by the chat integrations, e.g.
// "[CRITICAL] low-oee on press-1: oee_target 0.42 < 0.6".
func headline(a *Alert) string {
	label := severityLabel(a.Severity)
	if a.State == "resolved" {
		label = "[RESOLVED]"
	}
	return fmt.Sprintf("%s %s on %s: %s", label, a.RuleName, a.LineID, a.Message)
}

func slackBody(a *Alert) any {
	return map[string]string{"text": headline(a)}
}

func teamsBody(a *Alert) any {
	facts := []map[string]string{
		{"name": "Line", "value": a.LineID},
		{"name": "Rule", "value": a.RuleName},
		{"name": "Value", "value": strconv.FormatFloat(a.Value, 'f', 3, 64)},
		{"name": "Fired", "value": a.FiredAt.UTC().Format(time.RFC3339)},
	}
	if a.ResolvedAt != nil {
		facts = append(facts, map[string]string{"name": "Resolved", "value": a.ResolvedAt.UTC().Format(time.RFC3339)})
	}
	return map[string]any{
		"@type":      "MessageCard",
		"@context":   "http://schema.org/extensions",
		"themeColor": severityColor(a.Severity, a.State),
		"summary":    headline(a),
		"title":      fmt.Sprintf("linekpi Alert: %s", a.RuleName),
		"sections":   []map[string]any{{"text": a.Message, "facts": facts}},
	}
}

func (e *Engine) post(url string, body []byte) error {
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return fmt.Errorf("http post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned HTTP %d", resp.StatusCode)
	}
	return nil
}

func severityLabel(s string) string {
	switch s {
	case "critical":
		return "[CRITICAL]"
	case "warning":
		return "[WARNING]"
	default:
		return "[INFO]"
	}
}

func severityColor(severity, state string) string {
	if state == "resolved" {
		return "2EB67D"
	}
	switch severity {
	case "critical":
		return "FF4F6A"
	case "warning":
		return "FFAB40"
	default:
		return "00D4FF"
	}
}
