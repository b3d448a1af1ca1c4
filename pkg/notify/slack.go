// Package notify posts end-of-run summaries to Slack so the operator's
// channel keeps a record of what was paid and what needs manual follow-up.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/malbeclabs/spraydrop/pkg/session"
)

// Notifier posts run summaries. The zero-config notifier is disabled and
// drops everything.
type Notifier struct {
	api     *slack.Client
	channel string
	log     *slog.Logger
}

// NewNotifier creates a Slack notifier. An empty token disables it.
func NewNotifier(botToken, channel string, log *slog.Logger) *Notifier {
	n := &Notifier{channel: channel, log: log}
	if botToken != "" && channel != "" {
		n.api = slack.New(botToken)
	}
	return n
}

// Enabled reports whether summaries will actually be posted.
func (n *Notifier) Enabled() bool {
	return n.api != nil
}

// RunComplete posts the final report. Failure to post is logged and
// swallowed; notification is never allowed to fail a run.
func (n *Notifier) RunComplete(ctx context.Context, report *session.Report) {
	if !n.Enabled() {
		return
	}
	_, _, err := n.api.PostMessageContext(ctx, n.channel,
		slack.MsgOptionText(FormatReport(report), false))
	if err != nil {
		n.log.Warn("notify: failed to post run summary", "error", err)
	}
}

// FormatReport renders the report as a Slack message.
func FormatReport(report *session.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "*spraydrop run %s: %s*\n", report.Status.ID, report.Status.Phase)
	fmt.Fprintf(&b, "batches: %d confirmed, %d failed\n", report.Confirmed, report.Failed)
	for _, r := range report.Status.BatchLog {
		if r.Err != "" {
			fmt.Fprintf(&b, "  • batch %d FAILED (%d recipients): %s\n", r.BatchIndex, len(r.Payouts), r.Err)
		}
	}
	for _, w := range report.Warnings {
		fmt.Fprintf(&b, "  • %s\n", w)
	}
	return b.String()
}
