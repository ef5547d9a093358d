// Package notify implements the admin notification channel: a Telegram
// message on pipeline ERROR (and, throttled, on reconcile completion),
// and the webhook-on-terminal-state shell command.
package notify

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"text/template"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/arborfm/karaopipe/src/features/config"
)

// Notifier sends admin notifications over Telegram and fires the
// configured webhook command on terminal pipeline states.
type Notifier struct {
	bot          *tgbotapi.BotAPI
	allowedUsers []string
	webhook      config.WebhookConfig

	lastReconcileNotice time.Time
}

// New builds a Notifier from the loaded config. If Telegram is disabled
// or fails to initialize, Telegram sends are silently skipped.
func New(cfg *config.Manager) *Notifier {
	n := &Notifier{webhook: cfg.Get().Webhooks}
	tgCfg := cfg.Get().Telegram
	n.allowedUsers = tgCfg.AllowedUsers

	if !tgCfg.Enabled || tgCfg.Token == "" {
		return n
	}
	bot, err := tgbotapi.NewBotAPI(tgCfg.Token)
	if err != nil {
		slog.Error("notify: failed to start telegram bot", "error", err)
		return n
	}
	n.bot = bot
	return n
}

// NotifyError sends an admin chat message when a track's pipeline
// terminates with ERROR.
func (n *Notifier) NotifyError(trackID, stage, message string) {
	n.send(fmt.Sprintf("❌ track %s failed at %s: %s", trackID, stage, message))
	n.fireWebhook(trackID, "ERROR")
}

// NotifyComplete fires the webhook when a track reaches COMPLETE. No
// Telegram message; the admin chat only hears about failures.
func (n *Notifier) NotifyComplete(trackID string) {
	n.fireWebhook(trackID, "COMPLETE")
}

// NotifyReconcileDone reports the count of tracks resumed at startup,
// throttled to at most once per minute so a flapping restart loop doesn't
// spam the admin chat.
func (n *Notifier) NotifyReconcileDone(resumed int) {
	if resumed == 0 {
		return
	}
	if time.Since(n.lastReconcileNotice) < time.Minute {
		return
	}
	n.lastReconcileNotice = time.Now()
	n.send(fmt.Sprintf("🔄 reconcile resumed %d track(s)", resumed))
}

func (n *Notifier) send(text string) {
	if n.bot == nil {
		return
	}
	for _, user := range n.allowedUsers {
		username := strings.TrimPrefix(user, "@")
		msg := tgbotapi.NewMessageToChannel(username, text)
		if _, err := n.bot.Send(msg); err != nil {
			slog.Warn("notify: failed to send telegram message", "user", user, "error", err)
		}
	}
}

// fireWebhook renders the configured command template with {{.TrackID}}
// {{.Status}} and runs it through /bin/sh -c with a 30s kill timeout.
func (n *Notifier) fireWebhook(trackID, status string) {
	if !n.webhook.Enabled || strings.TrimSpace(n.webhook.Command) == "" {
		return
	}
	tmpl, err := template.New("webhook").Parse(n.webhook.Command)
	if err != nil {
		slog.Error("notify: invalid webhook template", "error", err)
		return
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, struct {
		TrackID string
		Status  string
	}{trackID, status}); err != nil {
		slog.Error("notify: webhook template render failed", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", buf.String())
	if out, err := cmd.CombinedOutput(); err != nil {
		slog.Error("notify: webhook command failed", "error", err, "output", string(out))
	}
}
