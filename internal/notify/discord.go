// Package notify pushes health alerts and analysis summaries to a Discord
// channel. Notifications are optional: without a bot token and channel the
// constructor returns nil and callers skip the wiring.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/vthunder/moments/internal/config"
	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

// Discord rejects messages over 2000 characters
const maxMessageLen = 2000

// Notifier sends messages to a single Discord channel
type Notifier struct {
	session   *discordgo.Session
	channelID string
}

// New creates a Discord notifier. Returns (nil, nil) when the token or
// channel is not configured, which disables notifications.
func New(cfg config.NotifyConfig) (*Notifier, error) {
	if cfg.DiscordToken == "" || cfg.DiscordChannel == "" {
		return nil, nil
	}

	session, err := discordgo.New("Bot " + cfg.DiscordToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Discord session: %w", err)
	}

	// Send-only bot, no gateway events needed
	session.Identify.Intents = discordgo.IntentsNone

	return &Notifier{
		session:   session,
		channelID: cfg.DiscordChannel,
	}, nil
}

// Start connects to Discord
func (n *Notifier) Start() error {
	if err := n.session.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}
	logging.Info("notify", "Connected to Discord as %s", n.session.State.User.Username)
	return nil
}

// Stop disconnects from Discord
func (n *Notifier) Stop() error {
	return n.session.Close()
}

// Post sends arbitrary content to the channel, split into chunks when it
// exceeds the Discord message limit
func (n *Notifier) Post(content string) error {
	for _, chunk := range chunkMessage(content, maxMessageLen) {
		if _, err := n.session.ChannelMessageSend(n.channelID, chunk); err != nil {
			return fmt.Errorf("failed to send message: %w", err)
		}
	}
	return nil
}

// HandleAlert is a health-monitor sink. Send failures are logged, not
// returned; the monitor must never block on the notifier.
func (n *Notifier) HandleAlert(alert types.Alert) {
	if err := n.Post(formatAlert(alert)); err != nil {
		logging.Warn("notify", "alert delivery failed: %v", err)
	}
}

// PostSummary sends an analysis run summary
func (n *Notifier) PostSummary(result *types.AnalysisResult) error {
	return n.Post(formatSummary(result))
}

// formatAlert renders a monitor alert as a Discord message
func formatAlert(alert types.Alert) string {
	var marker string
	switch alert.Level {
	case types.AlertCritical:
		marker = ":red_circle: **CRITICAL**"
	case types.AlertWarning:
		marker = ":yellow_circle: **WARNING**"
	case types.AlertRecovery:
		marker = ":green_circle: **RECOVERED**"
	default:
		marker = "**ALERT**"
	}
	return fmt.Sprintf("%s `%s`: %s (%s)",
		marker, alert.Provider, alert.Message,
		alert.Timestamp.UTC().Format("15:04:05 UTC"))
}

// formatSummary renders an analysis result as a Discord message
func formatSummary(r *types.AnalysisResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "**Analysis complete** (%s, %s)\n", r.Mode, r.Duration.Round(time.Second))
	fmt.Fprintf(&b, "Items: %d analyzed, %d skipped, %d removed of %d\n",
		r.ItemsAnalyzed, r.ItemsSkipped, r.ItemsRemoved, r.ItemsTotal)
	fmt.Fprintf(&b, "Moments: %d new, %d kept\n", r.MomentsNew, r.MomentsKept)
	fmt.Fprintf(&b, "Correlations: %d found, %d impact boosts", r.Correlations, r.ImpactBoosts)
	if r.Provider != "" {
		fmt.Fprintf(&b, "\nProvider: %s", r.Provider)
	}
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\n:warning: %d error(s), first: %s",
			len(r.Errors), logging.Truncate(r.Errors[0], 200))
	}
	return b.String()
}

// chunkMessage splits content into pieces within maxLen, preferring
// paragraph, line, then word boundaries. Rejoining the chunks reproduces the
// original content exactly.
func chunkMessage(content string, maxLen int) []string {
	if len(content) <= maxLen {
		return []string{content}
	}

	var chunks []string
	for len(content) > maxLen {
		pt := findSplitPoint(content, maxLen)
		chunks = append(chunks, content[:pt])
		content = content[pt:]
	}
	return append(chunks, content)
}

// findSplitPoint picks where to cut the next chunk. Natural boundaries only
// count in the second half of the window so chunks stay reasonably full.
func findSplitPoint(content string, maxLen int) int {
	if len(content) <= maxLen {
		return len(content)
	}
	window := content[:maxLen]

	if i := strings.LastIndex(window, "\n\n"); i > maxLen/2 {
		return i + 2
	}
	if i := strings.LastIndex(window, "\n"); i > maxLen/2 {
		return i + 1
	}
	if i := strings.LastIndex(window, " "); i > maxLen/2 {
		return i + 1
	}
	return maxLen
}
