// Package notify sends the end-of-run release notifications. Delivery is best
// effort: a run's outcome never depends on whether the message arrived.
package notify

import (
	"context"
	"fmt"

	"github.com/user/modforge/internal/logger"
	"github.com/user/modforge/pkg/discord"
)

const embedColor = 5814783

type Notifier struct {
	webhook   *discord.Webhook
	botName   string
	avatarURL string
}

func New(webhook *discord.Webhook, botName, avatarURL string) *Notifier {
	return &Notifier{webhook: webhook, botName: botName, avatarURL: avatarURL}
}

func (n *Notifier) Success(ctx context.Context, user, releaseName string) {
	n.post(ctx, discord.Embed{
		Title:       "Release Ready!",
		Description: fmt.Sprintf("Ordered by **%s**\n**%s** is ready!", user, releaseName),
		Color:       embedColor,
	})
}

func (n *Notifier) Failure(ctx context.Context, releaseName, detail string) {
	n.post(ctx, discord.Embed{
		Title:       "Error!",
		Description: fmt.Sprintf("Failed to build **%s**\n```\n%s\n```", releaseName, detail),
		Color:       embedColor,
	})
}

func (n *Notifier) post(ctx context.Context, embed discord.Embed) {
	err := n.webhook.Post(ctx, discord.Message{
		Embeds:    []discord.Embed{embed},
		Username:  n.botName,
		AvatarURL: n.avatarURL,
	})
	if err != nil {
		logger.Error().Err(err).Str("title", embed.Title).Msg("Could not deliver release notification")
	}
}
