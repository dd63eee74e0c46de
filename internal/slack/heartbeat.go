package slack

import (
	"context"

	"github.com/baely/abd/internal/common/errors"
)

// Heartbeat posts an operator message to the heartbeat channel, then each of
// details as a reply in its thread. It does nothing while heartbeats are
// disabled.
func (c *Client) Heartbeat(ctx context.Context, text string, details ...string) error {
	if !c.heartbeatEnabled {
		return nil
	}

	ts, err := c.Post(ctx, Message{
		Channel: c.heartbeatChannel,
		Text:    text,
	})
	if err != nil {
		return errors.Wrap(err, "send heartbeat")
	}

	for _, detail := range details {
		if _, err := c.Post(ctx, Message{
			Channel:  c.heartbeatChannel,
			Text:     detail,
			ThreadTS: ts,
		}); err != nil {
			return errors.Wrap(err, "send heartbeat detail")
		}
	}
	return nil
}
