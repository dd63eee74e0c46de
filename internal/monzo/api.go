package monzo

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/baely/abd/internal/common/errors"
)

// TestAuthentication probes the session with whoami
func (c *Client) TestAuthentication(ctx context.Context) bool {
	resp, err := c.Request(ctx, http.MethodGet, "ping/whoami", nil, true)
	if err != nil {
		return false
	}
	return resp.Status == http.StatusOK
}

// ListWebhooks returns the webhooks registered for an account
func (c *Client) ListWebhooks(ctx context.Context, accountID string) ([]Webhook, error) {
	resp, err := c.Request(ctx, http.MethodGet, "webhooks", url.Values{
		"account_id": {accountID},
	}, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list webhooks")
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("list webhooks failed with status: %d", resp.Status)
	}

	var response struct {
		Webhooks []Webhook `json:"webhooks"`
	}
	if err := resp.Decode(&response); err != nil {
		return nil, errors.Wrap(err, "failed to decode webhooks")
	}

	return response.Webhooks, nil
}

// RegisterWebhook registers a delivery URL for an account
func (c *Client) RegisterWebhook(ctx context.Context, accountID, webhookURL string) (Webhook, error) {
	resp, err := c.Request(ctx, http.MethodPost, "webhooks", url.Values{
		"account_id": {accountID},
		"url":        {webhookURL},
	}, true)
	if err != nil {
		return Webhook{}, errors.Wrap(err, "failed to register webhook")
	}
	if resp.Status != http.StatusOK {
		return Webhook{}, fmt.Errorf("register webhook failed with status: %d", resp.Status)
	}

	var response struct {
		Webhook Webhook `json:"webhook"`
	}
	if err := resp.Decode(&response); err != nil {
		return Webhook{}, errors.Wrap(err, "failed to decode webhook")
	}

	return response.Webhook, nil
}

// CheckWebhookRegistration makes sure this deployment's webhook URL is
// registered exactly once. When registration fails the whole check is
// repeated until it succeeds or ctx ends; a refused (403) registration
// gives up immediately.
func (c *Client) CheckWebhookRegistration(ctx context.Context) bool {
	want := c.WebhookURL()

	for {
		session, ok := c.Session()
		if !ok || session.AccountID == "" {
			c.logger.Warn("Cannot check webhooks without an account")
			return false
		}

		webhooks, err := c.ListWebhooks(ctx, session.AccountID)
		if err != nil {
			c.logger.Error("Failed to list webhooks", "account_id", session.AccountID, "error", err)
			return false
		}

		for _, webhook := range webhooks {
			if webhook.URL == want {
				c.logger.Debug("Webhook already registered", "webhook_id", webhook.ID)
				return true
			}
		}

		webhook, err := c.RegisterWebhook(ctx, session.AccountID, want)
		if err == nil {
			c.logger.Info("New webhook registered", "webhook_id", webhook.ID, "account_id", session.AccountID)
			return true
		}
		if errors.Is(err, errors.ErrForbidden) {
			c.logger.Error("Webhook registration refused", "account_id", session.AccountID, "error", err)
			return false
		}

		c.logger.Warn("Webhook registration failed, checking again", "error", err)
		if err := c.sleep(ctx, webhookRetryBackoff); err != nil {
			return false
		}
	}
}

// ListPots returns the pots owned by an account
func (c *Client) ListPots(ctx context.Context, accountID string) ([]Pot, error) {
	resp, err := c.Request(ctx, http.MethodGet, "pots", url.Values{
		"current_account_id": {accountID},
	}, true)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pots")
	}
	if resp.Status != http.StatusOK {
		return nil, fmt.Errorf("list pots failed with status: %d", resp.Status)
	}

	var response struct {
		Pots []Pot `json:"pots"`
	}
	if err := resp.Decode(&response); err != nil {
		return nil, errors.Wrap(err, "failed to decode pots")
	}

	return response.Pots, nil
}

// LookupPot finds a single pot of an account. Results are not cached.
func (c *Client) LookupPot(ctx context.Context, accountID, potID string) (Pot, error) {
	pots, err := c.ListPots(ctx, accountID)
	if err != nil {
		return Pot{}, err
	}

	for _, pot := range pots {
		if pot.ID == potID {
			return pot, nil
		}
	}

	return Pot{}, errors.Wrap(errors.ErrNotFound, "pot %s", potID)
}
