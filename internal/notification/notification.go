// Package notification turns Monzo transactions into Slack-ready notifications
package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/baely/abd/internal/monzo"
)

// Scheme is the payment rail a transaction travelled on
type Scheme string

// Known schemes
const (
	SchemeMastercard     Scheme = "mastercard"
	SchemeP2P            Scheme = "p2p_payment"
	SchemeFasterPayments Scheme = "payport_faster_payments"
	SchemeBacs           Scheme = "bacs"
	SchemePot            Scheme = "uk_retail_pot"
	SchemePostOffice     Scheme = "post_office"
	SchemeUnknown        Scheme = "unknown"
)

// ParseScheme maps a raw scheme identifier to a known Scheme.
// Anything unrecognised is SchemeUnknown.
func ParseScheme(raw string) Scheme {
	switch s := Scheme(strings.ToLower(strings.TrimSpace(raw))); s {
	case SchemeMastercard, SchemeP2P, SchemeFasterPayments, SchemeBacs, SchemePot, SchemePostOffice:
		return s
	}
	return SchemeUnknown
}

// Notification is the rendered form of a transaction. Values are returned by
// copy and never modified after Classify returns.
type Notification struct {
	Scheme   Scheme
	Name     string // display name to post as
	Emoji    string
	Icon     string // icon URL, empty when there is none
	Action   string
	Amount   string
	Sentence string
}

// PotLookup resolves a pot belonging to an account
type PotLookup interface {
	LookupPot(ctx context.Context, accountID, potID string) (monzo.Pot, error)
}

// Classifier renders transactions for one Slack user
type Classifier struct {
	pots   PotLookup
	userID string
	logger *slog.Logger
}

// New creates a Classifier. pots may be nil, in which case pot transfers use
// the generic pot name.
func New(pots PotLookup, userID string, logger *slog.Logger) *Classifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Classifier{
		pots:   pots,
		userID: userID,
		logger: logger,
	}
}

// Classify renders a transaction. It never fails: unknown schemes and failed
// enrichment lookups degrade to generic wording.
func (c *Classifier) Classify(ctx context.Context, tx monzo.Transaction) Notification {
	scheme := ParseScheme(tx.Scheme)
	f := c.derive(tx)

	render, ok := renderers[scheme]
	if !ok {
		render = renderUnknown
	}

	n := render(ctx, c, f)
	n.Scheme = scheme
	n.Amount = f.amount
	return n
}

// Screen reports transactions that must not be published: declines and
// card probes. The returned notice is meant for the operator only.
func Screen(tx monzo.Transaction) (string, bool) {
	if tx.Declined() {
		return fmt.Sprintf("Transaction declined for %s", tx.DeclineReason), true
	}
	if ParseScheme(tx.Scheme) == SchemeMastercard && strings.EqualFold(strings.TrimSpace(tx.Notes), activeCardCheck) {
		merchant := "an unknown merchant"
		if tx.Merchant != nil && tx.Merchant.Name != "" {
			merchant = tx.Merchant.Name
		}
		return fmt.Sprintf("Active card check from %s", merchant), true
	}
	return "", false
}

const activeCardCheck = "Active card check"
