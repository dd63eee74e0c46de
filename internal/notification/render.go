package notification

import (
	"context"
	"fmt"
	"strings"

	"github.com/baely/abd/internal/monzo"
)

const (
	defaultEmoji      = ":ac--item-bellcoin:"
	defaultMerchant   = "Mystery Place"
	defaultPotName    = "Savings Pot"
	defaultSchemeName = "Monzo"
	defaultCurrency   = "GBP"
)

// facts are the scheme-independent values every renderer shares. They are
// derived once per transaction.
type facts struct {
	tx       monzo.Transaction
	raw      int64
	outgoing bool
	amount   string
	mention  string

	hasMerchant  bool
	merchantName string
	logo         string
	emoji        string

	region   string
	category string
}

func (c *Classifier) derive(tx monzo.Transaction) facts {
	f := facts{
		tx:       tx,
		raw:      tx.LocalAmount,
		amount:   formatTransactionAmount(tx),
		mention:  fmt.Sprintf("<@%s>", c.userID),
		category: title(tx.Category),
	}
	if tx.LocalCurrency == "" {
		f.raw = tx.Amount
	}
	f.outgoing = f.raw < 0

	if m := tx.Merchant; m != nil {
		f.hasMerchant = m.Name != ""
		f.merchantName = m.Name
		f.logo = m.Logo
		f.emoji = m.Emoji

		city := title(m.Address.City)
		country := title(m.Address.Country)
		switch {
		case city != "" && country != "":
			f.region = fmt.Sprintf(" in %s, %s", city, country)
		case city != "":
			f.region = " in " + city
		}
	}

	return f
}

// formatTransactionAmount shows the local amount, followed by the settled
// amount in parentheses when the currencies differ
func formatTransactionAmount(tx monzo.Transaction) string {
	local, localCurrency := tx.LocalAmount, tx.LocalCurrency
	if localCurrency == "" {
		local, localCurrency = tx.Amount, tx.Currency
	}
	if localCurrency == "" {
		localCurrency = defaultCurrency
	}

	s := FormatAmount(local, localCurrency)
	if tx.Currency != "" && !strings.EqualFold(tx.Currency, localCurrency) {
		s = fmt.Sprintf("%s (%s)", s, FormatAmount(tx.Amount, tx.Currency))
	}
	return s
}

func (f facts) emojiOr(fallback string) string {
	if f.emoji != "" {
		return f.emoji
	}
	return fallback
}

func (f facts) sentOrReceived() string {
	if f.outgoing {
		return "sent"
	}
	return "received"
}

func (f facts) counterpart() string {
	if f.outgoing {
		return "to a greedy person"
	}
	return "from a kind person"
}

type renderFunc func(ctx context.Context, c *Classifier, f facts) Notification

var renderers = map[Scheme]renderFunc{
	SchemeMastercard:     renderCard,
	SchemeP2P:            renderP2P,
	SchemeFasterPayments: renderTransfer("Faster Payments", ":money_tub:"),
	SchemeBacs:           renderTransfer("Bacs", ":money_with_wings:"),
	SchemePot:            renderPot,
	SchemePostOffice:     renderPostOffice,
	SchemeUnknown:        renderUnknown,
}

func renderCard(_ context.Context, _ *Classifier, f facts) Notification {
	action := "spent"
	if !f.outgoing {
		action = "received"
	}
	name := defaultMerchant
	if f.hasMerchant {
		name = f.merchantName
	}
	category := ""
	if f.category != "" {
		category = " on " + f.category
	}
	emoji := f.emojiOr(defaultEmoji)

	return Notification{
		Name:     name,
		Emoji:    emoji,
		Icon:     f.logo,
		Action:   action,
		Sentence: fmt.Sprintf("%s %s %s *%s*%s%s", emoji, f.mention, action, f.amount, f.region, category),
	}
}

func renderP2P(_ context.Context, _ *Classifier, f facts) Notification {
	emoji := f.emojiOr(defaultEmoji)
	action := f.sentOrReceived()

	return Notification{
		Name:     "Monzo Transfer",
		Emoji:    emoji,
		Action:   action,
		Sentence: fmt.Sprintf("%s %s %s *%s* %s through :monzo-pride: Monzo", emoji, f.mention, action, f.amount, f.counterpart()),
	}
}

// renderTransfer covers the UK bank rails, which only differ in name and emoji
func renderTransfer(name, fallbackEmoji string) renderFunc {
	return func(_ context.Context, _ *Classifier, f facts) Notification {
		emoji := f.emojiOr(fallbackEmoji)
		action := f.sentOrReceived()

		return Notification{
			Name:     name,
			Emoji:    emoji,
			Action:   action,
			Sentence: fmt.Sprintf("%s %s %s *%s* %s in the :flag-gb: UK", emoji, f.mention, action, f.amount, f.counterpart()),
		}
	}
}

func renderPot(ctx context.Context, c *Classifier, f facts) Notification {
	name := defaultPotName
	if potID := f.tx.Metadata.PotID; c.pots != nil && potID != "" {
		pot, err := c.pots.LookupPot(ctx, f.tx.AccountID, potID)
		switch {
		case err != nil:
			c.logger.Warn("Pot lookup failed, using generic name", "pot_id", potID, "error", err)
		case pot.Name != "":
			name = pot.Name
		}
	}

	direction := "out of"
	if f.outgoing {
		direction = "into"
	}
	emoji := f.emojiOr(":moneybag:")

	return Notification{
		Name:     name,
		Emoji:    emoji,
		Action:   "moved",
		Sentence: fmt.Sprintf("%s %s moved *%s* %s %s", emoji, f.mention, f.amount, direction, name),
	}
}

func renderPostOffice(_ context.Context, _ *Classifier, f facts) Notification {
	action, direction := "deposited", "into"
	if f.outgoing {
		action, direction = "withdrew", "from"
	}
	emoji := f.emojiOr(":atm:")

	return Notification{
		Name:     "Post Office",
		Emoji:    emoji,
		Action:   action,
		Sentence: fmt.Sprintf("%s %s %s *%s* %s their account at the :post_office: Post Office", emoji, f.mention, action, f.amount, direction),
	}
}

func renderUnknown(_ context.Context, _ *Classifier, f facts) Notification {
	scheme := title(f.tx.Scheme)
	if scheme == "" {
		scheme = defaultSchemeName
	}
	emoji := f.emojiOr(defaultEmoji)
	action := f.sentOrReceived()

	return Notification{
		Name:     scheme + " Transaction",
		Emoji:    emoji,
		Action:   action,
		Sentence: fmt.Sprintf("%s %s %s *%s* %s", emoji, f.mention, action, f.amount, f.counterpart()),
	}
}
