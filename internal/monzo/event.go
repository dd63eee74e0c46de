// Package monzo talks to the Monzo banking API on behalf of a single account
package monzo

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventTransactionCreated is the only webhook event type Monzo sends today
const EventTransactionCreated = "transaction.created"

// WebhookEvent is the envelope Monzo posts to registered webhooks
type WebhookEvent struct {
	Type string      `json:"type"`
	Data Transaction `json:"data"`
}

// Transaction represents a Monzo transaction as delivered by a webhook.
// Amounts are signed minor units; negative is money leaving the account.
type Transaction struct {
	ID            string    `json:"id"`
	AccountID     string    `json:"account_id"`
	Created       time.Time `json:"created"`
	Description   string    `json:"description"`
	Scheme        string    `json:"scheme"`
	LocalAmount   int64     `json:"local_amount"`
	LocalCurrency string    `json:"local_currency"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	Category      string    `json:"category"`
	Merchant      *Merchant `json:"merchant"`
	Metadata      Metadata  `json:"metadata"`
	DeclineReason string    `json:"decline_reason"`
	Notes         string    `json:"notes"`
}

// Merchant represents a merchant in a Monzo transaction
type Merchant struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Logo     string  `json:"logo"`
	Emoji    string  `json:"emoji"`
	Category string  `json:"category"`
	Address  Address `json:"address"`
}

// Address is a merchant location
type Address struct {
	Address  string `json:"address"`
	City     string `json:"city"`
	Country  string `json:"country"`
	Postcode string `json:"postcode"`
}

// Metadata holds the free-form key/value pairs Monzo attaches to a transaction
type Metadata struct {
	PotID string `json:"pot_id"`
}

// Declined reports whether Monzo declined the transaction
func (t Transaction) Declined() bool {
	return t.DeclineReason != ""
}

// String renders a compact single-line dump, used in operator threads
func (t Transaction) String() string {
	b, err := json.Marshal(t)
	if err != nil {
		return fmt.Sprintf("transaction %s", t.ID)
	}
	return string(b)
}

// Pot is a Monzo savings pot
type Pot struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Style    string `json:"style"`
	Balance  int64  `json:"balance"`
	Currency string `json:"currency"`
	Deleted  bool   `json:"deleted"`
}

// Webhook is a registered webhook for an account
type Webhook struct {
	ID        string `json:"id"`
	AccountID string `json:"account_id"`
	URL       string `json:"url"`
}

// Session is the token set obtained from the OAuth exchange. It is replaced as
// a whole; fields are never updated independently.
type Session struct {
	AccessToken  string
	RefreshToken string
	Expiry       time.Time
	AccountID    string
}
