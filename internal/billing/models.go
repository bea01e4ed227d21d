package billing

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"voice-agent-platform/internal/quota"
)

// Event is a payment provider webhook body (Flutterwave shape).
// Timestamp is the send time in Unix milliseconds.
type Event struct {
	ID        json.Number `json:"id,omitempty"`
	Event     string      `json:"event"`
	Type      string      `json:"type,omitempty"`
	Timestamp *int64      `json:"timestamp,omitempty"`
	Data      Charge      `json:"data"`
}

type Charge struct {
	ID       json.Number `json:"id"`
	TxRef    string      `json:"tx_ref"`
	FlwRef   string      `json:"flw_ref,omitempty"`
	Amount   float64     `json:"amount"`
	Currency string      `json:"currency"`
	Status   string      `json:"status"`
	Customer Customer    `json:"customer"`
}

type Customer struct {
	ID    json.Number `json:"id,omitempty"`
	Email string      `json:"email,omitempty"`
	Name  string      `json:"name,omitempty"`
}

const (
	EventChargeCompleted = "charge.completed"
	ChargeSuccessful     = "successful"
)

// Kind is the event name, accepting both "event" and "type" keys.
func (e Event) Kind() string {
	if e.Event != "" {
		return e.Event
	}
	return e.Type
}

// Key identifies the delivery for idempotency: the event id when present,
// otherwise the transaction id qualified by the event name.
func (e Event) Key() string {
	if id := e.ID.String(); id != "" {
		return id
	}
	if id := e.Data.ID.String(); id != "" {
		return e.Kind() + ":" + id
	}
	return e.Kind() + ":" + e.Data.TxRef
}

// ParseEvent decodes a raw webhook body. Numbers are kept as json.Number so
// ids are not rounded through float64.
func ParseEvent(raw []byte) (Event, error) {
	var ev Event
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return Event{}, err
	}
	if ev.Kind() == "" {
		return Event{}, errors.New("billing: event name missing")
	}
	return ev, nil
}

// Outcome is reported back to the provider as {"status": outcome}.
type Outcome string

const (
	OutcomeSuccess              Outcome = "success"
	OutcomeIgnored              Outcome = "ignored"
	OutcomeDuplicate            Outcome = "duplicate"
	OutcomePaymentFailed        Outcome = "payment_failed"
	OutcomeSubscriptionNotFound Outcome = "subscription_not_found"
	OutcomeAmountMismatch       Outcome = "amount_mismatch"
)

type SubscriptionStatus string

const (
	SubscriptionPending SubscriptionStatus = "pending"
	SubscriptionActive  SubscriptionStatus = "active"
	SubscriptionFailed  SubscriptionStatus = "failed"
)

// Subscription is created pending when a tenant starts checkout and is keyed
// by the tx_ref handed to the payment provider.
type Subscription struct {
	ID            string             `json:"id" db:"id"`
	TenantID      string             `json:"tenant_id" db:"tenant_id"`
	Plan          quota.Plan         `json:"plan" db:"plan"`
	Status        SubscriptionStatus `json:"status" db:"status"`
	TxRef         string             `json:"tx_ref" db:"tx_ref"`
	TransactionID string             `json:"transaction_id,omitempty" db:"transaction_id"`
	CustomerID    string             `json:"customer_id,omitempty" db:"customer_id"`

	CurrentPeriodStart *time.Time `json:"current_period_start,omitempty" db:"current_period_start"`
	CurrentPeriodEnd   *time.Time `json:"current_period_end,omitempty" db:"current_period_end"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// BillingPeriod is the length of one paid cycle.
const BillingPeriod = 30 * 24 * time.Hour

var ErrNotFound = errors.New("billing: subscription not found")
