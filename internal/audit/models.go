package audit

import "time"

// Event is one append-only audit record. Payment outcomes, rejected webhook
// deliveries and dev token issuance land here; nothing is ever updated.
type Event struct {
	ID       string `json:"id" db:"id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`

	Type EventType `json:"type" db:"type"`

	// Actor fields are empty for provider-originated events.
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`
	ActorRole   string `json:"actor_role,omitempty" db:"actor_role"`

	IPAddress string `json:"ip_address,omitempty" db:"ip_address"`

	// ExternalRef identifies the upstream object: payment tx_ref, provider event id.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	Message string `json:"message,omitempty" db:"message"`
	// Metadata is a JSON object, stored as jsonb.
	Metadata string `json:"metadata,omitempty" db:"metadata"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypePaymentSucceeded EventType = "payment_succeeded"
	EventTypePaymentFailed    EventType = "payment_failed"
	EventTypePaymentMismatch  EventType = "payment_amount_mismatch"
	EventTypeWebhookRejected  EventType = "webhook_rejected"
	EventTypeTokenIssued      EventType = "dev_token_issued"
)

// SystemTenant owns events that cannot be attributed to a tenant, such as
// rejected webhook deliveries.
const SystemTenant = "system"
