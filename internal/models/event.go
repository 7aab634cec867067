package models

// EventSourceAppStore tags events produced from App Store notifications.
const EventSourceAppStore = "app_store"

// NormalizedEvent is the vendor-neutral record relayed downstream.
// Every key is always present so the downstream schema stays stable.
type NormalizedEvent struct {
	GeneratedAt          string        `json:"generated_at"`
	Source               string        `json:"source"`
	Operation            string        `json:"operation"`
	Environment          string        `json:"environment"`
	NotificationID       string        `json:"notification_id"`
	NotificationType     string        `json:"notification_type"`
	Subtype              string        `json:"subtype"`
	TransactionID        string        `json:"transaction_id"`
	TransactionExpiresAt *string       `json:"transaction_expires_at"` // ISO 8601 or null
	Products             []string      `json:"products"`
	Entitlements         []Entitlement `json:"entitlements"`
	AppAccountToken      string        `json:"app_account_token"`
}

// Entitlement is a single product grant carried by a NormalizedEvent.
type Entitlement struct {
	ProductID             string  `json:"product_id"`
	OriginalTransactionID string  `json:"original_transaction_id"`
	ExpiresAt             *string `json:"expires_at"`
}
