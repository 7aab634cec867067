package services

import (
	"strings"
	"time"

	"notification-relay/internal/models"
)

// Canonical operations
const (
	OperationPurchase     = "purchase"
	OperationRenew        = "renew"
	OperationAutoRenewOn  = "auto_renew_on"
	OperationAutoRenewOff = "auto_renew_off"
	OperationRenewFailed  = "renew_failed"
	OperationGraceExpired = "grace_expired"
	OperationExpired      = "expired"
	OperationRevoked      = "revoked"
	OperationOther        = "other"
)

const renewalStatusChange = "DID_CHANGE_RENEWAL_STATUS"

// operationTable maps upper-cased notification types to canonical operations.
// DID_CHANGE_RENEWAL_STATUS depends on the renewal info and is resolved separately.
var operationTable = map[string]string{
	"SUBSCRIBED":           OperationPurchase,
	"DID_RENEW":            OperationRenew,
	"DID_FAIL_TO_RENEW":    OperationRenewFailed,
	"GRACE_PERIOD_EXPIRED": OperationGraceExpired,
	"EXPIRED":              OperationExpired,
	"REFUND":               OperationRevoked,
	"REVOKE":               OperationRevoked,
}

// millisecondThreshold separates millisecond from second timestamps.
// 1e12 ms is September 2001; 1e12 s is tens of thousands of years away.
const millisecondThreshold = 1_000_000_000_000

// EventNormalizer turns decoded notifications into NormalizedEvents.
type EventNormalizer struct {
	now func() time.Time
}

// NewEventNormalizer creates a normalizer stamping events with now. A nil now uses time.Now.
func NewEventNormalizer(now func() time.Time) *EventNormalizer {
	if now == nil {
		now = time.Now
	}
	return &EventNormalizer{now: now}
}

// Normalize builds the canonical event. txn and renewal may be nil.
// Missing fields default to empty values; it never fails.
func (n *EventNormalizer) Normalize(notification *models.AppStoreNotification, txn *models.TransactionInfo, renewal *models.RenewalInfo) models.NormalizedEvent {
	if notification == nil {
		notification = &models.AppStoreNotification{}
	}

	event := models.NormalizedEvent{
		GeneratedAt:      n.now().UTC().Format(time.RFC3339),
		Source:           models.EventSourceAppStore,
		Operation:        ResolveOperation(notification.NotificationType, renewal),
		Environment:      notification.Data.Environment,
		NotificationID:   notification.NotificationUUID,
		NotificationType: notification.NotificationType,
		Subtype:          notification.Subtype,
		Products:         []string{},
		Entitlements:     []models.Entitlement{},
	}

	var originalTransactionID string
	if txn != nil {
		event.TransactionID = txn.TransactionID
		event.TransactionExpiresAt = ParseExpiry(txn.ExpiresDate)
		originalTransactionID = txn.OriginalTransactionID
	}
	if originalTransactionID == "" && renewal != nil {
		originalTransactionID = renewal.OriginalTransactionID
	}

	if product := resolveProduct(txn, renewal); product != "" {
		event.Products = append(event.Products, product)
		event.Entitlements = append(event.Entitlements, models.Entitlement{
			ProductID:             product,
			OriginalTransactionID: originalTransactionID,
			ExpiresAt:             event.TransactionExpiresAt,
		})
	}

	switch {
	case txn != nil && txn.AppAccountToken != "":
		event.AppAccountToken = txn.AppAccountToken
	case renewal != nil:
		event.AppAccountToken = renewal.AppAccountToken
	}

	return event
}

// ResolveOperation maps a notification type (case-insensitive) to a canonical operation.
// Unknown types pass through lower-cased; an empty type is "other".
func ResolveOperation(notificationType string, renewal *models.RenewalInfo) string {
	code := strings.ToUpper(strings.TrimSpace(notificationType))

	if code == renewalStatusChange {
		if renewal != nil && renewal.AutoRenewStatus == "OFF" {
			return OperationAutoRenewOff
		}
		return OperationAutoRenewOn
	}
	if op, ok := operationTable[code]; ok {
		return op
	}
	if code == "" {
		return OperationOther
	}
	return strings.ToLower(code)
}

// ParseExpiry converts an epoch timestamp of unknown unit to RFC 3339 (UTC).
// Values at or above 1e12 are milliseconds, smaller ones seconds; zero or
// negative values mean no expiry and yield nil.
func ParseExpiry(value int64) *string {
	if value <= 0 {
		return nil
	}

	var t time.Time
	if value >= millisecondThreshold {
		t = time.UnixMilli(value)
	} else {
		t = time.Unix(value, 0)
	}
	formatted := t.UTC().Format(time.RFC3339)
	return &formatted
}

func resolveProduct(txn *models.TransactionInfo, renewal *models.RenewalInfo) string {
	if txn != nil && txn.ProductID != "" {
		return txn.ProductID
	}
	if renewal != nil {
		return renewal.AutoRenewProductID
	}
	return ""
}
