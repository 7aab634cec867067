package models

// AppStoreNotificationWrapper represents the outer wrapper of App Store Server Notification V2
// Apple sends notifications as a JWS in the signedPayload field
type AppStoreNotificationWrapper struct {
	SignedPayload string `json:"signedPayload"` // JWS containing the actual notification
}

// AppStoreNotification represents App Store Server Notification V2
// This is the decoded content from the signedPayload JWS
// Apple uses camelCase for field names
type AppStoreNotification struct {
	NotificationType string           `mapstructure:"notificationType"` // e.g., "SUBSCRIBED", "DID_RENEW"
	Subtype          string           `mapstructure:"subtype"`          // Optional subtype
	NotificationUUID string           `mapstructure:"notificationUUID"` // Unique notification ID
	Version          string           `mapstructure:"version"`          // Notification format version
	SignedDate       int64            `mapstructure:"signedDate"`       // Timestamp when notification was signed
	Data             NotificationData `mapstructure:"data"`             // Notification data payload
}

// NotificationData contains notification data
type NotificationData struct {
	AppAppleID            int64  `mapstructure:"appAppleId"`            // Apple App ID
	BundleID              string `mapstructure:"bundleId"`              // App bundle identifier
	BundleVersion         string `mapstructure:"bundleVersion"`         // App version
	Environment           string `mapstructure:"environment"`           // "Sandbox" or "Production"
	SignedTransactionInfo string `mapstructure:"signedTransactionInfo"` // JWS containing transaction info
	SignedRenewalInfo     string `mapstructure:"signedRenewalInfo"`     // JWS containing renewal info
}

// TransactionInfo represents decoded transaction information
type TransactionInfo struct {
	TransactionID         string `mapstructure:"transactionId"`
	OriginalTransactionID string `mapstructure:"originalTransactionId"`
	ProductID             string `mapstructure:"productId"`
	PurchaseDate          int64  `mapstructure:"purchaseDate"`
	ExpiresDate           int64  `mapstructure:"expiresDate"` // seconds or milliseconds, see services.ParseExpiry
	AppAccountToken       string `mapstructure:"appAccountToken"`
	Environment           string `mapstructure:"environment"`
}

// RenewalInfo represents decoded renewal information
type RenewalInfo struct {
	OriginalTransactionID  string `mapstructure:"originalTransactionId"`
	ProductID              string `mapstructure:"productId"`
	AutoRenewProductID     string `mapstructure:"autoRenewProductId"`
	AutoRenewStatus        string `mapstructure:"autoRenewStatus"` // "OFF" disables renewal, numbers are kept as their decimal text
	AppAccountToken        string `mapstructure:"appAccountToken"`
	Environment            string `mapstructure:"environment"`
	RenewalDate            int64  `mapstructure:"renewalDate"`
	GracePeriodExpiresDate int64  `mapstructure:"gracePeriodExpiresDate"`
}
