package models

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusPending      SubscriptionStatus = "pending"
	StatusConfirmed    SubscriptionStatus = "confirmed"
	StatusUnsubscribed SubscriptionStatus = "unsubscribed"
)

// TokenIntent says which operation the currently stored token authorizes.
type TokenIntent string

const (
	IntentVerify      TokenIntent = "verify"
	IntentUnsubscribe TokenIntent = "unsubscribe"
	// IntentNone is stored when no action is awaiting confirmation.
	IntentNone TokenIntent = ""
)

// SubscriptionModel is one double-opt-in subscription per email address.
//
// Token is present iff an action is awaiting confirmation: a pending record
// carries a verify token, a confirmed record carries a standing unsubscribe
// token. Tokens are single-use; every transition that consumes one replaces or
// clears it in the same conditional update.
type SubscriptionModel struct {
	Base
	Email       string             `json:"email"  gorm:"uniqueIndex;size:191;not null"`
	Status      SubscriptionStatus `json:"status" gorm:"size:16;not null;default:pending;index"`
	Token       string             `json:"-"      gorm:"size:64;index"`
	TokenIntent TokenIntent        `json:"-"      gorm:"size:16"`
}

func (SubscriptionModel) TableName() string { return "subscriptions" }
