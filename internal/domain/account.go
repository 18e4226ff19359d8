package domain

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Subscription status values stored in Account.SubscriptionStatus.
const (
	StatusFree     = "free"
	StatusActive   = "active"
	StatusPastDue  = "past_due"
	StatusCanceled = "canceled"
	StatusExpired  = "expired"
	StatusUnpaid   = "unpaid"
)

// DayLayout is the calendar-day key format stored in Account.LastQuestionDay.
const DayLayout = "2006-01-02"

// Account is the per-user record of identity, usage counters and subscription
// state. One row exists per identity subject; rows are soft-deleted only.
//
// Fields:
//   - ID: identity subject with the provider prefix stripped (primary key).
//   - Auth0Sub: the raw subject as issued by the identity provider (unique).
//   - QuestionCount: lifetime questions, never decreases.
//   - DailyQuestionCount: questions asked on LastQuestionDay.
//   - LastQuestionDate / LastQuestionDay: instant and calendar day (quota time
//     zone) of the last accepted question; the day key drives rollover.
//   - TotalConversations: conversations that received at least one exchange.
//   - IsPremium / SubscriptionStatus / SubscriptionID / PremiumExpiresAt:
//     plan state maintained by billing events and lazy expiry.
//   - BillingEventAt: provider timestamp of the last applied billing event.
//   - Version: bumped by every compare-and-set write.
//   - HubSpot*: CRM bookkeeping written by the sync recorder.
type Account struct {
	ID       string `json:"id"        gorm:"type:varchar(128);primaryKey"`
	Auth0Sub string `json:"auth0_sub" gorm:"type:varchar(191);not null;uniqueIndex"`

	Email         string `json:"email"          gorm:"type:varchar(255);index"`
	EmailVerified bool   `json:"email_verified" gorm:"not null;default:false"`
	Name          string `json:"name"           gorm:"type:varchar(255)"`
	GivenName     string `json:"given_name"     gorm:"type:varchar(255)"`
	FamilyName    string `json:"family_name"    gorm:"type:varchar(255)"`
	Nickname      string `json:"nickname"       gorm:"type:varchar(255)"`
	Picture       string `json:"picture"        gorm:"type:text"`

	FirstName            string                      `json:"first_name"`
	LastName             string                      `json:"last_name"`
	PhoneNumber          string                      `json:"phone_number"`
	Location             string                      `json:"location"`
	HowHeardAboutUs      string                      `json:"how_heard_about_us"`
	Age                  *int                        `json:"age,omitempty"`
	Conditions           datatypes.JSONSlice[string] `json:"conditions"`
	Symptoms             datatypes.JSONSlice[string] `json:"symptoms"`
	Medications          datatypes.JSONSlice[string] `json:"medications"`
	Preferences          datatypes.JSONMap           `json:"preferences"`
	NotificationSettings datatypes.JSONMap           `json:"notification_settings"`
	ProfileCompleted     bool                        `json:"profile_completed"    gorm:"not null;default:false"`
	OnboardingCompleted  bool                        `json:"onboarding_completed" gorm:"not null;default:false"`

	FirstLogin *time.Time `json:"first_login,omitempty"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	LoginCount int        `json:"login_count" gorm:"not null;default:0"`

	QuestionCount      int        `json:"question_count"       gorm:"not null;default:0"`
	DailyQuestionCount int        `json:"daily_question_count" gorm:"not null;default:0"`
	LastQuestionDate   *time.Time `json:"last_question_date,omitempty"`
	LastQuestionDay    string     `json:"-"                    gorm:"type:varchar(10);not null;default:''"`
	TotalConversations int        `json:"total_conversations"  gorm:"not null;default:0"`

	IsPremium          bool       `json:"is_premium"          gorm:"not null;default:false"`
	SubscriptionStatus string     `json:"subscription_status" gorm:"type:varchar(16);not null;default:'free'"`
	SubscriptionID     *string    `json:"subscription_id,omitempty" gorm:"type:varchar(255);uniqueIndex"`
	PremiumExpiresAt   *time.Time `json:"premium_expires_at,omitempty"`
	StripeCustomerID   string     `json:"-" gorm:"type:varchar(255);index"`
	BillingEventAt     *time.Time `json:"-"`

	HubSpotContactID string     `json:"-" gorm:"column:hubspot_contact_id;type:varchar(64)"`
	HubSpotSynced    bool       `json:"-" gorm:"column:hubspot_synced;not null;default:false"`
	HubSpotLastSync  *time.Time `json:"-" gorm:"column:hubspot_last_sync"`

	IsActive  bool           `json:"is_active" gorm:"not null;default:true"`
	Version   int64          `json:"-"         gorm:"not null;default:0"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `json:"-" gorm:"index"`
}

// TableName returns the database table name for Account.
func (Account) TableName() string { return "users" }

// DisplayName picks the best available human name for the account.
func (a *Account) DisplayName() string {
	switch {
	case a.FirstName != "" && a.LastName != "":
		return a.FirstName + " " + a.LastName
	case a.Name != "":
		return a.Name
	case a.GivenName != "":
		return a.GivenName
	default:
		return a.Nickname
	}
}
