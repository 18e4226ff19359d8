package crm

import (
	"strconv"
	"strings"
	"time"

	"github.com/tbourn/chatdys-backend/internal/domain"
	"github.com/tbourn/chatdys-backend/internal/sysutil"
)

// Lifecycle and lead status values written to contacts.
const (
	LifecycleLead     = "lead"
	LifecycleCustomer = "customer"
	LeadStatusNew     = "NEW"
	LeadStatusOpen    = "OPEN"
)

// ContactProperties maps an account onto the HubSpot contact property set.
// Custom chatdys_* properties must exist in the HubSpot portal.
func ContactProperties(a *domain.Account) map[string]string {
	lifecycle := LifecycleLead
	if a.IsPremium {
		lifecycle = LifecycleCustomer
	}
	lead := LeadStatusNew
	if a.ProfileCompleted {
		lead = LeadStatusOpen
	}

	props := map[string]string{
		"firstname":                    sysutil.FirstNonEmpty(a.FirstName, a.GivenName),
		"lastname":                     sysutil.FirstNonEmpty(a.LastName, a.FamilyName),
		"phone":                        a.PhoneNumber,
		"city":                         a.Location,
		"lifecyclestage":               lifecycle,
		"hs_lead_status":               lead,
		"chatdys_user_id":              a.ID,
		"chatdys_auth0_sub":            a.Auth0Sub,
		"chatdys_signup_date":          isoTime(&a.CreatedAt),
		"chatdys_last_login":           isoTime(a.LastLogin),
		"chatdys_login_count":          strconv.Itoa(a.LoginCount),
		"chatdys_question_count":       strconv.Itoa(a.QuestionCount),
		"chatdys_daily_question_count": strconv.Itoa(a.DailyQuestionCount),
		"chatdys_is_premium":           strconv.FormatBool(a.IsPremium),
		"chatdys_subscription_status":  a.SubscriptionStatus,
		"chatdys_profile_completed":    strconv.FormatBool(a.ProfileCompleted),
		"chatdys_onboarding_completed": strconv.FormatBool(a.OnboardingCompleted),
	}
	if len(a.Conditions) > 0 {
		props["chatdys_health_conditions"] = strings.Join(a.Conditions, ", ")
	}
	if a.HowHeardAboutUs != "" {
		props["how_did_you_hear_about_us"] = a.HowHeardAboutUs
	}
	return props
}

func isoTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

