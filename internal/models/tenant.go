package models

import (
	"sort"
	"strings"
)

// Plan is a subscription plan
type Plan string

const (
	PlanFree     Plan = "free"
	PlanStarter  Plan = "starter"
	PlanStandard Plan = "standard"
	PlanPro      Plan = "pro"
)

// Plans lists every known plan from cheapest to most expensive.
var Plans = []Plan{PlanFree, PlanStarter, PlanStandard, PlanPro}

// ParsePlan normalizes a stored plan name. Unknown names map to free.
func ParsePlan(s string) Plan {
	switch p := Plan(strings.ToLower(strings.TrimSpace(s))); p {
	case PlanFree, PlanStarter, PlanStandard, PlanPro:
		return p
	}
	return PlanFree
}

// SubscriptionStatus mirrors the billing provider's subscription state
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "active"
	SubscriptionTrialing   SubscriptionStatus = "trialing"
	SubscriptionPastDue    SubscriptionStatus = "past_due"
	SubscriptionCanceled   SubscriptionStatus = "canceled"
	SubscriptionIncomplete SubscriptionStatus = "incomplete"
	SubscriptionNone       SubscriptionStatus = ""
)

// ProfileCollection holds one TenantProfile document per user.
const ProfileCollection = "userProfiles"

// AdminGroup is the group membership granting the administrative role.
const AdminGroup = "system-admin"

// legacyAdminRoles are values of the old single "role" field that still grant admin.
var legacyAdminRoles = map[string]bool{"god": true, "admin": true}

// TenantProfile is the billing view of a user profile
type TenantProfile struct {
	ID                 string             `json:"id"`
	Plan               Plan               `json:"plan"`
	SubscriptionStatus SubscriptionStatus `json:"subscriptionStatus"`
	Groups             []string           `json:"groups,omitempty"`
	Role               string             `json:"role,omitempty"`
}

// IsAdmin reports whether the profile carries the administrative role.
func (p *TenantProfile) IsAdmin() bool {
	for _, g := range p.Groups {
		if g == AdminGroup {
			return true
		}
	}
	return legacyAdminRoles[strings.ToLower(p.Role)]
}

// HasPaidAccess reports whether the subscription is active or trialing.
func (p *TenantProfile) HasPaidAccess() bool {
	return p.SubscriptionStatus == SubscriptionActive || p.SubscriptionStatus == SubscriptionTrialing
}

// ProfileFromDocument decodes a userProfiles document.
//
// Groups are stored either as a list of names or as a map of name to bool.
func ProfileFromDocument(doc *Document) *TenantProfile {
	p := &TenantProfile{
		ID:                 doc.ID,
		Plan:               ParsePlan(doc.Data.String("plan")),
		SubscriptionStatus: SubscriptionStatus(strings.ToLower(doc.Data.String("subscriptionStatus"))),
		Role:               doc.Data.String("role"),
	}

	if raw, ok := doc.Data.Lookup("groups"); ok {
		switch g := raw.(type) {
		case []interface{}:
			for _, v := range g {
				if s, ok := v.(string); ok {
					p.Groups = append(p.Groups, s)
				}
			}
		case []string:
			p.Groups = append(p.Groups, g...)
		case map[string]interface{}:
			for name, v := range g {
				if b, ok := v.(bool); ok && b {
					p.Groups = append(p.Groups, name)
				}
			}
			sort.Strings(p.Groups)
		}
	}

	return p
}
