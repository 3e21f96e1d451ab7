// internal/domain/membership/entity.go
package membership

import (
	"time"
)

type PlanDuration string

const (
	DurationMonthly   PlanDuration = "MONTHLY"
	DurationQuarterly PlanDuration = "QUARTERLY"
	DurationYearly    PlanDuration = "YEARLY"
)

// Months returns the whole-month increment a plan duration adds to the start date.
func (d PlanDuration) Months() (int, bool) {
	switch d {
	case DurationMonthly:
		return 1, true
	case DurationQuarterly:
		return 3, true
	case DurationYearly:
		return 12, true
	default:
		return 0, false
	}
}

type Plan struct {
	ID          int64        `json:"id" db:"id"`
	Name        string       `json:"name" db:"name"`
	Description string       `json:"description,omitempty" db:"description"`
	Duration    PlanDuration `json:"duration" db:"duration"`
	Price       float64      `json:"price" db:"price"`
	Active      bool         `json:"active" db:"active"`
	Version     int64        `json:"-" db:"version"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at" db:"updated_at"`
}

type Tier struct {
	ID             int64     `json:"id" db:"id"`
	Name           string    `json:"name" db:"name"`
	Description    string    `json:"description,omitempty" db:"description"`
	Level          int       `json:"level" db:"tier_level"`
	MinOrderCount  int       `json:"min_order_count" db:"min_order_count"`
	MinOrderValue  float64   `json:"min_order_value" db:"min_order_value"`
	RequiredCohort *string   `json:"required_cohort,omitempty" db:"required_cohort"`
	Active         bool      `json:"active" db:"active"`
	Version        int64     `json:"-" db:"version"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
	UpdatedAt      time.Time `json:"updated_at" db:"updated_at"`

	// Loaded separately; not part of the tier row.
	Benefits []*TierBenefit `json:"benefits,omitempty" db:"-"`
}

// Qualifies reports whether the given activity and cohort meet every threshold of the tier.
func (t *Tier) Qualifies(orderCount int, orderValue float64, cohort string) bool {
	if !t.Active {
		return false
	}
	if t.MinOrderCount > orderCount || t.MinOrderValue > orderValue {
		return false
	}
	if t.RequiredCohort == nil {
		return true
	}
	// A user without a cohort only qualifies for unrestricted tiers.
	return cohort != "" && *t.RequiredCohort == cohort
}

type BenefitType string

const (
	BenefitDiscount        BenefitType = "DISCOUNT"
	BenefitFreeDelivery    BenefitType = "FREE_DELIVERY"
	BenefitPrioritySupport BenefitType = "PRIORITY_SUPPORT"
	BenefitEarlyAccess     BenefitType = "EARLY_ACCESS"
	BenefitCashback        BenefitType = "CASHBACK"
)

type TierBenefit struct {
	ID                   int64       `json:"id" db:"id"`
	TierID               int64       `json:"tier_id" db:"tier_id"`
	Type                 BenefitType `json:"benefit_type" db:"benefit_type"`
	Description          string      `json:"description,omitempty" db:"description"`
	DiscountPercentage   *float64    `json:"discount_percentage,omitempty" db:"discount_percentage"`
	ApplicableCategories []string    `json:"applicable_categories,omitempty" db:"applicable_categories"`
	Active               bool        `json:"active" db:"active"`
}

// User is the slice of the account the membership core needs.
type User struct {
	ID     int64  `json:"id" db:"id"`
	Cohort string `json:"cohort,omitempty" db:"cohort"`
}

type Subscription struct {
	ID              int64              `json:"id" db:"id"`
	Reference       string             `json:"reference" db:"reference"`
	UserID          int64              `json:"user_id" db:"user_id"`
	PlanID          int64              `json:"plan_id" db:"plan_id"`
	TierID          int64              `json:"tier_id" db:"tier_id"`
	Status          SubscriptionStatus `json:"status" db:"status"`
	StartDate       time.Time          `json:"start_date" db:"start_date"`
	ExpiryDate      time.Time          `json:"expiry_date" db:"expiry_date"`
	PaidAmount      float64            `json:"paid_amount" db:"paid_amount"`
	OrderCount      int                `json:"order_count" db:"order_count"`
	TotalOrderValue float64            `json:"total_order_value" db:"total_order_value"`
	Version         int64              `json:"version" db:"version"`
	CreatedAt       time.Time          `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time          `json:"updated_at" db:"updated_at"`
}

// IsCurrent reports whether the subscription is ACTIVE and not yet past its expiry at now.
func (s *Subscription) IsCurrent(now time.Time) bool {
	return s.Status == StatusActive && s.ExpiryDate.After(now)
}

// Clone returns a copy safe to mutate without touching the original.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
