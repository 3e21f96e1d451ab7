package membership

import "time"

// SubscribeRequest starts a new subscription for the authenticated user.
type SubscribeRequest struct {
	PlanID int64 `json:"plan_id" binding:"required,gt=0"`
	TierID int64 `json:"tier_id" binding:"required,gt=0"`
}

type ChangeTierRequest struct {
	NewTierID int64 `json:"new_tier_id" binding:"required,gt=0"`
}

// RecordOrderRequest carries the value of one completed order.
// Positivity is enforced by the lifecycle engine, not the binding.
type RecordOrderRequest struct {
	OrderValue float64 `json:"order_value" binding:"required"`
}

type PlanResponse struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	Duration    PlanDuration `json:"duration"`
	Price       float64      `json:"price"`
	Active      bool         `json:"active"`
}

type TierBenefitResponse struct {
	ID                   int64       `json:"id"`
	Type                 BenefitType `json:"benefit_type"`
	Description          string      `json:"description,omitempty"`
	DiscountPercentage   *float64    `json:"discount_percentage,omitempty"`
	ApplicableCategories []string    `json:"applicable_categories,omitempty"`
}

type TierResponse struct {
	ID             int64                  `json:"id"`
	Name           string                 `json:"name"`
	Description    string                 `json:"description,omitempty"`
	Level          int                    `json:"tier_level"`
	MinOrderCount  int                    `json:"min_order_count"`
	MinOrderValue  float64                `json:"min_order_value"`
	RequiredCohort *string                `json:"required_cohort,omitempty"`
	Active         bool                   `json:"active"`
	Benefits       []*TierBenefitResponse `json:"benefits"`
}

type SubscriptionResponse struct {
	ID              int64              `json:"id"`
	Reference       string             `json:"reference"`
	UserID          int64              `json:"user_id"`
	Plan            *PlanResponse      `json:"plan,omitempty"`
	Tier            *TierResponse      `json:"tier,omitempty"`
	Status          SubscriptionStatus `json:"status"`
	StartDate       time.Time          `json:"start_date"`
	ExpiryDate      time.Time          `json:"expiry_date"`
	PaidAmount      float64            `json:"paid_amount"`
	OrderCount      int                `json:"order_count"`
	TotalOrderValue float64            `json:"total_order_value"`
	CreatedAt       time.Time          `json:"created_at"`
}

// SweepResult summarizes one expiry pass.
type SweepResult struct {
	Scanned   int `json:"scanned"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

func NewPlanResponse(p *Plan) *PlanResponse {
	if p == nil {
		return nil
	}
	return &PlanResponse{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Duration:    p.Duration,
		Price:       p.Price,
		Active:      p.Active,
	}
}

func NewTierResponse(t *Tier) *TierResponse {
	if t == nil {
		return nil
	}
	resp := &TierResponse{
		ID:             t.ID,
		Name:           t.Name,
		Description:    t.Description,
		Level:          t.Level,
		MinOrderCount:  t.MinOrderCount,
		MinOrderValue:  t.MinOrderValue,
		RequiredCohort: t.RequiredCohort,
		Active:         t.Active,
		Benefits:       make([]*TierBenefitResponse, 0, len(t.Benefits)),
	}
	for _, b := range t.Benefits {
		if !b.Active {
			continue
		}
		resp.Benefits = append(resp.Benefits, &TierBenefitResponse{
			ID:                   b.ID,
			Type:                 b.Type,
			Description:          b.Description,
			DiscountPercentage:   b.DiscountPercentage,
			ApplicableCategories: b.ApplicableCategories,
		})
	}
	return resp
}

// NewSubscriptionResponse shapes a subscription with its plan and tier, either of which may be nil.
func NewSubscriptionResponse(s *Subscription, plan *Plan, tier *Tier) *SubscriptionResponse {
	return &SubscriptionResponse{
		ID:              s.ID,
		Reference:       s.Reference,
		UserID:          s.UserID,
		Plan:            NewPlanResponse(plan),
		Tier:            NewTierResponse(tier),
		Status:          s.Status,
		StartDate:       s.StartDate,
		ExpiryDate:      s.ExpiryDate,
		PaidAmount:      s.PaidAmount,
		OrderCount:      s.OrderCount,
		TotalOrderValue: s.TotalOrderValue,
		CreatedAt:       s.CreatedAt,
	}
}
