package domain

// Cart is the ordered list of purchased line items captured at checkout time.
type Cart struct {
	Items     []CartItem `json:"items" validate:"omitempty,dive"`
	PromoCode string     `json:"promo_code,omitempty"`
}

// CartItem is a single purchased line.
type CartItem struct {
	ProductID string `json:"id" validate:"required"`
	VariantID string `json:"variant_id,omitempty"`
	Title     string `json:"title,omitempty"`
	Qty       int    `json:"qty" validate:"min=1"`

	// DurationDays is the explicit license duration for this line, if any.
	// Falls back to VariantDurationDays, then ProductDurationDays.
	DurationDays        float64 `json:"duration_days,omitempty"`
	VariantDurationDays float64 `json:"variant_duration_days,omitempty"`
	ProductDurationDays float64 `json:"product_duration_days,omitempty"`
}

// ResolvedDuration returns the effective license duration for the line:
// explicit cart duration, else variant duration, else product duration.
func (it CartItem) ResolvedDuration() float64 {
	if it.DurationDays > 0 {
		return it.DurationDays
	}
	if it.VariantDurationDays > 0 {
		return it.VariantDurationDays
	}
	return it.ProductDurationDays
}

// NeedsKey reports whether this line qualifies for license key issuance.
// A line qualifies iff its resolved duration is a finite number greater
// than zero; items without a duration are fulfilled with zero keys.
func (it CartItem) NeedsKey() bool {
	return it.ResolvedDuration() > 0
}

// Quantity returns the unit count for this line, never less than one.
func (it CartItem) Quantity() int {
	if it.Qty < 1 {
		return 1
	}
	return it.Qty
}
