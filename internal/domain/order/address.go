package order

import (
	"fmt"
	"sort"
	"strings"

	"github.com/example/ec-checkout/internal/apperr"
)

var ErrInvalidAddress = apperr.Validation("INVALID_ADDRESS", "shipping address is incomplete")

// ShippingAddress is copied onto the order at placement.
type ShippingAddress struct {
	FullName   string `json:"full_name" binding:"required"`
	Phone      string `json:"phone" binding:"required"`
	Email      string `json:"email,omitempty" binding:"omitempty,email"`
	Line1      string `json:"line1" binding:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" binding:"required"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postal_code" binding:"required"`
	Country    string `json:"country" binding:"required"`
}

// Validate repeats the boundary checks for callers that bypass HTTP binding.
func (a ShippingAddress) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"full_name":   a.FullName,
		"phone":       a.Phone,
		"line1":       a.Line1,
		"city":        a.City,
		"postal_code": a.PostalCode,
		"country":     a.Country,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: missing %s", ErrInvalidAddress, strings.Join(missing, ", "))
	}
	if a.Email != "" && !strings.Contains(a.Email, "@") {
		return fmt.Errorf("%w: email %q", ErrInvalidAddress, a.Email)
	}
	return nil
}
