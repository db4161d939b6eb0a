package types

import (
	"fmt"
	"strings"
)

// Address is a delivery address as the backend expects it on checkout payloads.
type Address struct {
	Line1   string  `json:"addressLine1"`
	Line2   *string `json:"addressLine2,omitempty"`
	City    string  `json:"city"`
	State   string  `json:"state"`
	Pincode string  `json:"pincode"`
	Label   *string `json:"label,omitempty"`
}

// Validate checks the fields the checkout endpoint rejects when missing.
func (a Address) Validate() error {
	if strings.TrimSpace(a.Line1) == "" {
		return fmt.Errorf("address: missing addressLine1")
	}
	if strings.TrimSpace(a.City) == "" {
		return fmt.Errorf("address: missing city")
	}
	if strings.TrimSpace(a.State) == "" {
		return fmt.Errorf("address: missing state")
	}
	if strings.TrimSpace(a.Pincode) == "" {
		return fmt.Errorf("address: missing pincode")
	}
	return nil
}

// DisplayLine renders the single-line form shown on payment screens.
func (a Address) DisplayLine() string {
	parts := []string{a.Line1}
	if a.Line2 != nil && strings.TrimSpace(*a.Line2) != "" {
		parts = append(parts, *a.Line2)
	}
	parts = append(parts, a.City, a.State, a.Pincode)
	return strings.Join(parts, ", ")
}
