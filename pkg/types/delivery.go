package types

import (
	"strings"

	"github.com/angelmondragon/storefront-engine/pkg/enums"
)

// Location is a one-shot geolocation reading.
type Location struct {
	Lat            float64 `json:"lat"`
	Lng            float64 `json:"lng"`
	AccuracyMeters float64 `json:"accuracy,omitempty"`
}

// DeliveryContext describes how and where the order is fulfilled.
type DeliveryContext struct {
	Method      enums.DeliveryMethod `json:"method"`
	BranchID    string               `json:"branchId,omitempty"`
	Location    *Location            `json:"location,omitempty"`
	AddressText string               `json:"addressText,omitempty"`
}

// AddressInputType derives how the delivery address was captured. Pickup
// orders and deliveries without any address yield "".
func (d DeliveryContext) AddressInputType() enums.AddressInputType {
	if d.Method != enums.DeliveryMethodDelivery {
		return ""
	}
	if d.Location != nil {
		return enums.AddressInputGPS
	}
	if strings.TrimSpace(d.AddressText) != "" {
		return enums.AddressInputManual
	}
	return ""
}

// Branch returns the branch id only when it is relevant for the method.
func (d DeliveryContext) Branch() string {
	if d.Method != enums.DeliveryMethodPickup {
		return ""
	}
	return strings.TrimSpace(d.BranchID)
}
