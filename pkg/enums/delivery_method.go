package enums

import "fmt"

// DeliveryMethod describes how an order reaches the customer.
type DeliveryMethod string

const (
	DeliveryMethodPickup   DeliveryMethod = "pickup"
	DeliveryMethodDelivery DeliveryMethod = "delivery"
)

var validDeliveryMethods = []DeliveryMethod{
	DeliveryMethodPickup,
	DeliveryMethodDelivery,
}

// String implements fmt.Stringer.
func (d DeliveryMethod) String() string {
	return string(d)
}

// IsValid reports whether the value is a known DeliveryMethod.
func (d DeliveryMethod) IsValid() bool {
	for _, candidate := range validDeliveryMethods {
		if candidate == d {
			return true
		}
	}
	return false
}

// ParseDeliveryMethod converts raw input into a DeliveryMethod.
func ParseDeliveryMethod(value string) (DeliveryMethod, error) {
	for _, candidate := range validDeliveryMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid delivery method %q", value)
}

// AddressInputType records how a delivery address was captured.
type AddressInputType string

const (
	AddressInputGPS    AddressInputType = "gps"
	AddressInputManual AddressInputType = "manual"
)

// String implements fmt.Stringer.
func (a AddressInputType) String() string {
	return string(a)
}

// IsValid reports whether the value is a known AddressInputType.
func (a AddressInputType) IsValid() bool {
	return a == AddressInputGPS || a == AddressInputManual
}
