package enums

import "testing"

func TestOrderStatusTransitions(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusPending, OrderStatusConfirmed, true},
		{OrderStatusConfirmed, OrderStatusPreparing, true},
		{OrderStatusPreparing, OrderStatusReady, true},
		{OrderStatusPreparing, OrderStatusOutForDelivery, true},
		{OrderStatusReady, OrderStatusDelivered, true},
		{OrderStatusOutForDelivery, OrderStatusDelivered, true},
		{OrderStatusConfirmed, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusDelivered, false},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusConfirmed, false},
		{OrderStatusReady, OrderStatusPreparing, false},
		{OrderStatusConfirmed, OrderStatusConfirmed, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestOrderStatusAdvance(t *testing.T) {
	cases := []struct {
		from OrderStatus
		to   OrderStatus
		want bool
	}{
		{OrderStatusConfirmed, OrderStatusPreparing, true},
		{OrderStatusConfirmed, OrderStatusDelivered, true},
		{OrderStatusPending, OrderStatusOutForDelivery, true},
		{OrderStatusReady, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusPreparing, false},
		{OrderStatusReady, OrderStatusConfirmed, false},
		{OrderStatusReady, OrderStatusOutForDelivery, false},
		{OrderStatusCancelled, OrderStatusDelivered, false},
		{OrderStatusPreparing, OrderStatusPreparing, false},
	}

	for _, tc := range cases {
		if got := tc.from.CanAdvanceTo(tc.to); got != tc.want {
			t.Fatalf("%s -> %s: expected %v, got %v", tc.from, tc.to, tc.want, got)
		}
	}
}

func TestOrderStatusActiveAndTerminal(t *testing.T) {
	for _, status := range validOrderStatuses {
		if status.IsActive() == status.IsTerminal() {
			t.Fatalf("%s must be exactly one of active or terminal", status)
		}
	}
	if len(ActiveOrderStatuses) != 5 {
		t.Fatalf("expected 5 active statuses, got %d", len(ActiveOrderStatuses))
	}
}

func TestParseOrderStatus(t *testing.T) {
	status, err := ParseOrderStatus("out_for_delivery")
	if err != nil || status != OrderStatusOutForDelivery {
		t.Fatalf("unexpected parse result %q, %v", status, err)
	}
	if _, err := ParseOrderStatus("shipped"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestParseDeliveryMethod(t *testing.T) {
	if _, err := ParseDeliveryMethod("courier"); err == nil {
		t.Fatal("expected error for unknown delivery method")
	}
	method, err := ParseDeliveryMethod("pickup")
	if err != nil || !method.IsValid() {
		t.Fatalf("unexpected parse result %q, %v", method, err)
	}
}
