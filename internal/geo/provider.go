package geo

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/angelmondragon/storefront-engine/pkg/types"
)

// DefaultTimeout bounds a single position lookup.
const DefaultTimeout = 10 * time.Second

type Kind string

const (
	KindPermissionDenied Kind = "permission_denied"
	KindUnavailable      Kind = "unavailable"
	KindTimeout          Kind = "timeout"
)

// Error is the only error type a Provider returns.
type Error struct {
	Kind  Kind
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("geolocation %s: %v", e.Kind, e.Cause)
	}
	return "geolocation " + string(e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// KindOf returns the kind of a geolocation error, or "" for other errors.
func KindOf(err error) Kind {
	var geoErr *Error
	if errors.As(err, &geoErr) {
		return geoErr.Kind
	}
	return ""
}

// Provider produces a one-shot position reading.
type Provider interface {
	GetPosition(ctx context.Context) (types.Location, error)
}

// StaticProvider always reports the same reading, or Err when set.
type StaticProvider struct {
	Location types.Location
	Err      error
}

func (p StaticProvider) GetPosition(ctx context.Context) (types.Location, error) {
	if err := ctx.Err(); err != nil {
		return types.Location{}, contextError(err)
	}
	if p.Err != nil {
		return types.Location{}, normalize(p.Err)
	}
	return p.Location, ValidateLocation(p.Location)
}

// FuncProvider adapts a lookup function, enforcing Timeout through the
// context.
type FuncProvider struct {
	Lookup  func(ctx context.Context) (types.Location, error)
	Timeout time.Duration
}

func (p FuncProvider) GetPosition(ctx context.Context) (types.Location, error) {
	if p.Lookup == nil {
		return types.Location{}, &Error{Kind: KindUnavailable, Cause: errors.New("no position source configured")}
	}
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		loc types.Location
		err error
	}
	ch := make(chan result, 1)
	go func() {
		loc, err := p.Lookup(ctx)
		ch <- result{loc: loc, err: err}
	}()

	select {
	case <-ctx.Done():
		return types.Location{}, contextError(ctx.Err())
	case r := <-ch:
		if r.err != nil {
			return types.Location{}, normalize(r.err)
		}
		return r.loc, ValidateLocation(r.loc)
	}
}

// Describe renders a reading as a human readable address line.
func Describe(loc types.Location) string {
	return fmt.Sprintf("Current location (%.6f, %.6f) - Accuracy: %dm",
		loc.Lat, loc.Lng, int(math.Round(loc.AccuracyMeters)))
}

// ValidateLocation rejects readings outside the valid coordinate range.
func ValidateLocation(loc types.Location) error {
	if math.IsNaN(loc.Lat) || math.IsNaN(loc.Lng) || loc.Lat < -90 || loc.Lat > 90 || loc.Lng < -180 || loc.Lng > 180 {
		return &Error{Kind: KindUnavailable, Cause: fmt.Errorf("coordinates out of range: %v, %v", loc.Lat, loc.Lng)}
	}
	return nil
}

func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: KindUnavailable, Cause: err}
}

func normalize(err error) error {
	var geoErr *Error
	if errors.As(err, &geoErr) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, Cause: err}
	}
	return &Error{Kind: KindUnavailable, Cause: err}
}
