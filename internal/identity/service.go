package identity

import (
	"context"
	"fmt"
	"strings"
	"sync"

	pkgerrors "github.com/angelmondragon/storefront-engine/pkg/errors"
	"github.com/angelmondragon/storefront-engine/pkg/logger"
	"github.com/angelmondragon/storefront-engine/pkg/storage"
	"github.com/google/uuid"
	"github.com/lucsky/cuid"
)

const devicePrefix = "dev_"

// Service hands out the installation and session identifiers sent with
// pricing, coupon, and order requests.
type Service interface {
	// DeviceID returns the persisted installation id, creating it on first use.
	DeviceID(ctx context.Context) (string, error)
	// SessionID is fixed for the lifetime of the process.
	SessionID() string
}

type service struct {
	store     storage.Store
	logg      *logger.Logger
	newDevice func() string
	sessionID string

	mu       sync.Mutex
	deviceID string
}

// Option configures optional identity behavior.
type Option func(*service)

// WithDeviceIDGenerator overrides how new device ids are minted.
func WithDeviceIDGenerator(fn func() string) Option {
	return func(s *service) {
		if fn != nil {
			s.newDevice = fn
		}
	}
}

// NewService wires identity over the durable store.
func NewService(durable storage.Store, logg *logger.Logger, opts ...Option) (Service, error) {
	if durable == nil {
		return nil, fmt.Errorf("durable store required")
	}
	if logg == nil {
		logg = logger.Nop()
	}
	s := &service{
		store:     durable,
		logg:      logg,
		newDevice: func() string { return devicePrefix + cuid.New() },
		sessionID: uuid.NewString(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

func (s *service) DeviceID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deviceID != "" {
		return s.deviceID, nil
	}

	raw, ok, err := s.store.Get(ctx, storage.KeyDeviceID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load device id")
	}
	if id := strings.TrimSpace(string(raw)); ok && id != "" {
		s.deviceID = id
		return id, nil
	}

	id := s.newDevice()
	if err := s.store.Set(ctx, storage.KeyDeviceID, []byte(id)); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist device id")
	}
	s.deviceID = id
	s.logg.Info(s.logg.WithDeviceID(ctx, id), "identity.device.created")
	return id, nil
}

func (s *service) SessionID() string {
	return s.sessionID
}
