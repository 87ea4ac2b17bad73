// Package registry tracks which agent identities are authorized
// participants. The admin identity is injected at construction and is
// the only caller allowed to flip the allow-list.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/event"
	"github.com/iono-such-things/headless-markets/internal/observability"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

var (
	// ErrNotAdmin is returned when a non-admin caller attempts an admin operation.
	ErrNotAdmin = errors.New("caller is not the registry admin")

	// ErrAlreadyAuthorized is returned when authorizing an identity that
	// is already on the allow-list.
	ErrAlreadyAuthorized = errors.New("identity already authorized")

	// ErrNotAuthorized is returned when revoking an identity that is not
	// on the allow-list.
	ErrNotAuthorized = errors.New("identity not authorized")
)

// Registry is the allow-list of agent identities.
type Registry struct {
	admin  common.Address
	agents storage.AgentStore
	bus    event.Bus

	mu  sync.Mutex // serializes authorize/revoke check-then-write
	now func() time.Time
}

// Options for creating a Registry.
type Options struct {
	Admin      common.Address
	AgentStore storage.AgentStore
	Bus        event.Bus
	Now        func() time.Time // defaults to time.Now
}

// New creates a Registry.
func New(opts Options) *Registry {
	bus := opts.Bus
	if bus == nil {
		bus = event.NopBus{}
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		admin:  opts.Admin,
		agents: opts.AgentStore,
		bus:    bus,
		now:    now,
	}
}

// Authorize adds an identity to the allow-list, creating it on first use.
// Fails with ErrAlreadyAuthorized if the flag is already set.
func (r *Registry) Authorize(ctx context.Context, caller, identity common.Address) error {
	if caller != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	nowMs := r.now().UnixMilli()
	a, err := r.agents.Get(ctx, identity)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		a = &domain.AgentIdentity{Address: identity, CreatedAt: nowMs}
	case err != nil:
		return fmt.Errorf("load identity: %w", err)
	case a.Authorized:
		return ErrAlreadyAuthorized
	}

	a.Authorized = true
	a.UpdatedAt = nowMs
	if err := r.agents.Put(ctx, a); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}

	observability.RecordAgentAuthorized()
	return r.bus.Publish(ctx, event.KindAgentAuthorized, event.AgentPayload{
		Identity:   identity,
		Authorized: true,
		Reputation: a.Reputation,
	})
}

// Revoke removes an identity from the allow-list (soft revoke; the
// record and its reputation remain). Fails with ErrNotAuthorized if the
// identity is not currently authorized.
func (r *Registry) Revoke(ctx context.Context, caller, identity common.Address) error {
	if caller != r.admin {
		return ErrNotAdmin
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.agents.Get(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return ErrNotAuthorized
	}
	if err != nil {
		return fmt.Errorf("load identity: %w", err)
	}
	if !a.Authorized {
		return ErrNotAuthorized
	}

	a.Authorized = false
	a.UpdatedAt = r.now().UnixMilli()
	if err := r.agents.Put(ctx, a); err != nil {
		return fmt.Errorf("store identity: %w", err)
	}

	observability.RecordAgentRevoked()
	return r.bus.Publish(ctx, event.KindAgentRevoked, event.AgentPayload{
		Identity:   identity,
		Authorized: false,
		Reputation: a.Reputation,
	})
}

// IsAuthorized reports whether an identity is currently on the allow-list.
// Unknown identities are simply unauthorized, not an error.
func (r *Registry) IsAuthorized(ctx context.Context, identity common.Address) (bool, error) {
	a, err := r.agents.Get(ctx, identity)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load identity: %w", err)
	}
	return a.Authorized, nil
}

// Get retrieves an identity. Returns storage.ErrNotFound if unknown.
func (r *Registry) Get(ctx context.Context, identity common.Address) (*domain.AgentIdentity, error) {
	return r.agents.Get(ctx, identity)
}

// Admin returns the admin identity fixed at construction.
func (r *Registry) Admin() common.Address {
	return r.admin
}
