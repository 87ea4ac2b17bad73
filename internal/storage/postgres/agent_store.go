package postgres

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// AgentStore implements storage.AgentStore using PostgreSQL.
type AgentStore struct {
	pool *Pool
}

// NewAgentStore creates a new AgentStore.
func NewAgentStore(pool *Pool) *AgentStore {
	return &AgentStore{pool: pool}
}

// Compile-time interface check.
var _ storage.AgentStore = (*AgentStore)(nil)

// Put inserts or replaces an agent identity.
func (s *AgentStore) Put(ctx context.Context, a *domain.AgentIdentity) error {
	if a == nil {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO agents (address, authorized, reputation, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (address) DO UPDATE SET
			authorized = EXCLUDED.authorized,
			reputation = EXCLUDED.reputation,
			updated_at = EXCLUDED.updated_at
	`

	_, err := s.pool.Exec(ctx, query,
		a.Address.Hex(), a.Authorized, int64(a.Reputation), a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("put agent: %w", err)
	}
	return nil
}

// Get retrieves an agent identity by address. Returns ErrNotFound if not exists.
func (s *AgentStore) Get(ctx context.Context, addr common.Address) (*domain.AgentIdentity, error) {
	query := `
		SELECT address, authorized, reputation, created_at, updated_at
		FROM agents
		WHERE address = $1
	`

	row := s.pool.QueryRow(ctx, query, addr.Hex())
	return scanAgent(row)
}

// List retrieves all agent identities ordered by address.
func (s *AgentStore) List(ctx context.Context) ([]*domain.AgentIdentity, error) {
	query := `
		SELECT address, authorized, reputation, created_at, updated_at
		FROM agents
		ORDER BY address
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*domain.AgentIdentity
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (*domain.AgentIdentity, error) {
	var (
		a       domain.AgentIdentity
		hexAddr string
		rep     int64
	)
	err := row.Scan(&hexAddr, &a.Authorized, &rep, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan agent: %w", err)
	}
	a.Address = common.HexToAddress(hexAddr)
	a.Reputation = uint64(rep)
	return &a, nil
}
