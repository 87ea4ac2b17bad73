package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// ProposalStore implements storage.ProposalStore using PostgreSQL.
// Members are stored as a text array in quorum order; votes as a JSONB
// map from hex address to choice.
type ProposalStore struct {
	pool *Pool
}

// NewProposalStore creates a new ProposalStore.
func NewProposalStore(pool *Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ProposalStore = (*ProposalStore)(nil)

// NextID allocates the next proposal id from the database sequence.
func (s *ProposalStore) NextID(ctx context.Context) (uint64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT nextval('proposal_id_seq')`).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("next proposal id: %w", err)
	}
	return uint64(id), nil
}

// Insert adds a new proposal. Returns ErrDuplicateKey if id exists.
func (s *ProposalStore) Insert(ctx context.Context, p *domain.Proposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	members, votes, err := encodeQuorum(p)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO proposals (
			id, proposer, token_name, token_symbol,
			members, votes, yes_count, no_count,
			status, created_at, voting_deadline
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = s.pool.Exec(ctx, query,
		int64(p.ID), p.Proposer.Hex(), p.TokenName, p.TokenSymbol,
		members, votes, p.YesCount, p.NoCount,
		string(p.Status), p.CreatedAt, p.VotingDeadline,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert proposal: %w", err)
	}
	return nil
}

// Get retrieves a proposal by id. Returns ErrNotFound if not exists.
func (s *ProposalStore) Get(ctx context.Context, id uint64) (*domain.Proposal, error) {
	query := `
		SELECT id, proposer, token_name, token_symbol,
			members, votes, yes_count, no_count,
			status, created_at, voting_deadline
		FROM proposals
		WHERE id = $1
	`

	row := s.pool.QueryRow(ctx, query, int64(id))
	return scanProposal(row)
}

// Update replaces a stored proposal. Returns ErrNotFound if not exists.
func (s *ProposalStore) Update(ctx context.Context, p *domain.Proposal) error {
	if p == nil || p.ID == 0 {
		return storage.ErrInvalidInput
	}

	members, votes, err := encodeQuorum(p)
	if err != nil {
		return err
	}

	query := `
		UPDATE proposals SET
			proposer = $2, token_name = $3, token_symbol = $4,
			members = $5, votes = $6, yes_count = $7, no_count = $8,
			status = $9, created_at = $10, voting_deadline = $11
		WHERE id = $1
	`

	tag, err := s.pool.Exec(ctx, query,
		int64(p.ID), p.Proposer.Hex(), p.TokenName, p.TokenSymbol,
		members, votes, p.YesCount, p.NoCount,
		string(p.Status), p.CreatedAt, p.VotingDeadline,
	)
	if err != nil {
		return fmt.Errorf("update proposal: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListByStatus retrieves proposals in the given status, ordered by id ASC.
func (s *ProposalStore) ListByStatus(ctx context.Context, status domain.ProposalStatus) ([]*domain.Proposal, error) {
	query := `
		SELECT id, proposer, token_name, token_symbol,
			members, votes, yes_count, no_count,
			status, created_at, voting_deadline
		FROM proposals
		WHERE status = $1
		ORDER BY id
	`

	rows, err := s.pool.Query(ctx, query, string(status))
	if err != nil {
		return nil, fmt.Errorf("list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []*domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, err
		}
		proposals = append(proposals, p)
	}
	return proposals, rows.Err()
}

func encodeQuorum(p *domain.Proposal) ([]string, []byte, error) {
	members := make([]string, len(p.Members))
	for i, m := range p.Members {
		members[i] = m.Hex()
	}
	voteMap := make(map[string]uint8, len(p.Votes))
	for addr, choice := range p.Votes {
		voteMap[addr.Hex()] = uint8(choice)
	}
	votes, err := json.Marshal(voteMap)
	if err != nil {
		return nil, nil, fmt.Errorf("encode votes: %w", err)
	}
	return members, votes, nil
}

func scanProposal(row rowScanner) (*domain.Proposal, error) {
	var (
		p        domain.Proposal
		id       int64
		proposer string
		members  []string
		votes    []byte
		status   string
	)
	err := row.Scan(&id, &proposer, &p.TokenName, &p.TokenSymbol,
		&members, &votes, &p.YesCount, &p.NoCount,
		&status, &p.CreatedAt, &p.VotingDeadline,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan proposal: %w", err)
	}

	p.ID = uint64(id)
	p.Proposer = common.HexToAddress(proposer)
	p.Status = domain.ProposalStatus(status)
	p.Members = make([]common.Address, len(members))
	for i, m := range members {
		p.Members[i] = common.HexToAddress(m)
	}

	var voteMap map[string]uint8
	if err := json.Unmarshal(votes, &voteMap); err != nil {
		return nil, fmt.Errorf("decode votes: %w", err)
	}
	p.Votes = make(map[common.Address]domain.VoteChoice, len(voteMap))
	for addr, choice := range voteMap {
		p.Votes[common.HexToAddress(addr)] = domain.VoteChoice(choice)
	}
	return &p, nil
}
