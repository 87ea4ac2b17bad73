package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

func testProposal(id uint64) *domain.Proposal {
	members := []common.Address{
		common.HexToAddress("0x01"),
		common.HexToAddress("0x02"),
		common.HexToAddress("0x03"),
	}
	votes := make(map[common.Address]domain.VoteChoice, len(members))
	for _, m := range members {
		votes[m] = domain.VoteUnvoted
	}
	return &domain.Proposal{
		ID:             id,
		Proposer:       members[0],
		TokenName:      "Test Token",
		TokenSymbol:    "TST",
		Members:        members,
		Votes:          votes,
		Status:         domain.ProposalActive,
		CreatedAt:      1704067200000,
		VotingDeadline: 1704672000000,
	}
}

func TestProposalStore_NextID(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	first, err := store.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if first != 1 {
		t.Errorf("first id %d, want 1", first)
	}
	second, err := store.NextID(ctx)
	if err != nil {
		t.Fatalf("NextID failed: %v", err)
	}
	if second != first+1 {
		t.Errorf("second id %d, want %d", second, first+1)
	}
}

func TestProposalStore_InsertAndGet(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	p := testProposal(1)
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.TokenSymbol != "TST" || len(got.Members) != 3 {
		t.Errorf("proposal mismatch: %+v", got)
	}
}

func TestProposalStore_InsertRejectsZeroID(t *testing.T) {
	store := NewProposalStore()
	if err := store.Insert(context.Background(), testProposal(0)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestProposalStore_DuplicateKey(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	if err := store.Insert(ctx, testProposal(1)); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	if err := store.Insert(ctx, testProposal(1)); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
}

func TestProposalStore_Update(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	p := testProposal(1)
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	p.Status = domain.ProposalPassed
	p.YesCount = 3
	if err := store.Update(ctx, p); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	got, err := store.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.ProposalPassed || got.YesCount != 3 {
		t.Errorf("update not applied: %+v", got)
	}

	if err := store.Update(ctx, testProposal(42)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update unknown: expected ErrNotFound, got %v", err)
	}
}

func TestProposalStore_ListByStatus(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	a := testProposal(1)
	b := testProposal(2)
	b.Status = domain.ProposalFailed
	c := testProposal(3)
	for _, p := range []*domain.Proposal{a, b, c} {
		if err := store.Insert(ctx, p); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	active, err := store.ListByStatus(ctx, domain.ProposalActive)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 active, got %d", len(active))
	}
	if active[0].ID > active[1].ID {
		t.Error("list not ordered by id")
	}

	failed, err := store.ListByStatus(ctx, domain.ProposalFailed)
	if err != nil {
		t.Fatalf("ListByStatus failed: %v", err)
	}
	if len(failed) != 1 || failed[0].ID != 2 {
		t.Fatalf("expected proposal 2 failed, got %+v", failed)
	}
}

func TestProposalStore_GetReturnsDeepCopy(t *testing.T) {
	store := NewProposalStore()
	ctx := context.Background()

	p := testProposal(1)
	if err := store.Insert(ctx, p); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, _ := store.Get(ctx, 1)
	got.Votes[got.Members[0]] = domain.VoteYes
	got.Members[0] = common.HexToAddress("0xFF")

	again, _ := store.Get(ctx, 1)
	if again.Votes[again.Members[0]] != domain.VoteUnvoted {
		t.Error("vote mutation leaked into store")
	}
	if again.Members[0] == common.HexToAddress("0xFF") {
		t.Error("member mutation leaked into store")
	}
}
