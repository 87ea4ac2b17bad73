package idhash

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestComputeTradeID_Deterministic(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")

	id1 := ComputeTradeID(market, 0)
	id2 := ComputeTradeID(market, 0)
	if id1 != id2 {
		t.Errorf("same inputs produced different ids: %s vs %s", id1, id2)
	}
	if len(id1) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(id1))
	}
}

func TestComputeTradeID_DistinctInputs(t *testing.T) {
	market := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	other := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	if ComputeTradeID(market, 0) == ComputeTradeID(market, 1) {
		t.Error("different seq produced identical ids")
	}
	if ComputeTradeID(market, 0) == ComputeTradeID(other, 0) {
		t.Error("different market produced identical ids")
	}
}
