package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ComputeTradeID computes a deterministic trade_id using SHA256.
// Formula: SHA256(market|seq)
// Returns hex-encoded hash (64 characters).
func ComputeTradeID(market common.Address, seq uint64) string {
	data := fmt.Sprintf("%s|%d", market.Hex(), seq)
	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}
