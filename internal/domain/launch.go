package domain

import "github.com/ethereum/go-ethereum/common"

// LaunchRecord links an executed proposal to the market it created.
// One per proposal, written atomically with market creation.
type LaunchRecord struct {
	ProposalID uint64
	Market     common.Address
	LaunchedAt int64 // Unix timestamp in milliseconds
}

// Clone returns a copy of the launch record.
func (l *LaunchRecord) Clone() *LaunchRecord {
	c := *l
	return &c
}
