package domain

import "github.com/ethereum/go-ethereum/common"

// AgentIdentity represents a registered agent on the authorization allow-list.
// Corresponds to agents table in PostgreSQL.
type AgentIdentity struct {
	Address    common.Address // opaque address-like identifier
	Authorized bool           // allow-list flag; soft revoke only, never deleted
	Reputation uint64         // incremented only by successful proposal execution
	CreatedAt  int64          // Unix timestamp in milliseconds
	UpdatedAt  int64          // last authorize/revoke/reputation change (ms)
}

// Clone returns a deep copy of the identity.
func (a *AgentIdentity) Clone() *AgentIdentity {
	c := *a
	return &c
}
