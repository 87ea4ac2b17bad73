package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// MarketStore implements storage.MarketStore using PostgreSQL. Amounts
// are NUMERIC(78,0); holdings are a JSONB map from hex address to
// decimal base units.
type MarketStore struct {
	pool *Pool
}

// NewMarketStore creates a new MarketStore.
func NewMarketStore(pool *Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

// Compile-time interface check.
var _ storage.MarketStore = (*MarketStore)(nil)

const marketColumns = `
	address, proposal_id, token_name, token_symbol,
	base_price, slope,
	platform_bps, liquidity_bps, agent_bps,
	total_supply_cap, current_supply, eth_raised,
	platform_ledger, liquidity_ledger, agent_ledger,
	graduation_threshold, graduated, migrated,
	agent_recipients, holdings, trade_count, created_at
`

// Insert adds a new market. Returns ErrDuplicateKey if address exists.
func (s *MarketStore) Insert(ctx context.Context, m *domain.Market) error {
	if m == nil {
		return storage.ErrInvalidInput
	}

	recipients, holdings, err := encodeMarketJSON(m)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO markets (` + marketColumns + `)
		VALUES (
			$1, $2, $3, $4,
			$5, $6,
			$7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $17, $18,
			$19, $20, $21, $22
		)
	`

	_, err = s.pool.Exec(ctx, query, marketArgs(m, recipients, holdings)...)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert market: %w", err)
	}
	return nil
}

// Get retrieves a market by address. Returns ErrNotFound if not exists.
func (s *MarketStore) Get(ctx context.Context, addr common.Address) (*domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets WHERE address = $1`

	row := s.pool.QueryRow(ctx, query, addr.Hex())
	return scanMarket(row)
}

// Update replaces a stored market. Returns ErrNotFound if not exists.
func (s *MarketStore) Update(ctx context.Context, m *domain.Market) error {
	if m == nil {
		return storage.ErrInvalidInput
	}

	recipients, holdings, err := encodeMarketJSON(m)
	if err != nil {
		return err
	}

	query := `
		UPDATE markets SET
			proposal_id = $2, token_name = $3, token_symbol = $4,
			base_price = $5, slope = $6,
			platform_bps = $7, liquidity_bps = $8, agent_bps = $9,
			total_supply_cap = $10, current_supply = $11, eth_raised = $12,
			platform_ledger = $13, liquidity_ledger = $14, agent_ledger = $15,
			graduation_threshold = $16, graduated = $17, migrated = $18,
			agent_recipients = $19, holdings = $20, trade_count = $21, created_at = $22
		WHERE address = $1
	`

	tag, err := s.pool.Exec(ctx, query, marketArgs(m, recipients, holdings)...)
	if err != nil {
		return fmt.Errorf("update market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// Delete removes a market. Returns ErrNotFound if not exists.
func (s *MarketStore) Delete(ctx context.Context, addr common.Address) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM markets WHERE address = $1`, addr.Hex())
	if err != nil {
		return fmt.Errorf("delete market: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// List retrieves all markets ordered by creation time, then proposal id.
func (s *MarketStore) List(ctx context.Context) ([]*domain.Market, error) {
	query := `SELECT ` + marketColumns + ` FROM markets ORDER BY created_at, proposal_id`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list markets: %w", err)
	}
	defer rows.Close()

	var markets []*domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, err
		}
		markets = append(markets, m)
	}
	return markets, rows.Err()
}

func encodeMarketJSON(m *domain.Market) ([]string, []byte, error) {
	recipients := make([]string, len(m.AgentRecipients))
	for i, r := range m.AgentRecipients {
		recipients[i] = r.Hex()
	}
	holdingMap := make(map[string]string, len(m.Holdings))
	for addr, bal := range m.Holdings {
		holdingMap[addr.Hex()] = bal.String()
	}
	holdings, err := json.Marshal(holdingMap)
	if err != nil {
		return nil, nil, fmt.Errorf("encode holdings: %w", err)
	}
	return recipients, holdings, nil
}

func marketArgs(m *domain.Market, recipients []string, holdings []byte) []any {
	return []any{
		m.Address.Hex(), int64(m.ProposalID), m.TokenName, m.TokenSymbol,
		bigToDB(m.Params.BasePrice), bigToDB(m.Params.Slope),
		int32(m.Fees.PlatformBps), int32(m.Fees.LiquidityBps), int32(m.Fees.AgentBps),
		bigToDB(m.TotalSupplyCap), bigToDB(m.CurrentSupply), bigToDB(m.EthRaised),
		bigToDB(m.PlatformLedger), bigToDB(m.LiquidityLedger), bigToDB(m.AgentLedger),
		bigToDB(m.GraduationThreshold), m.Graduated, m.Migrated,
		recipients, holdings, int64(m.TradeCount), m.CreatedAt,
	}
}

func scanMarket(row rowScanner) (*domain.Market, error) {
	var (
		m          domain.Market
		hexAddr    string
		proposalID int64
		basePrice, slope,
		supplyCap, supply, raised,
		platformLedger, liquidityLedger, agentLedger,
		threshold string
		platformBps, liquidityBps, agentBps int32
		recipients                          []string
		holdings                            []byte
		tradeCount                          int64
	)
	err := row.Scan(&hexAddr, &proposalID, &m.TokenName, &m.TokenSymbol,
		&basePrice, &slope,
		&platformBps, &liquidityBps, &agentBps,
		&supplyCap, &supply, &raised,
		&platformLedger, &liquidityLedger, &agentLedger,
		&threshold, &m.Graduated, &m.Migrated,
		&recipients, &holdings, &tradeCount, &m.CreatedAt,
	)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("scan market: %w", err)
	}

	m.Address = common.HexToAddress(hexAddr)
	m.ProposalID = uint64(proposalID)
	m.Fees = domain.FeeSplit{
		PlatformBps:  uint32(platformBps),
		LiquidityBps: uint32(liquidityBps),
		AgentBps:     uint32(agentBps),
	}
	m.TradeCount = uint64(tradeCount)

	for name, pair := range map[string]struct {
		src string
		dst **big.Int
	}{
		"base_price":           {basePrice, &m.Params.BasePrice},
		"slope":                {slope, &m.Params.Slope},
		"total_supply_cap":     {supplyCap, &m.TotalSupplyCap},
		"current_supply":       {supply, &m.CurrentSupply},
		"eth_raised":           {raised, &m.EthRaised},
		"platform_ledger":      {platformLedger, &m.PlatformLedger},
		"liquidity_ledger":     {liquidityLedger, &m.LiquidityLedger},
		"agent_ledger":         {agentLedger, &m.AgentLedger},
		"graduation_threshold": {threshold, &m.GraduationThreshold},
	} {
		v, err := bigFromDB(pair.src)
		if err != nil {
			return nil, fmt.Errorf("market column %s: %w", name, err)
		}
		*pair.dst = v
	}

	m.AgentRecipients = make([]common.Address, len(recipients))
	for i, r := range recipients {
		m.AgentRecipients[i] = common.HexToAddress(r)
	}

	var holdingMap map[string]string
	if err := json.Unmarshal(holdings, &holdingMap); err != nil {
		return nil, fmt.Errorf("decode holdings: %w", err)
	}
	m.Holdings = make(map[common.Address]*big.Int, len(holdingMap))
	for addr, bal := range holdingMap {
		v, err := bigFromDB(bal)
		if err != nil {
			return nil, fmt.Errorf("holding %s: %w", addr, err)
		}
		m.Holdings[common.HexToAddress(addr)] = v
	}
	return &m, nil
}
