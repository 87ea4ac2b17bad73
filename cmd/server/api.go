package main

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/iono-such-things/headless-markets/internal/domain"
	"github.com/iono-such-things/headless-markets/internal/launch"
	"github.com/iono-such-things/headless-markets/internal/market"
	"github.com/iono-such-things/headless-markets/internal/observability"
	"github.com/iono-such-things/headless-markets/internal/proposal"
	"github.com/iono-such-things/headless-markets/internal/registry"
	"github.com/iono-such-things/headless-markets/internal/storage"
)

// serveAPI runs the JSON API until the context is canceled.
func (s *Server) serveAPI(ctx context.Context) error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /registry/authorize", s.route("registry_authorize", s.handleAuthorize))
	mux.HandleFunc("POST /registry/revoke", s.route("registry_revoke", s.handleRevoke))
	mux.HandleFunc("GET /registry/agents/{address}", s.route("registry_get", s.handleGetAgent))

	mux.HandleFunc("POST /proposals", s.route("proposal_create", s.handleCreateProposal))
	mux.HandleFunc("GET /proposals", s.route("proposal_list", s.handleListProposals))
	mux.HandleFunc("GET /proposals/{id}", s.route("proposal_get", s.handleGetProposal))
	mux.HandleFunc("POST /proposals/{id}/votes", s.route("proposal_vote", s.handleCastVote))
	mux.HandleFunc("POST /proposals/{id}/finalize", s.route("proposal_finalize", s.handleFinalize))
	mux.HandleFunc("POST /proposals/{id}/launch", s.route("launch", s.handleLaunch))

	mux.HandleFunc("GET /markets", s.route("market_list", s.handleListMarkets))
	mux.HandleFunc("GET /markets/{address}", s.route("market_get", s.handleGetMarket))
	mux.HandleFunc("GET /markets/{address}/trades", s.route("market_trades", s.handleTrades))
	mux.HandleFunc("GET /markets/{address}/quote", s.route("market_quote", s.handleQuote))
	mux.HandleFunc("POST /markets/{address}/buy", s.route("market_buy", s.handleBuy))
	mux.HandleFunc("POST /markets/{address}/sell", s.route("market_sell", s.handleSell))
	mux.HandleFunc("POST /markets/{address}/migrate", s.route("market_migrate", s.handleMigrate))

	mux.HandleFunc("GET /events", s.handleEvents)
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: s.listenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("API server listening on %s", s.listenAddr)
	return srv.ListenAndServe()
}

// serveMetrics exposes Prometheus metrics on a separate listener.
func (s *Server) serveMetrics(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())

	srv := &http.Server{Addr: s.metricsAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Printf("Metrics server listening on %s", s.metricsAddr)
	return srv.ListenAndServe()
}

// route wraps a handler with request duration observation.
func (s *Server) route(name string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		h(w, r)
		observability.ObserveRequest(name, time.Since(start).Seconds())
	}
}

// --- registry ---

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	identity, ok := parseAddress(w, req.Identity, "identity")
	if !ok {
		return
	}
	if err := s.registry.Authorize(r.Context(), caller, identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"identity": identity.Hex(), "status": "authorized"})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Caller   string `json:"caller"`
		Identity string `json:"identity"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	caller, ok := parseAddress(w, req.Caller, "caller")
	if !ok {
		return
	}
	identity, ok := parseAddress(w, req.Identity, "identity")
	if !ok {
		return
	}
	if err := s.registry.Revoke(r.Context(), caller, identity); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"identity": identity.Hex(), "status": "revoked"})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	agent, err := s.registry.Get(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agentView(agent))
}

// --- proposals ---

func (s *Server) handleCreateProposal(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Proposer    string   `json:"proposer"`
		TokenName   string   `json:"token_name"`
		TokenSymbol string   `json:"token_symbol"`
		Members     []string `json:"members"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	proposer, ok := parseAddress(w, req.Proposer, "proposer")
	if !ok {
		return
	}
	members := make([]common.Address, 0, len(req.Members))
	for _, m := range req.Members {
		addr, ok := parseAddress(w, m, "member")
		if !ok {
			return
		}
		members = append(members, addr)
	}
	p, err := s.proposals.Create(r.Context(), proposer, req.TokenName, req.TokenSymbol, members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, proposalView(p))
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	list, err := s.proposals.ListActive(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]ProposalView, 0, len(list))
	for _, p := range list {
		views = append(views, proposalView(p))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetProposal(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	p, err := s.proposals.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(p))
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	var req struct {
		Voter   string `json:"voter"`
		Approve bool   `json:"approve"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	voter, ok := parseAddress(w, req.Voter, "voter")
	if !ok {
		return
	}
	p, err := s.proposals.CastVote(r.Context(), id, voter, req.Approve)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(p))
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	p, err := s.proposals.FinalizeExpired(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(p))
}

// --- launch ---

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id, ok := parseID(w, r.PathValue("id"))
	if !ok {
		return
	}
	record, m, err := s.orchestrator.Launch(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		ProposalID uint64     `json:"proposal_id"`
		Market     MarketView `json:"market"`
		LaunchedAt int64      `json:"launched_at"`
	}{record.ProposalID, marketView(m), record.LaunchedAt})
}

// --- markets ---

func (s *Server) handleListMarkets(w http.ResponseWriter, r *http.Request) {
	list, err := s.markets.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]MarketView, 0, len(list))
	for _, m := range list {
		views = append(views, marketView(m))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetMarket(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	m, err := s.markets.Get(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, marketView(m))
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	trades, err := s.markets.Trades(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	views := make([]TradeView, 0, len(trades))
	for _, t := range trades {
		views = append(views, tradeView(t))
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	amount, ok := parseAmount(w, r.URL.Query().Get("amount"))
	if !ok {
		return
	}
	side := r.URL.Query().Get("side")

	var out *big.Int
	var err error
	switch side {
	case "buy":
		out, err = s.markets.QuoteBuy(r.Context(), addr, amount)
	case "sell":
		out, err = s.markets.QuoteSell(r.Context(), addr, amount)
	default:
		writeBadRequest(w, "side must be buy or sell")
		return
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Side   string `json:"side"`
		Amount string `json:"amount"`
		Quote  string `json:"quote"`
	}{side, amount.String(), out.String()})
}

func (s *Server) handleBuy(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.markets.Buy)
}

func (s *Server) handleSell(w http.ResponseWriter, r *http.Request) {
	s.handleTrade(w, r, s.markets.Sell)
}

func (s *Server) handleTrade(w http.ResponseWriter, r *http.Request, exec func(context.Context, common.Address, common.Address, *big.Int) (*domain.TradeRecord, error)) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	var req struct {
		Trader string `json:"trader"`
		Amount string `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	trader, ok := parseAddress(w, req.Trader, "trader")
	if !ok {
		return
	}
	amount, ok := parseAmount(w, req.Amount)
	if !ok {
		return
	}
	t, err := exec(r.Context(), addr, trader, amount)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, tradeView(t))
}

func (s *Server) handleMigrate(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, r.PathValue("address"), "address")
	if !ok {
		return
	}
	result, err := s.orchestrator.Migrate(r.Context(), addr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Market          string `json:"market"`
		AlreadyMigrated bool   `json:"already_migrated"`
		EthMoved        string `json:"eth_moved"`
		TokensMoved     string `json:"tokens_moved"`
	}{addr.Hex(), result.AlreadyMigrated, bigString(result.EthMoved), bigString(result.TokensMoved)})
}

// --- events ---

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// handleEvents streams bus envelopes to a WebSocket client. Slow
// clients drop events rather than stall the bus.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events, cancel := s.bus.Subscribe(256)
	defer cancel()

	// Reader pump: detect client close
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case env, ok := <-events:
			if !ok {
				return
			}
			if err := conn.WriteJSON(env); err != nil {
				return
			}
		}
	}
}

// --- status ---

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status        string `json:"status"`
	Uptime        string `json:"uptime"`
	Orchestrator  string `json:"orchestrator"`
	Admin         string `json:"admin"`
	EventsDropped uint64 `json:"events_dropped"`
	UseMemory     bool   `json:"use_memory"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	started := s.started
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:        "running",
		Uptime:        time.Since(started).String(),
		Orchestrator:  s.orchestrator.Self().Hex(),
		Admin:         s.registry.Admin().Hex(),
		EventsDropped: s.bus.Dropped(),
		UseMemory:     s.useMemory,
	})
}

// --- views ---

// AgentView is the JSON shape of a registry identity.
type AgentView struct {
	Address    string `json:"address"`
	Authorized bool   `json:"authorized"`
	Reputation uint64 `json:"reputation"`
	CreatedAt  int64  `json:"created_at"`
	UpdatedAt  int64  `json:"updated_at"`
}

func agentView(a *domain.AgentIdentity) AgentView {
	return AgentView{
		Address:    a.Address.Hex(),
		Authorized: a.Authorized,
		Reputation: a.Reputation,
		CreatedAt:  a.CreatedAt,
		UpdatedAt:  a.UpdatedAt,
	}
}

// ProposalView is the JSON shape of a proposal.
type ProposalView struct {
	ID             uint64           `json:"id"`
	Proposer       string           `json:"proposer"`
	TokenName      string           `json:"token_name"`
	TokenSymbol    string           `json:"token_symbol"`
	Members        []string         `json:"members"`
	Votes          map[string]uint8 `json:"votes"`
	YesCount       int              `json:"yes_count"`
	NoCount        int              `json:"no_count"`
	Status         string           `json:"status"`
	CreatedAt      int64            `json:"created_at"`
	VotingDeadline int64            `json:"voting_deadline"`
}

func proposalView(p *domain.Proposal) ProposalView {
	members := make([]string, 0, len(p.Members))
	for _, m := range p.Members {
		members = append(members, m.Hex())
	}
	votes := make(map[string]uint8, len(p.Votes))
	for addr, choice := range p.Votes {
		votes[addr.Hex()] = uint8(choice)
	}
	return ProposalView{
		ID:             p.ID,
		Proposer:       p.Proposer.Hex(),
		TokenName:      p.TokenName,
		TokenSymbol:    p.TokenSymbol,
		Members:        members,
		Votes:          votes,
		YesCount:       p.YesCount,
		NoCount:        p.NoCount,
		Status:         string(p.Status),
		CreatedAt:      p.CreatedAt,
		VotingDeadline: p.VotingDeadline,
	}
}

// MarketView is the JSON shape of a market. Big integers are decimal
// strings; wei and token base units exceed float64 precision.
type MarketView struct {
	Address             string   `json:"address"`
	ProposalID          uint64   `json:"proposal_id"`
	TokenName           string   `json:"token_name"`
	TokenSymbol         string   `json:"token_symbol"`
	BasePrice           string   `json:"base_price"`
	Slope               string   `json:"slope"`
	TotalSupplyCap      string   `json:"total_supply_cap"`
	CurrentSupply       string   `json:"current_supply"`
	EthRaised           string   `json:"eth_raised"`
	PlatformLedger      string   `json:"platform_ledger"`
	LiquidityLedger     string   `json:"liquidity_ledger"`
	AgentLedger         string   `json:"agent_ledger"`
	GraduationThreshold string   `json:"graduation_threshold"`
	Graduated           bool     `json:"graduated"`
	Migrated            bool     `json:"migrated"`
	AgentRecipients     []string `json:"agent_recipients"`
	TradeCount          uint64   `json:"trade_count"`
	CreatedAt           int64    `json:"created_at"`
}

func marketView(m *domain.Market) MarketView {
	recipients := make([]string, 0, len(m.AgentRecipients))
	for _, a := range m.AgentRecipients {
		recipients = append(recipients, a.Hex())
	}
	return MarketView{
		Address:             m.Address.Hex(),
		ProposalID:          m.ProposalID,
		TokenName:           m.TokenName,
		TokenSymbol:         m.TokenSymbol,
		BasePrice:           m.Params.BasePrice.String(),
		Slope:               m.Params.Slope.String(),
		TotalSupplyCap:      m.TotalSupplyCap.String(),
		CurrentSupply:       m.CurrentSupply.String(),
		EthRaised:           m.EthRaised.String(),
		PlatformLedger:      m.PlatformLedger.String(),
		LiquidityLedger:     m.LiquidityLedger.String(),
		AgentLedger:         m.AgentLedger.String(),
		GraduationThreshold: m.GraduationThreshold.String(),
		Graduated:           m.Graduated,
		Migrated:            m.Migrated,
		AgentRecipients:     recipients,
		TradeCount:          m.TradeCount,
		CreatedAt:           m.CreatedAt,
	}
}

// TradeView is the JSON shape of an executed trade.
type TradeView struct {
	TradeID      string `json:"trade_id"`
	Market       string `json:"market"`
	Seq          uint64 `json:"seq"`
	Trader       string `json:"trader"`
	Side         string `json:"side"`
	EthAmount    string `json:"eth_amount"`
	NetAmount    string `json:"net_amount"`
	TokenAmount  string `json:"token_amount"`
	FeePlatform  string `json:"fee_platform"`
	FeeLiquidity string `json:"fee_liquidity"`
	FeeAgent     string `json:"fee_agent"`
	SupplyAfter  string `json:"supply_after"`
	PriceAfter   string `json:"price_after"`
	ExecutedAt   int64  `json:"executed_at"`
}

func tradeView(t *domain.TradeRecord) TradeView {
	return TradeView{
		TradeID:      t.TradeID,
		Market:       t.Market.Hex(),
		Seq:          t.Seq,
		Trader:       t.Trader.Hex(),
		Side:         string(t.Side),
		EthAmount:    t.EthAmount.String(),
		NetAmount:    t.NetAmount.String(),
		TokenAmount:  t.TokenAmount.String(),
		FeePlatform:  t.FeePlatform.String(),
		FeeLiquidity: t.FeeLiquidity.String(),
		FeeAgent:     t.FeeAgent.String(),
		SupplyAfter:  t.SupplyAfter.String(),
		PriceAfter:   t.PriceAfter.String(),
		ExecutedAt:   t.ExecutedAt,
	}
}

// --- helpers ---

func parseAddress(w http.ResponseWriter, raw, field string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		writeBadRequest(w, field+" must be a hex address")
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func parseID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeBadRequest(w, "invalid proposal id")
		return 0, false
	}
	return id, true
}

// bigString renders a possibly-nil big.Int as a decimal string.
func bigString(x *big.Int) string {
	if x == nil {
		return "0"
	}
	return x.String()
}

func parseAmount(w http.ResponseWriter, raw string) (*big.Int, bool) {
	amount, ok := new(big.Int).SetString(raw, 10)
	if !ok || amount.Sign() <= 0 {
		writeBadRequest(w, "amount must be a positive decimal integer")
		return nil, false
	}
	return amount, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

// writeError maps engine errors to HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, storage.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, registry.ErrNotAdmin),
		errors.Is(err, proposal.ErrCallerNotOrchestrator):
		status = http.StatusForbidden
	case errors.Is(err, registry.ErrAlreadyAuthorized),
		errors.Is(err, registry.ErrNotAuthorized),
		errors.Is(err, proposal.ErrAlreadyVoted),
		errors.Is(err, proposal.ErrVotingClosed),
		errors.Is(err, proposal.ErrVotingStillOpen),
		errors.Is(err, proposal.ErrProposalNotActive),
		errors.Is(err, proposal.ErrNotPassed),
		errors.Is(err, launch.ErrAlreadyLaunched),
		errors.Is(err, market.ErrMarketClosed),
		errors.Is(err, market.ErrNotGraduated),
		errors.Is(err, market.ErrSupplyExceeded),
		errors.Is(err, market.ErrInsufficientRaisedBalance),
		errors.Is(err, market.ErrInsufficientTokenBalance):
		status = http.StatusConflict
	case errors.Is(err, proposal.ErrQuorumSizeInvalid),
		errors.Is(err, proposal.ErrDuplicateMember),
		errors.Is(err, proposal.ErrUnauthorizedMember),
		errors.Is(err, proposal.ErrProposerNotInQuorum),
		errors.Is(err, proposal.ErrNotAQuorumMember),
		errors.Is(err, market.ErrNonPositiveAmount),
		errors.Is(err, market.ErrAmountTooSmall),
		errors.Is(err, market.ErrInvalidFeeSplit):
		status = http.StatusBadRequest
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
