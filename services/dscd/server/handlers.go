package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/services/dscd/feeds"
	"dscengine/services/dscd/journal"
)

const defaultFeedHistory = 10

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handleParams(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, toParams(s.node.Params()))
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	owner, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	acct, err := s.node.Account(owner)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAccount(acct, s.node.Symbol))
}

func (s *Server) handleLiquidatable(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.node.LiquidationCandidates()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	out := make([]candidateResponse, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, toCandidate(c))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	holder, err := parseAddress("addr", chi.URLParam(r, "addr"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	balance, err := s.node.BalanceOf(asset, holder)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, balanceResponse{
		Asset:   asset.String(),
		Symbol:  s.node.Symbol(asset),
		Holder:  holder.String(),
		Balance: balance.Dec(),
	})
}

func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress("feed", chi.URLParam(r, "feed"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	feed, err := s.node.Feed(addr)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("round")); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: round", errInvalidAmount))
			return
		}
		round, err := feed.GetRoundData(id)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		s.writeJSON(w, http.StatusOK, toRound(round))
		return
	}
	limit := defaultFeedHistory
	if raw := strings.TrimSpace(r.URL.Query().Get("history")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, r, fmt.Errorf("%w: history", errInvalidAmount))
			return
		}
		limit = parsed
	}
	resp := feedResponse{
		Address:     feed.Address().String(),
		Description: feed.Description(),
		Decimals:    feed.Decimals(),
		History:     []roundResponse{},
	}
	latest, err := feed.LatestRoundData()
	switch {
	case err == nil:
		round := toRound(latest)
		resp.Latest = &round
	case !errors.Is(err, feeds.ErrNoRounds):
		s.writeError(w, r, err)
		return
	}
	if limit > 0 {
		for _, round := range feed.History(limit) {
			resp.History = append(resp.History, toRound(round))
		}
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	j := s.node.Journal()
	if j == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"events": []journal.Entry{}})
		return
	}
	q := r.URL.Query()
	filter := journal.Filter{Type: strings.TrimSpace(q.Get("type"))}
	if raw := strings.TrimSpace(q.Get("account")); raw != "" {
		account, err := parseAddress("account", raw)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		filter.Account = account.String()
	}
	if raw := strings.TrimSpace(q.Get("after")); raw != "" {
		after, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, fmt.Errorf("%w: after", errInvalidAmount))
			return
		}
		filter.AfterSeq = after
	}
	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			s.writeError(w, r, fmt.Errorf("%w: limit", errInvalidAmount))
			return
		}
		filter.Limit = limit
	}
	entries, err := j.Query(r.Context(), filter)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"events": entries})
}

func (s *Server) backlog(ctx context.Context, after uint64, eventType string) ([]journal.Entry, error) {
	return s.node.Journal().Query(ctx, journal.Filter{Type: eventType, AfterSeq: after})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	caller, asset, amount, err := s.collateralArgs(r)
	if err == nil {
		err = s.node.DepositCollateral(caller, asset, amount)
	}
	s.respond(w, r, err)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	caller, asset, amount, err := s.collateralArgs(r)
	if err == nil {
		err = s.node.RedeemCollateral(caller, asset, amount)
	}
	s.respond(w, r, err)
}

func (s *Server) collateralArgs(r *http.Request) (crypto.Address, crypto.Address, *uint256.Int, error) {
	caller, err := s.caller(r)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, err
	}
	var req collateralRequest
	if err := decodeJSON(r, &req); err != nil {
		return crypto.Address{}, crypto.Address{}, nil, err
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return crypto.Address{}, crypto.Address{}, nil, err
	}
	return caller, asset, amount, nil
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := s.dscArgs(r)
	if err == nil {
		err = s.node.MintDSC(caller, amount)
	}
	s.respond(w, r, err)
}

func (s *Server) handleBurn(w http.ResponseWriter, r *http.Request) {
	caller, amount, err := s.dscArgs(r)
	if err == nil {
		err = s.node.BurnDSC(caller, amount)
	}
	s.respond(w, r, err)
}

func (s *Server) dscArgs(r *http.Request) (crypto.Address, *uint256.Int, error) {
	caller, err := s.caller(r)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	var req dscRequest
	if err := decodeJSON(r, &req); err != nil {
		return crypto.Address{}, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return crypto.Address{}, nil, err
	}
	return caller, amount, nil
}

func (s *Server) handleOpen(w http.ResponseWriter, r *http.Request) {
	caller, asset, collateral, debt, err := s.positionArgs(r)
	if err == nil {
		err = s.node.DepositCollateralAndMintDSC(caller, asset, collateral, debt)
	}
	s.respond(w, r, err)
}

func (s *Server) handleClose(w http.ResponseWriter, r *http.Request) {
	caller, asset, collateral, debt, err := s.positionArgs(r)
	if err == nil {
		err = s.node.RedeemCollateralForDSC(caller, asset, collateral, debt)
	}
	s.respond(w, r, err)
}

func (s *Server) positionArgs(r *http.Request) (caller, asset crypto.Address, collateral, debt *uint256.Int, err error) {
	if caller, err = s.caller(r); err != nil {
		return
	}
	var req positionRequest
	if err = decodeJSON(r, &req); err != nil {
		return
	}
	if asset, err = parseAddress("asset", req.Asset); err != nil {
		return
	}
	if collateral, err = parseAmount("collateral", req.Collateral); err != nil {
		return
	}
	debt, err = parseAmount("debt", req.Debt)
	return
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req liquidateRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	account, err := parseAddress("account", req.Account)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	debt, err := parseAmount("debtToCover", req.DebtToCover)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.node.Liquidate(caller, asset, account, debt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toLiquidation(result))
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	caller, err := s.caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req approveRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var spender *crypto.Address
	if strings.TrimSpace(req.Spender) != "" {
		addr, err := parseAddress("spender", req.Spender)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		spender = &addr
	}
	amount, err := parseAllowance(req.Amount)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.node.Approve(caller, asset, spender, amount); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) handlePushRound(w http.ResponseWriter, r *http.Request) {
	feed, err := parseAddress("feed", chi.URLParam(r, "feed"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var req pushRoundRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	answer, err := parseAnswer(req.Answer)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var updatedAt time.Time
	if req.UpdatedAt != nil {
		updatedAt = *req.UpdatedAt
	}
	round, err := s.node.PushRound(feed, answer, updatedAt)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toRound(round))
}

// respond writes the account view of the caller after a successful mutation.
func (s *Server) respond(w http.ResponseWriter, r *http.Request, err error) {
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	caller, _ := s.caller(r)
	acct, err := s.node.Account(caller)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, toAccount(acct, s.node.Symbol))
}
