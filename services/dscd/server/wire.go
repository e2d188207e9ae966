package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"dscengine/crypto"
	"dscengine/native/dsc"
	"dscengine/services/dscd/node"
)

const maxBodyBytes = 1 << 16

// Amounts travel as base-10 strings in the token's smallest unit.

type collateralRequest struct {
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
}

type dscRequest struct {
	Amount string `json:"amount"`
}

type positionRequest struct {
	Asset      string `json:"asset"`
	Collateral string `json:"collateral"`
	Debt       string `json:"debt"`
}

type liquidateRequest struct {
	Asset       string `json:"asset"`
	Account     string `json:"account"`
	DebtToCover string `json:"debtToCover"`
}

// approveRequest accepts "max" as the amount for an unlimited allowance. An
// empty spender approves the engine.
type approveRequest struct {
	Asset   string `json:"asset"`
	Spender string `json:"spender,omitempty"`
	Amount  string `json:"amount"`
}

type pushRoundRequest struct {
	Answer    string     `json:"answer"`
	UpdatedAt *time.Time `json:"updatedAt,omitempty"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type collateralInfo struct {
	Symbol string `json:"symbol"`
	Asset  string `json:"asset"`
	Feed   string `json:"feed"`
}

type paramsResponse struct {
	Engine                  string           `json:"engine"`
	Stablecoin              string           `json:"stablecoin"`
	Collateral              []collateralInfo `json:"collateral"`
	LiquidationThreshold    uint64           `json:"liquidationThreshold"`
	LiquidationBonus        uint64           `json:"liquidationBonus"`
	LiquidationPrecision    uint64           `json:"liquidationPrecision"`
	Precision               string           `json:"precision"`
	AdditionalFeedPrecision string           `json:"additionalFeedPrecision"`
	MinHealthFactor         string           `json:"minHealthFactor"`
	FeedDecimals            int              `json:"feedDecimals"`
	StalePriceTimeout       string           `json:"stalePriceTimeout"`
}

type accountResponse struct {
	Address            string            `json:"address"`
	Collateral         map[string]string `json:"collateral"`
	DebtMinted         string            `json:"debtMinted"`
	CollateralValueUSD string            `json:"collateralValueUsd,omitempty"`
	HealthFactor       string            `json:"healthFactor,omitempty"`
	StablecoinBalance  string            `json:"stablecoinBalance"`
	PriceError         string            `json:"priceError,omitempty"`
}

type candidateResponse struct {
	Account            string `json:"account"`
	HealthFactor       string `json:"healthFactor"`
	DebtMinted         string `json:"debtMinted"`
	CollateralValueUSD string `json:"collateralValueUsd"`
}

type liquidationResponse struct {
	Account              string `json:"account"`
	Asset                string `json:"asset"`
	DebtCovered          string `json:"debtCovered"`
	CollateralSeized     string `json:"collateralSeized"`
	Bonus                string `json:"bonus"`
	StartingHealthFactor string `json:"startingHealthFactor"`
	EndingHealthFactor   string `json:"endingHealthFactor"`
}

type balanceResponse struct {
	Asset   string `json:"asset"`
	Symbol  string `json:"symbol"`
	Holder  string `json:"holder"`
	Balance string `json:"balance"`
}

type roundResponse struct {
	RoundID         uint64    `json:"roundId"`
	Answer          string    `json:"answer"`
	StartedAt       time.Time `json:"startedAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	AnsweredInRound uint64    `json:"answeredInRound"`
}

type feedResponse struct {
	Address     string          `json:"address"`
	Description string          `json:"description"`
	Decimals    int             `json:"decimals"`
	Latest      *roundResponse  `json:"latest,omitempty"`
	History     []roundResponse `json:"history"`
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidBody, err)
	}
	return nil
}

func parseAddress(field, value string) (crypto.Address, error) {
	addr, err := crypto.ParseAddress(strings.TrimSpace(value))
	if err != nil {
		return crypto.Address{}, fmt.Errorf("%w: %s", errInvalidAddress, field)
	}
	return addr, nil
}

func parseAmount(field, value string) (*uint256.Int, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, fmt.Errorf("%w: %s required", errInvalidAmount, field)
	}
	amount, err := uint256.FromDecimal(value)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", errInvalidAmount, field)
	}
	return amount, nil
}

func parseAllowance(value string) (*uint256.Int, error) {
	if strings.EqualFold(strings.TrimSpace(value), "max") {
		return node.MaxAllowance(), nil
	}
	return parseAmount("amount", value)
}

func parseAnswer(value string) (*big.Int, error) {
	answer, ok := new(big.Int).SetString(strings.TrimSpace(value), 10)
	if !ok {
		return nil, fmt.Errorf("%w: answer", errInvalidAmount)
	}
	return answer, nil
}

func decimal(v *uint256.Int) string {
	if v == nil {
		return ""
	}
	return v.Dec()
}

func toParams(p node.Params) paramsResponse {
	out := paramsResponse{
		Engine:                  p.Engine.String(),
		Stablecoin:              p.Stablecoin.String(),
		Collateral:              make([]collateralInfo, 0, len(p.Collateral)),
		LiquidationThreshold:    p.LiquidationThreshold,
		LiquidationBonus:        p.LiquidationBonus,
		LiquidationPrecision:    p.LiquidationPrecision,
		Precision:               decimal(p.Precision),
		AdditionalFeedPrecision: decimal(p.AdditionalFeedPrecision),
		MinHealthFactor:         decimal(p.MinHealthFactor),
		FeedDecimals:            p.FeedDecimals,
		StalePriceTimeout:       p.StalePriceTimeout.String(),
	}
	for _, c := range p.Collateral {
		out.Collateral = append(out.Collateral, collateralInfo{
			Symbol: c.Symbol,
			Asset:  c.Asset.String(),
			Feed:   c.Feed.String(),
		})
	}
	return out
}

func toAccount(a node.Account, symbol func(crypto.Address) string) accountResponse {
	out := accountResponse{
		Address:            a.Address.String(),
		Collateral:         make(map[string]string, len(a.Collateral)),
		DebtMinted:         decimal(a.DebtMinted),
		CollateralValueUSD: decimal(a.CollateralValueUSD),
		HealthFactor:       decimal(a.HealthFactor),
		StablecoinBalance:  decimal(a.StablecoinBalance),
	}
	for asset, amount := range a.Collateral {
		out.Collateral[symbol(asset)] = decimal(amount)
	}
	if a.PriceError != nil {
		out.PriceError = a.PriceError.Error()
	}
	return out
}

func toCandidate(c dsc.Candidate) candidateResponse {
	return candidateResponse{
		Account:            c.Account.String(),
		HealthFactor:       decimal(c.HealthFactor),
		DebtMinted:         decimal(c.Information.DebtMinted),
		CollateralValueUSD: decimal(c.Information.CollateralValueUSD),
	}
}

func toLiquidation(r *dsc.LiquidationResult) liquidationResponse {
	return liquidationResponse{
		Account:              r.Account.String(),
		Asset:                r.Asset.String(),
		DebtCovered:          decimal(r.DebtCovered),
		CollateralSeized:     decimal(r.CollateralSeized),
		Bonus:                decimal(r.Bonus),
		StartingHealthFactor: decimal(r.StartingHealthFactor),
		EndingHealthFactor:   decimal(r.EndingHealthFactor),
	}
}

func toRound(r dsc.RoundData) roundResponse {
	out := roundResponse{
		RoundID:         r.RoundID,
		StartedAt:       r.StartedAt.UTC(),
		UpdatedAt:       r.UpdatedAt.UTC(),
		AnsweredInRound: r.AnsweredInRound,
	}
	if r.Answer != nil {
		out.Answer = r.Answer.String()
	}
	return out
}
