package feed

import (
	"bytes"
	"encoding/json"

	"github.com/atmx/portfolio-sync/internal/model"
)

// DecisionRequest is the body posted to the decision API.
type DecisionRequest struct {
	PortfolioID     string `json:"portfolio_id"`
	ForecastHorizon string `json:"forecast_horizon"`
	ModelType       string `json:"model_type"`
}

type sellItem struct {
	Ticker                Text   `json:"ticker"`
	SharesToSell          Number `json:"shares_to_sell"`
	PredictedReturn       Number `json:"predicted_return"`
	PredictedReturnPeriod Text   `json:"predicted_return_period"`
	SelloffDate           Text   `json:"selloff_date"`
	SelloffReturn         Number `json:"selloff_return"`
}

type buyItem struct {
	Ticker      Text   `json:"ticker"`
	SharesToBuy Number `json:"shares_to_buy"`
}

type holdingItem struct {
	Ticker     Text   `json:"ticker"`
	ShareCount Number `json:"share_count"`
	Value      Number `json:"value"`
}

type decisionResponse struct {
	PortfolioID       Text              `json:"portfolio_id"`
	Sell              List[sellItem]    `json:"sell"`
	Buy               List[buyItem]     `json:"buy"`
	Skipped           Flag              `json:"skipped"`
	Reason            Text              `json:"reason"`
	DecisionDate      Text              `json:"decision_date"`
	CapitalBalance    Number            `json:"capital_balance"`
	UnchangedHoldings List[holdingItem] `json:"unchanged_holdings"`
}

// DecodedDecisions is a decision response reduced to domain types.
type DecodedDecisions struct {
	PortfolioID string
	Decisions   model.Decisions
	Meta        model.DecisionMeta
}

// DecodeDecisions decodes a decision API response body. Only a body that is
// not a JSON object is an error; every field defaults when absent.
func DecodeDecisions(body []byte) (DecodedDecisions, error) {
	var resp decisionResponse
	if err := decodeObject(body, &resp); err != nil {
		return DecodedDecisions{}, err
	}

	out := DecodedDecisions{
		PortfolioID: resp.PortfolioID.String(),
		Decisions: model.Decisions{
			Sell: make([]model.SellDecision, 0, len(resp.Sell.Items)),
			Buy:  make([]model.BuyDecision, 0, len(resp.Buy.Items)),
		},
		Meta: model.DecisionMeta{
			Skipped:           bool(resp.Skipped),
			Reason:            resp.Reason.String(),
			DecisionDate:      resp.DecisionDate.String(),
			CapitalBalance:    resp.CapitalBalance.NullDecimal,
			UnchangedHoldings: toHoldings(resp.UnchangedHoldings.Items),
		},
	}

	for _, s := range resp.Sell.Items {
		if s.Ticker.Ticker() == "" {
			continue
		}
		out.Decisions.Sell = append(out.Decisions.Sell, model.SellDecision{
			Ticker:                s.Ticker.Ticker(),
			SharesToSell:          s.SharesToSell.Or(zero),
			PredictedReturn:       s.PredictedReturn.NullDecimal,
			PredictedReturnPeriod: s.PredictedReturnPeriod.String(),
			SelloffDate:           s.SelloffDate.String(),
			SelloffReturn:         s.SelloffReturn.NullDecimal,
		})
	}
	for _, b := range resp.Buy.Items {
		if b.Ticker.Ticker() == "" {
			continue
		}
		out.Decisions.Buy = append(out.Decisions.Buy, model.BuyDecision{
			Ticker:      b.Ticker.Ticker(),
			SharesToBuy: b.SharesToBuy.Or(zero),
		})
	}
	return out, nil
}

func toHoldings(items []holdingItem) []model.Holding {
	out := make([]model.Holding, 0, len(items))
	for _, h := range items {
		if h.Ticker.Ticker() == "" {
			continue
		}
		out = append(out, model.Holding{
			Ticker:     h.Ticker.Ticker(),
			ShareCount: h.ShareCount.Or(zero),
			Value:      h.Value.Or(zero),
		})
	}
	return out
}

func decodeObject(body []byte, v any) error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return ErrUndecodable
	}
	if err := json.Unmarshal(body, v); err != nil {
		return ErrUndecodable
	}
	return nil
}
