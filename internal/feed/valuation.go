package feed

import (
	"bytes"
	"encoding/json"

	"github.com/atmx/portfolio-sync/internal/holdings"
	"github.com/atmx/portfolio-sync/internal/model"
)

// decisionSummary is one entry of a latest sell/buy list on the valuation
// feed. The share count is read from the first numeric field of
// share_count, shares, shares_to_sell, shares_to_buy.
type decisionSummary struct {
	Ticker       Text   `json:"ticker"`
	ShareCount   Number `json:"share_count"`
	Shares       Number `json:"shares"`
	SharesToSell Number `json:"shares_to_sell"`
	SharesToBuy  Number `json:"shares_to_buy"`
}

func (d decisionSummary) count() Number {
	for _, n := range []Number{d.ShareCount, d.Shares, d.SharesToSell, d.SharesToBuy} {
		if n.Valid {
			return n
		}
	}
	return Number{}
}

type valuationResponse struct {
	PortfolioID         Text                  `json:"portfolio_id"`
	EstimatedValue      Number                `json:"estimated_value"`
	CapitalBalance      Number                `json:"capital_balance"`
	Holdings            List[holdingItem]     `json:"holdings"`
	LatestSellDecisions List[decisionSummary] `json:"latest_sell_decisions"`
	LatestBuyDecisions  List[decisionSummary] `json:"latest_buy_decisions"`
}

// valuationRow is a portfolio row as stored by the backend. Array columns
// may arrive as JSON-encoded strings.
type valuationRow struct {
	Balance        Number                `json:"balance"`
	Capital        Number                `json:"capital"`
	ETFs           List[Text]            `json:"etfs"`
	ETFShareCounts List[Number]          `json:"etf_share_counts"`
	LastSale       List[decisionSummary] `json:"last_sale"`
	LastPurchase   List[decisionSummary] `json:"last_purchase"`
}

// DecodeValuation decodes the keyed valuation shape
// {estimated_value, capital_balance, holdings[], latest_*_decisions[]}.
func DecodeValuation(body []byte) (model.Valuation, error) {
	var resp valuationResponse
	if err := decodeObject(body, &resp); err != nil {
		return model.Valuation{}, err
	}

	v := model.Valuation{
		EstimatedValue: resp.EstimatedValue.NullDecimal,
		CapitalBalance: resp.CapitalBalance.NullDecimal,
	}
	if resp.Holdings.Present {
		v.HasHoldings = true
		v.Holdings = uniqueByTicker(toHoldings(resp.Holdings.Items))
	}
	setLatest(&v, resp.LatestSellDecisions, resp.LatestBuyDecisions)
	return v, nil
}

// DecodeValuationRows decodes a store response: an array whose first row is
// the requested portfolio. A single object is accepted as that row.
func DecodeValuationRows(body []byte) (model.Valuation, error) {
	row, err := firstRow(body)
	if err != nil {
		return model.Valuation{}, err
	}
	return ValuationFromRow(row)
}

// ValuationFromRow converts one stored portfolio row. The parallel etfs and
// etf_share_counts columns become holdings sorted by ticker; a missing count
// is zero and holding values are left for the valuation to fill.
func ValuationFromRow(row json.RawMessage) (model.Valuation, error) {
	var r valuationRow
	if err := decodeObject(row, &r); err != nil {
		return model.Valuation{}, err
	}

	v := model.Valuation{
		EstimatedValue: r.Balance.NullDecimal,
		CapitalBalance: r.Capital.NullDecimal,
	}

	if r.ETFs.Present {
		v.HasHoldings = true
		positions := make([]model.Holding, 0, len(r.ETFs.Items))
		for i, t := range r.ETFs.Items {
			count := zero
			if i < len(r.ETFShareCounts.Items) {
				count = r.ETFShareCounts.Items[i].Or(zero)
			}
			positions = append(positions, model.Holding{Ticker: t.Ticker(), ShareCount: count})
		}
		v.Holdings = holdings.Merge(positions, nil)
	}

	setLatest(&v, r.LastSale, r.LastPurchase)
	return v, nil
}

// uniqueByTicker keeps the last entry per ticker, sorted by ticker.
func uniqueByTicker(list []model.Holding) []model.Holding {
	index := make(map[string]int, len(list))
	out := make([]model.Holding, 0, len(list))
	for _, h := range list {
		if i, ok := index[h.Ticker]; ok {
			out[i] = h
			continue
		}
		index[h.Ticker] = len(out)
		out = append(out, h)
	}
	holdings.SortByTicker(out)
	return out
}

func setLatest(v *model.Valuation, sell, buy List[decisionSummary]) {
	if !sell.Present && !buy.Present {
		return
	}
	v.HasLatestDecisions = true
	v.LatestSell = make([]model.SellDecision, 0, len(sell.Items))
	for _, s := range sell.Items {
		if s.Ticker.Ticker() == "" {
			continue
		}
		v.LatestSell = append(v.LatestSell, model.SellDecision{
			Ticker:       s.Ticker.Ticker(),
			SharesToSell: s.count().Or(zero),
		})
	}
	v.LatestBuy = make([]model.BuyDecision, 0, len(buy.Items))
	for _, b := range buy.Items {
		if b.Ticker.Ticker() == "" {
			continue
		}
		v.LatestBuy = append(v.LatestBuy, model.BuyDecision{
			Ticker:      b.Ticker.Ticker(),
			SharesToBuy: b.count().Or(zero),
		})
	}
}

// firstRow returns the first element of a JSON array body, or the body
// itself when it is an object.
func firstRow(body []byte) (json.RawMessage, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 {
		return nil, ErrUndecodable
	}
	switch body[0] {
	case '{':
		return body, nil
	case '[':
		var rows []json.RawMessage
		if err := json.Unmarshal(body, &rows); err != nil {
			return nil, ErrUndecodable
		}
		if len(rows) == 0 {
			return nil, ErrNoRow
		}
		return rows[0], nil
	default:
		return nil, ErrUndecodable
	}
}
