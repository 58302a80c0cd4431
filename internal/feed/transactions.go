package feed

import (
	"encoding/json"
)

type transactionRow struct {
	PortfolioID         Text                  `json:"portfolio_id"`
	SaleTransaction     List[json.RawMessage] `json:"sale_transaction"`
	PurchaseTransaction List[json.RawMessage] `json:"purchase_transaction"`
	Sales               List[json.RawMessage] `json:"sales"`
	Purchases           List[json.RawMessage] `json:"purchases"`
}

// TransactionBatch holds the raw ledger records of one transaction feed
// response, ready for the ledger filter. A nil list means the feed did not
// supply it.
type TransactionBatch struct {
	PortfolioID string
	Sales       []json.RawMessage
	Purchases   []json.RawMessage
}

// DecodeTransactions decodes a transaction feed response: either a store
// array whose first row carries sale_transaction/purchase_transaction, or a
// single object in that shape or the keyed sales/purchases shape.
func DecodeTransactions(body []byte) (TransactionBatch, error) {
	row, err := firstRow(body)
	if err != nil {
		return TransactionBatch{}, err
	}

	var r transactionRow
	if err := decodeObject(row, &r); err != nil {
		return TransactionBatch{}, err
	}

	batch := TransactionBatch{PortfolioID: r.PortfolioID.String()}
	batch.Sales = pick(r.SaleTransaction, r.Sales)
	batch.Purchases = pick(r.PurchaseTransaction, r.Purchases)
	return batch, nil
}

func pick(primary, fallback List[json.RawMessage]) []json.RawMessage {
	switch {
	case primary.Present:
		return primary.Items
	case fallback.Present:
		return fallback.Items
	default:
		return nil
	}
}
