// Package ledger normalizes raw sale/purchase records into a time-filtered,
// chronologically ordered transaction ledger.
package ledger

import (
	"bytes"
	"encoding/json"
	"slices"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/portfolio-sync/internal/model"
)

// timeLayouts are tried in order when parsing transaction timestamps.
// Zone-less layouts are read as UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	model.DateFormat,
}

// ParseTime parses an ISO-8601 style timestamp. It reports false for empty
// or unrecognized input.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// Build normalizes raw records and filters them against since.
//
// A record is either a positional triple [ticker, shareCount, time] or an
// object {ticker, share_count, transaction_time}. Records without a ticker,
// and positional records shorter than three elements, are dropped.
func Build(raw []json.RawMessage, since string) []model.TransactionEntry {
	entries := make([]model.TransactionEntry, 0, len(raw))
	for _, r := range raw {
		if e, ok := normalize(r); ok {
			entries = append(entries, e)
		}
	}
	return Filter(entries, since)
}

// Filter drops entries with a valid timestamp strictly before since and
// orders the rest ascending by timestamp. Entries whose own timestamp is
// missing or unparseable are kept and sort as the Unix epoch. An empty or
// unparseable since keeps everything.
func Filter(entries []model.TransactionEntry, since string) []model.TransactionEntry {
	start, hasStart := ParseTime(since)

	out := make([]model.TransactionEntry, 0, len(entries))
	for _, e := range entries {
		if hasStart {
			if t, ok := entryTime(e); ok && t.Before(start) {
				continue
			}
		}
		out = append(out, e)
	}

	slices.SortStableFunc(out, func(a, b model.TransactionEntry) int {
		return sortKey(a).Compare(sortKey(b))
	})
	return out
}

func entryTime(e model.TransactionEntry) (time.Time, bool) {
	if e.TransactionTime == nil {
		return time.Time{}, false
	}
	return ParseTime(*e.TransactionTime)
}

func sortKey(e model.TransactionEntry) time.Time {
	if t, ok := entryTime(e); ok {
		return t
	}
	return time.Unix(0, 0).UTC()
}

type keyedRecord struct {
	Ticker          json.RawMessage `json:"ticker"`
	ShareCount      json.RawMessage `json:"share_count"`
	TransactionTime json.RawMessage `json:"transaction_time"`
}

func normalize(raw json.RawMessage) (model.TransactionEntry, bool) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return model.TransactionEntry{}, false
	}

	var ticker, count, when json.RawMessage
	switch trimmed[0] {
	case '[':
		var triple []json.RawMessage
		if err := json.Unmarshal(trimmed, &triple); err != nil || len(triple) < 3 {
			return model.TransactionEntry{}, false
		}
		ticker, count, when = triple[0], triple[1], triple[2]
	case '{':
		var rec keyedRecord
		if err := json.Unmarshal(trimmed, &rec); err != nil {
			return model.TransactionEntry{}, false
		}
		ticker, count, when = rec.Ticker, rec.ShareCount, rec.TransactionTime
	default:
		return model.TransactionEntry{}, false
	}

	symbol := strings.ToUpper(strings.TrimSpace(asString(ticker)))
	if symbol == "" {
		return model.TransactionEntry{}, false
	}

	entry := model.TransactionEntry{
		Ticker:     symbol,
		ShareCount: asDecimal(count),
	}
	if s := asString(when); s != "" {
		entry.TransactionTime = &s
	}
	return entry, true
}

// asString accepts a JSON string, or a JSON number rendered as text.
func asString(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

// asDecimal reads a JSON number or numeric string; anything else is zero.
func asDecimal(raw json.RawMessage) decimal.Decimal {
	if len(raw) == 0 {
		return decimal.Zero
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := decimal.NewFromString(n.String()); err == nil {
			return v
		}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := decimal.NewFromString(strings.TrimSpace(s)); err == nil {
			return v
		}
	}
	return decimal.Zero
}
