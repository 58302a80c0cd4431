// Package directory turns raw portfolio directory rows into an ordered list
// of selectable portfolios.
package directory

import (
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"

	"github.com/atmx/portfolio-sync/internal/model"
)

var (
	collatorMu sync.Mutex
	collator   = collate.New(language.English, collate.IgnoreCase)
)

// Normalize extracts a PortfolioRef from every row that has an id and sorts
// the result by display name.
//
// The id is read from idColumn, then id, uuid and portfolio_id. The display
// name is read from display_name, displayName and name, and falls back to
// "Portfolio " plus the last four characters of the id.
func Normalize(rows []map[string]any, idColumn string) []model.PortfolioRef {
	idKeys := []string{idColumn, "id", "uuid", "portfolio_id"}
	nameKeys := []string{"display_name", "displayName", "name"}

	refs := make([]model.PortfolioRef, 0, len(rows))
	for _, row := range rows {
		id := firstString(row, idKeys)
		if id == "" {
			continue
		}
		name := firstString(row, nameKeys)
		if name == "" {
			name = Fallback(id)
		}
		refs = append(refs, model.PortfolioRef{ID: id, DisplayName: name})
	}

	Sort(refs)
	return refs
}

// Fallback is the display name used for a portfolio without one.
func Fallback(id string) string {
	suffix := id
	if r := []rune(id); len(r) > 4 {
		suffix = string(r[len(r)-4:])
	}
	return "Portfolio " + suffix
}

// Sort orders refs by display name using a locale-aware compare, with the id
// as a tie breaker.
func Sort(refs []model.PortfolioRef) {
	collatorMu.Lock()
	defer collatorMu.Unlock()

	slices.SortStableFunc(refs, func(a, b model.PortfolioRef) int {
		if c := collator.CompareString(a.DisplayName, b.DisplayName); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Find returns the ref with the given id.
func Find(refs []model.PortfolioRef, id string) (model.PortfolioRef, bool) {
	for _, r := range refs {
		if r.ID == id {
			return r, true
		}
	}
	return model.PortfolioRef{}, false
}

func firstString(row map[string]any, keys []string) string {
	for _, k := range keys {
		if k == "" {
			continue
		}
		if s := stringify(row[k]); s != "" {
			return s
		}
	}
	return ""
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool, map[string]any, []any:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(x))
	}
}
