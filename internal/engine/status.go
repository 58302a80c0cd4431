package engine

import "github.com/atmx/portfolio-sync/internal/model"

// Panes that carry a status.
const (
	PaneDecisions    = model.SourceDecisions
	PaneValuation    = model.SourceValuation
	PaneTransactions = model.SourceTransactions
	PaneDirectory    = model.SourceDirectory
)

// Status states.
const (
	StateAwaiting        = "Awaiting fetch"
	StateFetching        = "Fetching..."
	StateReady           = "Ready"
	StateSkipped         = "Skipped"
	StateOffline         = "Offline"
	StateSelectPortfolio = "Select portfolio"
	StateNotConfigured   = "Not configured"
	StateLoading         = "Loading..."
	StateEmpty           = "Empty"
)

var (
	decisionsInitial    = model.Status{State: StateAwaiting, Message: "Select a portfolio to view decisions."}
	decisionsSelected   = model.Status{State: StateAwaiting, Message: "Select 'Latest Trades' to load decisions."}
	decisionsFetching   = model.Status{State: StateFetching, Message: "Reaching out to the ML API."}
	decisionsReady      = model.Status{State: StateReady, Message: "Most recent trade decisions are now available."}
	decisionsOffline    = model.Status{State: StateOffline, Message: "Unable to reach the backend API. Using cached values."}
	decisionsNoConfig   = model.Status{State: StateNotConfigured, Message: "Decision API is not configured."}
	defaultSkipReason   = "Decisions skipped by backend."
	selectPortfolioHint = model.Status{State: StateSelectPortfolio, Message: "Select a portfolio to continue."}

	valuationInitial  = model.Status{State: StateAwaiting, Message: "Select a portfolio to view its value."}
	valuationSelected = model.Status{State: StateAwaiting, Message: "Refresh the portfolio to load its value."}
	valuationFetching = model.Status{State: StateFetching, Message: "Reaching out for the latest valuation."}
	valuationReady    = model.Status{State: StateReady, Message: "Portfolio value is up to date."}
	valuationOffline  = model.Status{State: StateOffline, Message: "Unable to reach the backend API. Using cached values."}
	storeNoConfig     = model.Status{State: StateNotConfigured, Message: "Supabase is not configured."}

	transactionsInitial  = model.Status{State: StateAwaiting, Message: "Select a portfolio to view transaction history."}
	transactionsSelected = model.Status{State: StateAwaiting, Message: "Select 'Fetch Transaction History' to load transactions."}
	transactionsFetching = model.Status{State: StateFetching, Message: "Reaching out for transaction history."}
	transactionsReady    = model.Status{State: StateReady, Message: "Transaction history is up to date."}
	transactionsOffline  = model.Status{State: StateOffline, Message: "Unable to reach the backend API."}

	directoryInitial  = model.Status{State: StateAwaiting, Message: "Select a portfolio to begin."}
	directoryLoading  = model.Status{State: StateLoading, Message: "Loading portfolios..."}
	directoryReady    = model.Status{State: StateReady, Message: ""}
	directoryEmpty    = model.Status{State: StateEmpty, Message: "No portfolios found."}
	directoryOffline  = model.Status{State: StateOffline, Message: "Unable to load portfolios."}
	directoryNoConfig = storeNoConfig
)

func initialStatuses() map[string]model.Status {
	return map[string]model.Status{
		PaneDecisions:    decisionsInitial,
		PaneValuation:    valuationInitial,
		PaneTransactions: transactionsInitial,
		PaneDirectory:    directoryInitial,
	}
}

func skippedStatus(reason string) model.Status {
	if reason == "" {
		reason = defaultSkipReason
	}
	return model.Status{State: StateSkipped, Message: reason}
}
