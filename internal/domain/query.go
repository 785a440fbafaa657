package domain

import (
	"strings"

	"github.com/samber/lo"
)

// ActionType selects which explorer listing feeds a ranged query or scan.
type ActionType string

const (
	ActionTokenTransfers ActionType = "tokentx"
	ActionNormal         ActionType = "txlist"
	ActionInternal       ActionType = "txlistinternal"
)

var supportedActions = []ActionType{ActionTokenTransfers, ActionNormal, ActionInternal}

// ParseActionType returns the default action for an empty value.
func ParseActionType(raw string) (ActionType, bool) {
	raw = strings.ToLower(strings.TrimSpace(raw))
	if raw == "" {
		return ActionTokenTransfers, true
	}
	action := ActionType(raw)
	return action, lo.Contains(supportedActions, action)
}

// RangeQuery is a fee request over [Start, End] unix seconds.
type RangeQuery struct {
	Start  int64
	End    int64
	Action ActionType
}

// PageQuery addresses one explorer page over a block window.
type PageQuery struct {
	Action     ActionType
	StartBlock uint64
	EndBlock   uint64
	Page       int
	PageSize   int
}

// RangeOutcome tells the caller why a ranged query stopped paginating.
type RangeOutcome string

const (
	OutcomeComplete       RangeOutcome = "complete"
	OutcomeTruncated      RangeOutcome = "truncated"
	OutcomePartial        RangeOutcome = "partial"
	OutcomeNoTransactions RangeOutcome = "no_transactions"
)

// RangeResult holds the fees of a ranged query in page order.
// LastTimestamp is an advisory resume point for a follow-up query.
type RangeResult struct {
	Fees          []Fee
	LastTimestamp int64
	Outcome       RangeOutcome
	Degraded      RateStatus
	StartBlock    uint64
	EndBlock      uint64
	Pages         int
}
