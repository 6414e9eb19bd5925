package models

import "time"

// ForkPreference is a pool's or actor's declared ideological leaning.
// "neutral" means the agent has no fork it favors on ideological grounds,
// only on profit.
type ForkPreference string

const (
	PreferV27  ForkPreference = "v27"
	PreferV26  ForkPreference = "v26"
	PreferNone ForkPreference = "neutral"
)

// DecisionReason tags why an agent's fork-decision round landed where it
// did. A bounded enumeration (tagged variant), not a free-form string, per
// spec.md §9's design note on dynamic typing.
type DecisionReason string

const (
	ReasonInitial       DecisionReason = "initial"
	ReasonNoAdvantage   DecisionReason = "no_advantage"
	ReasonIdeologyHold  DecisionReason = "ideology_hold"
	ReasonProfitSwitch  DecisionReason = "profit_switch"
	ReasonForcedLossPct DecisionReason = "forced_loss_pct"
	ReasonForcedLossUSD DecisionReason = "forced_loss_usd"
	ReasonInertiaHold   DecisionReason = "inertia_hold"
	ReasonPriceSignal   DecisionReason = "price_signal"
	ReasonExpiry        DecisionReason = "expiry"
)

// Pool is a mining pool: a unit of hashrate that mines exactly one fork at
// a time. Switching produces a dated DecisionRecord.
type Pool struct {
	ID                       string         `json:"id"`
	HashrateShare            float64        `json:"hashrateShare"` // fraction of total nominal hashrate
	CurrentFork              ForkID         `json:"currentFork"`
	ForkPreference           ForkPreference `json:"forkPreference"`
	IdeologyStrength         float64        `json:"ideologyStrength"` // [0,1]
	ProfitabilityThreshold   float64        `json:"profitabilityThreshold"`
	MaxLossPct               float64        `json:"maxLossPct"`
	MaxLossUSD               float64        `json:"maxLossUsd"`
	CumulativeOpportunityUSD float64        `json:"cumulativeOpportunityUsd"`
	ForcedSwitches           int            `json:"forcedSwitches"`
	IdeologyOverrides        int            `json:"ideologyOverrides"`
	InertiaHolds             int            `json:"inertiaHolds"`

	// NodeIDs are the chain-store nodes this pool mines through. A switch
	// triggers a reorg on each of these nodes to the new fork's tip.
	NodeIDs []string `json:"nodeIds"`
}

// DecisionRecord is an immutable log entry produced by a pool or economic
// actor's decision round.
type DecisionRecord struct {
	Timestamp time.Time              `json:"timestamp"`
	AgentID   string                 `json:"agentId"`
	PriorFork ForkID                 `json:"priorFork"`
	NewFork   ForkID                 `json:"newFork"`
	Reason    DecisionReason         `json:"reason"`
	Metrics   map[string]float64     `json:"metrics,omitempty"`
}
