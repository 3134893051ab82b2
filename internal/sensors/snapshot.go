package sensors

import "time"

// Snapshot holds the derived sensor state for one poll cycle. We use
// pointers for the last-session values so we can distinguish between a
// missing value (nil, no completed session seen yet) and a value of 0.
type Snapshot struct {
	Timestamp time.Time `json:"timestamp"`

	ChargepointID string `json:"chargepoint_id"`

	// Energy Dashboard counter; non-decreasing across polls and restarts.
	TotalEnergyKWh float64 `json:"total_energy_kwh"`

	LastSessionEnergyKWh *float64 `json:"last_session_energy_kwh,omitempty"`
	LastSessionCost      *float64 `json:"last_session_cost,omitempty"`

	// Attributes of the newest completed session.
	LastSessionID    string `json:"last_session_id,omitempty"`
	LastSessionStart string `json:"last_session_start,omitempty"`
	LastSessionEnd   string `json:"last_session_end,omitempty"`
	LastSessionState string `json:"last_session_state,omitempty"`
	ChargeCardID     string `json:"charge_card_id,omitempty"`

	// Number of transaction ids currently in the dedup window.
	SeenTransactions int `json:"seen_transactions"`

	// Diagnostic flag: set for one poll when vendor data would have
	// decreased the total and the previous value was held instead.
	TotalRegression bool `json:"total_regression,omitempty"`
}
