package sensors

import (
	"sort"
	"time"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/config"
)

// Accumulator is the persistent part of the sensor state: the monotonic
// total plus a bounded window of transaction ids that already counted
// towards it. It survives restarts via the state store.
type Accumulator struct {
	TotalEnergyKWh     float64  `json:"total_energy_kwh"`
	SeenTransactionIDs []string `json:"seen_transaction_ids"`
}

// Seen reports whether the given transaction already counted into the total.
func (a *Accumulator) Seen(txID string) bool {
	for _, id := range a.SeenTransactionIDs {
		if id == txID {
			return true
		}
	}
	return false
}

// Compute folds one poll's worth of transactions into the accumulator and
// derives the next snapshot. Only completed sessions of the selected
// chargepoint count. The total never decreases: when the vendor's figures
// would regress it, the previous value is held and the snapshot carries a
// diagnostic flag instead of the poll failing.
//
// An empty transaction list leaves the last-session values of prev
// untouched, so a quiet chargepoint keeps reporting its most recent session.
func Compute(acc Accumulator, prev *Snapshot, transactions []api.Transaction, chargepointID string, now time.Time) (Accumulator, *Snapshot) {
	completed := make([]api.Transaction, 0, len(transactions))
	for _, tx := range transactions {
		if tx.ChargepointID != chargepointID || !tx.Completed() || tx.ID == "" {
			continue
		}
		completed = append(completed, tx)
	}

	// The vendor returns newest first already; sort defensively so the
	// "last session" pick does not depend on API ordering quirks.
	sort.SliceStable(completed, func(i, j int) bool {
		return completed[i].StartDateTime > completed[j].StartDateTime
	})

	added := 0.0
	var newIDs []string
	for _, tx := range completed {
		if acc.Seen(tx.ID) {
			continue
		}
		if tx.TotalEnergy != nil {
			added += *tx.TotalEnergy
		}
		newIDs = append(newIDs, tx.ID)
	}

	next := acc
	regression := false
	if total := acc.TotalEnergyKWh + added; total >= acc.TotalEnergyKWh {
		next.TotalEnergyKWh = total
	} else {
		// Negative vendor energy would shrink a total_increasing sensor.
		regression = true
	}

	if len(newIDs) > 0 {
		ids := make([]string, 0, len(newIDs)+len(acc.SeenTransactionIDs))
		ids = append(ids, newIDs...)
		ids = append(ids, acc.SeenTransactionIDs...)
		if len(ids) > config.SeenTransactionCap {
			ids = ids[:config.SeenTransactionCap]
		}
		next.SeenTransactionIDs = ids
	}

	snap := &Snapshot{
		Timestamp:        now,
		ChargepointID:    chargepointID,
		TotalEnergyKWh:   next.TotalEnergyKWh,
		SeenTransactions: len(next.SeenTransactionIDs),
		TotalRegression:  regression,
	}

	if len(completed) > 0 {
		latest := completed[0]
		snap.LastSessionEnergyKWh = latest.TotalEnergy
		snap.LastSessionCost = latest.TotalCost
		snap.LastSessionID = latest.ID
		snap.LastSessionStart = latest.StartDateTime
		snap.LastSessionEnd = latest.EndDateTime
		snap.LastSessionState = latest.Status
		snap.ChargeCardID = latest.VisualNumber
	} else if prev != nil {
		snap.LastSessionEnergyKWh = prev.LastSessionEnergyKWh
		snap.LastSessionCost = prev.LastSessionCost
		snap.LastSessionID = prev.LastSessionID
		snap.LastSessionStart = prev.LastSessionStart
		snap.LastSessionEnd = prev.LastSessionEnd
		snap.LastSessionState = prev.LastSessionState
		snap.ChargeCardID = prev.ChargeCardID
	}

	return next, snap
}
