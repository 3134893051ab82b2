package sensors

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/config"
)

func f64(v float64) *float64 { return &v }

func completedTx(id, start string, energy, cost float64) api.Transaction {
	return api.Transaction{
		ID:            id,
		ChargepointID: "NL-GND-001",
		VisualNumber:  "NL-CARD-42",
		StartDateTime: start,
		EndDateTime:   start[:11] + "10:00:00Z",
		TotalEnergy:   f64(energy),
		TotalCost:     f64(cost),
		Status:        "COMPLETED",
	}
}

func TestCompute(t *testing.T) {
	now := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	t.Run("sums unseen completed sessions and picks the newest as last session", func(t *testing.T) {
		transactions := []api.Transaction{
			completedTx("tx-2", "2025-06-02T08:00:00Z", 12.3, 3.50),
			completedTx("tx-1", "2025-06-01T08:00:00Z", 8.0, 2.10),
		}

		acc, snap := Compute(Accumulator{}, nil, transactions, "NL-GND-001", now)

		assert.InDelta(t, 20.3, acc.TotalEnergyKWh, 1e-9)
		assert.Equal(t, []string{"tx-2", "tx-1"}, acc.SeenTransactionIDs)
		assert.InDelta(t, 20.3, snap.TotalEnergyKWh, 1e-9)
		require.NotNil(t, snap.LastSessionEnergyKWh)
		assert.InDelta(t, 12.3, *snap.LastSessionEnergyKWh, 1e-9)
		require.NotNil(t, snap.LastSessionCost)
		assert.InDelta(t, 3.50, *snap.LastSessionCost, 1e-9)
		assert.Equal(t, "tx-2", snap.LastSessionID)
		assert.Equal(t, "NL-CARD-42", snap.ChargeCardID)
		assert.Equal(t, now, snap.Timestamp)
		assert.False(t, snap.TotalRegression)
	})

	t.Run("already seen sessions do not count twice", func(t *testing.T) {
		acc := Accumulator{TotalEnergyKWh: 20.3, SeenTransactionIDs: []string{"tx-2", "tx-1"}}
		transactions := []api.Transaction{
			completedTx("tx-2", "2025-06-02T08:00:00Z", 12.3, 3.50),
			completedTx("tx-1", "2025-06-01T08:00:00Z", 8.0, 2.10),
		}

		next, snap := Compute(acc, nil, transactions, "NL-GND-001", now)

		assert.InDelta(t, 20.3, next.TotalEnergyKWh, 1e-9)
		assert.Equal(t, []string{"tx-2", "tx-1"}, next.SeenTransactionIDs)
		assert.Equal(t, "tx-2", snap.LastSessionID)
	})

	t.Run("skips other chargepoints and open sessions", func(t *testing.T) {
		other := completedTx("tx-other", "2025-06-02T09:00:00Z", 99.0, 50.0)
		other.ChargepointID = "NL-GND-002"

		open := api.Transaction{
			ID:            "tx-open",
			ChargepointID: "NL-GND-001",
			StartDateTime: "2025-06-02T11:00:00Z",
			Status:        "ACTIVE",
		}

		transactions := []api.Transaction{
			other,
			open,
			completedTx("tx-1", "2025-06-01T08:00:00Z", 8.0, 2.10),
		}

		acc, snap := Compute(Accumulator{}, nil, transactions, "NL-GND-001", now)

		assert.InDelta(t, 8.0, acc.TotalEnergyKWh, 1e-9)
		assert.Equal(t, []string{"tx-1"}, acc.SeenTransactionIDs)
		assert.Equal(t, "tx-1", snap.LastSessionID)
	})

	t.Run("sorts sessions newest first even when the page is out of order", func(t *testing.T) {
		transactions := []api.Transaction{
			completedTx("tx-1", "2025-06-01T08:00:00Z", 8.0, 2.10),
			completedTx("tx-2", "2025-06-02T08:00:00Z", 12.3, 3.50),
		}

		_, snap := Compute(Accumulator{}, nil, transactions, "NL-GND-001", now)

		assert.Equal(t, "tx-2", snap.LastSessionID)
		assert.Equal(t, "2025-06-02T08:00:00Z", snap.LastSessionStart)
	})

	t.Run("negative vendor energy holds the total and flags a regression", func(t *testing.T) {
		acc := Accumulator{TotalEnergyKWh: 50.0, SeenTransactionIDs: []string{"tx-1"}}
		transactions := []api.Transaction{
			completedTx("tx-bad", "2025-06-02T08:00:00Z", -60.0, 0.0),
		}

		next, snap := Compute(acc, nil, transactions, "NL-GND-001", now)

		assert.InDelta(t, 50.0, next.TotalEnergyKWh, 1e-9)
		assert.InDelta(t, 50.0, snap.TotalEnergyKWh, 1e-9)
		assert.True(t, snap.TotalRegression)
	})

	t.Run("empty page carries the previous last session forward", func(t *testing.T) {
		prev := &Snapshot{
			LastSessionEnergyKWh: f64(12.3),
			LastSessionCost:      f64(3.50),
			LastSessionID:        "tx-2",
			LastSessionStart:     "2025-06-02T08:00:00Z",
			LastSessionEnd:       "2025-06-02T10:00:00Z",
			LastSessionState:     "COMPLETED",
			ChargeCardID:         "NL-CARD-42",
		}
		acc := Accumulator{TotalEnergyKWh: 20.3, SeenTransactionIDs: []string{"tx-2", "tx-1"}}

		next, snap := Compute(acc, prev, nil, "NL-GND-001", now)

		assert.InDelta(t, 20.3, next.TotalEnergyKWh, 1e-9)
		assert.Equal(t, "tx-2", snap.LastSessionID)
		require.NotNil(t, snap.LastSessionEnergyKWh)
		assert.InDelta(t, 12.3, *snap.LastSessionEnergyKWh, 1e-9)
		assert.Equal(t, "NL-CARD-42", snap.ChargeCardID)
		assert.Equal(t, 2, snap.SeenTransactions)
	})

	t.Run("missing energy counts as zero but still marks the id seen", func(t *testing.T) {
		tx := completedTx("tx-free", "2025-06-02T08:00:00Z", 0, 0)
		tx.TotalEnergy = nil
		tx.TotalCost = nil

		acc, snap := Compute(Accumulator{TotalEnergyKWh: 5.0}, nil, []api.Transaction{tx}, "NL-GND-001", now)

		assert.InDelta(t, 5.0, acc.TotalEnergyKWh, 1e-9)
		assert.Equal(t, []string{"tx-free"}, acc.SeenTransactionIDs)
		assert.Nil(t, snap.LastSessionEnergyKWh)
	})

	t.Run("seen id window is capped at the newest entries", func(t *testing.T) {
		acc := Accumulator{}
		for i := 0; i < config.SeenTransactionCap; i++ {
			acc.SeenTransactionIDs = append(acc.SeenTransactionIDs, fmt.Sprintf("old-%d", i))
		}

		transactions := []api.Transaction{
			completedTx("tx-new", "2025-06-02T08:00:00Z", 1.0, 0.25),
		}

		next, _ := Compute(acc, nil, transactions, "NL-GND-001", now)

		require.Len(t, next.SeenTransactionIDs, config.SeenTransactionCap)
		assert.Equal(t, "tx-new", next.SeenTransactionIDs[0])
		assert.NotContains(t, next.SeenTransactionIDs, fmt.Sprintf("old-%d", config.SeenTransactionCap-1))
	})
}
