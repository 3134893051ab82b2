package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/bus"
	"github.com/jvanveen/groendus-hass/internal/sensors"
)

type fakeTransmitter struct {
	connected    bool
	transmits    int
	availability []bool
}

func (f *fakeTransmitter) Transmit(*sensors.Snapshot) error { f.transmits++; return nil }

func (f *fakeTransmitter) PublishAvailability(online bool) error {
	f.availability = append(f.availability, online)
	return nil
}

func (f *fakeTransmitter) IsConnected() bool { return f.connected }

func TestPollOnceAvailability(t *testing.T) {
	t.Run("failed poll marks the device offline", func(t *testing.T) {
		lister := &fakeLister{failOnce: errors.New("appsync unreachable")}
		tx := &fakeTransmitter{connected: true}

		err := pollOnce(context.Background(), newTestPoller(&fakeAuthenticator{}, lister, &fakeSaver{}, nil), bus.New(), tx, quietLogger())
		require.NoError(t, err)
		assert.Equal(t, []bool{false}, tx.availability)
	})

	t.Run("successful poll marks the device online again", func(t *testing.T) {
		// A blip followed by a quiet chargepoint: the recovering poll yields
		// nothing new to transmit, but the device must still come back.
		lister := &fakeLister{
			failOnce: errors.New("appsync unreachable"),
			pages:    map[int][]api.Transaction{},
		}
		tx := &fakeTransmitter{connected: true}
		poller := newTestPoller(&fakeAuthenticator{}, lister, &fakeSaver{}, nil)
		messageBus := bus.New()
		sub := messageBus.Subscribe()

		require.NoError(t, pollOnce(context.Background(), poller, messageBus, tx, quietLogger()))
		require.NoError(t, pollOnce(context.Background(), poller, messageBus, tx, quietLogger()))

		assert.Equal(t, []bool{false, true}, tx.availability)

		select {
		case snap := <-sub:
			assert.NotNil(t, snap)
		default:
			t.Fatal("expected the recovered poll to publish a snapshot")
		}
	})

	t.Run("disconnected transmitter is left alone", func(t *testing.T) {
		lister := &fakeLister{pages: map[int][]api.Transaction{}}
		tx := &fakeTransmitter{connected: false}

		require.NoError(t, pollOnce(context.Background(), newTestPoller(&fakeAuthenticator{}, lister, &fakeSaver{}, nil), bus.New(), tx, quietLogger()))
		assert.Empty(t, tx.availability)
	})

	t.Run("rejected credentials abort without touching availability", func(t *testing.T) {
		authn := &fakeAuthenticator{ensureErr: auth.ErrInvalidCredentials}
		tx := &fakeTransmitter{connected: true}

		err := pollOnce(context.Background(), newTestPoller(authn, &fakeLister{}, &fakeSaver{}, nil), bus.New(), tx, quietLogger())
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
		assert.Empty(t, tx.availability)
	})
}
