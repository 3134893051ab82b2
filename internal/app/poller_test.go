package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/sensors"
	"github.com/jvanveen/groendus-hass/internal/store"
)

type fakeAuthenticator struct {
	ensureCalls int
	loginCalls  int
	ensureErr   error
	loginErr    error
}

func (f *fakeAuthenticator) EnsureValidToken(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error) {
	f.ensureCalls++
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	if current != nil && current.ValidAt(time.Now()) {
		return current, nil
	}
	return f.Login(ctx)
}

func (f *fakeAuthenticator) Login(ctx context.Context) (*auth.TokenSet, error) {
	f.loginCalls++
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &auth.TokenSet{
		IDToken:      "id-token",
		RefreshToken: "refresh-token",
		ExpiresAt:    time.Now().Add(time.Hour),
	}, nil
}

type fakeLister struct {
	pages       map[int][]api.Transaction
	calls       []int
	failOnce    error
	failedCalls int
}

func (f *fakeLister) ListTransactions(ctx context.Context, idToken string, page, size int) (*api.TransactionPage, error) {
	f.calls = append(f.calls, page)
	if f.failOnce != nil {
		f.failedCalls++
		err := f.failOnce
		f.failOnce = nil
		return nil, err
	}
	items := f.pages[page]
	return &api.TransactionPage{TotalCount: len(items), Items: items}, nil
}

type fakeSaver struct {
	saves []*store.State
	err   error
}

func (f *fakeSaver) Save(state *store.State) error {
	f.saves = append(f.saves, state)
	return f.err
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

func tx(id, start string, energy float64) api.Transaction {
	e := energy
	return api.Transaction{
		ID:            id,
		ChargepointID: "NL-GND-001",
		StartDateTime: start,
		EndDateTime:   "2025-06-02T10:00:00Z",
		TotalEnergy:   &e,
		Status:        "COMPLETED",
	}
}

func newTestPoller(authn *fakeAuthenticator, lister *fakeLister, saver *fakeSaver, state *store.State) *Poller {
	if state == nil {
		state = &store.State{}
	}
	return NewPoller(authn, lister, saver, state, "NL-GND-001", 3, quietLogger())
}

func TestPoll(t *testing.T) {
	t.Run("first poll logs in, accumulates and persists", func(t *testing.T) {
		authn := &fakeAuthenticator{}
		lister := &fakeLister{pages: map[int][]api.Transaction{
			1: {tx("tx-2", "2025-06-02T08:00:00Z", 12.3), tx("tx-1", "2025-06-01T08:00:00Z", 8.0)},
		}}
		saver := &fakeSaver{}

		snap, err := newTestPoller(authn, lister, saver, nil).Poll(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 20.3, snap.TotalEnergyKWh, 1e-9)
		assert.Equal(t, 1, authn.loginCalls)

		require.Len(t, saver.saves, 1)
		assert.InDelta(t, 20.3, saver.saves[0].Accumulator.TotalEnergyKWh, 1e-9)
		require.NotNil(t, saver.saves[0].Tokens)
		assert.Equal(t, "refresh-token", saver.saves[0].Tokens.RefreshToken)
	})

	t.Run("unchanged data skips the state save", func(t *testing.T) {
		tokens := &auth.TokenSet{IDToken: "id", ExpiresAt: time.Now().Add(time.Hour)}
		state := &store.State{
			Accumulator: sensors.Accumulator{TotalEnergyKWh: 20.3, SeenTransactionIDs: []string{"tx-2", "tx-1"}},
			Tokens:      tokens,
		}
		lister := &fakeLister{pages: map[int][]api.Transaction{
			1: {tx("tx-2", "2025-06-02T08:00:00Z", 12.3)},
		}}
		saver := &fakeSaver{}

		snap, err := newTestPoller(&fakeAuthenticator{}, lister, saver, state).Poll(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 20.3, snap.TotalEnergyKWh, 1e-9)
		assert.Empty(t, saver.saves)
	})

	t.Run("invalid credentials abort the poll", func(t *testing.T) {
		authn := &fakeAuthenticator{ensureErr: auth.ErrInvalidCredentials}

		_, err := newTestPoller(authn, &fakeLister{}, &fakeSaver{}, nil).Poll(context.Background())
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	t.Run("expired token mid-poll re-authenticates once and retries the page", func(t *testing.T) {
		tokens := &auth.TokenSet{IDToken: "stale", ExpiresAt: time.Now().Add(time.Hour)}
		authn := &fakeAuthenticator{}
		lister := &fakeLister{
			failOnce: api.ErrTokenExpired,
			pages: map[int][]api.Transaction{
				1: {tx("tx-1", "2025-06-01T08:00:00Z", 8.0)},
			},
		}
		saver := &fakeSaver{}

		snap, err := newTestPoller(authn, lister, saver, &store.State{Tokens: tokens}).Poll(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 8.0, snap.TotalEnergyKWh, 1e-9)
		assert.Equal(t, 1, authn.loginCalls)
		// Page 1 retried after the re-login; its only transaction is new, so
		// paging continues until the empty page 2.
		assert.Equal(t, []int{1, 1, 2}, lister.calls)

		// Fresh tokens from the mid-poll login must be persisted.
		require.Len(t, saver.saves, 1)
		require.NotNil(t, saver.saves[0].Tokens)
		assert.Equal(t, "id-token", saver.saves[0].Tokens.IDToken)
	})

	t.Run("failed re-authentication fails the poll", func(t *testing.T) {
		tokens := &auth.TokenSet{IDToken: "stale", ExpiresAt: time.Now().Add(time.Hour)}
		loginErr := errors.New("cognito unreachable")
		authn := &fakeAuthenticator{loginErr: loginErr}
		lister := &fakeLister{failOnce: api.ErrTokenExpired}

		_, err := newTestPoller(authn, lister, &fakeSaver{}, &store.State{Tokens: tokens}).Poll(context.Background())
		assert.ErrorIs(t, err, loginErr)
	})

	t.Run("paging stops once a page contains an already counted session", func(t *testing.T) {
		state := &store.State{
			Accumulator: sensors.Accumulator{TotalEnergyKWh: 8.0, SeenTransactionIDs: []string{"tx-1"}},
			Tokens:      &auth.TokenSet{IDToken: "id", ExpiresAt: time.Now().Add(time.Hour)},
		}
		lister := &fakeLister{pages: map[int][]api.Transaction{
			1: {tx("tx-3", "2025-06-03T08:00:00Z", 5.0), tx("tx-2", "2025-06-02T08:00:00Z", 12.3)},
			2: {tx("tx-1", "2025-06-01T08:00:00Z", 8.0)},
			3: {tx("tx-0", "2025-05-30T08:00:00Z", 99.0)},
		}}
		saver := &fakeSaver{}

		snap, err := newTestPoller(&fakeAuthenticator{}, lister, saver, state).Poll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, lister.calls)
		assert.InDelta(t, 25.3, snap.TotalEnergyKWh, 1e-9)
	})

	t.Run("empty page ends paging", func(t *testing.T) {
		state := &store.State{Tokens: &auth.TokenSet{IDToken: "id", ExpiresAt: time.Now().Add(time.Hour)}}
		lister := &fakeLister{pages: map[int][]api.Transaction{
			1: {tx("tx-1", "2025-06-01T08:00:00Z", 8.0)},
		}}

		_, err := newTestPoller(&fakeAuthenticator{}, lister, &fakeSaver{}, state).Poll(context.Background())
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2}, lister.calls)
	})

	t.Run("failed state save does not fail the poll", func(t *testing.T) {
		lister := &fakeLister{pages: map[int][]api.Transaction{
			1: {tx("tx-1", "2025-06-01T08:00:00Z", 8.0)},
		}}
		saver := &fakeSaver{err: errors.New("disk full")}

		snap, err := newTestPoller(&fakeAuthenticator{}, lister, saver, nil).Poll(context.Background())
		require.NoError(t, err)
		assert.InDelta(t, 8.0, snap.TotalEnergyKWh, 1e-9)
	})
}
