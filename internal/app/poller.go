package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jvanveen/groendus-hass/internal/api"
	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/config"
	"github.com/jvanveen/groendus-hass/internal/sensors"
	"github.com/jvanveen/groendus-hass/internal/store"
)

// Authenticator yields valid token sets. Implemented by *auth.Client.
type Authenticator interface {
	EnsureValidToken(ctx context.Context, current *auth.TokenSet) (*auth.TokenSet, error)
	Login(ctx context.Context) (*auth.TokenSet, error)
}

// TransactionLister is the slice of the API client the poller needs.
type TransactionLister interface {
	ListTransactions(ctx context.Context, idToken string, page, size int) (*api.TransactionPage, error)
}

// StateSaver persists poll results. Implemented by *store.Store.
type StateSaver interface {
	Save(state *store.State) error
}

// Poller runs one poll cycle at a time: ensure a valid token, fetch the
// newest transaction pages, fold them into the accumulator and derive the
// next snapshot. The host loop guarantees cycles never overlap, so the
// poller keeps its state without locking.
type Poller struct {
	authenticator Authenticator
	client        TransactionLister
	saver         StateSaver
	chargepointID string
	maxPages      int
	logger        *logrus.Logger

	tokens *auth.TokenSet
	acc    sensors.Accumulator
	prev   *sensors.Snapshot
}

// NewPoller creates a poller seeded with previously persisted state.
func NewPoller(
	authenticator Authenticator,
	client TransactionLister,
	saver StateSaver,
	state *store.State,
	chargepointID string,
	maxPages int,
	logger *logrus.Logger,
) *Poller {
	if maxPages <= 0 {
		maxPages = config.DefaultMaxPages
	}
	return &Poller{
		authenticator: authenticator,
		client:        client,
		saver:         saver,
		chargepointID: chargepointID,
		maxPages:      maxPages,
		logger:        logger,
		tokens:        state.Tokens,
		acc:           state.Accumulator,
	}
}

// Poll performs one complete cycle and returns the derived snapshot.
// Rejected credentials come back wrapping auth.ErrInvalidCredentials so the
// caller can abort instead of retrying forever; every other failure is a
// single failed poll.
func (p *Poller) Poll(ctx context.Context) (*sensors.Snapshot, error) {
	tokensBefore := p.tokens
	tokens, err := p.authenticator.EnsureValidToken(ctx, p.tokens)
	if err != nil {
		return nil, fmt.Errorf("poll: authentication failed: %w", err)
	}
	p.tokens = tokens

	// fetchTransactions may replace the tokens again on a mid-poll re-login.
	transactions, err := p.fetchTransactions(ctx)
	if err != nil {
		return nil, err
	}
	tokensChanged := p.tokens != tokensBefore

	acc, snap := sensors.Compute(p.acc, p.prev, transactions, p.chargepointID, time.Now())
	accChanged := acc.TotalEnergyKWh != p.acc.TotalEnergyKWh ||
		len(acc.SeenTransactionIDs) != len(p.acc.SeenTransactionIDs)

	if snap.TotalRegression {
		p.logger.WithFields(logrus.Fields{
			"total_energy_kwh": p.acc.TotalEnergyKWh,
		}).Warn("Vendor data would decrease the energy total; keeping previous value")
	}

	p.acc = acc
	p.prev = snap

	if accChanged || tokensChanged {
		if err := p.saver.Save(&store.State{Accumulator: p.acc, Tokens: p.tokens}); err != nil {
			// The snapshot is still good; the accumulator just won't
			// survive a restart until the next successful save.
			p.logger.WithError(err).Warn("Failed to persist state")
		}
	}

	return snap, nil
}

// fetchTransactions walks the newest transaction pages. Paging stops early
// once a page contains a transaction that already counted: everything older
// is counted too. An expired token triggers exactly one re-login and one
// retry; a second rejection fails the poll.
func (p *Poller) fetchTransactions(ctx context.Context) ([]api.Transaction, error) {
	var fetched []api.Transaction
	reauthenticated := false

	for page := 1; page <= p.maxPages; page++ {
		result, err := p.client.ListTransactions(ctx, p.tokens.IDToken, page, config.TransactionPageSize)
		if errors.Is(err, api.ErrTokenExpired) && !reauthenticated {
			reauthenticated = true
			p.logger.Info("Token rejected mid-poll, re-authenticating once")

			tokens, loginErr := p.authenticator.Login(ctx)
			if loginErr != nil {
				return nil, fmt.Errorf("poll: re-authentication failed: %w", loginErr)
			}
			p.tokens = tokens

			result, err = p.client.ListTransactions(ctx, p.tokens.IDToken, page, config.TransactionPageSize)
		}
		if err != nil {
			return nil, fmt.Errorf("poll: transaction fetch failed: %w", err)
		}

		if len(result.Items) == 0 {
			break
		}
		fetched = append(fetched, result.Items...)

		stop := false
		for _, tx := range result.Items {
			if tx.ChargepointID != p.chargepointID || !tx.Completed() {
				continue
			}
			if p.acc.Seen(tx.ID) {
				stop = true
				break
			}
		}
		if stop {
			break
		}
	}

	return fetched, nil
}
