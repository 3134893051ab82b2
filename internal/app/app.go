package app

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/jvanveen/groendus-hass/internal/auth"
	"github.com/jvanveen/groendus-hass/internal/bus"
	"github.com/jvanveen/groendus-hass/internal/config"
	"github.com/jvanveen/groendus-hass/internal/domain"
	"github.com/jvanveen/groendus-hass/internal/sensors"
)

// Transmitter is the sink snapshots are published to. Implemented by
// *transmission.MQTTTransmitter.
type Transmitter interface {
	Transmit(snap *sensors.Snapshot) error
	PublishAvailability(online bool) error
	IsConnected() bool
}

// Run wires the poller to the MQTT transmitter and blocks until ctx is
// cancelled or the credentials are rejected. Polls and publishes run on
// separate goroutines joined by the snapshot bus, so a slow broker never
// delays a poll.
func Run(
	parentCtx context.Context,
	cfg *config.Config,
	poller *Poller,
	mqttTx Transmitter,
	logger *logrus.Logger,
) error {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	messageBus := bus.New()
	sub := messageBus.Subscribe()
	grp, ctx := errgroup.WithContext(ctx)

	// Collector -----------------------------------------------------------
	grp.Go(func() error {
		// First poll right away so entities appear without waiting a full
		// interval; the ticker takes over afterwards.
		if err := pollOnce(ctx, poller, messageBus, mqttTx, logger); err != nil {
			return err
		}

		ticker := time.NewTicker(cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := pollOnce(ctx, poller, messageBus, mqttTx, logger); err != nil {
					return err
				}
			}
		}
	})

	// Scheduler -----------------------------------------------------------
	grp.Go(func() error {
		var latest, lastSent *sensors.Snapshot
		lastSentAt := time.Now().Add(-cfg.MQTTInterval)

		ticker := time.NewTicker(1 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case snap, ok := <-sub:
				if !ok {
					return nil
				}
				latest = snap
			case <-ticker.C:
				if latest == nil || mqttTx == nil {
					continue
				}
				now := time.Now()
				if now.Sub(lastSentAt) < cfg.MQTTInterval {
					continue
				}

				force := cfg.ForceUpdateInterval > 0 && now.Sub(lastSentAt) >= cfg.ForceUpdateInterval
				if !force && !domain.Changed(lastSent, latest) {
					continue
				}

				if err := mqttTx.Transmit(latest); err != nil {
					logger.WithError(err).Warn("MQTT transmit failed")
					// Reset lastSent so Changed() evaluates true on the next
					// tick while still respecting the publish interval.
					lastSent = nil
					lastSentAt = now
				} else {
					lastSent = latest
					lastSentAt = now
				}
			}
		}
	})

	err := grp.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// pollOnce runs a single cycle and routes the outcome: snapshots go on the
// bus, transient failures mark the device unavailable until the next tick,
// rejected credentials abort the whole app.
func pollOnce(
	ctx context.Context,
	poller *Poller,
	messageBus *bus.Bus,
	mqttTx Transmitter,
	logger *logrus.Logger,
) error {
	snap, err := poller.Poll(ctx)
	if err == nil {
		messageBus.Publish(snap)
		// A failed cycle marked the device offline; a succeeding one brings
		// it back even when the snapshot itself is unchanged and the
		// scheduler has nothing new to transmit.
		if mqttTx != nil && mqttTx.IsConnected() {
			if availErr := mqttTx.PublishAvailability(true); availErr != nil {
				logger.WithError(availErr).Debug("Failed to mark device available")
			}
		}
		return nil
	}

	if errors.Is(err, auth.ErrInvalidCredentials) {
		logger.WithError(err).Error("Credentials rejected, stopping")
		return err
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}

	logger.WithError(err).Warn("collector: poll failed")
	if mqttTx != nil && mqttTx.IsConnected() {
		if availErr := mqttTx.PublishAvailability(false); availErr != nil {
			logger.WithError(availErr).Debug("Failed to mark device unavailable")
		}
	}
	return nil
}
