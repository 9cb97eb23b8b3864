package realtime

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tkarlsen/mealcard/internal/reader"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/pkg/logger"
)

const (
	// scanPoll bounds one WaitForCard cycle so the loop stays responsive to
	// shutdown.
	scanPoll = 2 * time.Second

	// debounce suppresses repeat events while the same card rests on the
	// reader.
	debounce = 3 * time.Second

	// unavailableBackoff throttles reconnect attempts when no reader is
	// attached.
	unavailableBackoff = 10 * time.Second
)

// Monitor watches the reader for presented cards and publishes scan events
// on the scans stream, so the dashboard shows a card the moment it touches
// the till.
type Monitor struct {
	cards *services.CardService
	hub   *Hub
	now   func() time.Time
	log   *zap.Logger
}

// NewMonitor constructs a reader monitor.
func NewMonitor(cards *services.CardService, hub *Hub) (*Monitor, error) {
	if cards == nil {
		return nil, errors.New("monitor: card service is required")
	}
	if hub == nil {
		return nil, errors.New("monitor: hub is required")
	}
	return &Monitor{
		cards: cards,
		hub:   hub,
		now:   time.Now,
		log:   logger.WithModule("monitor"),
	}, nil
}

// ScanEvent is the payload published for each presented card.
type ScanEvent struct {
	CardUID string               `json:"card_uid"`
	ScanAt  time.Time            `json:"scan_at"`
	Card    *services.ReadResult `json:"card,omitempty"`
	Error   string               `json:"error,omitempty"`
}

// Run polls the reader until the context is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	var (
		lastUID string
		lastAt  time.Time
	)

	for {
		if err := ctx.Err(); err != nil {
			return
		}

		uid, err := m.cards.Scan(ctx, scanPoll)
		switch {
		case err == nil:
			// fallthrough to handling below
		case errors.Is(err, reader.ErrTimedOut):
			continue
		case errors.Is(err, reader.ErrUnavailable):
			if !sleepCtx(ctx, unavailableBackoff) {
				return
			}
			continue
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return
		default:
			m.log.Warn("scan failed", zap.Error(err))
			if !sleepCtx(ctx, time.Second) {
				return
			}
			continue
		}

		now := m.now()
		if uid == lastUID && now.Sub(lastAt) < debounce {
			continue
		}
		lastUID, lastAt = uid, now

		m.publish(ctx, uid, now)
	}
}

func (m *Monitor) publish(ctx context.Context, uid string, at time.Time) {
	event := ScanEvent{CardUID: uid, ScanAt: at}

	result, err := m.cards.Read(ctx, uid)
	if err != nil {
		event.Error = err.Error()
		m.log.Warn("read after scan failed", zap.String("card_uid", uid), zap.Error(err))
	} else {
		event.Card = result
	}

	m.hub.Broadcast(StreamScans, Message{Event: "card_scanned", Data: event})
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
