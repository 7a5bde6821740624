package observability

import (
	"encoding/hex"
	"log/slog"

	"rewardnet/core/events"
)

// EventEmitter forwards engine events to structured logs and the engine
// metrics collectors.
type EventEmitter struct {
	log *slog.Logger
}

// NewEventEmitter wraps the provided logger. A nil logger falls back to the
// process default.
func NewEventEmitter(log *slog.Logger) *EventEmitter {
	if log == nil {
		log = slog.Default()
	}
	return &EventEmitter{log: log}
}

// Emit implements events.Emitter.
func (e *EventEmitter) Emit(evt events.Event) {
	if e == nil || evt == nil {
		return
	}
	switch ev := evt.(type) {
	case events.RewardPlanCreated:
		Engine().RecordPlanCreated()
		e.log.Info("reward plan created",
			slog.String("plan", hex.EncodeToString(ev.ID[:])),
			slog.String("asset", ev.Asset),
			slog.Uint64("threshold", ev.Threshold),
		)
	case events.RewardAccrued:
		Engine().RecordAccrual(ev.Asset, ev.Granted)
		e.log.Info("reward accrued",
			slog.String("plan", hex.EncodeToString(ev.ID[:])),
			slog.String("asset", ev.Asset),
			slog.String("user", hex.EncodeToString(ev.User)),
			slog.Uint64("amount", ev.Amount),
			slog.Bool("granted", ev.Granted),
		)
	case events.RewardPlanEnded:
		e.log.Info("reward plan ended",
			slog.String("plan", hex.EncodeToString(ev.ID[:])),
			slog.String("name", ev.Name),
		)
	default:
		e.log.Debug("event", slog.String("type", evt.EventType()))
	}
}
