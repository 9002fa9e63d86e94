package service

import (
	"context"

	"vigil/internal/logger"
	"vigil/internal/model"
)

// LogActions writes fired actions to the log. It is the fallback sink when
// no external action transport is configured.
type LogActions struct{}

func NewLogActions() *LogActions {
	return &LogActions{}
}

func (s *LogActions) Send(_ context.Context, trigger *model.Trigger, event model.Event) {
	log := logger.WithTrigger(trigger.TenantID, trigger.ID)
	for _, action := range trigger.Actions {
		log.Info().
			Str("plugin", action.Plugin).
			Str("action_id", action.ActionID).
			Str("event_id", event.ID).
			Str("category", string(event.Category)).
			Msg("action fired")
	}
}

// NoopActions discards all actions.
type NoopActions struct{}

func (NoopActions) Send(context.Context, *model.Trigger, model.Event) {}
