package subscriber

import (
	"fmt"
	"time"

	"loanflow/scenario"
)

// CollaboratorConfig names the external endpoints that consume scenario
// events. An empty URL leaves that collaborator unwired.
type CollaboratorConfig struct {
	CleaningURL string
	DecisionURL string
	InsightURL  string
	Timeout     time.Duration
}

// WireCollaborators registers the standard webhook fan-out: the cleaning
// pipeline picks up fresh scenarios, the decision engine reacts to cleaned
// data and evaluation requests, and the insight engine follows the rest of
// the lifecycle.
func WireCollaborators(reg *Registry, cfg CollaboratorConfig) error {
	type binding struct {
		name       string
		url        string
		eventTypes []scenario.EventType
	}

	bindings := []binding{
		{
			name:       "cleaning",
			url:        cfg.CleaningURL,
			eventTypes: []scenario.EventType{scenario.EventTypeCreated},
		},
		{
			name: "decision",
			url:  cfg.DecisionURL,
			eventTypes: []scenario.EventType{
				scenario.EventTypeDataReady,
				scenario.EventTypeEvaluationRequested,
			},
		},
		{
			name: "insight",
			url:  cfg.InsightURL,
			eventTypes: []scenario.EventType{
				scenario.EventTypeStatusChanged,
				scenario.EventTypeMatchesFound,
				scenario.EventTypeError,
				scenario.EventTypeDeleted,
			},
		},
	}

	for _, b := range bindings {
		if b.url == "" {
			continue
		}
		hook := NewWebhook(b.name, b.url, cfg.Timeout)
		for _, et := range b.eventTypes {
			if err := reg.Register(string(et), hook); err != nil {
				return fmt.Errorf("subscriber: wire %s: %w", b.name, err)
			}
		}
	}
	return nil
}
