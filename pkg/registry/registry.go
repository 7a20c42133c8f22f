// Package registry maps step kinds to their executor factories. The set of
// kinds is closed: every factory is registered at service start, and a
// workflow referencing an unknown kind is rejected before any run starts.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vessoa/paperwork/pkg/models"
	"github.com/vessoa/paperwork/pkg/protocol"
)

// ErrKindNotRegistered indicates a step kind with no registered factory.
var ErrKindNotRegistered = fmt.Errorf("step kind not registered")

// StepSchema describes one registered step kind for discovery endpoints.
type StepSchema struct {
	Kind        models.StepKind `json:"kind"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Schema      map[string]any  `json:"schema"`
}

type Registry struct {
	logger    *slog.Logger
	factories map[models.StepKind]protocol.StepFactory
}

func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		logger:    logger,
		factories: make(map[models.StepKind]protocol.StepFactory),
	}
}

// Register adds a factory for its step kind, replacing any previous one.
func (r *Registry) Register(factory protocol.StepFactory) {
	r.factories[factory.Kind()] = factory

	r.logger.Debug("Registered step factory", "kind", factory.Kind())
}

// CreateExecutor builds the executor for a step from its registered
// factory. Configuration validation happens inside the factory, so a nil
// error here means the step is runnable.
func (r *Registry) CreateExecutor(step *models.Step) (protocol.StepExecutor, error) {
	factory, ok := r.factories[step.Kind]
	if !ok {
		return nil, fmt.Errorf("step '%s' kind '%s': %w", step.ID, step.Kind, ErrKindNotRegistered)
	}

	return factory.Create(step)
}

// AvailableKinds returns the registered step kinds, sorted.
func (r *Registry) AvailableKinds() []string {
	kinds := make([]string, 0, len(r.factories))
	for kind := range r.factories {
		kinds = append(kinds, string(kind))
	}

	sort.Strings(kinds)

	return kinds
}

// Schemas returns the configuration schema of every registered kind,
// sorted by kind, for the discovery endpoint.
func (r *Registry) Schemas() []StepSchema {
	schemas := make([]StepSchema, 0, len(r.factories))

	for _, factory := range r.factories {
		schemas = append(schemas, StepSchema{
			Kind:        factory.Kind(),
			Name:        factory.Name(),
			Description: factory.Description(),
			Schema:      factory.Schema(),
		})
	}

	sort.Slice(schemas, func(i, j int) bool {
		return schemas[i].Kind < schemas[j].Kind
	})

	return schemas
}
