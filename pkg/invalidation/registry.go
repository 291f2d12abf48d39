// Package invalidation centralizes the mapping from "what changed" to
// "what must be considered stale". Mutation call sites report the
// resource type they touched; the registry purges every cache namespace
// that depends on it, so no call site needs to know any other call
// site's key naming.
package invalidation

import (
	"go.uber.org/zap"

	"github.com/teamtrack/teamtrack/pkg/cache"
)

var nopLogger = zap.NewNop()

// Registry has no state of its own beyond the store it delegates to.
type Registry struct {
	store  *cache.Store
	logger *zap.Logger
}

func NewRegistry(store *cache.Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = nopLogger
	}
	return &Registry{store: store, logger: logger}
}

// OnCreate purges every cache entry namespaced under resourceType.
func (r *Registry) OnCreate(resourceType string) {
	r.logger.Debug("invalidate on create", zap.String("resource", resourceType))
	r.store.Invalidate(resourceType)
}

// OnUpdate purges the resourceType namespace plus the fine-grained
// "<resourceType>-<id>" key when such keys are used.
func (r *Registry) OnUpdate(resourceType, id string) {
	r.logger.Debug("invalidate on update",
		zap.String("resource", resourceType), zap.String("id", id))
	r.store.Invalidate(resourceType)
	if len(id) > 0 {
		r.store.Invalidate(resourceType + "-" + id)
	}
}

// OnDelete purges the same keys as OnUpdate.
func (r *Registry) OnDelete(resourceType, id string) {
	r.logger.Debug("invalidate on delete",
		zap.String("resource", resourceType), zap.String("id", id))
	r.store.Invalidate(resourceType)
	if len(id) > 0 {
		r.store.Invalidate(resourceType + "-" + id)
	}
}

// OnRelatedUpdate purges multiple namespaces in one call, for mutations
// with denormalized effects on other resource types.
func (r *Registry) OnRelatedUpdate(resourceTypes ...string) {
	for _, rt := range resourceTypes {
		r.logger.Debug("invalidate related", zap.String("resource", rt))
		r.store.Invalidate(rt)
	}
}
