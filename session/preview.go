package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"mala-sight/models"
)

// PreviewRegistry hands out local display handles for selected or captured
// images. Handles are revoked explicitly; the TTL only bounds handles leaked
// by a crashed request.
type PreviewRegistry struct {
	items *cache.Cache
}

// NewPreviewRegistry creates a registry. A zero ttl never expires handles.
func NewPreviewRegistry(ttl time.Duration) *PreviewRegistry {
	if ttl <= 0 {
		return &PreviewRegistry{items: cache.New(cache.NoExpiration, 0)}
	}
	return &PreviewRegistry{items: cache.New(ttl, 2*ttl)}
}

// Create registers a copy of the artifact and returns its handle.
func (r *PreviewRegistry) Create(artifact models.Artifact) string {
	handle := uuid.NewString()
	r.items.SetDefault(handle, artifact.Clone())
	return handle
}

// Get returns the artifact behind a live handle.
func (r *PreviewRegistry) Get(handle string) (models.Artifact, bool) {
	v, ok := r.items.Get(handle)
	if !ok {
		return models.Artifact{}, false
	}
	return v.(models.Artifact), true
}

// Revoke releases a handle. Revoking an unknown or empty handle is a no-op.
func (r *PreviewRegistry) Revoke(handle string) {
	if handle == "" {
		return
	}
	r.items.Delete(handle)
}

// Len returns the number of live handles.
func (r *PreviewRegistry) Len() int {
	return r.items.ItemCount()
}
