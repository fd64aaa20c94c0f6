// Package livefeed ingests the push-based camera feed and turns the latest
// frame into a submittable artifact.
package livefeed

import (
	"context"

	"mala-sight/models"
)

// Store is the realtime store capability the ingestor depends on. Subscribe
// delivers the current value of path (if any) and every later update until ctx
// is cancelled, after which the channel is closed. Push writes record under a
// newly generated key of collection and returns the key.
type Store interface {
	Subscribe(ctx context.Context, path string) (<-chan models.LiveFrame, error)
	Push(ctx context.Context, collection string, record models.CaptureRecord) (string, error)
}

// DefaultStreamID is the stream a single-camera station publishes to.
const DefaultStreamID = "stream1"

// FeedPath is the well-known path a camera publishes to.
func FeedPath(streamID string) string {
	return "streams/" + streamID
}
