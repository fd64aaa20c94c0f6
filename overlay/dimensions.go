package overlay

import (
	"context"
	"fmt"
	"image"
	_ "image/gif"  // GIF decoder registration.
	_ "image/jpeg" // JPEG decoder registration.
	_ "image/png"  // PNG decoder registration.
	"io"
	"net/http"
	"time"

	"github.com/patrickmn/go-cache"
	_ "golang.org/x/image/bmp"  // BMP decoder registration.
	_ "golang.org/x/image/tiff" // TIFF decoder registration.
	_ "golang.org/x/image/webp" // WebP decoder registration.
)

// DecodeDimensions reads only the image header and returns its natural size.
func DecodeDimensions(r io.Reader) (Dimensions, error) {
	cfg, _, err := image.DecodeConfig(r)
	if err != nil {
		return Dimensions{}, fmt.Errorf("failed to decode image header: %w", err)
	}
	return Dimensions{Width: float64(cfg.Width), Height: float64(cfg.Height)}, nil
}

// Resolver fetches reference images and caches their natural dimensions by URL.
// It stands in for the browser's load event when the station needs overlays
// before a client has rendered the image.
type Resolver struct {
	client *http.Client
	cache  *cache.Cache
}

// NewResolver creates a resolver whose cached entries live for ttl.
func NewResolver(timeout, ttl time.Duration) *Resolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Resolver{
		client: &http.Client{Timeout: timeout},
		cache:  cache.New(ttl, 2*ttl),
	}
}

// Resolve returns the natural dimensions of the image served at url.
func (r *Resolver) Resolve(ctx context.Context, url string) (Dimensions, error) {
	if cached, ok := r.cache.Get(url); ok {
		if dims, valid := cached.(Dimensions); valid {
			return dims, nil
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Dimensions{}, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return Dimensions{}, fmt.Errorf("image request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Dimensions{}, fmt.Errorf("image request returned status %d", resp.StatusCode)
	}

	dims, err := DecodeDimensions(resp.Body)
	if err != nil {
		return Dimensions{}, err
	}
	r.cache.SetDefault(url, dims)
	return dims, nil
}
