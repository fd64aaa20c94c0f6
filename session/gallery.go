package session

import "fmt"

// GalleryKind selects the single gallery modal that may be open.
type GalleryKind string

const (
	GalleryNone      GalleryKind = ""
	GallerySize      GalleryKind = "size"
	GalleryDistance  GalleryKind = "distance"
	GalleryChromatin GalleryKind = "chromatin"
	GallerySchuffner GalleryKind = "schuffner"
	GalleryBasket    GalleryKind = "basket"
)

// ParseGalleryKind accepts the wire names above; "none" and "" close the gallery.
func ParseGalleryKind(s string) (GalleryKind, error) {
	switch k := GalleryKind(s); k {
	case GalleryNone, GallerySize, GalleryDistance, GalleryChromatin, GallerySchuffner, GalleryBasket:
		return k, nil
	case "none":
		return GalleryNone, nil
	default:
		return GalleryNone, fmt.Errorf("unknown gallery %q", s)
	}
}
