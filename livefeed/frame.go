package livefeed

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

const defaultFrameMIME = "image/jpeg"

// DecodeFrame decodes a frame payload. Data URLs ("data:image/jpeg;base64,...")
// carry their own MIME type; bare base64 is assumed to be JPEG.
func DecodeFrame(payload string) ([]byte, string, error) {
	mime := defaultFrameMIME
	encoded := strings.TrimSpace(payload)

	if strings.HasPrefix(encoded, "data:") {
		header, body, found := strings.Cut(encoded, ",")
		if !found {
			return nil, "", errors.New("malformed data URL: missing payload")
		}
		meta := strings.TrimPrefix(header, "data:")
		if !strings.HasSuffix(meta, ";base64") {
			return nil, "", errors.New("malformed data URL: payload is not base64")
		}
		if m := strings.TrimSuffix(meta, ";base64"); m != "" {
			mime = m
		}
		encoded = body
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		raw, rawErr := base64.RawStdEncoding.DecodeString(encoded)
		if rawErr != nil {
			return nil, "", fmt.Errorf("failed to decode frame payload: %w", err)
		}
		data = raw
	}
	if len(data) == 0 {
		return nil, "", errors.New("frame payload is empty")
	}
	return data, mime, nil
}
