// Package tracker ships validation results to experiment trackers. Every
// implementation satisfies validation.Tracker; delivery failures are the
// caller's to log, never to act on.
package tracker

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/png"
)

func encodeBase64PNG(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}
