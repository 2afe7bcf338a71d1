// Package photo holds the evidence helpers applied to photo payloads:
// content hashing, thumbnail derivation and integrity checks.
package photo

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	"github.com/gabriel-vasile/mimetype"
)

// ThumbnailWidth is the width of derived thumbnails; height keeps the aspect ratio.
const ThumbnailWidth = 200

// ErrIntegrityViolation means stored bytes no longer match the recorded hash.
var ErrIntegrityViolation = errors.New("integrity violation")

// Derived is everything computed from a fresh payload.
type Derived struct {
	Hash        string
	ContentType string
	Size        int64
	Width       int
	Height      int
	Thumbnail   []byte
}

// Hash returns the hex SHA-256 of data.
func Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Derive hashes the untouched payload first, then attempts decoding for
// dimensions and a thumbnail. Undecodable payloads still get a hash; the
// returned error only reports why the thumbnail is missing.
func Derive(data []byte) (Derived, error) {
	d := Derived{
		Hash:        Hash(data),
		ContentType: mimetype.Detect(data).String(),
		Size:        int64(len(data)),
	}

	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return d, fmt.Errorf("decode image: %w", err)
	}
	b := img.Bounds()
	d.Width, d.Height = b.Dx(), b.Dy()

	thumb := imaging.Resize(img, ThumbnailWidth, 0, imaging.Lanczos)
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG); err != nil {
		return d, fmt.Errorf("encode thumbnail: %w", err)
	}
	d.Thumbnail = buf.Bytes()
	return d, nil
}

// Verify recomputes the hash of data and compares it to the recorded one.
func Verify(data []byte, originalHash string) error {
	if got := Hash(data); got != originalHash {
		return fmt.Errorf("%w: recorded %s, computed %s", ErrIntegrityViolation, originalHash, got)
	}
	return nil
}
