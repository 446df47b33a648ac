// Package registration estimates the homography between incoming scene-camera
// frames and a fixed reference image. Feature extraction and matching sit
// behind the Matcher interface; the built-in matcher uses FAST-style corner
// detection with binary patch descriptors, and homographies are fitted with a
// RANSAC loop around a normalized DLT solve.
package registration

import "fmt"

// Image is an 8-bit grayscale image. Pix is row-major, len = W*H.
// Frames are immutable once created and owned by the registration stage that
// consumes them.
type Image struct {
	W, H int
	Pix  []uint8
}

// NewImage wraps a pixel buffer as an Image. The buffer is not copied.
func NewImage(w, h int, pix []uint8) (*Image, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("registration: invalid image size %dx%d", w, h)
	}
	if len(pix) != w*h {
		return nil, fmt.Errorf("registration: pixel buffer length %d does not match %dx%d", len(pix), w, h)
	}
	return &Image{W: w, H: h, Pix: pix}, nil
}

// At returns the pixel at (x, y). Callers must stay in bounds.
func (im *Image) At(x, y int) uint8 {
	return im.Pix[y*im.W+x]
}

// Frame is a timestamped scene-camera image awaiting registration.
type Frame struct {
	// SequenceID is the producer-assigned frame number.
	SequenceID uint64

	// Nanos is the capture timestamp on the shared reference timeline.
	Nanos int64

	// Image is the grayscale frame content.
	Image *Image
}
