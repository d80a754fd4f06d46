// Package signal defines the per-tick perceptual snapshot consumed by the
// detectors and the [Source] contract that produces it.
//
// Perceptual inference (face detection, object classification, audio capture)
// happens outside this module. A Source only has to report what it saw at the
// moment it was sampled; an empty snapshot is a valid answer and means "no
// signal", never an error.
package signal

import (
	"context"
	"errors"
	"math"
)

// Default frame geometry used when a snapshot does not carry its own size.
const (
	DefaultFrameWidth  = 640
	DefaultFrameHeight = 480
)

// ErrClosed is returned by [Source.Sample] once the source has no more
// snapshots to offer. Detector loops treat it as a clean stop.
var ErrClosed = errors.New("signal: source closed")

// Region is an axis-aligned bounding box in pixel coordinates, origin at the
// top-left corner of the frame.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Center returns the center point of the region.
func (r Region) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// Label is one classifier output for a frame.
type Label struct {
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

// Snapshot is what a [Source] observed at one instant.
type Snapshot struct {
	// Faces holds zero or more detected face regions.
	Faces []Region `json:"faces,omitempty"`

	// Labels holds zero or more object classifier outputs.
	Labels []Label `json:"labels,omitempty"`

	// AudioLevel is the RMS energy of the most recent audio window,
	// normalised to [0, 1].
	AudioLevel float64 `json:"audio_level"`

	// FrameWidth and FrameHeight describe the video frame the regions were
	// measured against. Zero means [DefaultFrameWidth] x [DefaultFrameHeight].
	FrameWidth  int `json:"frame_width,omitempty"`
	FrameHeight int `json:"frame_height,omitempty"`
}

// FrameSize returns the frame dimensions, falling back to the defaults.
func (s Snapshot) FrameSize() (w, h int) {
	w, h = s.FrameWidth, s.FrameHeight
	if w <= 0 {
		w = DefaultFrameWidth
	}
	if h <= 0 {
		h = DefaultFrameHeight
	}
	return w, h
}

// Source yields snapshots on demand. Implementations must be safe for
// concurrent use: a session samples the same Source from several detector
// loops at independent cadences.
type Source interface {
	// Sample returns the latest snapshot. It may block until one is
	// available or ctx is cancelled. It returns [ErrClosed] when the source
	// is exhausted.
	Sample(ctx context.Context) (Snapshot, error)
}

// RMS returns the root-mean-square energy of a window of float samples in
// [-1, 1]. An empty window has zero energy.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// RMSPCM16 returns the RMS energy of little-endian signed 16-bit mono PCM,
// normalised to [0, 1]. A trailing odd byte is ignored.
func RMSPCM16(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		v := float64(s) / 32768
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}
