// Package enrollment turns the samples captured during an enrollment
// session into a single reference template.
package enrollment

import (
	"errors"

	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

// Sample is one accepted capture of an enrollment session.
type Sample struct {
	Descriptor recognition.Descriptor
	Image      []byte // JPEG of the face region
	Confidence float64
}

// Template is the stored reference for one member.
type Template struct {
	Descriptor  recognition.Descriptor `json:"descriptor"`
	Image       []byte                 `json:"image,omitempty"`
	SampleCount int                    `json:"sample_count"`
}

// ErrNoSamples is returned when aggregating an empty sample set.
var ErrNoSamples = errors.New("no samples to aggregate")

// Aggregate builds a template from samples. The descriptor is the
// per-dimension mean, accumulated in float64; the image is taken from
// the sample with the highest confidence, the first one on ties.
func Aggregate(samples []Sample) (Template, error) {
	if len(samples) == 0 {
		return Template{}, ErrNoSamples
	}

	var sum [len(recognition.Descriptor{})]float64
	best := 0
	for i, s := range samples {
		for d, v := range s.Descriptor {
			sum[d] += float64(v)
		}
		if s.Confidence > samples[best].Confidence {
			best = i
		}
	}

	var mean recognition.Descriptor
	n := float64(len(samples))
	for d := range mean {
		mean[d] = float32(sum[d] / n)
	}

	return Template{
		Descriptor:  mean,
		Image:       samples[best].Image,
		SampleCount: len(samples),
	}, nil
}
