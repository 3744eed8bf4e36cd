// Package liveness provides best-effort anti-spoofing heuristics for
// enrollment sample sets. It is not a guarantee against presentation attacks.
package liveness

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facecheckin/pkg/enrollment"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
)

// ErrTooFewSamples is returned when there are not enough samples to compare.
var ErrTooFewSamples = errors.New("not enough samples for liveness check")

// ErrStaticFace is returned when all samples carry practically the same
// descriptor, as a printed photo or a frozen video would.
var ErrStaticFace = errors.New("static face detected")

// ErrInconsistentFace is returned when a sample strays too far from the
// others, e.g. when the person in front of the camera changed.
var ErrInconsistentFace = errors.New("inconsistent face across samples")

// Config holds the consistency thresholds.
type Config struct {
	// MinVariance is the minimum mean per-dimension variance of the
	// sample descriptors. Live faces always jitter a little.
	MinVariance float64
	// MaxDeviation is the maximum distance of any sample from the mean
	// descriptor. Zero disables the check.
	MaxDeviation float64
}

// DefaultConfig returns the default thresholds.
func DefaultConfig() Config {
	return Config{
		MinVariance:  1e-6,
		MaxDeviation: 0.6,
	}
}

// ConsistencyChecker rejects sample sets that look static or that mix faces.
// It implements capture.LivenessChecker.
type ConsistencyChecker struct {
	config Config
}

// NewConsistencyChecker creates a checker with the given thresholds.
func NewConsistencyChecker(config Config) *ConsistencyChecker {
	return &ConsistencyChecker{config: config}
}

// CheckSamples verifies the descriptors of an accepted sample set.
func (c *ConsistencyChecker) CheckSamples(samples []enrollment.Sample) error {
	if len(samples) < 2 {
		return ErrTooFewSamples
	}

	descriptors := make([]recognition.Descriptor, len(samples))
	for i, s := range samples {
		descriptors[i] = s.Descriptor
	}

	mean := averageDescriptor(descriptors)

	if v := meanVariance(descriptors, mean); v < c.config.MinVariance {
		return fmt.Errorf("%w: variance %.3g below %.3g", ErrStaticFace, v, c.config.MinVariance)
	}

	if c.config.MaxDeviation > 0 {
		for i, d := range descriptors {
			if dist := recognition.EuclideanDistance(d, mean); dist > c.config.MaxDeviation {
				return fmt.Errorf("%w: sample %d is %.3f from the mean", ErrInconsistentFace, i, dist)
			}
		}
	}

	return nil
}

func averageDescriptor(descriptors []recognition.Descriptor) recognition.Descriptor {
	var sum [len(recognition.Descriptor{})]float64
	for _, d := range descriptors {
		for i, v := range d {
			sum[i] += float64(v)
		}
	}

	var mean recognition.Descriptor
	n := float64(len(descriptors))
	for i := range sum {
		mean[i] = float32(sum[i] / n)
	}
	return mean
}

// meanVariance is the per-dimension variance averaged over all dimensions.
func meanVariance(descriptors []recognition.Descriptor, mean recognition.Descriptor) float64 {
	var total float64
	for _, d := range descriptors {
		for i, v := range d {
			diff := float64(v) - float64(mean[i])
			total += diff * diff
		}
	}
	return total / float64(len(descriptors)*len(mean))
}
