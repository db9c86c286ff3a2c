package scoring

import (
	"context"
	"math"
)

// Labelling constants of the synthetic nervousness dataset: blinks are
// normalized as (blinks-15)/45 and a sample is nervous once the blink score
// plus the audio jitter exceeds the threshold.
const (
	blinkBaseline     = 15.0
	blinkSpan         = 45.0
	nervousThreshold  = 1.2
	logisticSteepness = 8.0
)

// HeuristicPredictor is a deterministic nervousness classifier. It reproduces
// the decision boundary of the model trained on the synthetic dataset as a
// smooth probability. Posture plays no part in that labelling rule, so it is
// accepted and ignored.
type HeuristicPredictor struct{}

// PredictNervousness implements domain.NervousnessPredictor.
func (HeuristicPredictor) PredictNervousness(_ context.Context, avgBlinks, avgAudioNervousness, _ float64) (float64, error) {
	blinkScore := Clamp01((avgBlinks - blinkBaseline) / blinkSpan)
	combined := blinkScore + Clamp01(avgAudioNervousness)
	p := 1 / (1 + math.Exp(-logisticSteepness*(combined-nervousThreshold)))
	return Clamp01(p), nil
}

// NeutralPredictor always answers 0.5.
type NeutralPredictor struct{}

// PredictNervousness implements domain.NervousnessPredictor.
func (NeutralPredictor) PredictNervousness(context.Context, float64, float64, float64) (float64, error) {
	return Neutral, nil
}
