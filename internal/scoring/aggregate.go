// Package scoring turns per-answer measurements into the final interview report.
//
// Everything here is pure: the same turns and the same predictor always
// produce the same report, so callers may recompute freely.
package scoring

import (
	"context"
	"fmt"
	"math"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

// Final score weights. They sum to 1.0.
const (
	WeightContent       = 0.45
	WeightCommunication = 0.20
	WeightPosture       = 0.15
	WeightEyeContact    = 0.10
	WeightConfidence    = 0.10
)

// Neutral is used where a signal is absent rather than failed.
const Neutral = 0.5

// Clamp01 bounds v to [0,1]; NaN becomes 0.
func Clamp01(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Communication combines fluency with the inverse of nervousness.
func Communication(avgFluency, nervousness float64) float64 {
	return (Clamp01(avgFluency) + (1 - Clamp01(nervousness))) / 2
}

// FinalScore is the weighted combination scaled to a percentage.
func FinalScore(content, communication, posture, eyeContact, confidence float64) float64 {
	s := WeightContent*Clamp01(content) +
		WeightCommunication*Clamp01(communication) +
		WeightPosture*Clamp01(posture) +
		WeightEyeContact*Clamp01(eyeContact) +
		WeightConfidence*Clamp01(confidence)
	return 100 * Clamp01(s)
}

// Aggregate computes the FinalReport for a non-empty turn sequence.
// A nil predictor yields the neutral nervousness score; a predictor error is returned.
func Aggregate(ctx context.Context, turns []domain.TurnRecord, p domain.NervousnessPredictor) (domain.FinalReport, error) {
	if len(turns) == 0 {
		return domain.FinalReport{}, fmt.Errorf("op=scoring.Aggregate: %w", domain.ErrEmptyTurns)
	}
	var content, confidence, fluency, audioNerv, posture, eye, blinks float64
	for _, t := range turns {
		s := t.Scores
		content += Clamp01(s.ContentScore)
		confidence += Clamp01(s.AudioConfidence)
		fluency += Clamp01(s.AudioFluency)
		audioNerv += Clamp01(s.AudioNervousness)
		posture += Clamp01(s.AvgPosture)
		eye += Clamp01(s.EyeContactPercentage)
		if s.TotalBlinks > 0 {
			blinks += float64(s.TotalBlinks)
		}
	}
	n := float64(len(turns))
	r := domain.FinalReport{
		AvgContentScore:         content / n,
		AvgAudioConfidence:      confidence / n,
		AvgAudioFluency:         fluency / n,
		AvgAudioNervousness:     audioNerv / n,
		AvgPosture:              posture / n,
		AvgEyeContactPercentage: eye / n,
		AvgBlinksPerAnswer:      blinks / n,
		TurnCount:               len(turns),
	}

	nerv := Neutral
	if p != nil {
		v, err := p.PredictNervousness(ctx, r.AvgBlinksPerAnswer, r.AvgAudioNervousness, r.AvgPosture)
		if err != nil {
			return domain.FinalReport{}, fmt.Errorf("op=scoring.Aggregate: predict nervousness: %w", err)
		}
		nerv = v
	}
	r.OverallNervousnessScore = Clamp01(nerv)
	r.CommunicationScore = Communication(r.AvgAudioFluency, r.OverallNervousnessScore)
	r.FinalScorePercentage = FinalScore(r.AvgContentScore, r.CommunicationScore, r.AvgPosture, r.AvgEyeContactPercentage, r.AvgAudioConfidence)
	return r, nil
}
