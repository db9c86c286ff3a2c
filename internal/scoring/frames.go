package scoring

import "github.com/fairyhunter13/ai-mock-interview/internal/domain"

// AggregateFrames summarizes the webcam samples taken during one answer.
// With no samples the posture is neutral and no eye contact or blinks are credited.
func AggregateFrames(samples []domain.FrameSample) domain.CVSummary {
	if len(samples) == 0 {
		return domain.CVSummary{AvgPosture: Neutral}
	}
	var posture float64
	var eye, blinks int
	for _, s := range samples {
		posture += Clamp01(s.PostureScore)
		if s.EyeContact {
			eye++
		}
		if s.BlinkDetected {
			blinks++
		}
	}
	n := float64(len(samples))
	return domain.CVSummary{
		AvgPosture:           posture / n,
		EyeContactPercentage: float64(eye) / n,
		TotalBlinks:          blinks,
		FrameCount:           len(samples),
	}
}
