package usecase

import (
	"fmt"
	"strings"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/scoring"
	"github.com/fairyhunter13/ai-mock-interview/pkg/textx"
)

// maxJobDescriptionRunes caps the job description forwarded to the scorer.
const maxJobDescriptionRunes = 8000

// ResumeService scores an extracted resume against a job description.
type ResumeService struct {
	Scorer domain.ResumeScorer
}

// NewResumeService constructs a ResumeService with the given scorer.
func NewResumeService(s domain.ResumeScorer) ResumeService { return ResumeService{Scorer: s} }

// Analyze sanitizes both texts, rejects empty input and normalizes the result.
func (s ResumeService) Analyze(ctx domain.Context, resumeText, jobDescription string) (domain.ResumeAnalysis, error) {
	resume := textx.TruncateRunes(textx.CollapseBlankLines(textx.SanitizeText(resumeText)), maxResumeRunes)
	jd := textx.TruncateRunes(textx.SanitizeText(jobDescription), maxJobDescriptionRunes)
	if resume == "" {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=resume.Analyze: %w: empty resume text", domain.ErrInvalidArgument)
	}
	if jd == "" {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=resume.Analyze: %w: job_description required", domain.ErrInvalidArgument)
	}
	res, err := s.Scorer.ScoreResume(ctx, resume, jd)
	if err != nil {
		return domain.ResumeAnalysis{}, fmt.Errorf("op=resume.Analyze: %w", classify(err))
	}
	res.Score = scoring.Clamp01(res.Score)
	res.MatchedSkills = dedupe(res.MatchedSkills)
	res.MissingSkills = dedupe(res.MissingSkills)
	res.Summary = strings.TrimSpace(res.Summary)
	return res, nil
}

// dedupe drops blanks and case-insensitive duplicates, keeping first spelling.
func dedupe(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		s = strings.TrimSpace(s)
		k := strings.ToLower(s)
		if s == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, s)
	}
	return out
}
