package ai

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
	"github.com/fairyhunter13/ai-mock-interview/internal/prompts"
)

type mockAI struct{ mock.Mock }

func (m *mockAI) ChatJSON(ctx domain.Context, sys, user string, maxTokens int) (string, error) {
	args := m.Called(ctx, sys, user, maxTokens)
	return args.String(0), args.Error(1)
}

func (m *mockAI) ChatText(ctx domain.Context, sys, user string, maxTokens int) (string, error) {
	args := m.Called(ctx, sys, user, maxTokens)
	return args.String(0), args.Error(1)
}

func newInterviewer(t *testing.T, client domain.AIClient, resumeTokens int) *Interviewer {
	t.Helper()
	set, err := prompts.Default()
	require.NoError(t, err)
	return NewInterviewer(client, set, InterviewerOptions{Model: "llama3", ResumeTokens: resumeTokens})
}

func sessionConfig() domain.SessionConfig {
	return domain.SessionConfig{Role: "Backend Engineer", Experience: "3 years", Difficulty: domain.DifficultyMedium, QuestionCount: 3}
}

func TestGenerateQuestion_OpeningUsesResume(t *testing.T) {
	m := &mockAI{}
	m.On("ChatText", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "Kafka consumer groups") && strings.Contains(u, "Question 1 of 3")
	}), questionMaxTokens).Return("Question: How did you rebalance Kafka consumers?", nil).Once()

	q, err := newInterviewer(t, m, 0).GenerateQuestion(context.Background(), domain.QuestionContext{
		Config:         sessionConfig(),
		ResumeContext:  "Built Kafka consumer groups at scale.",
		QuestionNumber: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, "How did you rebalance Kafka consumers?", q)
	m.AssertExpectations(t)
}

func TestGenerateQuestion_FollowUpIncludesHistory(t *testing.T) {
	m := &mockAI{}
	m.On("ChatText", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "Q: What is a mutex?\nA: A lock.")
	}), questionMaxTokens).Return("When would you prefer a channel?", nil).Once()

	q, err := newInterviewer(t, m, 0).GenerateQuestion(context.Background(), domain.QuestionContext{
		Config:         sessionConfig(),
		History:        []domain.QA{{Question: "What is a mutex?", Answer: "A lock."}},
		QuestionNumber: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, "When would you prefer a channel?", q)
}

func TestGenerateQuestion_Failures(t *testing.T) {
	cases := []struct {
		name string
		out  string
		err  error
		want error
	}{
		{"blank", "  \n ", nil, domain.ErrSchemaInvalid},
		{"refusal", "I'm sorry, I cannot help with interviews.", nil, domain.ErrSchemaInvalid},
		{"upstream", "", domain.ErrUpstreamTimeout, domain.ErrUpstreamTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockAI{}
			m.On("ChatText", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(tc.out, tc.err)
			_, err := newInterviewer(t, m, 0).GenerateQuestion(context.Background(), domain.QuestionContext{Config: sessionConfig(), QuestionNumber: 1})
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestGenerateQuestion_TruncatesResume(t *testing.T) {
	long := strings.Repeat("kubernetes operator ", 2000)
	m := &mockAI{}
	m.On("ChatText", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return len(u) < len(long)/4
	}), questionMaxTokens).Return("Tell me about an operator you wrote.", nil).Once()

	_, err := newInterviewer(t, m, 100).GenerateQuestion(context.Background(), domain.QuestionContext{
		Config: sessionConfig(), ResumeContext: long, QuestionNumber: 1,
	})
	require.NoError(t, err)
	m.AssertExpectations(t)
}

func TestScoreAnswer(t *testing.T) {
	cases := []struct {
		name      string
		reply     string
		wantScore float64
		wantSugg  int
	}{
		{"integer percent", `{"score": 80, "feedback": " Clear. ", "suggestions": ["Add metrics", " ", "Mention SLOs"]}`, 0.8, 2},
		{"fenced with prose", "Sure!\n```json\n{\"score\": \"65%\", \"feedback\": \"ok\"}\n```", 0.65, 0},
		{"fraction", `{"score": 0.9, "feedback": "great"}`, 0.9, 0},
		{"clarity fallback", `{"clarity": 70, "confidence": 60, "feedback": "fine", "suggestions": []}`, 0.7, 0},
		{"one means one percent", `{"score": 1}`, 0.01, 0},
		{"one point zero means one percent", `{"score": 1.0}`, 0.01, 0},
		{"quoted one means one percent", `{"score": "1"}`, 0.01, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := &mockAI{}
			m.On("ChatJSON", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
				return strings.Contains(u, `Question: "Q?"`) && strings.Contains(u, `Candidate answer: "A."`)
			}), scoreMaxTokens).Return(tc.reply, nil)
			got, err := newInterviewer(t, m, 0).ScoreAnswer(context.Background(), "Q?", "A.")
			require.NoError(t, err)
			assert.InDelta(t, tc.wantScore, got.Score, 1e-9)
			assert.Len(t, got.Suggestions, tc.wantSugg)
			assert.Equal(t, strings.TrimSpace(got.Feedback), got.Feedback)
		})
	}
}

func TestScoreAnswer_SchemaFailures(t *testing.T) {
	for _, reply := range []string{
		`not json at all`,
		`{"feedback": "no score"}`,
		`{"score": 180}`,
		`{"score": -3}`,
		`{"score": "high"}`,
	} {
		m := &mockAI{}
		m.On("ChatJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(reply, nil)
		_, err := newInterviewer(t, m, 0).ScoreAnswer(context.Background(), "Q?", "A.")
		assert.ErrorIs(t, err, domain.ErrSchemaInvalid, "reply %q", reply)
	}
}

func TestScoreAnswer_EmptyAnswerSkipsModel(t *testing.T) {
	m := &mockAI{}
	got, err := newInterviewer(t, m, 0).ScoreAnswer(context.Background(), "Q?", "   ")
	require.NoError(t, err)
	assert.Zero(t, got.Score)
	assert.NotEmpty(t, got.Feedback)
	m.AssertNotCalled(t, "ChatJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestScoreAnswer_UpstreamError(t *testing.T) {
	m := &mockAI{}
	m.On("ChatJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return("", fmt.Errorf("op=real.Client.ChatJSON: %w", domain.ErrUpstreamRateLimit))
	_, err := newInterviewer(t, m, 0).ScoreAnswer(context.Background(), "Q?", "A.")
	assert.ErrorIs(t, err, domain.ErrUpstreamRateLimit)
}

func TestScoreResume(t *testing.T) {
	m := &mockAI{}
	m.On("ChatJSON", mock.Anything, mock.Anything, mock.MatchedBy(func(u string) bool {
		return strings.Contains(u, "Senior Go developer") && strings.Contains(u, "Go, Postgres")
	}), resumeMaxTokens).Return(`{"resume_score": 72, "matched_skills": ["Go", " Postgres "], "missing_skills": ["Kafka"], "profile_summary": " Strong backend fit. "}`, nil)

	got, err := newInterviewer(t, m, 0).ScoreResume(context.Background(), "Go, Postgres", "Senior Go developer")
	require.NoError(t, err)
	assert.InDelta(t, 0.72, got.Score, 1e-9)
	assert.Equal(t, []string{"Go", "Postgres"}, got.MatchedSkills)
	assert.Equal(t, []string{"Kafka"}, got.MissingSkills)
	assert.Equal(t, "Strong backend fit.", got.Summary)
}

func TestScoreResume_LegacyShape(t *testing.T) {
	m := &mockAI{}
	m.On("ChatJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(`{"score": 50, "missing_keywords": ["Terraform"], "summary": "Partial fit."}`, nil)

	got, err := newInterviewer(t, m, 0).ScoreResume(context.Background(), "resume", "jd")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.Score, 1e-9)
	assert.Equal(t, []string{"Terraform"}, got.MissingSkills)
	assert.Equal(t, "Partial fit.", got.Summary)

	m2 := &mockAI{}
	m2.On("ChatJSON", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(`{"summary": "?"}`, nil)
	_, err = newInterviewer(t, m2, 0).ScoreResume(context.Background(), "resume", "jd")
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}

func TestNormalizeScore(t *testing.T) {
	// 1 and 1.0 are the same float; both read as one percent, never as a perfect fraction
	for in, want := range map[float64]float64{0: 0, 0.5: 0.5, 0.99: 0.99, 1: 0.01, 1.5: 0.015, 50: 0.5, 100: 1} {
		got, err := normalizeScore(in)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9, "in=%v", in)
	}
	_, err := normalizeScore(100.5)
	assert.ErrorIs(t, err, domain.ErrSchemaInvalid)
}
