package usecase_test

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

// memStore is a minimal in-process SessionStore.
type memStore struct {
	mu      sync.Mutex
	m       map[string]domain.InterviewSession
	deletes int
	saveErr error
}

func newMemStore() *memStore { return &memStore{m: map[string]domain.InterviewSession{}} }

func (s *memStore) Create(_ context.Context, sess domain.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.m[sess.ID]; ok {
		return domain.ErrConflict
	}
	s.m[sess.ID] = sess.Clone()
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (domain.InterviewSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.m[id]
	if !ok {
		return domain.InterviewSession{}, domain.ErrNotFound
	}
	return sess.Clone(), nil
}

func (s *memStore) Save(_ context.Context, sess domain.InterviewSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	cur, ok := s.m[sess.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if cur.Version != sess.Version {
		return domain.ErrConflict
	}
	stored := sess.Clone()
	stored.Version++
	s.m[sess.ID] = stored
	return nil
}

func (s *memStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deletes++
	if _, ok := s.m[id]; !ok {
		return domain.ErrNotFound
	}
	delete(s.m, id)
	return nil
}

func (s *memStore) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

type mockQuestions struct{ mock.Mock }

func (m *mockQuestions) GenerateQuestion(ctx context.Context, qc domain.QuestionContext) (string, error) {
	args := m.Called(ctx, qc)
	return args.String(0), args.Error(1)
}

type mockScorer struct{ mock.Mock }

func (m *mockScorer) ScoreAnswer(ctx context.Context, question, answer string) (domain.AnswerScore, error) {
	args := m.Called(ctx, question, answer)
	return args.Get(0).(domain.AnswerScore), args.Error(1)
}

type mockTranscriber struct{ mock.Mock }

func (m *mockTranscriber) Transcribe(ctx context.Context, audio domain.AudioClip) (string, error) {
	args := m.Called(ctx, audio)
	return args.String(0), args.Error(1)
}

type mockAudio struct{ mock.Mock }

func (m *mockAudio) ExtractFeatures(ctx context.Context, audio domain.AudioClip, sampleRate int) (domain.AudioFeatures, error) {
	args := m.Called(ctx, audio, sampleRate)
	return args.Get(0).(domain.AudioFeatures), args.Error(1)
}

type mockSpeech struct{ mock.Mock }

func (m *mockSpeech) Synthesize(ctx context.Context, text string) ([]byte, error) {
	args := m.Called(ctx, text)
	b, _ := args.Get(0).([]byte)
	return b, args.Error(1)
}

type mockArchive struct{ mock.Mock }

func (m *mockArchive) Save(ctx context.Context, c domain.CompletedInterview) error {
	return m.Called(ctx, c).Error(0)
}

func (m *mockArchive) Get(ctx context.Context, id string) (domain.CompletedInterview, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(domain.CompletedInterview), args.Error(1)
}

type mockEvents struct{ mock.Mock }

func (m *mockEvents) PublishCompleted(ctx context.Context, c domain.CompletedInterview) error {
	return m.Called(ctx, c).Error(0)
}

type mockResumeScorer struct{ mock.Mock }

func (m *mockResumeScorer) ScoreResume(ctx context.Context, resumeText, jd string) (domain.ResumeAnalysis, error) {
	args := m.Called(ctx, resumeText, jd)
	return args.Get(0).(domain.ResumeAnalysis), args.Error(1)
}
