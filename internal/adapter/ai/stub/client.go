// Package stub provides a fast, deterministic domain.AIClient for local runs
// without a model server, and for end-to-end tests.
package stub

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"regexp"
	"strings"

	"github.com/fairyhunter13/ai-mock-interview/internal/domain"
)

var questions = []string{
	"Walk me through a recent project you are proud of.",
	"How would you design a rate limiter for a public API?",
	"Tell me about a production incident you debugged and what you changed afterwards.",
	"How do you decide between consistency and availability in a distributed system?",
	"Describe how you review a teammate's pull request.",
}

var (
	answerLine   = regexp.MustCompile(`(?m)^Candidate answer: "(.*)"$`)
	questionLine = regexp.MustCompile(`(?m)^Question (\d+) of \d+\.$`)
)

// Client answers from fixed tables keyed by the prompt.
type Client struct{}

// New returns a stub client.
func New() *Client { return &Client{} }

// ChatText returns the next canned question, chosen by question number when the prompt carries one.
func (c *Client) ChatText(_ domain.Context, _ string, userPrompt string, _ int) (string, error) {
	i := int(hash(userPrompt) % uint32(len(questions)))
	if m := questionLine.FindStringSubmatch(userPrompt); m != nil {
		var n int
		if _, err := fmt.Sscanf(m[1], "%d", &n); err == nil && n > 0 {
			i = (n - 1) % len(questions)
		}
	}
	return questions[i], nil
}

// ChatJSON returns an answer score or a resume analysis depending on the prompt.
func (c *Client) ChatJSON(_ domain.Context, _ string, userPrompt string, _ int) (string, error) {
	var payload map[string]any
	if strings.Contains(userPrompt, "resume_score") {
		payload = map[string]any{
			"resume_score":    60 + int(hash(userPrompt)%30),
			"matched_skills":  []string{"Go", "SQL"},
			"missing_skills":  []string{"Kubernetes"},
			"profile_summary": "Solid backend profile with room to grow in infrastructure.",
		}
	} else {
		words := 0
		if m := answerLine.FindStringSubmatch(userPrompt); m != nil {
			words = len(strings.Fields(m[1]))
		}
		// longer answers score higher, capped at 90
		score := 40 + words*2
		if score > 90 {
			score = 90
		}
		payload = map[string]any{
			"score":       score,
			"feedback":    "Structured answer; add a concrete example with numbers.",
			"suggestions": []string{"Quantify the impact", "State trade-offs explicitly"},
		}
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("op=stub.ChatJSON: %w", err)
	}
	return string(b), nil
}

func hash(s string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(s))
	return h.Sum32()
}
