package prebuilt

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/llms/scripted"
	"github.com/smallnest/stepgraph/store/file"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// researchModel plays every role of the research assistant from the prompt
// it is given.
type researchModel struct {
	mu       sync.Mutex
	answered []string
}

func (m *researchModel) answer(_ context.Context, msgs []llms.MessageContent) (string, error) {
	first := scripted.Text(msgs[0])
	switch {
	case strings.HasPrefix(first, "You are tasked with creating"):
		analysts := "Ann | Lab | Researcher | safety\nBob | Corp | Engineer | cost"
		if strings.Contains(first, "add a CEO") {
			analysts = "Cat | Startup | CEO | growth\n" + analysts
		}
		return analysts, nil
	case strings.HasPrefix(first, "You are an analyst tasked"):
		_, rest, _ := strings.Cut(first, "Name: ")
		name, _, _ := strings.Cut(rest, "\n")
		for _, msg := range msgs[1:] {
			if msg.Role == llms.ChatMessageTypeAI {
				return InterviewDone, nil
			}
		}
		return "Q from " + name, nil
	case strings.HasPrefix(first, "You are an expert being interviewed"):
		question := scripted.Text(msgs[len(msgs)-1])
		m.mu.Lock()
		m.answered = append(m.answered, question)
		m.mu.Unlock()
		return "answer to " + question, nil
	case strings.HasPrefix(first, "You are an expert technical writer"):
		_, rest, _ := strings.Cut(first, "focused on: ")
		focus, _, _ := strings.Cut(rest, "\n")
		return "section on " + focus, nil
	case strings.HasPrefix(first, "You are a technical writer creating a report"):
		_, memos, _ := strings.Cut(first, "Memos:\n")
		return "REPORT\n" + memos, nil
	}
	return "", nil
}

func requireGraphInterrupt(t *testing.T, err error) *graph.GraphInterrupt {
	t.Helper()
	var gi *graph.GraphInterrupt
	require.ErrorAs(t, err, &gi)
	return gi
}

func analystNames(t *testing.T, state graph.State) []string {
	t.Helper()
	var s ResearchState
	require.NoError(t, graph.DecodeState(state, &s))
	names := make([]string, 0, len(s.Analysts))
	for _, a := range s.Analysts {
		names = append(names, a.Name)
	}
	return names
}

func TestResearchAssistant_FeedbackThenInterviews(t *testing.T) {
	model := &researchModel{}
	g, err := NewResearchAssistant(scripted.Func(model.answer), ResearchOptions{Retry: graph.DefaultRetryConfig()})
	require.NoError(t, err)
	ctx := context.Background()

	state, err := g.Invoke(ctx, "t1", graph.State{"topic": "agents", "max_analysts": 2})
	gi := requireGraphInterrupt(t, err)
	assert.Equal(t, NodeHumanFeedback, gi.Node)
	assert.Equal(t, []string{"Ann", "Bob"}, analystNames(t, state))

	state, err = g.Resume(ctx, "t1", graph.ResumeSignal{}.WithPatch(graph.State{"human_analyst_feedback": "add a CEO"}))
	gi = requireGraphInterrupt(t, err)
	assert.Equal(t, NodeHumanFeedback, gi.Node)
	assert.Equal(t, []string{"Cat", "Ann"}, analystNames(t, state))
	assert.Equal(t, "", state["human_analyst_feedback"])

	out, err := g.Resume(ctx, "t1", graph.ResumeSignal{})
	require.NoError(t, err)

	var s ResearchState
	require.NoError(t, graph.DecodeState(out, &s))
	assert.Equal(t, []string{"section on growth", "section on safety"}, s.Sections)
	assert.Equal(t, "REPORT\nsection on growth\n\nsection on safety", s.Report)
	// Each interview asked one question before closing.
	assert.ElementsMatch(t, []string{"Q from Cat", "Q from Ann", InterviewDone, InterviewDone}, model.answered)
}

func TestResearchAssistant_ReviewQuestionsInsideInterview(t *testing.T) {
	fs, err := file.NewFileCheckpointStore(filepath.Join(t.TempDir(), "threads"))
	require.NoError(t, err)

	model := &researchModel{}
	g, err := NewResearchAssistant(scripted.Func(model.answer), ResearchOptions{
		MaxTurns:        1,
		ReviewQuestions: true,
		Checkpointer:    fs,
	})
	require.NoError(t, err)
	ctx := context.Background()

	_, err = g.Invoke(ctx, "t1", graph.State{"topic": "agents", "max_analysts": 1})
	requireGraphInterrupt(t, err)

	_, err = g.Resume(ctx, "t1", graph.ResumeSignal{})
	gi := requireGraphInterrupt(t, err)
	assert.Equal(t, NodeConductInterview, gi.Node)
	assert.Equal(t, "Q from Ann", gi.Value)

	out, err := g.Resume(ctx, "t1", graph.ResumeWith("What is safe?"))
	require.NoError(t, err)
	assert.Equal(t, []string{"What is safe?"}, model.answered)

	var s ResearchState
	require.NoError(t, graph.DecodeState(out, &s))
	assert.Equal(t, []string{"section on safety"}, s.Sections)
	assert.Equal(t, "REPORT\nsection on safety", s.Report)
}

func TestParseAnalysts(t *testing.T) {
	got := parseAnalysts("Here you go:\nAnn | Lab | Researcher | safety\n\n Bob|Corp \nCat | x | y | z", 2)
	assert.Equal(t, []Analyst{
		{Name: "Ann", Affiliation: "Lab", Role: "Researcher", Description: "safety"},
		{Name: "Bob", Affiliation: "Corp"},
	}, got)
	assert.Contains(t, got[0].Persona(), "Name: Ann\n")
}
