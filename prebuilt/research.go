package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/smallnest/stepgraph/graph"
	"github.com/smallnest/stepgraph/store"
	"github.com/tmc/langchaingo/llms"
)

// Research assistant node names.
const (
	NodeCreateAnalysts   = "create_analysts"
	NodeHumanFeedback    = "human_feedback"
	NodeConductInterview = "conduct_interview"
	NodeWriteReport      = "write_report"
	NodeAskQuestion      = "ask_question"
	NodeAnswerQuestion   = "answer_question"
	NodeSaveInterview    = "save_interview"
	NodeWriteSection     = "write_section"
)

// DefaultInterviewTurns bounds an interview when ResearchOptions.MaxTurns is zero.
const DefaultInterviewTurns = 2

// InterviewDone is the phrase an analyst uses to close an interview.
const InterviewDone = "Thank you so much for your help!"

const (
	analystsPrompt = `You are tasked with creating a set of AI analyst personas. Follow these instructions carefully:

1. First, review the research topic:
%s

2. Examine any editorial feedback that has been optionally provided to guide creation of the analysts:

%s

3. Determine the most interesting themes based upon documents and / or feedback above.

4. Pick the top %d themes.

5. Assign one analyst to each theme. Answer with one analyst per line as: name | affiliation | role | description`

	questionPrompt = `You are an analyst tasked with interviewing an expert to learn about a specific topic.

Your goal is boil down to interesting and specific insights related to your topic.

Here is your topic of focus and set of goals: %s

Begin by introducing yourself using a name that fits your persona, and then ask your question.

When you are satisfied with your understanding, complete the interview with: "` + InterviewDone + `"`

	answerPrompt = `You are an expert being interviewed by an analyst.

Here is the analyst's area of focus: %s

Answer the last question of the interview. Use only facts you are sure about.`

	sectionPrompt = `You are an expert technical writer.

Create a short, easily digestible section of a report based on the interview below, focused on: %s

Interview:
%s`

	reportPrompt = `You are a technical writer creating a report on this overall topic: %s

You have a team of analysts. Each analyst has conducted an interview and written up their findings as a memo. Consolidate them into one report.

Memos:
%s`
)

// Analyst is one interviewer persona.
type Analyst struct {
	Name        string `json:"name"`
	Affiliation string `json:"affiliation"`
	Role        string `json:"role"`
	Description string `json:"description"`
}

// Persona renders the analyst for prompts.
func (a Analyst) Persona() string {
	return fmt.Sprintf("Name: %s\nRole: %s\nAffiliation: %s\nDescription: %s\n", a.Name, a.Role, a.Affiliation, a.Description)
}

func (a Analyst) toMap() map[string]any {
	return map[string]any{"name": a.Name, "affiliation": a.Affiliation, "role": a.Role, "description": a.Description}
}

// ResearchState is the typed view of the research assistant state.
type ResearchState struct {
	Topic       string    `json:"topic"`
	MaxAnalysts int       `json:"max_analysts"`
	Feedback    string    `json:"human_analyst_feedback"`
	Analysts    []Analyst `json:"analysts"`
	Sections    []string  `json:"sections"`
	Report      string    `json:"final_report"`
}

// InterviewState is the typed view of one interview.
type InterviewState struct {
	Analyst  Analyst `json:"analyst"`
	MaxTurns int     `json:"max_num_turns"`
	Turns    int     `json:"turns"`
	Section  string  `json:"section"`
}

// ResearchOptions configures NewResearchAssistant and NewInterviewGraph.
type ResearchOptions struct {
	// MaxTurns bounds the questions of one interview. Zero means DefaultInterviewTurns.
	MaxTurns int
	// ReviewQuestions pauses before every question is sent. Resuming with a
	// non-empty string replaces the question.
	ReviewQuestions bool
	// Checkpointer is used by the research graph and every interview.
	Checkpointer store.CheckpointStore
	// Retry retries failed model calls when set.
	Retry *graph.RetryConfig
	// CallOptions are passed to every model call.
	CallOptions []llms.CallOption
	// CompileOptions are passed to the research graph only.
	CompileOptions []graph.CompileOption
}

func (o ResearchOptions) checkpointer() []graph.CompileOption {
	if o.Checkpointer == nil {
		return nil
	}
	return []graph.CompileOption{graph.WithCheckpointer(o.Checkpointer)}
}

// NewInterviewGraph builds ask_question <-> answer_question -> save_interview
// -> write_section. Start it with {"analyst": ..., "max_num_turns": n}; the
// final state carries the "section" written from the interview.
func NewInterviewGraph(model llms.Model, opts ResearchOptions) (*graph.CompiledGraph, error) {
	if model == nil {
		return nil, errors.New("interview: nil model")
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultInterviewTurns
	}

	decode := func(state graph.State) (InterviewState, []graph.Message, error) {
		var s InterviewState
		if err := graph.DecodeState(state, &s); err != nil {
			return s, nil, err
		}
		if s.MaxTurns <= 0 {
			s.MaxTurns = maxTurns
		}
		history, err := graph.ToMessages(state["messages"])
		return s, history, err
	}

	askQuestion := func(ctx context.Context, state graph.State) (any, error) {
		s, history, err := decode(state)
		if err != nil {
			return nil, err
		}
		system := graph.Message{Role: graph.RoleSystem, Content: fmt.Sprintf(questionPrompt, s.Analyst.Persona())}
		question, err := generate(ctx, model, append([]graph.Message{system}, history...), opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		if opts.ReviewQuestions {
			edited, err := graph.Interrupt(ctx, question.Content)
			if err != nil {
				return nil, err
			}
			if text, _ := edited.(string); text != "" {
				question.Content = text
			}
		}
		return graph.State{"messages": []graph.Message{question}}, nil
	}

	answerQuestion := func(ctx context.Context, state graph.State) (any, error) {
		s, history, err := decode(state)
		if err != nil {
			return nil, err
		}
		// The expert sees the analyst's questions as user turns.
		flipped := make([]graph.Message, 0, len(history)+1)
		flipped = append(flipped, graph.Message{Role: graph.RoleSystem, Content: fmt.Sprintf(answerPrompt, s.Analyst.Persona())})
		for _, m := range history {
			role := graph.RoleUser
			if m.Role == graph.RoleUser {
				role = graph.RoleAssistant
			}
			flipped = append(flipped, graph.Message{Role: role, Content: m.Content})
		}
		answer, err := generate(ctx, model, flipped, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		answer.Role = graph.RoleUser
		return graph.State{"messages": []graph.Message{answer}, "turns": 1}, nil
	}

	saveInterview := func(_ context.Context, state graph.State) (any, error) {
		history, err := graph.ToMessages(state["messages"])
		if err != nil {
			return nil, err
		}
		var transcript strings.Builder
		for _, m := range history {
			speaker := "expert"
			if m.Role == graph.RoleAssistant {
				speaker = "analyst"
			}
			fmt.Fprintf(&transcript, "%s: %s\n", speaker, m.Content)
		}
		return graph.State{"interview": transcript.String()}, nil
	}

	writeSection := func(ctx context.Context, state graph.State) (any, error) {
		s, _, err := decode(state)
		if err != nil {
			return nil, err
		}
		interview, _ := state["interview"].(string)
		prompt := graph.Message{Role: graph.RoleUser, Content: fmt.Sprintf(sectionPrompt, s.Analyst.Description, interview)}
		section, err := generate(ctx, model, []graph.Message{prompt}, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		return graph.State{"section": section.Content}, nil
	}

	routeMessages := func(_ context.Context, state graph.State) string {
		s, history, err := decode(state)
		if err != nil || s.Turns >= s.MaxTurns {
			return NodeSaveInterview
		}
		for i := len(history) - 1; i >= 0; i-- {
			if history[i].Role == graph.RoleAssistant {
				if strings.Contains(history[i].Content, InterviewDone) {
					return NodeSaveInterview
				}
				break
			}
		}
		return NodeAskQuestion
	}

	g := graph.NewStateGraph()
	nodes := []struct {
		name, description string
		fn                graph.NodeFunc
	}{
		{NodeAskQuestion, "the analyst asks the next question", askQuestion},
		{NodeAnswerQuestion, "the expert answers", answerQuestion},
		{NodeSaveInterview, "render the transcript", saveInterview},
		{NodeWriteSection, "write a report section from the transcript", writeSection},
	}
	for _, n := range nodes {
		if err := g.AddNode(n.name, n.description, withRetry(n.name, n.fn, opts.Retry)); err != nil {
			return nil, err
		}
	}
	if err := g.AddEdge(graph.START, NodeAskQuestion); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeAskQuestion, NodeAnswerQuestion); err != nil {
		return nil, err
	}
	if err := g.AddConditionalEdge(NodeAnswerQuestion, routeMessages, nil); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeSaveInterview, NodeWriteSection); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeWriteSection, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().
		RegisterReducer("messages", graph.AddMessages).
		RegisterReducer("turns", graph.SumReducer)
	return g.Compile(append([]graph.CompileOption{graph.WithSchema(schema)}, opts.checkpointer()...)...)
}

// NewResearchAssistant builds create_analysts -> human_feedback -> N x
// conduct_interview -> write_report. Start it with {"topic": ...,
// "max_analysts": n}. The run pauses before human_feedback: resuming with a
// patch that sets "human_analyst_feedback" regenerates the analysts, resuming
// without one starts an interview subgraph per analyst. The final state
// carries "sections" in analyst order and "final_report".
func NewResearchAssistant(model llms.Model, opts ResearchOptions) (*graph.CompiledGraph, error) {
	interview, err := NewInterviewGraph(model, opts)
	if err != nil {
		return nil, err
	}
	maxTurns := opts.MaxTurns
	if maxTurns <= 0 {
		maxTurns = DefaultInterviewTurns
	}

	createAnalysts := func(ctx context.Context, state graph.State) (any, error) {
		var s ResearchState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil, err
		}
		if s.MaxAnalysts <= 0 {
			s.MaxAnalysts = 3
		}
		system := graph.Message{Role: graph.RoleSystem, Content: fmt.Sprintf(analystsPrompt, s.Topic, s.Feedback, s.MaxAnalysts)}
		request := graph.Message{Role: graph.RoleUser, Content: "Generate the set of analysts."}
		reply, err := generate(ctx, model, []graph.Message{system, request}, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		analysts := parseAnalysts(reply.Content, s.MaxAnalysts)
		out := make([]any, 0, len(analysts))
		for _, a := range analysts {
			out = append(out, a.toMap())
		}
		return graph.State{"analysts": out, "human_analyst_feedback": ""}, nil
	}

	humanFeedback := func(_ context.Context, state graph.State) (any, error) {
		var s ResearchState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil, err
		}
		if s.Feedback != "" {
			return &graph.Command{Goto: NodeCreateAnalysts}, nil
		}
		if len(s.Analysts) == 0 {
			return &graph.Command{Goto: NodeWriteReport}, nil
		}
		sends := make([]graph.Send, 0, len(s.Analysts))
		for _, a := range s.Analysts {
			sends = append(sends, graph.Send{Node: NodeConductInterview, Arg: graph.State{
				"analyst":       a.toMap(),
				"max_num_turns": maxTurns,
			}})
		}
		return &graph.Command{Goto: sends}, nil
	}

	writeReport := func(ctx context.Context, state graph.State) (any, error) {
		var s ResearchState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil, err
		}
		prompt := graph.Message{Role: graph.RoleUser, Content: fmt.Sprintf(reportPrompt, s.Topic, strings.Join(s.Sections, "\n\n"))}
		report, err := generate(ctx, model, []graph.Message{prompt}, opts.CallOptions...)
		if err != nil {
			return nil, err
		}
		return graph.State{"final_report": report.Content}, nil
	}

	g := graph.NewStateGraph()
	if err := g.AddNode(NodeCreateAnalysts, "generate analyst personas", withRetry(NodeCreateAnalysts, createAnalysts, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeHumanFeedback, "wait for editorial feedback", humanFeedback); err != nil {
		return nil, err
	}
	if err := g.AddSubgraph(NodeConductInterview, interview, graph.SubgraphConfig{
		Output: func(s graph.State) graph.State { return graph.State{"sections": s["section"]} },
	}); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeWriteReport, "consolidate the sections", withRetry(NodeWriteReport, writeReport, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(graph.START, NodeCreateAnalysts); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeCreateAnalysts, NodeHumanFeedback); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeConductInterview, NodeWriteReport); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeWriteReport, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().RegisterReducer("sections", graph.AppendReducer)
	compile := append([]graph.CompileOption{graph.WithSchema(schema), graph.WithInterruptBefore(NodeHumanFeedback)}, opts.checkpointer()...)
	return g.Compile(append(compile, opts.CompileOptions...)...)
}

// parseAnalysts reads "name | affiliation | role | description" lines and
// keeps at most limit analysts.
func parseAnalysts(text string, limit int) []Analyst {
	var out []Analyst
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Split(line, "|")
		if len(fields) < 2 {
			continue
		}
		for i := range fields {
			fields[i] = strings.TrimSpace(fields[i])
		}
		fields = append(fields, "", "", "")
		a := Analyst{Name: fields[0], Affiliation: fields[1], Role: fields[2], Description: fields[3]}
		if a.Name == "" {
			continue
		}
		out = append(out, a)
		if len(out) == limit {
			break
		}
	}
	return out
}
