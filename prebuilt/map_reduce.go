package prebuilt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/smallnest/stepgraph/graph"
	"github.com/tmc/langchaingo/llms"
)

// Map-reduce node names.
const (
	NodeGenerateTopics = "generate_topics"
	NodeGenerateJoke   = "generate_joke"
	NodeBestJoke       = "best_joke"
)

const (
	subjectsPrompt = `Generate a list of 3 sub-topics that are all related to this overall topic: %s. Answer with JSON like {"subjects": ["..."]}.`
	jokePrompt     = `Generate a joke about %s`
	bestJokePrompt = `Below are a bunch of jokes about %s. Select the best one! Return the ID of the best one, starting 0 as the ID for the first joke. Answer with JSON like {"id": 0}. Jokes: 

%s`
)

// JokeState is the typed view of the map-reduce state.
type JokeState struct {
	Topic    string   `json:"topic"`
	Subjects []string `json:"subjects"`
	Jokes    []string `json:"jokes"`
	Best     string   `json:"best_selected_joke"`
}

// JokeOptions configures NewJokeMapReduce.
type JokeOptions struct {
	// Retry retries failed model calls of every node when set.
	Retry *graph.RetryConfig
	// CallOptions are passed to every model call.
	CallOptions []llms.CallOption
	// CompileOptions are passed to Compile after the graph's own schema.
	CompileOptions []graph.CompileOption
}

// NewJokeMapReduce builds generate_topics -> N x generate_joke -> best_joke.
// Start it with {"topic": "..."}; the final state carries "jokes" in
// subject order and "best_selected_joke".
func NewJokeMapReduce(model llms.Model, opts JokeOptions) (*graph.CompiledGraph, error) {
	if model == nil {
		return nil, errors.New("joke map-reduce: nil model")
	}
	g := graph.NewStateGraph()

	ask := func(ctx context.Context, prompt string) (string, error) {
		reply, err := generate(ctx, model, []graph.Message{{Role: graph.RoleUser, Content: prompt}}, opts.CallOptions...)
		if err != nil {
			return "", err
		}
		return reply.Content, nil
	}

	generateTopics := func(ctx context.Context, state graph.State) (any, error) {
		var s JokeState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil, err
		}
		answer, err := ask(ctx, fmt.Sprintf(subjectsPrompt, s.Topic))
		if err != nil {
			return nil, err
		}
		return graph.State{"subjects": parseSubjects(answer)}, nil
	}

	generateJoke := func(ctx context.Context, state graph.State) (any, error) {
		subject, _ := state["subject"].(string)
		joke, err := ask(ctx, fmt.Sprintf(jokePrompt, subject))
		if err != nil {
			return nil, err
		}
		return graph.State{"jokes": []string{strings.TrimSpace(joke)}}, nil
	}

	bestJoke := func(ctx context.Context, state graph.State) (any, error) {
		var s JokeState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil, err
		}
		if len(s.Jokes) == 0 {
			return nil, errors.New("no jokes to choose from")
		}
		answer, err := ask(ctx, fmt.Sprintf(bestJokePrompt, s.Topic, strings.Join(s.Jokes, "\n\n")))
		if err != nil {
			return nil, err
		}
		id, err := parseJokeID(answer)
		if err != nil {
			return nil, err
		}
		if id < 0 || id >= len(s.Jokes) {
			return nil, fmt.Errorf("best joke id %d out of range [0, %d)", id, len(s.Jokes))
		}
		return graph.State{"best_selected_joke": s.Jokes[id]}, nil
	}

	if err := g.AddNode(NodeGenerateTopics, "split the topic into subjects", withRetry(NodeGenerateTopics, generateTopics, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeGenerateJoke, "write one joke per subject", withRetry(NodeGenerateJoke, generateJoke, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddNode(NodeBestJoke, "pick the best joke", withRetry(NodeBestJoke, bestJoke, opts.Retry)); err != nil {
		return nil, err
	}
	if err := g.AddEdge(graph.START, NodeGenerateTopics); err != nil {
		return nil, err
	}
	continueToJokes := func(_ context.Context, state graph.State) []graph.Send {
		var s JokeState
		if err := graph.DecodeState(state, &s); err != nil {
			return nil
		}
		sends := make([]graph.Send, 0, len(s.Subjects))
		for _, subject := range s.Subjects {
			sends = append(sends, graph.Send{Node: NodeGenerateJoke, Arg: graph.State{"subject": subject}})
		}
		return sends
	}
	if err := g.AddFanOut(NodeGenerateTopics, continueToJokes); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeGenerateJoke, NodeBestJoke); err != nil {
		return nil, err
	}
	if err := g.AddEdge(NodeBestJoke, graph.END); err != nil {
		return nil, err
	}

	schema := graph.NewMapSchema().RegisterReducer("jokes", graph.AppendReducer)
	return g.Compile(append([]graph.CompileOption{graph.WithSchema(schema)}, opts.CompileOptions...)...)
}

// parseSubjects accepts {"subjects": [...]}, a bare JSON array or one subject per line.
func parseSubjects(answer string) []string {
	answer = strings.TrimSpace(answer)
	var wrapped struct {
		Subjects []string `json:"subjects"`
	}
	if err := json.Unmarshal([]byte(answer), &wrapped); err == nil && len(wrapped.Subjects) > 0 {
		return wrapped.Subjects
	}
	var list []string
	if err := json.Unmarshal([]byte(answer), &list); err == nil {
		return list
	}

	var subjects []string
	for _, line := range strings.Split(answer, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(line, "-*0123456789. "))
		if line != "" {
			subjects = append(subjects, line)
		}
	}
	return subjects
}

// parseJokeID accepts {"id": n} or a bare integer.
func parseJokeID(answer string) (int, error) {
	answer = strings.TrimSpace(answer)
	var wrapped struct {
		ID *int `json:"id"`
	}
	if err := json.Unmarshal([]byte(answer), &wrapped); err == nil && wrapped.ID != nil {
		return *wrapped.ID, nil
	}
	id, err := strconv.Atoi(answer)
	if err != nil {
		return 0, fmt.Errorf("cannot read joke id from %q", answer)
	}
	return id, nil
}
