// Package demo runs the three cost-tracking scenarios against a live model
// and prints what was recorded.
package demo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"costtrace/internal/core"
	"costtrace/internal/cost"
	"costtrace/internal/telemetry"
	"costtrace/internal/tracker"
	"costtrace/internal/workflow"
)

const systemPrompt = "You are a helpful math assistant."

var (
	directQuestions  = []string{"What is 2*3?", "What is 10/2?", "What is 5+7?"}
	chainQuestions   = []string{"What is 7*8?", "What is 12*5?", "What is 144/12?"}
	workflowProblems = []string{
		"What is 15 * 23?",
		"If I have 144 apples and want to divide them equally among 12 people, how many apples does each person get?",
		"Calculate the area of a rectangle with length 8 meters and width 5 meters.",
	}
)

// Runner executes the scenarios.
type Runner struct {
	tracker     *tracker.Tracker
	model       string
	environment string
	out         io.Writer
	now         func() time.Time
}

// NewRunner creates a runner that sends every call to model through tr and
// prints to out.
func NewRunner(tr *tracker.Tracker, model, environment string, out io.Writer) *Runner {
	return &Runner{tracker: tr, model: model, environment: environment, out: out, now: time.Now}
}

// Run executes all scenarios, each in its own session, then prints the
// summary. A failing scenario does not stop the others.
func (r *Runner) Run(ctx context.Context) error {
	var errs []error
	if err := r.RunDirect(ctx, r.newContext("direct", "cost-tracking", "direct", "openrouter")); err != nil {
		errs = append(errs, err)
		r.printf("Direct test failed: %v\n\n", err)
	}
	if err := r.RunChain(ctx, r.newContext("chain-cost-tracking", "cost-tracking", "chain", "framework")); err != nil {
		errs = append(errs, err)
		r.printf("Chain test failed: %v\n\n", err)
	}
	if err := r.RunWorkflow(ctx, r.newContext("workflow-cost-tracking", "cost-tracking", "workflow", "graph")); err != nil {
		errs = append(errs, err)
	}
	r.PrintSummary()
	return errors.Join(errs...)
}

func (r *Runner) newContext(prefix string, tags ...string) *telemetry.Context {
	var extras map[string]any
	if r.environment != "" {
		extras = map[string]any{telemetry.KeyEnvironment: r.environment}
	}
	return telemetry.NewContext(telemetry.NewSessionID(prefix, r.now()), tags, extras)
}

// RunDirect asks each question with a plain provider call and prints the cost
// from the response body.
func (r *Runner) RunDirect(ctx context.Context, tc *telemetry.Context) error {
	r.printf("=== Test 1: Direct Provider Call ===\n")
	r.printf("Session ID: %s\n", tc.SessionID)

	for i, q := range directQuestions {
		n := i + 1
		r.printf("\n--- Direct Test %d: %s ---\n", n, q)

		callCtx := telemetry.WithContext(ctx, tc.With(map[string]any{"test_type": "direct", "question_number": n}))
		out, err := r.tracker.Chat(callCtx, fmt.Sprintf("direct-call-%d", n), r.request(q), tracker.ShapeDirect)
		if err != nil {
			return fmt.Errorf("direct question %d: %w", n, err)
		}

		r.printf("Response: %s\n", out.Response.Content())
		if out.Cost != nil {
			r.printf("Cost: $%v\n", out.Cost.TotalOrZero())
		} else {
			r.printf("No cost in response\n")
		}
	}

	r.printf("Direct test completed\n\n")
	return nil
}

// RunChain asks each question through the framework result shape and prints
// the cost found on the generated message's metadata.
func (r *Runner) RunChain(ctx context.Context, tc *telemetry.Context) error {
	r.printf("=== Test 2: Framework Chain with Cost Tracking ===\n")
	r.printf("Session ID: %s\n", tc.SessionID)

	for i, q := range chainQuestions {
		n := i + 1
		r.printf("\n--- Cost Tracking Test %d: %s ---\n", n, q)

		callCtx := telemetry.WithContext(ctx, tc.With(map[string]any{"test_type": "chain_cost_tracking", "question_number": n}))
		out, err := r.tracker.Chat(callCtx, fmt.Sprintf("chain-call-%d", n), r.request(q), tracker.ShapeFramework)
		if err != nil {
			return fmt.Errorf("chain question %d: %w", n, err)
		}

		r.printf("Response: %s\n", out.Result.Text())
		var rec *cost.Record
		if msg := out.Result.Message(); msg != nil {
			rec = cost.FromUsage(msg.ResponseMetadata.TokenUsage)
		}
		r.printCost(rec, "in response")
	}

	r.printf("\nChain cost tracking test completed\n\n")
	return nil
}

func (r *Runner) printCost(rec *cost.Record, where string) {
	if rec == nil {
		r.printf("No cost data found in response\n")
		return
	}
	r.printf("Provider cost %s: $%v\n", where, rec.TotalOrZero())
	if rec.Input != nil || rec.Output != nil {
		r.printf("Cost breakdown: %v\n", rec.Details())
	}
	r.printf("✓ Cost data forwarded to Langfuse\n")
}

// RunWorkflow solves each problem with an analyzer, solver and validator
// graph. Every node is a separate tracked generation in the same session.
func (r *Runner) RunWorkflow(ctx context.Context, tc *telemetry.Context) error {
	r.printf("=== Test 3: Multi-Node Workflow ===\n")
	r.printf("Session ID: %s\n", tc.SessionID)
	r.printf("Graph structure: analyzer → solver → validator\n")

	var errs []error
	for i, problem := range workflowProblems {
		n := i + 1
		r.printf("\n--- Workflow Test %d: %s ---\n", n, problem)

		app, err := r.buildGraph(tc.With(map[string]any{"test_type": "workflow", "problem_number": n}))
		if err != nil {
			return err
		}

		final, err := app.Run(ctx, workflow.State{
			Messages: []core.Message{core.UserMessage(problem)},
			Step:     "start",
		})
		if err != nil {
			r.printf("✗ Graph execution failed: %v\n", err)
			errs = append(errs, fmt.Errorf("workflow problem %d: %w", n, err))
			continue
		}

		r.printf("\n✓ Graph execution completed\n")
		r.printf("Final Answer: %s\n", final.FinalAnswer)
		r.printf("Total LLM calls in workflow: %d\n", final.Calls)
	}

	r.printf("Multi-node workflow test completed\n")
	r.printf("✓ Each node should have generated separate cost entries in Langfuse\n")
	r.printf("✓ Check session '%s' for detailed cost breakdown per node\n\n", tc.SessionID)
	return errors.Join(errs...)
}

func (r *Runner) buildGraph(tc *telemetry.Context) (*workflow.Compiled, error) {
	return workflow.New().
		AddNode("analyzer", r.node(tc, "analyzer", "Analysis", func(workflow.State) string {
			return "You are a mathematical problem analyzer. Analyze the given problem and identify what type of calculation is needed. Be concise."
		}, func(s *workflow.State, content string) {
			s.Step = "analyzed"
			s.Analysis = content
		})).
		AddNode("solver", r.node(tc, "solver", "Solution", func(s workflow.State) string {
			return fmt.Sprintf("Based on this analysis: '%s', now solve the mathematical problem step by step. Show your work.", s.Analysis)
		}, func(s *workflow.State, content string) {
			s.Step = "solved"
			s.FinalAnswer = content
		})).
		AddNode("validator", r.node(tc, "validator", "Final Result", func(s workflow.State) string {
			return fmt.Sprintf("Review this solution: '%s'. Provide a final, clear, and concise answer. If there are any errors, correct them.", s.FinalAnswer)
		}, func(s *workflow.State, content string) {
			s.Step = "validated"
			s.FinalAnswer = content
		})).
		SetEntryPoint("analyzer").
		AddEdge("analyzer", "solver").
		AddEdge("solver", "validator").
		SetFinishPoint("validator").
		Compile()
}

// node builds a graph node that appends an instruction to the conversation,
// makes one tracked call and stores the reply via apply.
func (r *Runner) node(tc *telemetry.Context, name, label string, instruction func(workflow.State) string, apply func(*workflow.State, string)) workflow.Node {
	return func(ctx context.Context, s workflow.State) (workflow.State, error) {
		r.printf("   - Running %s_node...\n", name)

		msgs := append(append([]core.Message(nil), s.Messages...), core.SystemMessage(instruction(s)))
		callCtx := telemetry.WithContext(ctx, tc.With(map[string]any{"node_name": name}))
		out, err := r.tracker.Chat(callCtx, name, &core.ChatRequest{Model: r.model, Messages: msgs}, tracker.ShapeFramework)
		if err != nil {
			return s, err
		}

		content := out.Result.Text()
		r.printf("     %s: %s\n", label, content)

		s.Messages = append(append([]core.Message(nil), s.Messages...), core.AssistantMessage(content))
		s.Calls++
		apply(&s, content)
		return s, nil
	}
}

// PrintSummary prints the closing notes.
func (r *Runner) PrintSummary() {
	r.printf("Summary:\n")
	r.printf("1. Direct: cost read from the provider response body\n")
	r.printf("2. Framework chain: cost recovered from the result envelope\n")
	r.printf("3. Multi-node workflow: one tracked generation per node\n\n")
	r.printf("Notes:\n")
	r.printf("- OpenRouter returns cost information when the request asks for usage accounting\n")
	r.printf("- Every call forwards cost_details to Langfuse when a cost was reported\n")
	r.printf("- Failed calls are recorded with level ERROR and a zero cost\n")
	r.printf("- Check the Langfuse dashboard to verify cost tracking across all sessions\n")
}

func (r *Runner) request(question string) *core.ChatRequest {
	return &core.ChatRequest{
		Model: r.model,
		Messages: []core.Message{
			core.SystemMessage(systemPrompt),
			core.UserMessage(question),
		},
	}
}

func (r *Runner) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(r.out, format, args...)
}
