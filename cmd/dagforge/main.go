// Copyright 2025 The DAGForge Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command dagforge is the CLI for the hypergraph-scored DAG
// orchestrator.
//
// Usage:
//
//	dagforge run --config dagforge.yaml --intent "deploy the service"
//	dagforge resume --config dagforge.yaml --workflow-id <id>
//	dagforge inspect-checkpoint --config dagforge.yaml --workflow-id <id>
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagforge/dagforge/pkg/checkpoint"
	"github.com/dagforge/dagforge/pkg/config"
	"github.com/dagforge/dagforge/pkg/dagmodel"
	"github.com/dagforge/dagforge/pkg/decision"
	"github.com/dagforge/dagforge/pkg/eventstream"
	"github.com/dagforge/dagforge/pkg/logger"
	"github.com/dagforge/dagforge/pkg/observability"
	"github.com/dagforge/dagforge/pkg/orchestrator"
	"github.com/dagforge/dagforge/pkg/permission"
	"github.com/dagforge/dagforge/pkg/ratelimit"
	"github.com/dagforge/dagforge/pkg/rpc"
	"github.com/dagforge/dagforge/pkg/scheduler"
	"github.com/dagforge/dagforge/pkg/store/sqlitekv"
	"github.com/dagforge/dagforge/pkg/toolexec"
)

// CLI defines the command-line interface.
type CLI struct {
	Version           VersionCmd           `cmd:"" help:"Show version information."`
	Run               RunCmd               `cmd:"" help:"Create and run a workflow from an intent."`
	Resume            ResumeCmd            `cmd:"" help:"Resume a workflow from its latest checkpoint."`
	InspectCheckpoint InspectCheckpointCmd `cmd:"" name:"inspect-checkpoint" help:"Print a workflow's latest checkpoint."`
	Serve             ServeCmd             `cmd:"" help:"Serve the Control RPC HTTP surface (pkg/rpc)."`

	Config   string `short:"c" help:"Path to config file." type:"path" default:"dagforge.yaml"`
	LogLevel string `help:"Log level (debug, info, warn, error)." default:"info"`
	Trace    bool   `help:"Emit OTel spans for layer/task execution to stdout." default:"false"`
	Metrics  string `name:"metrics-addr" help:"If set, serve Prometheus /metrics on this address (e.g. :9090)."`
}

// VersionCmd prints the build version.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "" && info.Main.Version != "(devel)" {
			version = info.Main.Version
		}
	}
	fmt.Printf("dagforge version %s\n", version)
	return nil
}

// RunCmd creates and runs a new workflow to completion (or until it
// pauses on a decision_required checkpoint).
type RunCmd struct {
	Intent    string `help:"Natural-language intent used to log/identify this run."`
	StorePath string `name:"store" help:"SQLite checkpoint store path." default:"dagforge.db" type:"path"`
}

func (c *RunCmd) Run(cli *CLI) error {
	app, err := newApp(cli, c.StorePath)
	if err != nil {
		return err
	}
	defer app.Close()

	state, stream, err := app.repo.Create(orchestrator.CreateInput{Intent: c.Intent})
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	return app.drive(state, stream)
}

// ResumeCmd reloads a workflow's latest checkpoint and continues it.
type ResumeCmd struct {
	WorkflowID string `required:"" name:"workflow-id" help:"Workflow id to resume."`
	StorePath  string `name:"store" help:"SQLite checkpoint store path." default:"dagforge.db" type:"path"`
}

func (c *ResumeCmd) Run(cli *CLI) error {
	app, err := newApp(cli, c.StorePath)
	if err != nil {
		return err
	}
	defer app.Close()

	cp, err := app.checkpoints.Latest(context.Background(), c.WorkflowID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}

	state, stream, err := app.repo.Create(orchestrator.CreateInput{
		Intent: cp.Workflow.Intent,
		DAG:    cp.Workflow.DAG,
	})
	if err != nil {
		return fmt.Errorf("recreate workflow: %w", err)
	}
	state.CurrentLayer = cp.Layer
	state.Results = cp.Workflow.Results
	state.Status = cp.Workflow.Status

	return app.drive(state, stream)
}

// InspectCheckpointCmd prints a workflow's latest checkpoint as JSON.
type InspectCheckpointCmd struct {
	WorkflowID string `required:"" name:"workflow-id" help:"Workflow id to inspect."`
	StorePath  string `name:"store" help:"SQLite checkpoint store path." default:"dagforge.db" type:"path"`
}

func (c *InspectCheckpointCmd) Run(cli *CLI) error {
	app, err := newApp(cli, c.StorePath)
	if err != nil {
		return err
	}
	defer app.Close()

	cp, err := app.checkpoints.Latest(context.Background(), c.WorkflowID)
	if err != nil {
		return fmt.Errorf("load checkpoint: %w", err)
	}
	data, err := cp.Serialize()
	if err != nil {
		return fmt.Errorf("serialize checkpoint: %w", err)
	}
	fmt.Println(string(data))
	return nil
}

// app bundles the wiring shared by every subcommand. The decision
// strategy stays a NullStrategy in this reference CLI (no interactive
// operator is attached to a terminal session) while the permission
// gate still runs for real, since PermissionEscalationNeeded can
// surface from any tool regardless of AIL/HIL policy; a real
// deployment swaps in decision.Strategy wired to pkg/rpc's
// approval_response endpoint instead.
type app struct {
	cfg         *config.Config
	kv          *sqlitekv.Store
	checkpoints *checkpoint.Store
	repo        *orchestrator.Repository

	tracer         trace.Tracer
	tracerShutdown func(context.Context) error
	metrics        *observability.Metrics
}

func newApp(cli *CLI, storePath string) (*app, error) {
	level, err := logger.ParseLevel(cli.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	logger.Init(level, os.Stderr, "simple")

	cfg := config.NewDefault()
	if _, statErr := os.Stat(cli.Config); statErr == nil {
		loaded, loadErr := config.Load(cli.Config)
		if loadErr != nil {
			return nil, fmt.Errorf("load config %s: %w", cli.Config, loadErr)
		}
		cfg = loaded
	}

	kv, err := sqlitekv.Open(storePath)
	if err != nil {
		return nil, fmt.Errorf("open checkpoint store %s: %w", storePath, err)
	}

	_, shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{Enabled: cli.Trace, ServiceName: "dagforge"})
	if err != nil {
		kv.Close()
		return nil, fmt.Errorf("init tracer: %w", err)
	}

	metrics := observability.NewMetrics("dagforge")
	if cli.Metrics != "" {
		go func() {
			logger.Get().Warn("dagforge: serving /metrics", "addr", cli.Metrics)
			if err := http.ListenAndServe(cli.Metrics, metrics.Handler()); err != nil {
				logger.Get().Warn("dagforge: metrics server stopped", "error", err)
			}
		}()
	}

	return &app{
		cfg:            cfg,
		kv:             kv,
		checkpoints:    checkpoint.NewStore(kv),
		repo:           orchestrator.New(),
		tracer:         observability.GetTracer("dagforge/scheduler"),
		tracerShutdown: shutdown,
		metrics:        metrics,
	}, nil
}

func (a *app) Close() {
	if a.tracerShutdown != nil {
		_ = a.tracerShutdown(context.Background())
	}
	if a.kv != nil {
		a.kv.Close()
	}
}

// echoExecutor is the reference toolexec.Executor for this CLI: it
// performs no real tool invocation and simply reports success, so
// `dagforge run` exercises the scheduler's layering/checkpoint/event
// machinery end to end without requiring a configured tool backend. A
// real deployment supplies its own Executor (or
// pkg/toolexec/plugin's out-of-process one).
func echoExecutor(ctx context.Context, inv toolexec.Invocation) (toolexec.Output, error) {
	return toolexec.Output{Result: map[string]any{"tool": inv.CallName, "status": "ok"}}, nil
}

// newScheduler builds the reference Scheduler shared by every command:
// an echoExecutor tool backend, a NullStrategy decision strategy (no
// interactive operator is attached to a terminal session), and a
// Permission gate that still enforces real PermissionEscalationNeeded
// handling regardless of AIL/HIL policy. A real deployment supplies
// its own toolexec.Executor and decision.Strategy.
func (a *app) newScheduler(stream *eventstream.Stream) *scheduler.Scheduler {
	return &scheduler.Scheduler{
		Executor:    toolexec.ExecutorFunc(echoExecutor),
		Decision:    decision.NullStrategy{},
		Permission:  &permission.Gate{Stream: stream},
		Stream:      stream,
		TaskTimeout: a.cfg.TaskTimeout(),
		Tracer:      a.tracer,
		Metrics:     a.metrics,
		Checkpoint: func(ctx context.Context, wf *dagmodel.WorkflowState) (string, error) {
			return a.checkpoints.Save(ctx, checkpoint.NewState(wf.WorkflowID, wf.CurrentLayer, *wf))
		},
	}
}

// drive runs the scheduler loop for state to completion, printing each
// emitted event and checkpointing every layer boundary. drive sends no
// commands: NullStrategy never pauses for a decision, and a permission
// escalation waits on the Gate for a permission_escalation_response on
// stream.
func (a *app) drive(state *dagmodel.WorkflowState, stream *eventstream.Stream) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Get().Warn("dagforge: received shutdown signal, aborting workflow", "workflow_id", state.WorkflowID)
		cancel()
	}()

	sched := a.newScheduler(stream)

	for ev, err := range sched.Run(ctx, state) {
		if err != nil {
			return fmt.Errorf("workflow %s: %w", state.WorkflowID, err)
		}
		fmt.Printf("[%s] %s layer=%d task=%s\n", ev.WorkflowID, ev.Type, ev.LayerIndex, ev.TaskID)
	}

	fmt.Printf("workflow %s finished: %s\n", state.WorkflowID, state.Status)
	return nil
}

// runWorkflow drives state to completion the same way drive does, but
// logs each event through pkg/logger instead of stdout and returns
// nothing, so the Control RPC server can launch it as a detached
// per-workflow goroutine (see ServeCmd).
func (a *app) runWorkflow(ctx context.Context, state *dagmodel.WorkflowState, stream *eventstream.Stream) {
	sched := a.newScheduler(stream)
	for ev, err := range sched.Run(ctx, state) {
		if err != nil {
			logger.Get().Warn("dagforge: workflow run failed", "workflow_id", state.WorkflowID, "error", err)
			return
		}
		logger.Get().Info("dagforge: workflow event", "workflow_id", ev.WorkflowID, "type", ev.Type, "layer", ev.LayerIndex, "task", ev.TaskID)
	}
	logger.Get().Info("dagforge: workflow finished", "workflow_id", state.WorkflowID, "status", state.Status)
}

// ServeCmd starts the optional Control RPC HTTP surface (pkg/rpc):
// POST /execute creates a workflow and launches its own runWorkflow
// goroutine, while /continue, /abort, /replan, /approval_response, and
// /permission_escalation_response drive an already-created workflow's
// eventstream.Stream, and GET /workflows/{id}/events streams its event
// feed as Server-Sent Events. Each /execute call is rate limited by
// caller identity when RateLimit.Enabled is configured.
type ServeCmd struct {
	Addr      string `help:"HTTP listen address for the Control RPC server. Falls back to config's server.addr, then :8080." default:""`
	StorePath string `name:"store" help:"SQLite checkpoint store path." default:"dagforge.db" type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	app, err := newApp(cli, c.StorePath)
	if err != nil {
		return err
	}
	defer app.Close()

	addr := c.Addr
	if addr == "" {
		addr = app.cfg.Server.Addr
	}
	if addr == "" {
		addr = ":8080"
	}

	var limiter ratelimit.RateLimiter
	if app.cfg.RateLimit.Enabled {
		rules := make([]ratelimit.LimitRule, 0, len(app.cfg.RateLimit.Limits))
		for _, rule := range app.cfg.RateLimit.Limits {
			rules = append(rules, ratelimit.LimitRule{
				Type:   ratelimit.ParseLimitType(rule.Type),
				Window: ratelimit.ParseTimeWindow(rule.Window),
				Limit:  rule.Limit,
			})
		}
		limiter, err = ratelimit.NewRateLimiter(&ratelimit.Config{Enabled: true, Limits: rules}, ratelimit.NewMemoryStore())
		if err != nil {
			return fmt.Errorf("build rate limiter: %w", err)
		}
	}

	srv := &rpc.Server{
		Repo:    app.repo,
		Limiter: limiter,
		OnExecute: func(state *dagmodel.WorkflowState, stream *eventstream.Stream) {
			ctx, cancel := context.WithCancel(context.Background())
			if attachErr := app.repo.Attach(state.WorkflowID, cancel); attachErr != nil {
				logger.Get().Warn("dagforge: attach scheduler cancel failed", "workflow_id", state.WorkflowID, "error", attachErr)
			}
			go app.runWorkflow(ctx, state, stream)
		},
	}

	logger.Get().Warn("dagforge: serving Control RPC", "addr", addr)
	return http.ListenAndServe(addr, srv.Router())
}

func main() {
	_ = godotenv.Load()

	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("dagforge"),
		kong.Description("Hypergraph-scored DAG orchestrator"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	ctx.FatalIfErrorf(err)
}
