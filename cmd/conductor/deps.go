package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/conductorhq/conductor/pkg/agent"
	"github.com/conductorhq/conductor/pkg/agent/confirm"
	"github.com/conductorhq/conductor/pkg/audit"
	"github.com/conductorhq/conductor/pkg/cliproc"
	"github.com/conductorhq/conductor/pkg/config"
	"github.com/conductorhq/conductor/pkg/llm/openai"
	"github.com/conductorhq/conductor/pkg/logging"
	"github.com/conductorhq/conductor/pkg/orchestrator"
	"github.com/conductorhq/conductor/pkg/safety"
	"github.com/conductorhq/conductor/pkg/workflow"
)

// deps holds the wired execution stack for one command invocation.
type deps struct {
	cfg        *config.Config
	filter     *safety.Filter
	runner     *cliproc.Runner
	confirmMgr *confirm.Manager
	orch       *orchestrator.Orchestrator
	engine     *workflow.Engine
	sink       audit.Sink
	logger     *logging.Logger
}

// buildDeps assembles the stack from configuration. The LLM provider is
// optional: without an API key, cli and ralph_cli modes still work.
func buildDeps(cmd *cobra.Command) (*deps, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		defaultPath, err := config.DefaultPath()
		if err != nil {
			return nil, err
		}
		path = defaultPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	logger, _ := logging.NewLogger("cli")

	filter, err := buildFilter(cfg)
	if err != nil {
		return nil, err
	}

	runner, err := buildRunner(cfg, logger)
	if err != nil {
		return nil, err
	}

	confirmMgr := confirm.NewManager(cfg.Timeouts.Confirm.Std())

	var loop *agent.Loop
	if key := cfg.APIKey(); key != "" {
		providerOpts := []openai.ProviderOption{}
		if cfg.Provider.Model != "" {
			providerOpts = append(providerOpts, openai.WithModel(cfg.Provider.Model))
		}
		if cfg.Provider.BaseURL != "" {
			providerOpts = append(providerOpts, openai.WithBaseURL(cfg.Provider.BaseURL))
		}
		provider, err := openai.NewProvider(key, providerOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to build LLM provider: %w", err)
		}

		loopOpts := []agent.LoopOption{}
		if d := cfg.Timeouts.Tool.Std(); d > 0 {
			loopOpts = append(loopOpts, agent.WithToolTimeout(d))
		}
		if d := cfg.Timeouts.LLM.Std(); d > 0 {
			loopOpts = append(loopOpts, agent.WithLLMTimeout(d))
		}
		loop = agent.NewLoop(provider, noTools{}, filter, confirmMgr, loopOpts...)
	}

	orchOpts := []orchestrator.Option{orchestrator.WithLogger(logger)}
	if cfg.Ralph.MaxIterations > 0 {
		orchOpts = append(orchOpts, orchestrator.WithRalphMaxIterations(cfg.Ralph.MaxIterations))
	}
	if cfg.Ralph.PromiseToken != "" {
		orchOpts = append(orchOpts, orchestrator.WithPromiseToken(cfg.Ralph.PromiseToken))
	}
	if d := cfg.Timeouts.CLI.Std(); d > 0 {
		orchOpts = append(orchOpts, orchestrator.WithCLITimeout(d))
	}
	orch := orchestrator.New(loop, runner, orchOpts...)

	var sink audit.Sink
	if cfg.AuditDB != "" {
		sink, err = audit.NewSQLiteSink(cfg.AuditDB)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit database: %w", err)
		}
	} else {
		sink = audit.NewMemorySink()
	}

	engine := workflow.NewEngine(orch,
		workflow.WithSink(sink),
		workflow.WithPreAnalysisKind(cfg.PreAnalysisKind),
		workflow.WithFailOnRalphCap(cfg.Ralph.FailOnCapOrDefault()),
		workflow.WithEngineLogger(logger),
	)

	return &deps{
		cfg:        cfg,
		filter:     filter,
		runner:     runner,
		confirmMgr: confirmMgr,
		orch:       orch,
		engine:     engine,
		sink:       sink,
		logger:     logger,
	}, nil
}

func (d *deps) close() {
	if d.sink != nil {
		d.sink.Close()
	}
	if d.logger != nil {
		d.logger.Close()
	}
}

func buildFilter(cfg *config.Config) (*safety.Filter, error) {
	var opts []safety.Option
	for _, rule := range cfg.Safety.ExtraBlocking {
		opts = append(opts, safety.WithBlockingPattern(rule.Pattern, rule.Reason))
	}
	for _, pattern := range cfg.Safety.ExtraConfirm {
		opts = append(opts, safety.WithConfirmPattern(pattern, "configured confirmation pattern"))
	}
	return safety.NewFilter(opts...)
}

func buildRunner(cfg *config.Config, logger *logging.Logger) (*cliproc.Runner, error) {
	opts := []cliproc.RunnerOption{}
	for name, tmpl := range cfg.Runtimes {
		kind, err := cliproc.ParseKind(name)
		if err != nil {
			return nil, fmt.Errorf("runtimes.%s: %w", name, err)
		}
		opts = append(opts, cliproc.WithTemplate(kind, cliproc.Template{Bin: tmpl.Bin, Args: tmpl.Args}))
	}
	if d := cfg.Timeouts.Grace.Std(); d > 0 {
		opts = append(opts, cliproc.WithGracePeriod(d))
	}
	if d := cfg.Timeouts.Idle.Std(); d > 0 {
		opts = append(opts, cliproc.WithIdleTimeout(d))
	}
	return cliproc.NewRunner(opts...), nil
}

// noTools is the empty tool catalog. Tool backends are external; the CLI
// wires none by default.
type noTools struct{}

func (noTools) List() []agent.ToolDescriptor { return nil }

func (noTools) Invoke(ctx context.Context, name string, args map[string]interface{}) (string, error) {
	return "", fmt.Errorf("no tool named %q is available", name)
}
