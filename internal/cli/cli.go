// Package cli implements the nan command line: one command per invocation,
// parsed with the standard flag package.
package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/0x4133/nan/internal/service"
	"github.com/0x4133/nan/pkg/config"
	"github.com/0x4133/nan/pkg/logger"
	"github.com/0x4133/nan/pkg/memory"
)

// Exit codes returned by Run.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

// Backend is the set of operations the commands drive. *service.Service
// implements it.
type Backend interface {
	Spawn(ctx context.Context, id string) (string, error)
	Add(ctx context.Context, agentID, item string) error
	Query(ctx context.Context, agentID string) ([]string, error)
	Clear(ctx context.Context, agentID string) error
	Generate(ctx context.Context, agentID, prompt string) (string, error)
	Detach(ctx context.Context, agentID string) (string, error)
	Attach(ctx context.Context, agentID, bundleID string, mode memory.AttachMode) (bool, error)
	ListAgents(ctx context.Context) ([]string, error)
	ListPool(ctx context.Context) ([]string, error)
	Show(ctx context.Context, bundleID string) ([]string, bool, error)
	Discard(ctx context.Context, bundleID string) (bool, error)
	Verify(ctx context.Context) (memory.Report, error)
	Save(ctx context.Context, agentID, path string) error
	Load(ctx context.Context, agentID, path string) (int, error)
	Close(ctx context.Context) error
}

// OpenFunc builds a Backend from the resolved configuration.
type OpenFunc func(ctx context.Context, cfg *config.Config, log logger.Logger) (Backend, error)

// App holds the command line's dependencies.
type App struct {
	Stdout  io.Writer
	Stderr  io.Writer
	Version string
	// Open defaults to building a service.Service.
	Open OpenFunc
}

// New returns an App writing to the process's stdout and stderr.
func New(version string) *App {
	return &App{
		Stdout:  os.Stdout,
		Stderr:  os.Stderr,
		Version: version,
	}
}

type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, a *App, b Backend, fs *flag.FlagSet) error
	// local commands need no backend
	local bool
	flags func(fs *flag.FlagSet)
}

// usageError marks a problem with how the command was invoked.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...interface{}) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

func (a *App) commands() []*command {
	return []*command{
		{name: "spawn", args: "[agent-id]", summary: "Register an agent; without an id the next sequential id is used", run: cmdSpawn},
		{name: "add", args: "<agent-id> <text...>", summary: "Append a memory item to an agent", run: cmdAdd},
		{name: "query", args: "<agent-id>", summary: "Print an agent's memory, oldest first", run: cmdQuery},
		{name: "clear", args: "<agent-id>", summary: "Delete an agent's memory", run: cmdClear},
		{name: "generate", args: "<agent-id> <prompt...>", summary: "Generate text and append it to an agent", run: cmdGenerate},
		{name: "detach", args: "<agent-id>", summary: "Move an agent's memory into the pool", run: cmdDetach},
		{name: "attach", args: "[-mode replace|append|require-empty] <agent-id> <bundle-id>", summary: "Move a pool bundle into an agent", run: cmdAttach, flags: attachFlags},
		{name: "list-agents", summary: "List registered agents", run: cmdListAgents},
		{name: "list-pool", summary: "List bundle ids in the pool", run: cmdListPool},
		{name: "show", args: "<bundle-id>", summary: "Print a bundle without removing it", run: cmdShow},
		{name: "discard", args: "<bundle-id>", summary: "Delete a bundle from the pool", run: cmdDiscard},
		{name: "verify", summary: "Check the pool index against stored bundles", run: cmdVerify},
		{name: "save", args: "<agent-id> <file>", summary: "Write an agent's memory to a file, one item per line", run: cmdSave},
		{name: "load", args: "<agent-id> <file>", summary: "Replace an agent's memory with the lines of a file", run: cmdLoad},
		{name: "version", summary: "Print the version", run: cmdVersion, local: true},
	}
}

// Run parses args (without the program name), executes one command and
// returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	global := flag.NewFlagSet("nan", flag.ContinueOnError)
	global.SetOutput(a.Stderr)
	var (
		configFile = global.String("config", "", "Path to a JSON or YAML config file")
		redisURL   = global.String("redis-url", "", "Redis URL (overrides NAN_REDIS_URL)")
		namespace  = global.String("namespace", "", "Key namespace (overrides NAN_NAMESPACE)")
		storeKind  = global.String("store", "", "Store provider: redis or memory")
		provider   = global.String("provider", "", "Generation provider: ollama, openai or anthropic")
		model      = global.String("model", "", "Generation model")
		logLevel   = global.String("log-level", "", "Log level: debug, info, warn or error")
		verbose    = global.Bool("v", false, "Verbose logging to stderr")
	)
	global.Usage = func() { a.printUsage() }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	rest := global.Args()
	if len(rest) == 0 {
		a.printUsage()
		return ExitUsage
	}
	cmd := a.lookup(rest[0])
	if cmd == nil {
		fmt.Fprintf(a.Stderr, "nan: unknown command %q\n\n", rest[0])
		a.printUsage()
		return ExitUsage
	}

	fs := flag.NewFlagSet(cmd.name, flag.ContinueOnError)
	fs.SetOutput(a.Stderr)
	fs.Usage = func() {
		fmt.Fprintf(a.Stderr, "Usage: nan %s %s\n", cmd.name, cmd.args)
		fs.PrintDefaults()
	}
	if cmd.flags != nil {
		cmd.flags(fs)
	}
	if err := fs.Parse(rest[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}

	if cmd.local {
		return a.finish(cmd, fs, cmd.run(ctx, a, nil, fs))
	}

	var opts []config.Option
	if *configFile != "" {
		opts = append(opts, config.WithConfigFile(*configFile))
	}
	if *redisURL != "" {
		opts = append(opts, config.WithRedisURL(*redisURL))
	}
	if *namespace != "" {
		opts = append(opts, config.WithNamespace(*namespace))
	}
	if *storeKind != "" {
		opts = append(opts, config.WithStoreProvider(*storeKind))
	}
	if *provider != "" || *model != "" {
		opts = append(opts, generationOption(*provider, *model))
	}
	level := *logLevel
	if *verbose {
		level = "debug"
	}
	if level == "" && os.Getenv("NAN_LOG_LEVEL") == "" {
		// Command output goes to stdout; keep stderr quiet unless asked.
		level = "warn"
	}
	if level != "" {
		opts = append(opts, config.WithLogLevel(level))
	}

	cfg, err := config.NewConfig(opts...)
	if err != nil {
		fmt.Fprintf(a.Stderr, "nan: %v\n", err)
		return ExitError
	}

	log := logger.NewProductionLogger(logger.Options{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      a.Stderr,
		ServiceName: cfg.ServiceName,
	})

	open := a.Open
	if open == nil {
		open = a.openService
	}
	backend, err := open(ctx, cfg, log)
	if err != nil {
		fmt.Fprintf(a.Stderr, "nan: %v\n", err)
		return ExitError
	}
	defer func() {
		if err := backend.Close(context.WithoutCancel(ctx)); err != nil {
			log.Warn("Failed to close backend", map[string]interface{}{
				"operation": "cli_close",
				"error":     err.Error(),
			})
		}
	}()

	return a.finish(cmd, fs, cmd.run(ctx, a, backend, fs))
}

func (a *App) openService(ctx context.Context, cfg *config.Config, log logger.Logger) (Backend, error) {
	svc, err := service.New(ctx, cfg, service.WithLogger(log), service.WithVersion(a.Version))
	if err != nil {
		return nil, err
	}
	return svc, nil
}

// generationOption sets provider and model without clearing whichever was
// not given.
func generationOption(provider, model string) config.Option {
	return func(c *config.Config) error {
		if provider != "" {
			c.Generation.Provider = provider
		}
		if model != "" {
			c.Generation.Model = model
		}
		return nil
	}
}

func (a *App) finish(cmd *command, fs *flag.FlagSet, err error) int {
	if err == nil {
		return ExitOK
	}
	var ue *usageError
	if errors.As(err, &ue) {
		fmt.Fprintf(a.Stderr, "nan %s: %s\n", cmd.name, ue.msg)
		fs.Usage()
		return ExitUsage
	}
	fmt.Fprintf(a.Stderr, "nan %s: %v\n", cmd.name, err)
	return ExitError
}

func (a *App) lookup(name string) *command {
	name = strings.ReplaceAll(name, "_", "-")
	for _, c := range a.commands() {
		if c.name == name {
			return c
		}
	}
	return nil
}

func (a *App) printUsage() {
	w := a.Stderr
	fmt.Fprintln(w, "Usage: nan [global flags] <command> [args]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	for _, c := range a.commands() {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Global flags:")
	fmt.Fprintln(w, "  -config, -redis-url, -namespace, -store, -provider, -model, -log-level, -v")
}
