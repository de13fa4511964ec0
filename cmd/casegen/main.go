package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/internal/ui"
)

var version = "dev"

var (
	configPath string
	dbPath     string
	verbose    bool
)

// Replaced in tests.
var (
	runMenu     = ui.RunMenu
	pickProject = ui.RunProjectPicker
	pickItem    = ui.RunPicker
)

type command struct {
	name    string
	summary string
	// public commands run without a selected project.
	public bool
	// bare commands get no local store; they open their own.
	bare bool
	// quiet commands keep stdout free of log output.
	quiet bool
	run   func(ctx context.Context, a *app, args []string) error
}

var commands = []command{
	{name: "init", summary: "Create .casegen/ with a local store and default contexts", public: true, bare: true, run: runInit},
	{name: "status", summary: "Show configuration, the selected project and local state", public: true, run: runStatus},
	{name: "projects", summary: "List projects", public: true, run: runProjects},
	{name: "use", summary: "Select the current project", public: true, run: runUse},
	{name: "business-types", summary: "List business types of the current project", run: runBusinessTypes},
	{name: "test-points", summary: "List test points", run: runTestPoints},
	{name: "test-cases", summary: "List test cases", run: runTestCases},
	{name: "show", summary: "Render a test point or test case", public: true, run: runShow},
	{name: "delete", summary: "Delete test points or test cases", public: true, run: runDelete},
	{name: "mark", summary: "Set the status of test points or test cases", public: true, run: runMark},
	{name: "generate", summary: "Start a generation task for one business type", run: runGenerate},
	{name: "batch", summary: "Generate one stage for several business types", run: runBatch},
	{name: "two-stage", summary: "Generate test points, then test cases from them", run: runTwoStage},
	{name: "tasks", summary: "List generation tasks", public: true, run: runTasks},
	{name: "watch", summary: "Follow a task until it finishes", public: true, run: runWatch},
	{name: "cancel", summary: "Cancel a running task", public: true, run: runCancel},
	{name: "stats", summary: "Show test case statistics", run: runStats},
	{name: "export", summary: "Export test cases to Excel", run: runExport},
	{name: "prompts", summary: "List and inspect prompts", public: true, run: runPrompts},
	{name: "preview", summary: "Preview a template with its variables resolved", public: true, run: runPreview},
	{name: "contexts", summary: "Manage local history contexts", public: true, run: runContexts},
	{name: "variables", summary: "Manage local template variables", public: true, run: runVariables},
	{name: "mcp", summary: "Serve the MCP tools on stdio", public: true, quiet: true, run: runMCP},
	{name: "serve", summary: "Serve the local dashboard", public: true, run: runServe},
}

func findCommand(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func publicCommands() []string {
	var names []string
	for _, c := range commands {
		if c.public {
			names = append(names, c.name)
		}
	}
	return names
}

func main() {
	if err := execute(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootFlags(stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet("casegen", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&configPath, "config", "", "Path to casegen.yaml")
	fs.StringVar(&dbPath, "db-path", "", "Path to the local database (overrides db_path)")
	fs.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: casegen [flags] <command> [arguments]")
		fmt.Fprintln(stderr, "\nRunning `casegen` with no command opens the interactive menu.")
		fmt.Fprintln(stderr, "\nCommands:")
		for _, c := range commands {
			fmt.Fprintf(stderr, "  %-15s %s\n", c.name, c.summary)
		}
		fmt.Fprintln(stderr, "\nFlags:")
		fs.PrintDefaults()
	}
	return fs
}

func execute(args []string, stdout, stderr io.Writer) error {
	fs := newRootFlags(stderr)
	if err := fs.Parse(args); err != nil {
		return err
	}

	var name string
	var rest []string
	if fs.NArg() == 0 {
		selected, err := runMenu()
		if err != nil {
			return fmt.Errorf("failed to run menu: %w", err)
		}
		if selected == "" {
			return nil
		}
		name = selected
	} else {
		name = fs.Arg(0)
		rest = fs.Args()[1:]
	}

	cmd, ok := findCommand(name)
	if !ok {
		return fmt.Errorf("unknown command: %s", name)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, appOptions{
		openDB: !cmd.bare,
		quiet:  cmd.quiet,
		stdout: stdout,
		stderr: stderr,
	})
	if err != nil {
		return err
	}
	defer a.close()

	err = a.errs.Boundary(func() error {
		if !cmd.public {
			if err := a.requireProject(ctx, cmd.name); err != nil {
				return err
			}
		}
		return cmd.run(ctx, a, rest)
	})
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return err
	}

	var crash *errs.CrashError
	if errors.As(err, &crash) {
		fmt.Fprintln(stderr, crash.Diagnostics(version))
	}
	return &commandError{
		Command: cmd.name,
		Message: a.errs.Handle(err, errs.Options{Context: cmd.name}),
		Err:     err,
	}
}

// commandError carries the translated message while keeping the cause for errors.Is/As.
type commandError struct {
	Command string
	Message string
	Err     error
}

func (e *commandError) Error() string {
	return e.Message
}

func (e *commandError) Unwrap() error {
	return e.Err
}
