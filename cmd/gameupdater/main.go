package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"gameupdater/internal/debug"
	appErrors "gameupdater/internal/errors"
	"gameupdater/internal/ui"
)

// Exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitConfigError = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], newEnv(os.Stdout, os.Stderr))
	stop()
	os.Exit(code)
}

// run executes the command line and maps the outcome to an exit code.
func run(ctx context.Context, args []string, e *env) int {
	defer debug.Close()

	root := newRootCmd(e)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil && !ui.IsQuit(err) {
		_, _ = fmt.Fprintf(e.stderr, "Error: %v\n", err)
	}
	return exitCode(err)
}

func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case appErrors.IsCode(err, appErrors.CodeConfigurationError):
		return exitConfigError
	default:
		return exitFailure
	}
}

// env is what the commands need from the process. Tests replace parts of it.
type env struct {
	stdout io.Writer
	stderr io.Writer
	// workDir overrides the working directory used to find settings.json.
	workDir string
	// exeDir overrides the executable directory used to find settings.json.
	exeDir     string
	newProgram programFactory
}

func newEnv(stdout, stderr io.Writer) *env {
	return &env{
		stdout:     stdout,
		stderr:     stderr,
		newProgram: newTeaProgram,
	}
}
