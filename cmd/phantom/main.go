// Command phantom signs a terminal in to a phantom server with the device
// authorization grant and keeps the resulting token under ~/.phantom.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/joho/godotenv"

	"github.com/wrale/phantom/internal/poller"
)

// Version is set by the build process
var Version = "dev"

// Exit codes
const (
	ExitCodeSuccess     = 0
	ExitCodeError       = 1
	ExitCodeAuthFailed  = 3
	ExitCodeTimedOut    = 4
	ExitCodeInterrupted = 130
)

func main() {
	// A missing .env file is fine
	_ = godotenv.Load()

	os.Exit(execute(context.Background(), os.Args[1:], newApp(os.Stdout, os.Stderr)))
}

// execute runs the command line and returns the process exit code
func execute(ctx context.Context, args []string, a *app) int {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt)
	defer stop()

	root := newRootCmd(a)
	root.SetArgs(args)
	root.SetOut(a.out)
	root.SetErr(a.errOut)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitCodeSuccess
	}

	code := exitCode(err)
	if code == ExitCodeInterrupted {
		fmt.Fprintln(a.errOut, text.FgYellow.Sprint("Interrupted"))
	} else {
		printError(a.errOut, err)
	}
	return code
}

// exitCode maps an error to a scripting friendly exit status
func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return ExitCodeInterrupted
	case errors.Is(err, poller.ErrTimedOut):
		return ExitCodeTimedOut
	case errors.Is(err, poller.ErrAccessDenied),
		errors.Is(err, poller.ErrExpired),
		errors.Is(err, poller.ErrInvalidGrant),
		errors.Is(err, errNotLoggedIn),
		errors.Is(err, errTokenRejected):
		return ExitCodeAuthFailed
	default:
		return ExitCodeError
	}
}

func printError(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %v\n", text.FgRed.Sprint("Error:"), err)
}
