// Command colmerge merges tables with differing columns into one target
// schema. Mappings and the schema persist in a settings document.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"colmerge/internal/metrics"
	"colmerge/internal/metrics/datadog"
	"colmerge/internal/web"

	// register all backends with the storage factory.
	_ "colmerge/internal/storage/all"
)

// Exit codes.
const (
	ExitSuccess = 0
	ExitFailure = 1 // the command ran and failed
	ExitUsage   = 2 // bad flags, args or unknown command
)

// ExitError carries the exit code a command failed with.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *ExitError) Unwrap() error { return e.Err }

func usageError(format string, a ...any) *ExitError {
	return &ExitError{Code: ExitUsage, Message: fmt.Sprintf(format, a...)}
}

func failure(message string, err error) *ExitError {
	return &ExitError{Code: ExitFailure, Message: message, Err: err}
}

// appDeps are the side-effecting seams runMain needs. Tests replace them.
type appDeps struct {
	stdin       io.Reader
	initMetrics func(ctx context.Context, backend, job string) (func(), error)
	serve       func(addr string, srv *web.Server) error
}

func defaultDeps() appDeps {
	return appDeps{
		stdin:       os.Stdin,
		initMetrics: initMetrics,
		serve: func(addr string, srv *web.Server) error {
			return srv.ListenAndServe(addr)
		},
	}
}

func main() {
	os.Exit(runMain(context.Background(), os.Args[1:], os.Stdout, os.Stderr, defaultDeps()))
}

// runMain executes the CLI and returns the process exit code.
//
// Every failure a command reports is an *ExitError. Any other error comes
// from cobra's own flag and argument parsing and is a usage error.
func runMain(ctx context.Context, args []string, stdout, stderr io.Writer, deps appDeps) int {
	a := &app{deps: deps, stdout: stdout, stderr: stderr}
	defer a.close()

	root := newRootCommand(a)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetIn(deps.stdin)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitSuccess
	}

	var ee *ExitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "colmerge: %v\n", ee)
		return ee.Code
	}
	fmt.Fprintf(stderr, "colmerge: %v\nRun 'colmerge --help' for usage.\n", err)
	return ExitUsage
}

// initMetrics installs the selected metrics backend and returns its cleanup.
// A Datadog backend that cannot start is logged and replaced by the no-op
// backend; metrics never fail a run.
func initMetrics(ctx context.Context, backend, job string) (func(), error) {
	switch backend {
	case "", "none":
		return func() {}, nil

	case "datadog":
		tags := datadog.ParseTagsCSV(os.Getenv("METRICS_TAGS"))
		b, err := datadog.NewBackend(ctx, datadog.Options{
			JobName:    job,
			Tags:       tags,
			FlushEvery: 60 * time.Second,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return func() {}, nil
		}
		log.Printf("metrics: backend=%v job_name=%v tags=%v", backend, job, tags)
		metrics.SetBackend(b)

		// Close stops the flush loop and then submits what is buffered.
		return func() {
			if err := b.Close(); err != nil {
				log.Printf("metrics: datadog close/flush error: %v", err)
			}
			metrics.SetBackend(nil)
		}, nil

	default:
		return nil, fmt.Errorf("unknown metrics backend %q (want none or datadog)", backend)
	}
}
