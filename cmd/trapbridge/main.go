// trapbridge runs one guest call under the trap-to-unwind bridge and
// prints its report.
//
// The guest is a WebAssembly module, a JavaScript file or a YAML run
// manifest. A trap in the guest aborts only that call: the report
// records the trap and the process exits with status 3.
//
//	trapbridge --export div --args 1,0 guest.wasm
//	trapbridge --timeout 1s script.js
//	trapbridge run.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/reglet-dev/trapbridge/config"
	"github.com/reglet-dev/trapbridge/host"
	"github.com/reglet-dev/trapbridge/internal/logging"
	"github.com/reglet-dev/trapbridge/report"
)

// Exit statuses.
const (
	exitFailure = 1
	exitUsage   = 2
	exitAborted = 3
)

// exitError carries the process exit status for main.
type exitError struct {
	err  error
	code int
}

func (e *exitError) Error() string {
	if e.err == nil {
		return fmt.Sprintf("exit status %d", e.code)
	}
	return e.err.Error()
}

func (e *exitError) Unwrap() error { return e.err }

func (e *exitError) ExitCode() int { return e.code }

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		code := exitFailure
		var coder interface{ ExitCode() int }
		if errors.As(err, &coder) {
			code = coder.ExitCode()
		}
		if code != exitAborted {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(code)
	}
}

type options struct {
	engine      string
	export      string
	format      string
	logLevel    string
	args        []int64
	timeout     time.Duration
	printSchema bool
	interpreter bool
}

func run(ctx context.Context, argv []string, stdout, stderr io.Writer) error {
	var opts options

	flagSet := pflag.NewFlagSet("trapbridge", pflag.ContinueOnError)
	flagSet.SetOutput(stderr)
	flagSet.StringVarP(&opts.engine, "engine", "e", "", "guest engine: wasm or js (default: from the file extension)")
	flagSet.StringVar(&opts.export, "export", "run", "wasm export to call")
	flagSet.Int64SliceVar(&opts.args, "args", nil, "comma-separated integer arguments for the export")
	flagSet.DurationVar(&opts.timeout, "timeout", 0, "abort the guest after this long (0: no limit)")
	flagSet.StringVarP(&opts.format, "format", "o", "json", "report format: json, yaml or cbor")
	flagSet.BoolVar(&opts.printSchema, "print-schema", false, "print the report JSON schema and exit")
	flagSet.StringVar(&opts.logLevel, "log-level", "", "log level: debug, info, warn or error (overrides TRAPBRIDGE_LOG_LEVEL)")
	flagSet.BoolVar(&opts.interpreter, "interpreter", false, "use the wasm interpreter instead of the compiler")
	flagSet.Usage = func() {
		fmt.Fprintf(stderr, "Usage: trapbridge [flags] <guest.wasm|script.js|run.yaml>\n\nFlags:\n%s", flagSet.FlagUsages())
	}

	if err := flagSet.Parse(argv); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return &exitError{err: err, code: exitUsage}
	}

	if opts.printSchema {
		schema, err := report.Schema()
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(stdout, string(schema))
		return err
	}

	format, err := report.ParseFormat(opts.format)
	if err != nil {
		return &exitError{err: err, code: exitUsage}
	}
	if flagSet.NArg() != 1 {
		flagSet.Usage()
		return &exitError{err: errors.New("expected exactly one guest file"), code: exitUsage}
	}
	path := flagSet.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if flagSet.Changed("timeout") {
		cfg.Timeout = opts.timeout
	}
	if flagSet.Changed("interpreter") {
		cfg.Wasm.Interpreter = opts.interpreter
	}
	if err := cfg.Validate(); err != nil {
		return &exitError{err: err, code: exitUsage}
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	exec, err := host.NewExecutor(ctx, cfg, host.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { _ = exec.Close(ctx) }()

	rep, runErr := runGuest(ctx, exec, path, opts)
	if rep == nil {
		return runErr
	}
	if err := rep.Encode(stdout, format); err != nil {
		return err
	}

	logger.Debug("guest finished", zap.Stringer("report", rep))
	switch {
	case rep.Aborted():
		return &exitError{err: runErr, code: exitAborted}
	case runErr != nil:
		return runErr
	default:
		return nil
	}
}

func runGuest(ctx context.Context, exec *host.Executor, path string, opts options) (*report.Report, error) {
	engine := opts.engine
	if engine == "" {
		engine = engineFromPath(path)
	}

	t := exec.NewThread()
	switch engine {
	case "manifest":
		m, err := host.NewLoader().LoadManifestFile(path)
		if err != nil {
			return nil, err
		}
		return exec.RunManifest(ctx, t, m)
	case host.EngineWasm:
		wasm, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		params := make([]uint64, len(opts.args))
		for i, a := range opts.args {
			params[i] = uint64(a)
		}
		return exec.RunWasm(ctx, t, wasm, opts.export, params...)
	case host.EngineJS:
		source, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		return exec.RunScript(ctx, t, filepath.Base(path), string(source))
	default:
		return nil, &exitError{err: fmt.Errorf("unknown engine %q", engine), code: exitUsage}
	}
}

func engineFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".wasm":
		return host.EngineWasm
	case ".js", ".mjs":
		return host.EngineJS
	case ".yaml", ".yml":
		return "manifest"
	default:
		return ""
	}
}
