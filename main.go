package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"yolo-export/internal/config"
)

// options are the command line values. Only flags the user actually set
// override the config file.
type options struct {
	configPath string
	lang       string
	verbose    bool

	model    string
	format   string
	imgsz    int
	simplify bool
	workDir  string
	python   string
	managed  bool
	verify   bool
	strict   bool
}

// apply copies changed flags into cfg.
func (o *options) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := func(name string) bool {
		f := cmd.Flags().Lookup(name)
		return f != nil && f.Changed
	}

	if changed("lang") {
		cfg.Lang = o.lang
	}
	if o.verbose {
		cfg.Logging.Level = "debug"
	}
	if changed("model") {
		cfg.Model = o.model
	}
	if changed("format") {
		cfg.Export.Format = o.format
	}
	if changed("imgsz") {
		cfg.Export.ImgSize = o.imgsz
	}
	if changed("simplify") {
		v := o.simplify
		cfg.Export.Simplify = &v
	}
	if changed("workdir") {
		cfg.Export.WorkDir = o.workDir
	}
	if changed("python") {
		cfg.Python.Interpreter = o.python
		cfg.Python.Mode = config.PythonModeSystem
	}
	if changed("managed") && o.managed {
		cfg.Python.Mode = config.PythonModeManaged
	}
	if changed("verify") {
		cfg.Verify.Enabled = o.verify
	}
	if changed("strict") {
		cfg.Strict = o.strict
	}
}

// exitError carries a process exit status out of a RunE.
type exitError struct{ code int }

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	o := &options{}

	// open builds the App for any command and hands back a cleanup func.
	open := func(cmd *cobra.Command) (*App, func(), error) {
		app, err := NewAppWithConfig(o.configPath, stdout, stderr)
		if err != nil {
			return nil, nil, err
		}
		o.apply(cmd, app.Config())
		if err := app.startup(); err != nil {
			app.shutdown()
			return nil, nil, err
		}
		return app, app.shutdown, nil
	}

	root := &cobra.Command{
		Use:   "yolo-export",
		Short: "Export a pretrained YOLO model to ONNX",
		Long: "Export a pretrained YOLO model to ONNX.\n\n" +
			"Fetches the named checkpoint through the Python ultralytics package,\n" +
			"runs its exporter and reports where the converted model landed.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()

			res := app.Export(cmd.Context())
			if code := res.ExitCode(app.Config().Strict); code != 0 {
				return exitError{code: code}
			}
			return nil
		},
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	pf := root.PersistentFlags()
	pf.StringVarP(&o.configPath, "config", "c", "", "Config file (default ./"+config.DefaultConfigFileName+" if present)")
	pf.StringVar(&o.lang, "lang", config.DefaultLang, "Report language: en or zh")
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "Debug logging on stderr")
	pf.StringVar(&o.python, "python", config.DefaultInterpreter, "Python interpreter to use")
	pf.BoolVar(&o.managed, "managed", false, "Use an isolated uv-managed Python environment")

	f := root.Flags()
	f.StringVarP(&o.model, "model", "m", config.DefaultModel, "Pretrained model name, e.g. yolo11n or yolov8s")
	f.StringVarP(&o.format, "format", "f", config.DefaultFormat, "Export format")
	f.IntVar(&o.imgsz, "imgsz", config.DefaultImgSize, "Square input size in pixels, rounded up to a multiple of 32")
	f.BoolVar(&o.simplify, "simplify", config.DefaultSimplify, "Run the graph simplifier")
	f.StringVarP(&o.workDir, "workdir", "w", config.DefaultWorkDir, "Directory for weights and exported file")
	f.BoolVar(&o.verify, "verify", false, "Check the exported graph with ONNX Runtime")
	f.BoolVar(&o.strict, "strict", false, "Exit 2 when the export produced no file")

	root.AddCommand(
		newInspectCmd(open),
		newEnvCmd(open),
		newHistoryCmd(open),
		newConfigCmd(o, stdout, stderr),
	)
	return root
}

type opener func(cmd *cobra.Command) (*App, func(), error)

func newInspectCmd(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.onnx>",
		Short: "Print the inputs and outputs of an ONNX file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()
			return app.Inspect(args[0])
		},
	}
}

func newEnvCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "env",
		Short: "Manage the Python environment",
	}

	var all bool
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove the managed virtual environment",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, done, err := open(cmd)
			if err != nil {
				return err
			}
			defer done()
			return app.CleanEnv(all)
		},
	}
	clean.Flags().BoolVar(&all, "all", false, "Also remove the downloaded uv binary")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "setup",
			Short: "Create the managed environment and install packages",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, done, err := open(cmd)
				if err != nil {
					return err
				}
				defer done()
				return app.SetupEnv(cmd.Context())
			},
		},
		&cobra.Command{
			Use:   "info",
			Short: "Show the interpreter and package status",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, done, err := open(cmd)
				if err != nil {
					return err
				}
				defer done()
				return app.EnvInfo(cmd.Context())
			},
		},
		clean,
	)
	return cmd
}

func newHistoryCmd(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show or clear recorded export runs",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "list",
			Short: "List recorded runs, newest first",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, done, err := open(cmd)
				if err != nil {
					return err
				}
				defer done()
				return app.ListHistory()
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Delete all recorded runs",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				app, done, err := open(cmd)
				if err != nil {
					return err
				}
				defer done()
				return app.ClearHistory()
			},
		},
	)
	return cmd
}

func newConfigCmd(o *options, stdout, stderr io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with the config file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration as YAML",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewAppWithConfig(o.configPath, stdout, stderr)
			if err != nil {
				return err
			}
			o.apply(cmd, app.Config())
			path := ""
			if len(args) == 1 {
				path = args[0]
			}
			return app.InitConfig(path, force)
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

// run executes the CLI and returns the process exit status.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var exit exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return 1
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
