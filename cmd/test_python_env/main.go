// Command test_python_env sets up the managed Python environment in a
// scratch directory and checks that the export packages import.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"yolo-export/internal/config"
	"yolo-export/internal/python"
)

func main() {
	baseDir := flag.String("dir", filepath.Join(os.TempDir(), "yolo-export-env-test"), "environment base directory")
	clean := flag.Bool("clean", false, "remove the environment afterwards")
	flag.Parse()

	fmt.Println("=== managed Python environment check ===")
	fmt.Println()

	progress := func(msg string) {
		fmt.Printf("  %s\n", msg)
	}

	env, err := python.NewEnv(python.EnvConfig{BaseDir: *baseDir})
	if err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	ctx := context.Background()

	fmt.Println("1. setting up uv and venv...")
	if err := env.EnsureSetup(ctx, progress); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	fmt.Println("2. environment:")
	fmt.Printf("   Base Dir:    %s\n", env.BaseDir)
	fmt.Printf("   Tools Dir:   %s\n", env.ToolsDir)
	fmt.Printf("   Venv Dir:    %s\n", env.VenvDir)
	fmt.Printf("   UV Path:     %s\n", env.UvPath)
	fmt.Printf("   Python Path: %s\n", env.PythonPath)
	fmt.Printf("   Is Ready:    %v\n", env.IsReady(ctx))
	fmt.Println()

	fmt.Println("3. installing export packages...")
	if err := env.EnsurePackages(ctx, config.DefaultPackages, progress); err != nil {
		fmt.Printf("error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println()

	fmt.Println("4. import check:")
	failed := false
	for _, pkg := range config.DefaultPackages {
		module := python.ImportName(pkg)
		ok, err := python.HasModule(ctx, env, module)
		switch {
		case err != nil:
			fmt.Printf("   %-12s error: %v\n", module, err)
			failed = true
		case !ok:
			fmt.Printf("   %-12s missing\n", module)
			failed = true
		default:
			fmt.Printf("   %-12s ok\n", module)
		}
	}
	fmt.Println()

	if *clean {
		if err := env.CleanupAll(); err != nil {
			fmt.Printf("cleanup error: %v\n", err)
		}
	}
	if failed {
		os.Exit(1)
	}
	fmt.Println("=== done ===")
}
