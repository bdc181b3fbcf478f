// backendshell - Desktop shell launcher for a bundled backend server
//
// Usage:
//
//	backendshell [flags]                 Start the backend and run until signalled
//	backendshell run [flags]             Same as above
//	backendshell resolve                 Print the backend executable path
//	backendshell check-config            Print the effective configuration
//	backendshell version                 Print version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"

	flag "github.com/spf13/pflag"

	"github.com/mbrock/backendshell/internal/config"
	"github.com/mbrock/backendshell/internal/dirs"
	"github.com/mbrock/backendshell/internal/logging"
	"github.com/mbrock/backendshell/internal/notify"
	"github.com/mbrock/backendshell/internal/process"
	"github.com/mbrock/backendshell/internal/shell"
)

// Exit codes.
const (
	exitOK      = 0
	exitAborted = 1
	exitUsage   = 2
)

var (
	resourceDirFlag string
	configFlag      string
)

// version is set with -ldflags "-X main.version=...".
var version = ""

func main() {
	flag.StringVar(&resourceDirFlag, "resource-dir", "", "Bundle resource directory (overrides BACKENDSHELL_RESOURCE_DIR)")
	flag.StringVar(&configFlag, "config", "", "Config file to use instead of the user's "+config.FileName)
	config.RegisterFlags(flag.CommandLine)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `backendshell - Desktop shell launcher for a bundled backend server

Usage:
  backendshell [flags]                 Start the backend and run until signalled
  backendshell run [flags]             Same as above
  backendshell resolve                 Print the backend executable path
  backendshell check-config            Print the effective configuration
  backendshell version                 Print version

Flags:
`)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	cmd := "run"
	if len(args) > 0 {
		cmd = args[0]
		args = args[1:]
	}
	if len(args) > 0 {
		usage("%s takes no arguments", cmd)
	}

	switch cmd {
	case "run":
		os.Exit(cmdRun())
	case "resolve":
		cmdResolve()
	case "check-config":
		cmdCheckConfig()
	case "version":
		fmt.Println(versionString())
	default:
		usage("unknown command: %s", cmd)
	}
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "error: "+format+"\n", args...)
	os.Exit(exitAborted)
}

func usage(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n\n", args...)
	flag.Usage()
	os.Exit(exitUsage)
}

func resourceRoot() string {
	if resourceDirFlag != "" {
		return resourceDirFlag
	}
	root, err := dirs.ResourceRoot()
	if err != nil {
		fatal("locating resources: %v", err)
	}
	return root
}

func loadConfig(root string) config.Config {
	cfg, err := config.Load(config.Sources{
		ResourceDir: root,
		UserDir:     dirs.ConfigDir(),
		File:        configFlag,
		Flags:       flag.CommandLine,
	})
	if err != nil {
		fatal("%v", err)
	}
	return cfg
}

// cmdRun returns instead of exiting so deferred cleanup always runs.
func cmdRun() int {
	root := resourceRoot()
	cfg := loadConfig(root)

	level, _ := config.ParseLevel(cfg.Log.Level)
	log, err := logging.Setup(logging.Options{Level: level, Format: cfg.Log.Format})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitAborted
	}

	n := notify.Detect(dirs.AppName, log)
	defer n.Close()

	sh := shell.New(shell.Options{
		Config:      cfg,
		ResourceDir: root,
		Notifier:    n,
		Logger:      log,
	})

	ctx, stop := shell.NotifyContext(context.Background())
	defer stop()
	defer sh.Shutdown(context.Background())
	defer sh.ShutdownOnPanic()

	if err := sh.Start(ctx); err != nil {
		if ctx.Err() != nil {
			return exitOK
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return exitAborted
	}

	st := sh.Status()
	log.Info("backend running", "path", st.Path, "pid", st.PID, "session", st.SessionID, "degraded", sh.Degraded())

	if err := sh.Run(ctx, shell.Headless); err != nil {
		if errors.Is(err, process.ErrBackendExited) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return exitAborted
		}
		log.Error("runtime failed", "error", err)
		return exitAborted
	}
	return exitOK
}

func cmdResolve() {
	root := resourceRoot()
	cfg := loadConfig(root)
	path, err := process.ResolveBackendPath(root, cfg.Backend.Name)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(path)
}

func cmdCheckConfig() {
	cfg := loadConfig(resourceRoot())
	if err := cfg.Encode(os.Stdout); err != nil {
		fatal("%v", err)
	}
}

func versionString() string {
	if version != "" {
		return version
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" {
		return info.Main.Version
	}
	return "devel"
}
