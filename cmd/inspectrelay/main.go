package main

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	// Automatically set GOMEMLIMIT based on cgroup memory limits (container
	// or systemd MemoryMax=). The pending queue is unbounded, so the GC
	// needs to know the real ceiling.
	"github.com/KimMachineGun/automemlimit/memlimit"
	"github.com/spf13/cobra"

	"github.com/philsphicas/inspectrelay/internal/config"
)

var version = "dev"

func init() {
	_, _ = memlimit.SetGoMemLimitWithOpts(memlimit.WithLogger(nil))
}

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "inspectrelay",
		Short: "Relay between a debugging frontend and a remote inspector backend",
		Long: `Expose a single inspectable target over the inspector discovery protocol
and relay frontend traffic to one backend connection. Frontend messages are
buffered until a backend attaches on /client.`,
		SilenceUsage: true,
	}

	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("config", "", "path to a YAML config file")

	root.AddCommand(serveCmd())
	root.AddCommand(versionCmd())
	return root
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// loadConfigFile reads the file named by --config or INSPECTRELAY_CONFIG.
// With neither set it returns an empty config.
func loadConfigFile(cmd *cobra.Command) (*config.File, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = os.Getenv("INSPECTRELAY_CONFIG")
	}
	return config.Load(path)
}

// The resolve helpers apply the precedence used by every setting: an
// explicitly set flag, then the environment variable (when env is not
// empty), then the config file value (when set), then the flag default.

func resolveString(cmd *cobra.Command, flag, env, file string) string {
	v, _ := cmd.Flags().GetString(flag)
	if cmd.Flags().Changed(flag) {
		return v
	}
	if env != "" {
		if e := os.Getenv(env); e != "" {
			return e
		}
	}
	if file != "" {
		return file
	}
	return v
}

func resolveInt(cmd *cobra.Command, flag, env string, file int) (int, error) {
	v, _ := cmd.Flags().GetInt(flag)
	if cmd.Flags().Changed(flag) {
		return v, nil
	}
	if env != "" {
		if e := os.Getenv(env); e != "" {
			n, err := strconv.Atoi(strings.TrimSpace(e))
			if err != nil {
				return 0, fmt.Errorf("invalid %s %q: %w", env, e, err)
			}
			return n, nil
		}
	}
	if file != 0 {
		return file, nil
	}
	return v, nil
}

func resolveInt64(cmd *cobra.Command, flag string, file int64) int64 {
	v, _ := cmd.Flags().GetInt64(flag)
	if !cmd.Flags().Changed(flag) && file != 0 {
		return file
	}
	return v
}

func resolveDuration(cmd *cobra.Command, flag string, file config.Duration) time.Duration {
	v, _ := cmd.Flags().GetDuration(flag)
	if !cmd.Flags().Changed(flag) && file.Set {
		return file.Duration
	}
	return v
}

func resolveStringSlice(cmd *cobra.Command, flag, env string, file []string) []string {
	v, _ := cmd.Flags().GetStringSlice(flag)
	if cmd.Flags().Changed(flag) {
		return v
	}
	if env != "" {
		if e := os.Getenv(env); e != "" {
			return config.SplitList(e)
		}
	}
	if len(file) > 0 {
		return file
	}
	if len(v) == 0 {
		return nil
	}
	return v
}

// resolveNoColor reports whether diagnostic colors are disabled. Any
// non-empty NO_COLOR disables them (https://no-color.org).
func resolveNoColor(cmd *cobra.Command, file bool) bool {
	if cmd.Flags().Changed("no-color") {
		v, _ := cmd.Flags().GetBool("no-color")
		return v
	}
	if os.Getenv("NO_COLOR") != "" {
		return true
	}
	return file
}
