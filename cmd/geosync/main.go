package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"geosync/internal/app"
	"geosync/internal/config"
	"geosync/internal/geodiff"
	"geosync/internal/geosync"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func readConfig() (*config.Config, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// newApp reads the config and opens the working copy enclosing the current
// directory. The caller must defer app.Close().
func newApp(operation string, observer geosync.Observer) (*app.App, error) {
	cfg, err := readConfig()
	if err != nil {
		return nil, err
	}
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("getting current directory: %w", err)
	}
	root, err := app.FindWorkingCopy(cwd)
	if err != nil {
		return nil, err
	}
	a, err := app.NewApp(cfg, root, operation, app.Options{Observer: observer})
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

var rootCmd = &cobra.Command{
	Use:          "geosync",
	Short:        "Synchronize GIS project directories with a remote server",
	SilenceUsage: true,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		clientID := uuid.New().String()
		cfg := config.NewConfig(clientID, defaults["base_dir"])
		cfg.Remote.URL, _ = cmd.Flags().GetString("remote")
		cfg.Remote.Token, _ = cmd.Flags().GetString("token")

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Client ID: %s\n", clientID)
		fmt.Printf("Base Dir:  %s\n", defaults["base_dir"])
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}
		cfg, err := config.ReadFromFile(defaults["config_path"])
		if err != nil {
			return fmt.Errorf("failed to read config: %w", err)
		}

		token := "(none)"
		if cfg.Remote.Token != "" {
			token = "(set)"
		}
		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Client ID: %s\n", cfg.ClientID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:   %s\n", cfg.LogDir)
		fmt.Printf("Remote:    %s\n", cfg.Remote.URL)
		fmt.Printf("Token:     %s\n", token)
		fmt.Printf("Workers:   %d\n", cfg.Sync.Workers)
		fmt.Printf("Lock:      %s\n", cfg.Lock.Type)
		return nil
	},
}

// init command
var initCmd = &cobra.Command{
	Use:   "init PROJECT",
	Short: "Make the current directory a working copy of a project",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		create, _ := cmd.Flags().GetBool("create")

		cfg, err := readConfig()
		if err != nil {
			return err
		}
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}

		a, err := app.NewApp(cfg, cwd, "init", app.Options{Create: true})
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.Init(cmd.Context(), args[0], create); err != nil {
			return err
		}
		fmt.Printf("Initialized working copy of %s in %s\n", args[0], a.Root())
		return nil
	},
}

// clone command
var cloneCmd = &cobra.Command{
	Use:   "clone PROJECT [DIR]",
	Short: "Download a project into a new working copy",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		dir := args[0]
		if len(args) > 1 {
			dir = args[1]
		}
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}

		obs := newTerminalObserver(os.Stderr)
		a, err := app.NewApp(cfg, dir, "clone", app.Options{Create: true, Observer: obs})
		if err != nil {
			return err
		}
		defer a.Close()

		return printResult(a.Clone(cmd.Context(), args[0]))
	},
}

// status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local and remote changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("status", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		sess, summaries, err := a.Status(cmd.Context())
		if err != nil {
			return err
		}
		printStatus(os.Stdout, sess, summaries)
		return nil
	},
}

func newRunCmd(mode geosync.Mode, short string) *cobra.Command {
	return &cobra.Command{
		Use:   mode.String(),
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(mode.String(), newTerminalObserver(os.Stderr))
			if err != nil {
				return err
			}
			defer a.Close()

			return printResult(a.Run(cmd.Context(), mode))
		},
	}
}

// diff command
var diffCmd = &cobra.Command{
	Use:   "diff FILE",
	Short: "Show local row changes of a versioned file as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("diff", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		diffs, err := a.Diff(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		out := make([]map[string]any, 0, len(diffs))
		for _, d := range diffs {
			out = append(out, map[string]any{
				"table":   d.Table,
				"summary": d.Summary,
				"changes": d.Records,
			})
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}

// report command
var reportCmd = &cobra.Command{
	Use:   "report FILE",
	Short: "Count local row changes of a versioned file per table (CSV)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp("report", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		rel, summaries, err := a.Report(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return geodiff.WriteSummaryCSV(os.Stdout, rel, summaries)
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View sync operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		a, err := newApp("history", nil)
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.History(cmd.Context(), limit)
		if err != nil {
			return err
		}
		if len(ops) == 0 {
			fmt.Println("No sync operations recorded.")
			return nil
		}

		for _, op := range ops {
			duration := ""
			if op.FinishedAt != nil {
				duration = op.FinishedAt.Sub(op.StartedAt).Truncate(time.Millisecond).String()
			}
			fmt.Printf("#%d  %-8s  %s  %-10s  v%-4d  %d conflict(s)  %s\n",
				op.ID,
				op.Operation,
				op.StartedAt.Local().Format("2006-01-02 15:04:05"),
				op.Status,
				op.Version,
				op.Conflicts,
				duration,
			)
		}
		return nil
	},
}

// serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the project server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := readConfig()
		if err != nil {
			return err
		}
		if listen, _ := cmd.Flags().GetString("listen"); listen != "" {
			cfg.Server.Listen = listen
		}

		var passphrase string
		if app.NeedsPassphrase(cfg) {
			if passphrase, err = readPassphrase(); err != nil {
				return err
			}
		}

		srv, err := app.NewServerApp(cmd.Context(), cfg, passphrase)
		if err != nil {
			return err
		}
		defer srv.Close()

		fmt.Fprintf(os.Stderr, "Serving on %s\n", cfg.Server.Listen)
		return srv.ListenAndServe(cmd.Context())
	},
}

// readPassphrase takes the vault passphrase from GEOSYNC_PASSPHRASE or
// prompts for it on the terminal.
func readPassphrase() (string, error) {
	if p := os.Getenv("GEOSYNC_PASSPHRASE"); p != "" {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("vault passphrase required: set GEOSYNC_PASSPHRASE")
	}
	fmt.Fprint(os.Stderr, "Vault passphrase: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

func init() {
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("remote", "", "Remote URL (http(s)://host or file:///path)")
	configInitCmd.Flags().String("token", "", "Bearer token for the remote")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().Bool("create", false, "Create the project on the remote")
	rootCmd.AddCommand(cloneCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(newRunCmd(geosync.ModePull, "Download remote changes"))
	rootCmd.AddCommand(newRunCmd(geosync.ModePush, "Upload local changes (working copy must be up to date)"))
	rootCmd.AddCommand(newRunCmd(geosync.ModeSync, "Pull remote changes, then push local changes"))
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (overrides server.listen)")
}

