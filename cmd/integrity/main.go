package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"integrity-go/internal/app"
	"integrity-go/internal/command"
	"integrity-go/internal/config"
	"integrity-go/internal/database"
	"integrity-go/internal/encryption"
	"integrity-go/internal/integrity"
	"integrity-go/internal/model"
	"integrity-go/internal/render"
	"integrity-go/internal/vault"
)

// errFailed is returned by commands whose result was already printed as a
// failure; it only sets the exit status.
var errFailed = errors.New("command failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
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

// newApp reads the config and creates an IntegrityApp. The caller must defer app.Close().
// operation identifies the CLI command being run (e.g. "add", "full_check").
func newApp(ctx context.Context, operation string) (*app.IntegrityApp, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	a, err := app.NewIntegrityApp(ctx, cfg, operation)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// report prints a result and turns a failed one into errFailed.
func report(res integrity.Result) error {
	if res.Message != "" {
		fmt.Println(res.Message)
	}
	if res.Failed {
		return errFailed
	}
	return nil
}

// connect makes the external database given by the connection flags, or
// else the configured default, active. It does nothing when neither is set.
func connect(ctx context.Context, cmd *cobra.Command, a *app.IntegrityApp) error {
	flags := cmd.Flags()
	if !flags.Changed("dbms") && !flags.Changed("database") && !flags.Changed("dsn") {
		res, ok, err := a.ConnectDefault(ctx)
		if err != nil || !ok {
			return err
		}
		return report(res)
	}

	params := model.ConnectParams{}
	params.DBMS, _ = flags.GetString("dbms")
	params.Host, _ = flags.GetString("host")
	params.Port, _ = flags.GetString("port")
	params.Database, _ = flags.GetString("database")
	params.User, _ = flags.GetString("user")
	params.Password, _ = flags.GetString("password")
	params.DSN, _ = flags.GetString("dsn")
	params.Encoding, _ = flags.GetString("encoding")

	if params.DBMS != "sqlite3" && params.User != "" && params.Password == "" && term.IsTerminal(int(os.Stdin.Fd())) {
		fmt.Fprintf(os.Stderr, "Password for %s: ", params.User)
		pw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return fmt.Errorf("reading password: %w", err)
		}
		params.Password = string(pw)
	}

	res, err := a.Connect(ctx, params)
	if err != nil {
		return err
	}
	return report(res)
}

var rootCmd = &cobra.Command{
	Use:           "integrity",
	Short:         "Integrity ledger for files and database tables",
	SilenceUsage:  true,
	SilenceErrors: true,
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

		cfg := config.NewConfig(defaults["base_dir"])
		cfg.LogDir = defaults["log_dir"]

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}

		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Base Dir: %s\n", cfg.BaseDir)
		fmt.Printf("Ledger:   %s\n", cfg.Ledger.Path)
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

		fmt.Printf("Configuration from %s:\n\n", defaults["config_path"])
		fmt.Printf("Base Dir:   %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:    %s\n", cfg.LogDir)
		fmt.Printf("Ledger:     %s %s\n", cfg.Ledger.Type, cfg.Ledger.Path)
		fmt.Printf("Vault:      %s\n", cfg.Vault.Type)
		fmt.Printf("Codec:      %s\n", cfg.Backup.Codec)
		fmt.Printf("Encryption: %s\n", cfg.Encryption.Type)
		fmt.Printf("Watch Root: %s\n", cfg.Watch.Root)
		if cfg.External.Configured() {
			fmt.Printf("External:   %s %s\n", cfg.External.DBMS, cfg.External.Database+cfg.External.DSN)
		}
		return nil
	},
}

var configVaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage the backup vault",
}

var configVaultCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify that the configured vault is reachable",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		v, err := vault.NewVaultFromConfig(cmd.Context(), cfg.Vault)
		if err != nil {
			return fmt.Errorf("creating vault: %w", err)
		}
		if err := v.ValidateSetup(); err != nil {
			return err
		}
		fmt.Printf("Vault %q is ready\n", cfg.Vault.Type)
		return nil
	},
}

// keys command
var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Manage backup encryption keys",
}

var keysInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate an age key pair for sealing backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		enc := cfg.Encryption
		if enc.RecipientPath == "" || enc.IdentityPath == "" {
			keyDir := filepath.Join(cfg.BaseDir, "keys")
			enc.RecipientPath = filepath.Join(keyDir, "recipient.txt")
			enc.IdentityPath = filepath.Join(keyDir, "identity.txt")
		}

		if err := encryption.NewAgeSealer(enc).GenerateKeys(); err != nil {
			return err
		}
		fmt.Printf("Recipient: %s\n", enc.RecipientPath)
		fmt.Printf("Identity:  %s\n", enc.IdentityPath)
		if cfg.Encryption.Type != "age" {
			fmt.Println("Set [encryption] type = \"age\" and the paths above to seal new backups.")
		}
		return nil
	},
}

// ledger command
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Manage the ledger store",
}

var ledgerMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or upgrade the ledger schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		l, err := database.NewLedgerFromConfig(cfg.Ledger)
		if err != nil {
			return fmt.Errorf("opening ledger: %w", err)
		}
		defer l.Close()

		if err := l.Migrate(); err != nil {
			return err
		}
		fmt.Printf("Ledger at %s is up to date\n", l.Path())
		return nil
	},
}

// add command
var addCmd = &cobra.Command{
	Use:   "add KIND ALGORITHM TARGET",
	Short: "Register a file, directory or table",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		opts := integrity.AddOptions{}
		opts.Backup, _ = cmd.Flags().GetBool("backup")
		opts.Watch, _ = cmd.Flags().GetBool("watch")
		opts.PKField, _ = cmd.Flags().GetString("pk")

		a, err := newApp(ctx, "add")
		if err != nil {
			return err
		}
		defer a.Close()

		if args[0] == "table" {
			if err := connect(ctx, cmd, a); err != nil {
				return err
			}
		}

		results, err := a.Add(ctx, args[0], args[1], args[2], opts)
		if err != nil {
			return err
		}
		for _, res := range results {
			if err := report(res); err != nil {
				return err
			}
		}
		return nil
	},
}

// check command
var checkCmd = &cobra.Command{
	Use:   "check KIND TARGET",
	Short: "Verify one file or table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "check")
		if err != nil {
			return err
		}
		defer a.Close()

		if args[0] == "table" {
			if err := connect(ctx, cmd, a); err != nil {
				return err
			}
		}

		res, err := a.Check(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		if err := report(res); err != nil {
			return err
		}
		if res.Violated {
			return errFailed
		}
		return nil
	},
}

var fullCheckCmd = &cobra.Command{
	Use:   "full-check",
	Short: "Verify every registered file and the tables of the connected database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "full_check")
		if err != nil {
			return err
		}
		defer a.Close()

		if err := connect(ctx, cmd, a); err != nil {
			return err
		}

		res, err := a.CheckAll(ctx)
		if err != nil {
			return err
		}
		if err := report(res); err != nil {
			return err
		}
		if res.Violated {
			return errFailed
		}
		return nil
	},
}

var restoreCmd = &cobra.Command{
	Use:   "restore KIND TARGET",
	Short: "Restore a file from its backup",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "restore")
		if err != nil {
			return err
		}
		defer a.Close()

		res, err := a.Restore(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return report(res)
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove KIND TARGET",
	Short: "Delete the record of a file or table",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "remove")
		if err != nil {
			return err
		}
		defer a.Close()

		if args[0] == "table" {
			if err := connect(ctx, cmd, a); err != nil {
				return err
			}
		}

		res, err := a.Remove(ctx, args[0], args[1])
		if err != nil {
			return err
		}
		return report(res)
	},
}

// listing commands
var listIncorrectCmd = &cobra.Command{
	Use:   "list-incorrect KINDS",
	Short: "List files or tables that failed verification",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "list_incorrect")
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a.ListIncorrect(ctx, args[0]))
	},
}

var listCmd = &cobra.Command{
	Use:   "list KINDS",
	Short: "List registered files or tables",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		page := integrity.ListPage{}
		page.Page, _ = cmd.Flags().GetInt("page")
		page.PageSize, _ = cmd.Flags().GetInt("size")
		page.OnlyIncorrect, _ = cmd.Flags().GetBool("incorrect")

		a, err := newApp(ctx, "list")
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a.List(ctx, args[0], page))
	},
}

var listAlgorithmsCmd = &cobra.Command{
	Use:   "list-algorithms",
	Short: "List the supported checksum algorithms",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := newApp(ctx, "list_algorithms")
		if err != nil {
			return err
		}
		defer a.Close()

		return report(a.ListAlgorithms(ctx))
	},
}

// watch command
var watchCmd = &cobra.Command{
	Use:   "watch [PATH on|off]",
	Short: "Follow changes to watched files, or toggle the watch flag of one file",
	Args: func(cmd *cobra.Command, args []string) error {
		if len(args) != 0 && len(args) != 2 {
			return fmt.Errorf("accepts 0 or 2 arg(s), received %d", len(args))
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 2 {
			ctx := cmd.Context()
			a, err := newApp(ctx, "watch")
			if err != nil {
				return err
			}
			defer a.Close()

			var watched bool
			switch args[1] {
			case "on":
				watched = true
			case "off":
			default:
				return fmt.Errorf("%q is not a valid watch state", args[1])
			}
			res, err := a.SetWatched(ctx, args[0], watched)
			if err != nil {
				return err
			}
			return report(res)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "watch")
		if err != nil {
			return err
		}
		defer a.Close()

		w, err := a.Watcher()
		if err != nil {
			return err
		}
		fmt.Println("Watching registered files, press Ctrl-C to stop")
		return w.Run(ctx)
	},
}

// interactive and batch sessions
var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Start an interactive command session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "repl")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Session(ctx)
		if err != nil {
			return err
		}
		if err := connect(ctx, cmd, a); err != nil && !errors.Is(err, errFailed) {
			return err
		}
		return command.RunREPL(ctx, s, os.Stdin, os.Stdout)
	},
}

var scriptCmd = &cobra.Command{
	Use:   "script FILE",
	Short: "Run the commands of a script file, stopping at the first error",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("reading script: %w", err)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, "script")
		if err != nil {
			return err
		}
		defer a.Close()

		s, err := a.Session(ctx, args[0])
		if err != nil {
			return err
		}

		failed := false
		for out := range command.RunScript(ctx, s, strings.Split(string(data), "\n")) {
			fmt.Println(out.Text)
			failed = failed || out.Failed
		}
		if failed {
			return errFailed
		}
		return ctx.Err()
	},
}

// history command
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "View operation history",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		ctx := cmd.Context()

		a, err := newApp(ctx, "history")
		if err != nil {
			return err
		}
		defer a.Close()

		ops, err := a.GetHistory(ctx, limit)
		if err != nil {
			return err
		}

		if len(ops) == 0 {
			fmt.Println("No operations recorded.")
			return nil
		}

		rows := make([][]string, 0, len(ops))
		for _, op := range ops {
			duration := "-"
			if op.FinishedAt.Valid {
				d := op.FinishedAt.V.Sub(op.StartedAt.Time)
				duration = d.Truncate(time.Millisecond).String()
			}
			rows = append(rows, []string{
				fmt.Sprintf("#%d", op.ID),
				op.Operation,
				render.Time(op.StartedAt),
				op.Status,
				duration,
				op.Parameters,
			})
		}
		fmt.Println(render.Table([]string{"ID", "Operation", "Started at", "Status", "Duration", "Parameters"}, rows))
		return nil
	},
}

func addConnectionFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("dbms", "", `External DBMS: "postgresql", "mysql" or "sqlite3"`)
	f.String("host", "", "External database host")
	f.String("port", "", "External database port")
	f.String("database", "", "External database name")
	f.String("user", "", "External database user")
	f.String("password", "", "External database password (prompted when omitted)")
	f.String("dsn", "", "Path of a sqlite3 database")
	f.String("encoding", "", "Override the client encoding reported by the server")
}

func init() {
	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configCmd.AddCommand(configVaultCmd)
	configVaultCmd.AddCommand(configVaultCheckCmd)
	keysCmd.AddCommand(keysInitCmd)
	ledgerCmd.AddCommand(ledgerMigrateCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(keysCmd)
	rootCmd.AddCommand(ledgerCmd)

	rootCmd.AddCommand(addCmd)
	addCmd.Flags().Bool("backup", false, "Store a compressed backup of the file")
	addCmd.Flags().Bool("watch", false, "Mark the file for change tracking")
	addCmd.Flags().String("pk", "", "Primary key column that orders table rows")

	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(fullCheckCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(listIncorrectCmd)
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().IntP("page", "p", 1, "Page number")
	listCmd.Flags().IntP("size", "s", integrity.DefaultPageSize, "Records per page")
	listCmd.Flags().Bool("incorrect", false, "Only list objects that failed verification")
	rootCmd.AddCommand(listAlgorithmsCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(replCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().IntP("limit", "n", 50, "Maximum number of operations to show")

	for _, c := range []*cobra.Command{addCmd, checkCmd, fullCheckCmd, removeCmd, replCmd} {
		addConnectionFlags(c)
	}
}
