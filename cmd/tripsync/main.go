package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"tripsync/internal/app"
	"tripsync/internal/config"
	"tripsync/internal/encryption"
)

func main() {
	if err := app.LoadDotEnv(".env"); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var verbose bool

func loadConfig() (*config.Config, string, error) {
	defaults, err := app.GetDefaults()
	if err != nil {
		return nil, "", fmt.Errorf("getting defaults: %w", err)
	}
	cfg, err := config.ReadFromFile(defaults["config_path"])
	if err != nil {
		return nil, "", fmt.Errorf("reading config: %w", err)
	}
	return cfg, defaults["config_path"], nil
}

// needsPassphrase reports whether opening the account requires unlocking
// the payload encryption key.
func needsPassphrase(cfg *config.Config) bool {
	return cfg.Account.ID != "" && cfg.Account.SyncEnabled &&
		cfg.Remote.Type != "none" && cfg.Remote.Type != "" && cfg.Encryption.Type != "none"
}

// readPassphrase takes the passphrase from TRIPSYNC_PASSPHRASE or prompts
// for it on the terminal.
func readPassphrase(prompt string) (string, error) {
	if p, ok := app.Passphrase(); ok {
		return p, nil
	}
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("no terminal to prompt for a passphrase; set %s", app.EnvPassphrase)
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return string(b), nil
}

// newApp reads the config and creates an App. The caller must call Close.
func newApp(ctx context.Context) (*app.App, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	opts := app.Options{Verbose: verbose}
	if needsPassphrase(cfg) {
		if opts.Passphrase, err = readPassphrase("Passphrase: "); err != nil {
			return nil, err
		}
	}
	a, err := app.New(ctx, cfg, opts)
	if err != nil {
		return nil, fmt.Errorf("initializing app: %w", err)
	}
	return a, nil
}

// withApp opens an App for the duration of fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	ctx := cmd.Context()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	if err := a.Open(ctx); err != nil {
		a.Close()
		return err
	}
	err = fn(ctx, a)
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

var rootCmd = &cobra.Command{
	Use:           "tripsync",
	Short:         "Offline-first trip and flight journal with multi-device sync",
	SilenceUsage:  true,
	SilenceErrors: false,
}

// config command
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration and encryption keys",
	RunE: func(cmd *cobra.Command, args []string) error {
		defaults, err := app.GetDefaults()
		if err != nil {
			return fmt.Errorf("failed to get defaults: %w", err)
		}

		deviceID := uuid.New().String()
		cfg := config.NewConfig(deviceID, defaults["base_dir"])
		cfg.LogDir = defaults["log_dir"]
		cfg.Account.ID, _ = cmd.Flags().GetString("account")
		cfg.Account.SyncEnabled, _ = cmd.Flags().GetBool("sync")
		if remoteType, _ := cmd.Flags().GetString("remote"); remoteType != "" {
			cfg.Remote.Type = remoteType
		}

		if err := config.Init(defaults["config_path"], cfg); err != nil {
			return fmt.Errorf("failed to initialize config: %w", err)
		}
		fmt.Printf("Configuration initialized at %s\n", defaults["config_path"])
		fmt.Printf("Device ID: %s\n", deviceID)
		fmt.Printf("Base Dir:  %s\n", cfg.BaseDir)

		enc, err := encryption.NewEncryptorFromConfig(cfg.Encryption)
		if err != nil || enc == nil {
			return err
		}
		if enc.IsConfigured() {
			fmt.Println("Encryption keys already present; keeping them.")
			return nil
		}
		pass, err := readPassphrase("New passphrase: ")
		if err != nil {
			return err
		}
		if _, fromEnv := app.Passphrase(); !fromEnv {
			again, err := readPassphrase("Repeat passphrase: ")
			if err != nil {
				return err
			}
			if again != pass {
				return fmt.Errorf("passphrases do not match")
			}
		}
		if err := enc.Setup(pass); err != nil {
			if errors.Is(err, encryption.ErrKeysExist) {
				return nil
			}
			return fmt.Errorf("setting up encryption: %w", err)
		}
		fmt.Println("Encryption keys created.")
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "View configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, path, err := loadConfig()
		if err != nil {
			return err
		}
		account := cfg.Account.ID
		if account == "" {
			account = "(none)"
		}
		fmt.Printf("Configuration from %s:\n\n", path)
		fmt.Printf("Device ID:   %s\n", cfg.DeviceID)
		fmt.Printf("Base Dir:    %s\n", cfg.BaseDir)
		fmt.Printf("Log Dir:     %s\n", cfg.LogDir)
		fmt.Printf("Account:     %s (sync %v)\n", account, cfg.Account.SyncEnabled)
		fmt.Printf("Database:    %s %s\n", cfg.Database.Type, cfg.Database.DataDir)
		fmt.Printf("Remote:      %s\n", cfg.Remote.Type)
		fmt.Printf("Coordinates: %s\n", cfg.Coordinates.Type)
		fmt.Printf("Geocoder:    %s\n", cfg.Geocoder.Type)
		fmt.Printf("Encryption:  %s\n", cfg.Encryption.Type)
		return nil
	},
}

// remote command
var remoteCmd = &cobra.Command{
	Use:   "remote",
	Short: "Inspect the remote store",
}

var remoteCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Verify the remote store is reachable and writable",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.CheckRemote(ctx); err != nil {
				return err
			}
			fmt.Println("Remote store OK")
			return nil
		})
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push pending changes and pull remote changes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Sync(ctx); err != nil {
				fmt.Printf("Sync incomplete: %v\n", err)
			}
			printStatus(a)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show sync status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			printStatus(a)
			return nil
		})
	},
}

func printStatus(a *app.App) {
	st := a.Status()
	fmt.Printf("State:     %s\n", st.State)
	fmt.Printf("Pending:   %d\n", st.Pending)
	if !st.LastSyncAt.IsZero() {
		fmt.Printf("Last sync: %s\n", st.LastSyncAt.Local().Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Printf("Last error: %s\n", st.LastError)
	}
}

var resolveCmd = &cobra.Command{
	Use:   "resolve CODE",
	Short: "Resolve an airport code to coordinates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			c := a.Resolve(ctx, args[0])
			if c == nil {
				return fmt.Errorf("no coordinate for %s", strings.ToUpper(args[0]))
			}
			fmt.Printf("%s\t%.4f\t%.4f\n", strings.ToUpper(args[0]), c.Latitude, c.Longitude)
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup PATH",
	Short: "Write a copy of the local database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app.App) error {
			if err := a.Backup(args[0]); err != nil {
				return err
			}
			fmt.Printf("Backed up to %s\n", args[0])
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and print changes as they arrive",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		addr, _ := cmd.Flags().GetString("metrics-addr")

		return withApp(cmd, func(_ context.Context, a *app.App) error {
			if addr != "" {
				mux := http.NewServeMux()
				mux.Handle("/metrics", a.MetricsHandler())
				srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
				go func() {
					if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
						fmt.Fprintf(os.Stderr, "metrics server: %v\n", err)
					}
				}()
				defer srv.Shutdown(context.Background())
				fmt.Printf("Serving metrics on %s/metrics\n", addr)
			}
			return watch(ctx, a)
		})
	},
}

func watch(ctx context.Context, a *app.App) error {
	svc := a.Service()
	flights, stopF := svc.Flights.Observe()
	defer stopF()
	trips, stopT := svc.Trips.Observe()
	defer stopT()
	entries, stopE := svc.Entries.Observe()
	defer stopE()
	searches, stopS := svc.Searches.Observe()
	defer stopS()

	for {
		select {
		case <-ctx.Done():
			return nil
		case s, ok := <-flights:
			if !ok {
				return nil
			}
			fmt.Printf("%s\tflights\t%d\n", time.Now().Format(time.TimeOnly), len(s.Items))
		case s, ok := <-trips:
			if !ok {
				return nil
			}
			fmt.Printf("%s\ttrips\t%d\n", time.Now().Format(time.TimeOnly), len(s.Items))
		case s, ok := <-entries:
			if !ok {
				return nil
			}
			fmt.Printf("%s\tentries\t%d\n", time.Now().Format(time.TimeOnly), len(s.Items))
		case s, ok := <-searches:
			if !ok {
				return nil
			}
			fmt.Printf("%s\tsearches\t%d\n", time.Now().Format(time.TimeOnly), len(s.Items))
		}
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log debug messages")

	// config subcommands
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configListCmd)
	configInitCmd.Flags().String("account", "", "Account ID to sign in as")
	configInitCmd.Flags().Bool("sync", false, "Enable sync for the account")
	configInitCmd.Flags().String("remote", "", "Remote store type (filesystem, s3, memory, none)")

	remoteCmd.AddCommand(remoteCheckCmd)

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(remoteCmd)
	rootCmd.AddCommand(flightCmd)
	rootCmd.AddCommand(tripCmd)
	rootCmd.AddCommand(entryCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}
