// Package cmd implements the CLI commands for rollsync.
//
// rollsync keeps the campus portal's two stores consistent: the auth
// service holding login accounts and the profile table holding the
// academic records. Every command addresses a person by (role, PRN).
package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/campusworks/rollsync/internal/config"
	"github.com/campusworks/rollsync/internal/identity"
	"github.com/campusworks/rollsync/internal/logging"
	"github.com/campusworks/rollsync/internal/reconcile"
	"github.com/campusworks/rollsync/internal/store"
	"github.com/campusworks/rollsync/internal/store/gotrue"
	"github.com/campusworks/rollsync/internal/store/postgrest"
	"github.com/campusworks/rollsync/internal/store/sqlite"
	"github.com/campusworks/rollsync/internal/verify"
)

var (
	cfg        *config.Config
	logger     zerolog.Logger
	identities store.IdentityStore
	profiles   store.ProfileStore
	reconciler *reconcile.Reconciler
	verifier   *verify.Verifier

	// localDB is set only in local mode; closed after the command runs.
	localDB *sqlite.DB
)

var (
	flagConfig  string
	flagMode    string
	flagAuthURL string
	flagRestURL string
	flagDB      string
	flagVerbose bool
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "rollsync",
	Short: "Keep auth accounts and academic profiles in sync",
	Long: `rollsync reconciles the campus portal's authentication accounts with its
academic profile records, addressed by (role, PRN).

Each reconcile drives both stores to one consistent end state: exactly one
login account for the person's email, exactly one profile row for their PRN,
the profile linked to the account. Running it again is safe; a half-finished
earlier run is picked up and completed, never duplicated.

Backends (config "mode"):
  gotrue  hosted auth service + its profile query API
  local   embedded sqlite database (development, air-gapped setups)

The service-role key for gotrue mode is read from the environment variable
named by the config (default ROLLSYNC_SERVICE_KEY); it is never written to
the config file or logged.

Examples:
  rollsync reconcile --role student --prn RBT24CS028 --email t28.gfm@gmail.com
  rollsync verify student RBT24CS028 --probe
  rollsync roster apply students.yaml
  rollsync roster watch students.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger = logging.Init("rollsync", flagVerbose)

		var err error
		if flagConfig != "" {
			cfg, err = config.LoadFrom(flagConfig)
		} else {
			cfg, err = config.Load()
		}
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if flagMode != "" {
			cfg.Mode = flagMode
		}
		if flagAuthURL != "" {
			cfg.AuthURL = flagAuthURL
		}
		if flagRestURL != "" {
			cfg.RestURL = flagRestURL
		}
		if flagDB != "" {
			cfg.DBPath = flagDB
		}

		// Config management only reads and writes the file; it must work
		// before the backend is reachable.
		if isConfigCommand(cmd) {
			return nil
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		if err := initStores(); err != nil {
			return err
		}

		reconciler = reconcile.New(identities, profiles, logger)
		verifier = verify.New(identities, profiles)
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if localDB != nil {
			return localDB.Close()
		}
		return nil
	},
}

// initStores builds the store pair for the configured mode.
func initStores() error {
	switch cfg.Mode {
	case config.ModeLocal:
		var (
			db  *sqlite.DB
			err error
		)
		if cfg.DBPath != "" {
			db, err = sqlite.OpenAt(cfg.DBPath)
		} else {
			db, err = sqlite.Open()
		}
		if err != nil {
			return fmt.Errorf("open database: %w", err)
		}
		localDB = db
		identities = sqlite.NewIdentityStore(db)
		profiles = sqlite.NewProfileStore(db)
		logger.Debug().Str("db", db.Path()).Msg("using local store")
		return nil

	case config.ModeGoTrue:
		key, err := cfg.ServiceKey()
		if err != nil {
			return err
		}
		secret := identity.Secret(key)

		auth, err := gotrue.New(cfg.AuthURL, secret, gotrue.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("auth client: %w", err)
		}
		rest, err := postgrest.New(cfg.ProfileURL(), secret)
		if err != nil {
			return fmt.Errorf("profile client: %w", err)
		}
		identities = auth
		profiles = rest
		logger.Debug().Str("auth_url", cfg.AuthURL).Msg("using hosted stores")
		return nil

	default:
		return fmt.Errorf("unknown mode %q", cfg.Mode)
	}
}

func isConfigCommand(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c == configCmd {
			return true
		}
	}
	return false
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file path (default: XDG config dir)")
	rootCmd.PersistentFlags().StringVar(&flagMode, "mode", "", "store backend: gotrue or local (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagAuthURL, "auth-url", "", "auth service base URL (gotrue mode)")
	rootCmd.PersistentFlags().StringVar(&flagRestURL, "rest-url", "", "profile query API base URL (gotrue mode)")
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "sqlite database path (local mode)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(reconcileCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(rosterCmd)
	rootCmd.AddCommand(configCmd)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
