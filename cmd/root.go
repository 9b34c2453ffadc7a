package cmd

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
	"github.com/spf13/viper"

	"github.com/zjrosen/kbsession/internal/config"
	"github.com/zjrosen/kbsession/internal/history"
	"github.com/zjrosen/kbsession/internal/keybase"
	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/tracing"
)

const localConfigPath = ".kbsession/config.yaml"

// paperkeyEnv is the only place the login paperkey is read from.
const paperkeyEnv = "KEYBASE_PAPERKEY"

var errPaperkeyInConfig = errors.New("paperkey must not be stored in the config file; export " + paperkeyEnv + " instead")

// configOptional marks commands that run even when the config file named by
// --config does not exist yet.
const configOptional = "config-optional"

var (
	version   = "dev"
	cfgFile   string
	debugFlag bool
	cfg       config.Config
	cfgErr    error

	// teardown runs in reverse order once the command finishes.
	teardown []func()
)

var rootCmd = &cobra.Command{
	Use:   "kbsession",
	Short: "Supervise the local keybase login session",
	Long: `kbsession drives the keybase CLI to observe and change the login
state of the local keybase service.

Every change (login, logout) is followed by a fresh status query, so what
kbsession prints is always what keybase itself reports.

The paperkey for login is read from KEYBASE_PAPERKEY and never from flags
or config files.`,
	Version:           version,
	SilenceUsage:      true,
	PersistentPreRunE: setup,
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .kbsession/config.yaml, then ~/.config/kbsession/config.yaml)")
	rootCmd.PersistentFlags().String("keybase-path", "",
		"path to the keybase binary (default: search PATH)")
	rootCmd.PersistentFlags().StringP("username", "u", "",
		"keybase username (or KEYBASE_USERNAME)")
	rootCmd.PersistentFlags().Duration("timeout", 0,
		"upper bound for each keybase invocation")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"write a debug log (or set KBSESSION_DEBUG)")
}

func bindFlags() {
	_ = viper.BindPFlag("keybase_path", rootCmd.PersistentFlags().Lookup("keybase-path"))
	_ = viper.BindPFlag("username", rootCmd.PersistentFlags().Lookup("username"))
	_ = viper.BindPFlag("timeout", rootCmd.PersistentFlags().Lookup("timeout"))
}

func initConfig() {
	bindFlags()

	defaults := config.Defaults()
	viper.SetDefault("timeout", defaults.Timeout)
	viper.SetDefault("history.enabled", defaults.History.Enabled)
	viper.SetDefault("history.path", defaults.History.Path)
	viper.SetDefault("log.level", defaults.Log.Level)
	viper.SetDefault("log.path", defaults.Log.Path)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)

	viper.SetEnvPrefix("KBSESSION")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	_ = viper.BindEnv("username", "KBSESSION_USERNAME", "KEYBASE_USERNAME")

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .kbsession/config.yaml (current directory)
		// 2. ~/.config/kbsession/config.yaml (user config)
		if _, err := os.Stat(localConfigPath); err == nil {
			viper.SetConfigFile(localConfigPath)
		} else {
			viper.AddConfigPath(config.DefaultConfigDir())
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	cfgErr = nil
	if err := viper.ReadInConfig(); err != nil {
		// Running without any config file is fine; `kbsession init` writes one.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			cfgErr = fmt.Errorf("reading config: %w", err)
		}
	}

	cfg = config.Config{}
	if err := viper.Unmarshal(&cfg); err != nil && cfgErr == nil {
		cfgErr = fmt.Errorf("decoding config: %w", err)
	}
}

// setup runs before every subcommand: debug logging, validation, tracing.
func setup(cmd *cobra.Command, _ []string) error {
	if debugFlag || os.Getenv("KBSESSION_DEBUG") != "" {
		cleanup, err := log.InitWithTeaLog(cfg.Log.Path, "kbsession")
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		log.SetMinLevel(log.ParseLevel(cfg.Log.Level))
		onTeardown(cleanup)
		log.Info(log.CatConfig, "kbsession starting",
			"command", cmd.Name(),
			"config", viper.ConfigFileUsed(),
			"username", cfg.Username,
			"keybasePath", cfg.KeybasePath)
	}

	if cfgErr != nil && cmd.Annotations[configOptional] == "" {
		return cfgErr
	}
	if viper.InConfig("paperkey") {
		return errPaperkeyInConfig
	}
	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if cfg.Tracing.Enabled {
		provider, err := tracing.NewProvider(cmd.Context(), cfg.Tracing.ProviderConfig())
		if err != nil {
			return fmt.Errorf("initializing tracing: %w", err)
		}
		onTeardown(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := provider.Shutdown(ctx); err != nil {
				log.ErrorErr(log.CatTrace, "Tracing shutdown failed", err)
			}
		})
	}
	return nil
}

// onTeardown registers fn to run when the command finishes.
func onTeardown(fn func()) {
	teardown = append(teardown, fn)
}

func runTeardown() {
	for i := len(teardown) - 1; i >= 0; i-- {
		teardown[i]()
	}
	teardown = nil
}

// openSession builds a Session from the loaded configuration. withPaperkey
// controls whether KEYBASE_PAPERKEY is read; only login needs it.
func openSession(ctx context.Context, withPaperkey bool) (*keybase.Session, error) {
	creds := keybase.Credentials{Username: cfg.Username}
	if withPaperkey {
		creds.Paperkey = keybase.Secret(os.Getenv(paperkeyEnv))
	}

	opts := []keybase.Option{keybase.WithTimeout(cfg.Timeout)}
	if cfg.KeybasePath != "" {
		opts = append(opts, keybase.WithBinaryPath(cfg.KeybasePath))
	}

	s, err := keybase.New(ctx, creds, opts...)
	if err != nil {
		return nil, describe(err)
	}
	onTeardown(func() { _ = s.Close() })

	if cfg.MinVersion != "" {
		if err := s.CheckVersion(ctx, cfg.MinVersion); err != nil {
			return nil, describe(err)
		}
	}

	if cfg.History.Enabled {
		attachHistory(s)
	}
	return s, nil
}

// attachHistory records status replacements. History is best effort: a
// database that cannot be opened only costs the audit trail.
func attachHistory(s *keybase.Session) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		log.ErrorErr(log.CatHistory, "History disabled", err, "path", cfg.History.Path)
		return
	}
	// Prepended so it runs after Session.Close has joined the recorder.
	teardown = append([]func(){func() { _ = store.Close() }}, teardown...)

	if _, err := history.Attach(s, store); err != nil {
		log.ErrorErr(log.CatHistory, "Failed to attach history recorder", err)
	}
}

// resolveBinary returns the configured keybase path or searches PATH.
func resolveBinary(ctx context.Context) (string, error) {
	if cfg.KeybasePath != "" {
		return cfg.KeybasePath, nil
	}
	path, err := keybase.FindKeybase(ctx)
	if err != nil {
		return "", describe(err)
	}
	return path, nil
}

// describe adds a hint for errors a user can act on.
func describe(err error) error {
	switch {
	case errors.Is(err, keybase.ErrBinaryNotFound):
		return fmt.Errorf("%w\nInstall keybase from https://keybase.io/download or set keybase_path", err)
	case errors.Is(err, keybase.ErrInvalidFieldEncoding), errors.Is(err, keybase.ErrMalformedStatusDocument):
		return fmt.Errorf("%w\nThe installed keybase printed a status document kbsession does not understand", err)
	default:
		return err
	}
}

// configTarget returns where init writes: the file in use, or the local default.
func configTarget(global bool) string {
	if cfgFile != "" {
		return cfgFile
	}
	if global {
		return filepath.Join(config.DefaultConfigDir(), "config.yaml")
	}
	return localConfigPath
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx)
}

func execute(ctx context.Context) error {
	defer runTeardown()
	return rootCmd.ExecuteContext(ctx)
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
