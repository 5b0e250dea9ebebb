// Package cmd implements the filevault command line interface.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/illarion/filevault/internal/config"
	"github.com/illarion/filevault/internal/core"
	"github.com/illarion/filevault/internal/logging"
	"github.com/illarion/filevault/internal/registry"
)

// App carries the state shared by all commands of one invocation
type App struct {
	configPath string
	home       string
	logLevel   string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
	registry  *registry.Registry

	// vaultOptions are appended to the engine options built from config
	vaultOptions []core.Option
}

// Execute runs the CLI and returns the process exit code
func Execute(ctx context.Context) int {
	app := &App{}
	defer app.close()

	root := newRootCmd(app)
	if err := root.ExecuteContext(ctx); err != nil {
		HandleError(root.ErrOrStderr(), err)
		return 1
	}
	return 0
}

func newRootCmd(a *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "filevault",
		Short: "Password protected vaults for your files",
		Long: `filevault keeps files encrypted at rest in named vaults.

Each vault has its own password. Files are encrypted with AES-256 using a
key derived from the password with Argon2id; the password itself is never
stored. Set FILEVAULT_PASSWORD to skip the password prompt.`,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "config file (default $HOME/.filevault/config.yaml)")
	flags.StringVar(&a.home, "home", "", "directory holding the registry and vaults")
	flags.StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	root.AddCommand(
		newCreateCmd(a),
		newVaultsCmd(a),
		newDeleteCmd(a),
		newVerifyCmd(a),
		newAddCmd(a),
		newExtractCmd(a),
		newLsCmd(a),
		newRmCmd(a),
		newDiffCmd(a),
		newPruneCmd(a),
		newCompactCmd(a),
		newKeyringCmd(a),
	)
	return root
}

// setup loads configuration and logging before any command runs
func (a *App) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath, a.home)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}

	a.cfg, a.logger, a.logCloser = cfg, logger, closer
	a.logger.Debug("config loaded", "home", cfg.Home, "command", cmd.CommandPath())
	return nil
}

// openRegistry opens the registry on first use
func (a *App) openRegistry() (*registry.Registry, error) {
	if a.registry != nil {
		return a.registry, nil
	}
	reg, err := registry.Open(a.cfg.RegistryPath())
	if err != nil {
		return nil, err
	}
	a.registry = reg
	return reg, nil
}

// newVault builds an engine for dir with the configured options
func (a *App) newVault(dir string) *core.Vault {
	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithWorkers(a.cfg.Extract.Workers),
		core.WithLockTimeout(a.cfg.Lock.Timeout),
	}
	return core.New(dir, append(opts, a.vaultOptions...)...)
}

// openVault resolves name through the registry and records the access
func (a *App) openVault(name string) (*registry.VaultInfo, *core.Vault, error) {
	reg, err := a.openRegistry()
	if err != nil {
		return nil, nil, err
	}
	info, err := reg.Get(name)
	if err != nil {
		return nil, nil, err
	}
	if err := reg.Touch(info.Name); err != nil {
		a.logger.Warn("failed to update last access", "vault", info.Name, "error", err)
	}
	return info, a.newVault(info.Path), nil
}

func (a *App) close() {
	var errs []error
	if a.registry != nil {
		errs = append(errs, a.registry.Close())
	}
	if a.logCloser != nil {
		errs = append(errs, a.logCloser.Close())
	}
	if err := errors.Join(errs...); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %s\n", err)
	}
}
