package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"devsync-go/internal/app"
	"devsync-go/internal/config"
)

// viper keys; each is also readable as DEVSYNC_<KEY> from the environment.
const (
	keyConfig     = "config"
	keyLogLevel   = "log_level"
	keyJSON       = "json"
	keyRegistry   = "registry"
	keyHistory    = "history"
	keyEnvFile    = "env_file"
	keyWorkers    = "workers"
	keyTimeout    = "timeout"
	keyRemoteKind = "remote_kind"
	keyRemoteRoot = "remote_root"
	keyAPIAddr    = "api_addr"
)

const defaultConfigPath = "devsync.yaml"

// needsRemote marks commands that push to the coordination host.
const needsRemote = "remote"

type cli struct {
	v      *viper.Viper
	in     io.Reader
	out    io.Writer
	errOut io.Writer
	app    *app.App
}

func newRootCmd(in io.Reader, out, errOut io.Writer) *cobra.Command {
	c := &cli{v: viper.New(), in: in, out: out, errOut: errOut}
	c.v.SetEnvPrefix("DEVSYNC")
	c.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	c.v.AutomaticEnv()

	root := &cobra.Command{
		Use:           "devsync",
		Short:         "Discover, track, and sync trading devices",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := c.loadConfig()
			if err != nil {
				return err
			}
			validate := cfg.ValidateLocal
			if cmd.Annotations[needsRemote] == "true" {
				validate = cfg.Validate
			}
			if err := validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			a, err := app.New(cmd.Context(), cfg, c.logger(cfg, cmd), app.Options{
				WithRemote: cmd.Annotations[needsRemote] == "true",
				EnvFile:    c.v.GetString(keyEnvFile),
			})
			if err != nil {
				return err
			}
			c.app = a
			return nil
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.app == nil {
				return nil
			}
			return c.app.Close()
		},
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)

	flags := root.PersistentFlags()
	flags.String(keyConfig, defaultConfigPath, "config file (missing file means defaults)")
	flags.String("log-level", "", "log level (debug, info, warn, error)")
	flags.Bool(keyJSON, false, "print the response envelope as JSON")
	flags.String(keyRegistry, "", "registry snapshot path")
	flags.String(keyHistory, "", "sync history journal path")
	flags.String("env-file", "", "credential store (env-style file)")
	flags.Int(keyWorkers, 0, "sync-all worker pool size")
	flags.Duration(keyTimeout, 0, "per-device sync timeout")
	flags.String("remote-kind", "", "remote transport (ssh, dir)")
	flags.String("remote-root", "", "remote root directory")
	for key, flag := range map[string]string{
		keyConfig: keyConfig, keyLogLevel: "log-level", keyJSON: keyJSON, keyRegistry: keyRegistry,
		keyHistory: keyHistory, keyEnvFile: "env-file", keyWorkers: keyWorkers, keyTimeout: keyTimeout,
		keyRemoteKind: "remote-kind", keyRemoteRoot: "remote-root",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		c.listCmd(),
		c.statusCmd(),
		c.scanCmd(),
		c.registerCmd(),
		c.syncCmd(),
		c.syncAllCmd(),
		c.removeCmd(),
		c.historyCmd(),
		c.serveCmd(),
	)
	return root
}

// loadConfig reads the YAML file, when present, and layers flags and DEVSYNC_* variables on top.
func (c *cli) loadConfig() (*config.Config, error) {
	path := c.v.GetString(keyConfig)
	cfg, err := config.Load(path)
	switch {
	case err == nil:
	case errors.Is(err, fs.ErrNotExist) && !c.v.IsSet(keyConfig):
		cfg = config.Default()
	default:
		return nil, err
	}

	if s := c.v.GetString(keyRegistry); s != "" {
		cfg.Registry.Path = s
	}
	if s := c.v.GetString(keyHistory); s != "" {
		cfg.Registry.HistoryPath = s
	}
	if s := c.v.GetString(keyEnvFile); s != "" {
		cfg.Scanner.EnvFile = s
	}
	if n := c.v.GetInt(keyWorkers); n > 0 {
		cfg.Sync.Workers = n
	}
	if d := c.v.GetDuration(keyTimeout); d > 0 {
		cfg.Sync.Timeout = config.Duration(d)
	}
	if s := c.v.GetString(keyRemoteKind); s != "" {
		cfg.Remote.Kind = s
	}
	if s := c.v.GetString(keyRemoteRoot); s != "" {
		cfg.Remote.Root = s
	}
	if s := c.v.GetString(keyAPIAddr); s != "" {
		cfg.API.Addr = s
	}
	if s := c.v.GetString(keyLogLevel); s != "" {
		cfg.App.LogLevel = s
	}
	return cfg, nil
}

func (c *cli) jsonOutput() bool { return c.v.GetBool(keyJSON) }

func stdinIsTerminal(in io.Reader) bool {
	f, ok := in.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}
