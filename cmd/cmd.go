package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/webitel/skywork/config"
)

const (
	ServiceName      = "skywork"
	ServiceNamespace = "webitel"
)

var (
	version        = "0.0.0"
	commit         = "hash"
	commitDate     = time.Now().String()
	branch         = "branch"
	buildTimestamp = ""
)

func Run() error {
	app := &cli.App{
		Name:  ServiceName,
		Usage: "Actor-model runtime core",
		Commands: []*cli.Command{
			serverCmd(),
			topCmd(),
		},
	}

	return app.Run(os.Args)
}

func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config_file", Usage: "Path to the configuration file"},
		&cli.IntFlag{Name: "thread", Usage: "Worker thread count (0 = use config file)"},
		&cli.IntFlag{Name: "harbor", Usage: "Local node id (0 = use config file)"},
		&cli.StringFlag{Name: "bootstrap", Usage: "Initial LAUNCH command, e.g. \"ping 1000\""},
		&cli.StringFlag{Name: "admin_addr", Usage: "Admin HTTP listen address"},
	}
}

// loadConfig reads the config file (if any) then applies any flags
// the user actually passed on top, the same override order viper's
// own BindPFlags would give a pflag-native CLI.
func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config_file"), nil)
	if err != nil {
		return nil, err
	}
	if c.IsSet("thread") {
		cfg.Thread = c.Int("thread")
	}
	if c.IsSet("harbor") {
		cfg.Harbor = uint8(c.Int("harbor"))
	}
	if c.IsSet("bootstrap") {
		cfg.Bootstrap = c.String("bootstrap")
	}
	if c.IsSet("admin_addr") {
		cfg.AdminAddr = c.String("admin_addr")
	}
	return cfg, nil
}

func serverCmd() *cli.Command {
	return &cli.Command{
		Name:    "server",
		Aliases: []string{"s"},
		Usage:   "Run the actor runtime",
		Flags:   commonFlags(),
		Action: func(c *cli.Context) error {
			cfg, err := loadConfig(c)
			if err != nil {
				return err
			}
			app := NewApp(cfg)

			if err := app.Start(c.Context); err != nil {
				return err
			}

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
			<-stop

			slog.Info("shutting down")
			return app.Stop(context.Background())
		},
	}
}
