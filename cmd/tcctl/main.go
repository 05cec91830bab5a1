package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"tcbridge/internal/app"
	"tcbridge/internal/config"
)

const (
	configFlag  = "config"
	clientFlag  = "client"
	verboseFlag = "verbose"
)

func main() {
	a := cli.NewApp()
	a.Name = "tcctl"
	a.Usage = "Inspects torrent clients and moves torrents between them"
	a.Flags = []cli.Flag{
		cli.StringFlag{
			Name:   configFlag,
			Usage:  "configuration file",
			EnvVar: "TCBRIDGE_CONFIG",
		},
		cli.StringFlag{
			Name:   clientFlag,
			Usage:  "configured client name or client url",
			EnvVar: "TCBRIDGE_CLIENT",
		},
		cli.BoolFlag{
			Name:  verboseFlag,
			Usage: "log at debug level",
		},
	}
	a.Commands = []cli.Command{
		makeListCMD(),
		makeStateCMD("start", "Starts a torrent"),
		makeStateCMD("stop", "Stops a torrent"),
		makeStateCMD("remove", "Removes a torrent, keeping its data"),
		makeFilesCMD(),
		makeTestConnectionCMD(),
		makeMoveCMD(),
		makeRelocateCMD(),
		makeSerializeCMD(),
		makeMovesCMD(),
	}
	if err := a.Run(os.Args); err != nil {
		log.WithError(err).Fatal("failed to run app")
	}
}

// withApp builds the application from the global flags and runs f with a
// context cancelled on interrupt.
func withApp(c *cli.Context, f func(ctx context.Context, a *app.App) error) error {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	logger.SetOutput(os.Stderr)
	if c.GlobalBool(verboseFlag) {
		logger.SetLevel(log.DebugLevel)
	} else {
		logger.SetLevel(log.WarnLevel)
	}

	cfg, err := config.Load(c.GlobalString(configFlag))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.WithError(err).Warn("close")
		}
	}()
	return f(ctx, a)
}
