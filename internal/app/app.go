// Package app wires configuration into the clients, journal and archive that
// both binaries share.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awscfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"tcbridge/internal/client"
	"tcbridge/internal/client/embedded"
	"tcbridge/internal/client/fake"
	"tcbridge/internal/client/remote"
	"tcbridge/internal/config"
	"tcbridge/internal/repository/sqlite"
	"tcbridge/internal/service"
	"tcbridge/internal/storage"
	"tcbridge/internal/trackers"
)

type App struct {
	Config   config.Config
	Logger   *logrus.Logger
	Registry *client.Registry
	Moves    service.MoveService
	// Archive is nil when no bucket is configured.
	Archive storage.Archive

	db      *sql.DB
	daemons *embedded.Daemons
}

func New(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*App, error) {
	if logger == nil {
		logger = logrus.New()
	}
	resolver := trackers.NewResolver()
	daemons := embedded.NewDaemons(embedded.Config{
		DataDir:  cfg.Embedded.DataDir,
		Logger:   logger,
		Trackers: resolver,
	})
	a := &App{
		Config: cfg,
		Logger: logger,
		Registry: client.NewRegistry(
			fake.Entry(resolver),
			remote.Entry(),
			daemons.Entry(),
		),
		daemons: daemons,
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.db = db

	moveRepo := sqlite.NewMoveRepository(db)
	if err := moveRepo.Init(ctx); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("init move repository: %w", err)
	}

	archive, err := buildArchive(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("setup archive: %w", err)
	}
	a.Archive = archive

	a.Moves = service.NewMoveService(service.MoveConfig{
		Logger:  logger,
		Archive: archive,
	}, moveRepo, a.Client)
	return a, nil
}

// Client opens a configured client by name, or any client URL.
func (a *App) Client(nameOrURL string) (client.Client, error) {
	u, err := a.Config.ClientURL(nameOrURL)
	if err != nil {
		return nil, err
	}
	return a.Registry.Parse(u)
}

func (a *App) Close() error {
	var errs []error
	if err := a.daemons.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close embedded clients: %w", err))
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	return errors.Join(errs...)
}

func buildArchive(ctx context.Context, cfg config.Config, logger *logrus.Logger) (storage.Archive, error) {
	if cfg.Archive.Bucket == "" {
		logger.Debug("no archive bucket configured, metadata will not be archived")
		return nil, nil
	}

	loadOpts := []func(*awscfg.LoadOptions) error{
		awscfg.WithRegion(cfg.Archive.Region),
	}
	if cfg.AWS.Profile != "" {
		loadOpts = append(loadOpts, awscfg.WithSharedConfigProfile(cfg.AWS.Profile))
	}

	awsCfg, err := awscfg.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	s3Client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Archive.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Archive.Endpoint)
			o.UsePathStyle = true
		}
	})
	logger.Infof("archiving metadata to s3 bucket %s (region %s)", cfg.Archive.Bucket, cfg.Archive.Region)
	return storage.NewS3Archive(s3Client, cfg.Archive.Bucket, cfg.Archive.KeyPrefix), nil
}
