package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/tomasbasham/card-scan/internal/api"
	"github.com/tomasbasham/card-scan/internal/auth"
	"github.com/tomasbasham/card-scan/internal/capture"
	"github.com/tomasbasham/card-scan/internal/config"
	"github.com/tomasbasham/card-scan/internal/inventory"
	"github.com/tomasbasham/card-scan/internal/logging"
	"github.com/tomasbasham/card-scan/internal/pipeline"
	"github.com/tomasbasham/card-scan/internal/recognition"
	"github.com/tomasbasham/card-scan/internal/resolver"
	"github.com/tomasbasham/card-scan/internal/session"
	"github.com/tomasbasham/card-scan/internal/storage"
	"github.com/tomasbasham/card-scan/internal/vision"
)

// station holds the long-lived collaborators shared by every run: the API
// client with its token provider, the resolver, the receipt archive and the
// inventory cache. Capture sources and recognisers are bound per run.
type station struct {
	cfg *config.Config
	log *logrus.Logger

	api       *api.Client
	auth      *auth.Manager
	resolver  *resolver.Resolver
	archive   storage.Uploader
	inventory *inventory.Lister

	closers []func() error
}

// openStation loads the configuration and builds the shared collaborators.
// The caller must Close the returned station.
func openStation(ctx context.Context, o *RootOptions) (*station, error) {
	cfg, err := config.Load(o.ConfigPath)
	if err != nil {
		return nil, err
	}
	if o.LogLevel != "" {
		cfg.Log.Level = o.LogLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log, closeLog, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		Dir:        cfg.Log.Dir,
		Name:       cfg.Log.Name,
		MaxAge:     config.Duration(cfg.Log.MaxAge),
		RotateTime: config.Duration(cfg.Log.RotateTime),
		Out:        o.ErrOut,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialise logging: %w", err)
	}

	s := &station{cfg: cfg, log: log}
	s.closers = append(s.closers, closeLog)
	if cfg.Location != "" {
		log.WithField("path", cfg.Location).Debug("config loaded")
	}

	entry := logrus.NewEntry(log)

	s.api, err = api.New(api.Options{
		BaseURL:    cfg.API.BaseURL,
		Timeout:    config.Duration(cfg.API.Timeout),
		RetryCount: cfg.API.RetryCount,
		UserAgent:  userAgent(cfg.API.UserAgent),
		Logger:     entry,
	})
	if err != nil {
		s.Close()
		return nil, err
	}

	store, err := auth.NewFileStore(cfg.Identity.Path, cfg.Identity.Secret)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.auth = auth.NewManager(store, s.api, entry)
	s.api.UseTokenSource(s.auth)

	s.resolver = resolver.New(s.api, entry)

	if err := s.openArchive(ctx); err != nil {
		s.Close()
		return nil, err
	}

	s.inventory, err = inventory.NewLister(s.api, config.Duration(cfg.Inventory.CacheTTL), entry)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.closers = append(s.closers, func() error { s.inventory.Close(); return nil })

	return s, nil
}

func (s *station) openArchive(ctx context.Context) error {
	if bucket := s.cfg.Storage.Bucket; bucket != "" {
		gcs, err := storage.NewGCSUploader(ctx, bucket, config.Duration(s.cfg.Storage.URLTTL))
		if err != nil {
			return fmt.Errorf("failed to initialise GCS uploader: %w", err)
		}
		s.archive = gcs
		s.closers = append(s.closers, gcs.Close)
		return nil
	}

	local, err := storage.NewLocalUploader(s.cfg.Storage.Dir)
	if err != nil {
		return fmt.Errorf("failed to initialise local uploader: %w", err)
	}
	s.archive = local
	return nil
}

// newController binds a capture source and recogniser for one run and
// returns its controller. Closing the controller releases both.
func (s *station) newController(ctx context.Context, mode pipeline.Mode, observers ...pipeline.Observer) (*pipeline.Controller, error) {
	entry := logrus.NewEntry(s.log)

	source, err := s.openSource(ctx, entry)
	if err != nil {
		return nil, err
	}

	vc, err := vision.New(vision.Options{
		BaseURL: s.cfg.Vision.BaseURL,
		Timeout: config.Duration(s.cfg.Vision.Timeout),
		APIKey:  s.cfg.Vision.APIKey,
		Logger:  entry,
	})
	if err != nil {
		return nil, errors.Join(err, source.Close())
	}

	var sess *session.Session
	if mode == pipeline.ModeBatch {
		sess = session.New(s.api)
	}

	ctl, err := pipeline.New(pipeline.Options{
		Mode:       mode,
		Source:     source,
		Recognizer: recognition.NewCoordinator(vc, vc, entry),
		Resolver:   s.resolver,
		Session:    sess,
		Archive:    s.archive,
		Observers:  observers,
		Logger:     entry,
	})
	if err != nil {
		return nil, errors.Join(err, source.Close(), vc.Close())
	}
	return ctl, nil
}

func (s *station) openSource(ctx context.Context, log *logrus.Entry) (capture.Source, error) {
	c := s.cfg.Capture
	switch c.Source {
	case "browser":
		return capture.NewBrowserSource(ctx, capture.BrowserOptions{
			SnapshotURL:       c.SnapshotURL,
			TorchOnURL:        c.TorchOnURL,
			TorchOffURL:       c.TorchOffURL,
			NavigationTimeout: config.Duration(c.NavigationTimeout),
			IdleTimeout:       config.Duration(c.IdleTimeout),
			Rotation:          c.Rotation,
		}, log)
	default:
		return capture.NewDirSource(c.Dir, log)
	}
}

// Close releases everything openStation created, most recent first.
func (s *station) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func userAgent(configured string) string {
	if configured != "" && configured != "cardscan" {
		return configured
	}
	if version == "" {
		return "cardscan"
	}
	return "cardscan/" + version
}
