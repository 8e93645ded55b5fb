package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"otzaria/pkg/legacy"
	"otzaria/pkg/notify"
	"otzaria/pkg/storage"
	"otzaria/pkg/store"
	"otzaria/services/restore/internal/config"
)

// sources holds the legacy inputs of one run and whatever connections they
// keep open.
type sources struct {
	files    legacy.Source
	backups  []legacy.Source
	messages legacy.Source
	mongo    *legacy.MongoSource
}

func (s *sources) Close(ctx context.Context) {
	if s.mongo != nil {
		if err := s.mongo.Close(ctx); err != nil {
			slog.Warn("close legacy mongo", "err", err)
		}
	}
}

// openSources picks where each dump is read from. The legacy database
// replaces the primary dump and message export; explicitly configured paths
// are still read, from the bucket when one is set.
func openSources(ctx context.Context, cfg config.FileConfig) (*sources, error) {
	open := func(p string) legacy.Source { return legacy.NewFileSource(p) }
	if cfg.SourceBucket != "" {
		objects, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:  cfg.MinioEndpoint,
			AccessKey: cfg.MinioAccessKey,
			SecretKey: cfg.MinioSecretKey,
			Bucket:    cfg.SourceBucket,
			UseSSL:    cfg.MinioUseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("init source bucket: %w", err)
		}
		open = func(p string) legacy.Source {
			return legacy.ObjectSource{Store: objects, Bucket: objects.Bucket(), Key: strings.TrimPrefix(p, "/")}
		}
	}

	s := &sources{}
	if cfg.LegacyMongoURI != "" {
		connectCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		m, err := legacy.NewMongoSource(connectCtx, cfg.LegacyMongoURI, cfg.LegacyMongoDatabase)
		if err != nil {
			return nil, err
		}
		s.mongo = m
		s.files = m.Collection(legacy.FilesCollection)
		s.messages = m.Collection(legacy.MessagesCollection)
	} else if cfg.FilesPath != "" {
		s.files = open(cfg.FilesPath)
	}
	for _, p := range cfg.BackupPaths {
		s.backups = append(s.backups, open(p))
	}
	if cfg.MessagesPath != "" {
		s.messages = open(cfg.MessagesPath)
	}
	return s, nil
}

// runDeps are the optional collaborators of a run.
type runDeps struct {
	lock      store.RunLock
	reports   storage.ObjectStore
	publisher notify.Publisher
	closers   []func() error
}

func (d *runDeps) Close() {
	for _, c := range d.closers {
		if err := c(); err != nil {
			slog.Warn("close run dependency", "err", err)
		}
	}
}

func openRunDeps(cfg config.FileConfig, dryRun bool) (*runDeps, error) {
	d := &runDeps{publisher: notify.NopPublisher{}}
	if cfg.RedisAddr != "" && !dryRun {
		lock := store.NewRedisRunLock(cfg.RedisAddr, cfg.RedisPassword)
		d.lock = lock
		d.closers = append(d.closers, lock.Close)
	}
	if cfg.ReportBucket != "" {
		reports, err := storage.NewMinioStore(storage.MinioConfig{
			Endpoint:     cfg.MinioEndpoint,
			AccessKey:    cfg.MinioAccessKey,
			SecretKey:    cfg.MinioSecretKey,
			Bucket:       cfg.ReportBucket,
			UseSSL:       cfg.MinioUseSSL,
			CreateBucket: true,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init report bucket: %w", err)
		}
		d.reports = reports
	}
	switch {
	case cfg.NotifyURL != "":
		pub, err := notify.NewAMQPPublisher(notify.AMQPConfig{URL: cfg.NotifyURL, Exchange: cfg.NotifyExchange})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init notify publisher: %w", err)
		}
		d.publisher = pub
		d.closers = append(d.closers, pub.Close)
	case cfg.NotifyStream != "":
		pub, err := notify.NewRedisStreamPublisher(notify.RedisStreamConfig{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			Stream:   cfg.NotifyStream,
		})
		if err != nil {
			d.Close()
			return nil, fmt.Errorf("init notify stream: %w", err)
		}
		d.publisher = pub
		d.closers = append(d.closers, pub.Close)
	}
	return d, nil
}
