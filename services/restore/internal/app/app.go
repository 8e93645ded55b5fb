package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"otzaria/internal/util"
	"otzaria/pkg/domain"
	"otzaria/pkg/legacy"
	"otzaria/pkg/notify"
	"otzaria/pkg/storage"
	"otzaria/pkg/store"
)

// Mode selects how a run treats data already in the target.
type Mode string

const (
	// ModeUpsert keeps existing rows and updates them in place.
	ModeUpsert Mode = "upsert"
	// ModeReplace clears the target before restoring.
	ModeReplace Mode = "replace"
)

// ParseMode validates a configured mode. There is no default.
func ParseMode(raw string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(raw))) {
	case ModeUpsert:
		return ModeUpsert, nil
	case ModeReplace:
		return ModeReplace, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidMode, raw)
}

// Config holds runtime configuration.
type Config struct {
	Store store.Store
	Mode  Mode
	// DryRun only labels the report and event; callers pass a MemoryStore.
	DryRun bool

	// Files is the primary dump; Backups are read after it in order.
	Files    legacy.Source
	Backups  []legacy.Source
	Messages legacy.Source

	Lock    store.RunLock
	LockTTL time.Duration

	// Reports, when set, receives a copy of every rendered report.
	Reports   storage.ObjectStore
	Publisher notify.Publisher

	TopClaimants    int
	DefaultCategory string
	Logger          *slog.Logger
	Now             func() time.Time
}

// App runs restores against one target store.
type App struct {
	store           store.Store
	mode            Mode
	dryRun          bool
	files           legacy.Source
	backups         []legacy.Source
	messages        legacy.Source
	lock            store.RunLock
	lockTTL         time.Duration
	reports         storage.ObjectStore
	publisher       notify.Publisher
	topClaimants    int
	defaultCategory string
	logger          *slog.Logger
	now             func() time.Time
}

// New validates cfg and builds the restore app.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	mode, err := ParseMode(string(cfg.Mode))
	if err != nil {
		return nil, err
	}
	if cfg.Files == nil && len(cfg.Backups) == 0 {
		return nil, ErrNoSources
	}
	lock := cfg.Lock
	if lock == nil {
		lock = store.NewMemoryRunLock()
	}
	lockTTL := cfg.LockTTL
	if lockTTL <= 0 {
		lockTTL = time.Hour
	}
	publisher := cfg.Publisher
	if publisher == nil {
		publisher = notify.NopPublisher{}
	}
	topClaimants := cfg.TopClaimants
	if topClaimants <= 0 {
		topClaimants = 5
	}
	category := strings.TrimSpace(cfg.DefaultCategory)
	if category == "" {
		category = domain.DefaultCategory
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:           cfg.Store,
		mode:            mode,
		dryRun:          cfg.DryRun,
		files:           cfg.Files,
		backups:         cfg.Backups,
		messages:        cfg.Messages,
		lock:            lock,
		lockTTL:         lockTTL,
		reports:         cfg.Reports,
		publisher:       publisher,
		topClaimants:    topClaimants,
		defaultCategory: category,
		logger:          logger,
		now:             now,
	}, nil
}

// Run executes one full restore and returns its report. Unresolvable
// references and malformed input are reported, not fatal; source and
// persistence errors abort the run without rolling back earlier writes.
func (a *App) Run(ctx context.Context) (Report, error) {
	release, err := a.lock.Acquire(ctx, a.lockTTL)
	if err != nil {
		if errors.Is(err, store.ErrLockHeld) {
			return Report{}, ErrLocked
		}
		return Report{}, fmt.Errorf("acquire run lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("release run lock failed", "err", err)
		}
	}()

	runID := util.NewID()
	st := newRunState(runID, a.now(), a.logger.With("run", runID))
	st.logger.Info("restore started", "mode", a.mode, "dryRun", a.dryRun)

	if err := a.load(ctx, st); err != nil {
		return Report{}, err
	}
	if err := a.index(ctx, st); err != nil {
		return Report{}, err
	}
	if a.mode == ModeReplace {
		if err := a.store.ClearAll(ctx); err != nil {
			return Report{}, fmt.Errorf("clear target: %w", err)
		}
	}
	if err := a.resolveUsers(ctx, st); err != nil {
		return Report{}, err
	}
	books := finalize(st)
	if err := a.materializeBooks(ctx, st, books); err != nil {
		return Report{}, err
	}
	if err := a.materializeUploads(ctx, st); err != nil {
		return Report{}, err
	}
	if err := a.materializeMessages(ctx, st); err != nil {
		return Report{}, err
	}

	verification, err := Verify(ctx, a.store, a.topClaimants)
	if err != nil {
		return Report{}, err
	}
	report := Report{
		RunID:        runID,
		Mode:         a.mode,
		DryRun:       a.dryRun,
		StartedAt:    st.startedAt,
		FinishedAt:   a.now(),
		Migrated:     st.migrated,
		Skipped:      st.skipped,
		Verification: verification,
		Warnings:     st.warnings,
	}
	if report.Critical() {
		st.logger.Error("no claimed pages after restore")
	}
	st.logger.Info("restore finished",
		"users", st.migrated[entityUsers],
		"books", st.migrated[entityBooks],
		"pages", st.migrated[entityPages],
		"messages", st.migrated[entityMessages],
		"warnings", len(report.Warnings))

	reportKey := a.archive(ctx, report)
	a.announce(ctx, report, reportKey)
	return report, nil
}

// load reads every source in scan order: the primary dump, the backups, then
// the message export.
func (a *App) load(ctx context.Context, st *runState) error {
	var sources []legacy.Source
	if a.files != nil {
		sources = append(sources, a.files)
	}
	sources = append(sources, a.backups...)
	seq := 0
	for _, src := range sources {
		docs, err := src.Documents(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", src.Name(), err)
		}
		records := legacy.Records(src.Name(), seq, docs)
		seq += len(records)
		st.skip(entityRecords, len(docs)-len(records))
		for _, rec := range records {
			entry := legacy.Classify(rec)
			if bad, ok := entry.(legacy.Malformed); ok {
				st.skip(entityRecords, 1)
				st.warn("skipped malformed record", "path", legacy.Path(bad), "source", legacy.SourceOf(bad), "reason", bad.Reason)
				continue
			}
			st.entries = append(st.entries, entry)
		}
		st.logger.Info("source loaded", "source", src.Name(), "documents", len(docs), "records", len(records))
	}
	if a.messages != nil {
		docs, err := a.messages.Documents(ctx)
		if err != nil {
			return fmt.Errorf("load %s: %w", a.messages.Name(), err)
		}
		st.messages = docs
		st.logger.Info("messages loaded", "source", a.messages.Name(), "documents", len(docs))
	}
	return nil
}

// index builds the pure in-memory views of the loaded records. The three
// builds share nothing and touch no store, so they run in parallel.
func (a *App) index(ctx context.Context, st *runState) error {
	var skippedContent []string
	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		st.content, skippedContent = legacy.BuildContentIndex(st.entries)
		return nil
	})
	g.Go(func() error {
		st.groups = groupPages(st.entries)
		return nil
	})
	g.Go(func() error {
		st.users = extractUsers(st.entries)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}
	st.count(entityContent, len(st.content))
	if len(skippedContent) > 0 {
		st.skip(entityContent, len(skippedContent))
		for _, name := range skippedContent {
			st.logger.Debug("content file name not recognized", "file", name)
		}
		st.warn("content files with unrecognized names", "count", len(skippedContent))
	}
	if st.groups.skipped > 0 {
		st.skip(entityPages, st.groups.skipped)
		st.warn("skipped page entries with unexpected shape", "count", st.groups.skipped)
	}
	return nil
}

// extractUsers concatenates every user export in scan order.
func extractUsers(entries []legacy.Entry) []any {
	var users []any
	for _, e := range entries {
		if u, ok := e.(legacy.Users); ok {
			users = append(users, u.Items...)
		}
	}
	return users
}

// archive stores the rendered report when a report bucket is configured. A
// failed upload is logged; the restore itself already succeeded.
func (a *App) archive(ctx context.Context, report Report) string {
	if a.reports == nil {
		return ""
	}
	key := fmt.Sprintf("reports/%s-%s.txt", report.StartedAt.Format("20060102T150405Z"), report.RunID)
	body := []byte(report.String())
	if err := a.reports.Put(ctx, key, bytes.NewReader(body), int64(len(body)), "text/plain; charset=utf-8"); err != nil {
		a.logger.Warn("archive report failed", "key", key, "err", err)
		return ""
	}
	return key
}

func (a *App) announce(ctx context.Context, report Report, reportKey string) {
	ev := notify.RunFinished{
		RunID:      report.RunID,
		Mode:       string(report.Mode),
		DryRun:     report.DryRun,
		StartedAt:  report.StartedAt,
		FinishedAt: report.FinishedAt,
		Migrated:   report.Migrated,
		Skipped:    report.Skipped,
		Warnings:   len(report.Warnings) + len(report.Verification.Warnings()),
		Critical:   report.Critical(),
		ReportKey:  reportKey,
	}
	if err := a.publisher.Publish(ctx, ev); err != nil {
		a.logger.Warn("publish run event failed", "err", err)
	}
}
