package usecase

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bbscout/dbbackup/internal/domain"
)

const notifyTimeout = 30 * time.Second

type Logger interface {
	Infow(msg string, keysAndValues ...interface{})
	Warnw(msg string, keysAndValues ...interface{})
	Errorw(msg string, keysAndValues ...interface{})
}

// Metrics observes run boundaries.
type Metrics interface {
	RunStarted()
	RunFinished(result *domain.RunResult)
}

// ConnectionResolver yields the connection for one run. Its errors are
// expected to wrap domain.ErrConfiguration.
type ConnectionResolver func() (domain.ConnectionSpec, error)

type BackupOptions struct {
	ScratchDir     string
	Naming         ArtifactNaming
	Destination    domain.Destination
	Retention      domain.RetentionPolicy
	DumpTimeout    time.Duration
	RemoteTimeout  time.Duration
	PingBeforeDump bool
}

type Backup struct {
	resolve    ConnectionResolver
	dumper     domain.DumpExecutor
	compressor domain.Compressor
	store      domain.RemoteStore
	logger     Logger
	opts       BackupOptions

	notifier domain.Notifier
	metrics  Metrics
	now      func() time.Time
	newID    func() string
}

type Option func(*Backup)

func WithNotifier(n domain.Notifier) Option {
	return func(b *Backup) { b.notifier = n }
}

func WithMetrics(m Metrics) Option {
	return func(b *Backup) { b.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(b *Backup) { b.now = now }
}

func NewBackup(
	resolve ConnectionResolver,
	dumper domain.DumpExecutor,
	compressor domain.Compressor,
	store domain.RemoteStore,
	logger Logger,
	opts BackupOptions,
	options ...Option,
) *Backup {
	if opts.ScratchDir == "" {
		opts.ScratchDir = os.TempDir()
	}

	b := &Backup{
		resolve:    resolve,
		dumper:     dumper,
		compressor: compressor,
		store:      store,
		logger:     logger,
		opts:       opts,
		now:        time.Now,
		newID:      uuid.NewString,
	}
	for _, option := range options {
		option(b)
	}
	return b
}

// Execute runs the pipeline once and returns the run error. A retention
// failure is not a run error.
func (uc *Backup) Execute(ctx context.Context) error {
	return uc.Run(ctx).Err
}

// Run resolves the connection, dumps and compresses the database into
// scratch storage, publishes the artifact and prunes old ones. Stages run in
// order and the first fatal failure ends the run. The local artifact never
// outlives the run.
func (uc *Backup) Run(ctx context.Context) (result *domain.RunResult) {
	result = &domain.RunResult{
		RunID:     uc.newID(),
		StartedAt: uc.now().UTC(),
	}
	log := runLogger{Logger: uc.logger, runID: result.RunID}

	if uc.metrics != nil {
		uc.metrics.RunStarted()
	}
	defer uc.finish(ctx, log, result)

	log.Infow("Starting backup", "destination", uc.opts.Destination.String())

	conn, err := uc.resolve()
	if err != nil {
		result.Err = err
		return result
	}
	result.Connection = conn

	if uc.opts.PingBeforeDump {
		if err := uc.dumper.Ping(ctx, conn); err != nil {
			result.Err = domain.NewStageError(domain.ErrDump, fmt.Errorf("database ping: %w", err))
			return result
		}
	}

	log.Infow("Dumping database", "database", conn.Redacted())
	artifact, err := uc.dump(ctx, conn)
	if err != nil {
		result.Err = err
		return result
	}
	result.Artifact = artifact
	log.Infow("Dump complete",
		"artifact", artifact.Name,
		"size_mb", fmt.Sprintf("%.2f", float64(artifact.Size)/(1024*1024)))

	err = uc.publish(ctx, artifact)
	uc.removeLocal(log, artifact.Path)
	if err != nil {
		result.Err = err
		return result
	}
	result.Uploaded = true
	log.Infow("Artifact published", "artifact", artifact.Name)

	pruneCtx, cancel := withTimeout(ctx, uc.opts.RemoteTimeout)
	defer cancel()
	pruner := NewPruner(uc.store, uc.opts.Naming, log)
	result.Pruned, result.RetentionErr = pruner.Prune(pruneCtx, uc.opts.Destination, uc.opts.Retention)

	return result
}

// dump streams the dump through the compressor into a .partial file, checks
// the compressed stream end to end and only then gives it its final name.
// Nothing is left in scratch storage on failure.
func (uc *Backup) dump(ctx context.Context, conn domain.ConnectionSpec) (artifact *domain.BackupArtifact, err error) {
	createdAt := uc.now().UTC()
	name := uc.opts.Naming.Name(createdAt)
	finalPath := filepath.Join(uc.opts.ScratchDir, name)
	partialPath := finalPath + ".partial"

	defer func() {
		if r := recover(); r != nil {
			os.Remove(partialPath)
			panic(r)
		}
		if err != nil {
			os.Remove(partialPath)
			os.Remove(finalPath)
			err = domain.NewStageError(domain.ErrDump, err)
		}
	}()

	dumpCtx, cancel := withTimeout(ctx, uc.opts.DumpTimeout)
	defer cancel()

	file, err := os.OpenFile(partialPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, fmt.Errorf("create artifact: %w", err)
	}

	zw, err := uc.compressor.NewWriter(file)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create compressor: %w", err)
	}

	dumpErr := uc.dumper.Dump(dumpCtx, conn, zw)
	closeErr := zw.Close()
	fileErr := file.Close()

	switch {
	case dumpErr != nil && errors.Is(dumpCtx.Err(), context.DeadlineExceeded):
		return nil, fmt.Errorf("dump timed out after %s: %w", uc.opts.DumpTimeout, dumpErr)
	case dumpErr != nil:
		return nil, dumpErr
	case closeErr != nil:
		return nil, fmt.Errorf("finish compression: %w", closeErr)
	case fileErr != nil:
		return nil, fmt.Errorf("close artifact: %w", fileErr)
	}

	uncompressed, err := uc.compressor.Verify(partialPath)
	if err != nil {
		return nil, fmt.Errorf("verify artifact: %w", err)
	}
	if uncompressed == 0 {
		return nil, errors.New("dump is empty")
	}

	if err := os.Rename(partialPath, finalPath); err != nil {
		return nil, fmt.Errorf("finalize artifact: %w", err)
	}

	info, err := os.Stat(finalPath)
	if err != nil {
		return nil, fmt.Errorf("stat artifact: %w", err)
	}

	return &domain.BackupArtifact{
		Name:      name,
		Path:      finalPath,
		Size:      info.Size(),
		CreatedAt: createdAt,
	}, nil
}

func (uc *Backup) publish(ctx context.Context, artifact *domain.BackupArtifact) error {
	ctx, cancel := withTimeout(ctx, uc.opts.RemoteTimeout)
	defer cancel()

	dest := uc.opts.Destination
	if err := uc.store.EnsureDir(ctx, dest); err != nil {
		return domain.NewStageError(domain.ErrPublish, fmt.Errorf("ensure %s: %w", dest, err))
	}
	if err := uc.store.Upload(ctx, artifact.Path, dest, artifact.Name); err != nil {
		return domain.NewStageError(domain.ErrPublish, fmt.Errorf("upload %s to %s: %w", artifact.Name, dest, err))
	}
	return nil
}

func (uc *Backup) removeLocal(log runLogger, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warnw("Failed to remove local artifact", "path", path, "error", err)
	}
}

// finish is deferred by Run. A panic in any stage ends up here as a failed run.
func (uc *Backup) finish(ctx context.Context, log runLogger, result *domain.RunResult) {
	if r := recover(); r != nil {
		result.Err = fmt.Errorf("backup panicked: %v", r)
	}
	if result.Artifact != nil {
		uc.removeLocal(log, result.Artifact.Path)
	}
	result.FinishedAt = uc.now().UTC()
	duration := result.Duration().Round(time.Millisecond)

	switch {
	case result.Err != nil:
		log.Errorw("Backup failed",
			"stage", domain.StageName(domain.StageOf(result.Err)),
			"duration", duration,
			"error", result.Err)
	case result.RetentionErr != nil:
		log.Warnw("Backup completed, retention failed",
			"artifact", artifactName(result),
			"pruned", len(result.Pruned),
			"duration", duration,
			"error", result.RetentionErr)
	default:
		log.Infow("Backup completed",
			"artifact", artifactName(result),
			"pruned", len(result.Pruned),
			"duration", duration)
	}

	if uc.metrics != nil {
		uc.metrics.RunFinished(result)
	}

	if uc.notifier != nil {
		notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
		defer cancel()
		if err := uc.notifier.Notify(notifyCtx, result); err != nil {
			log.Warnw("Failed to send notification", "error", err)
		}
	}
}

func artifactName(result *domain.RunResult) string {
	if result.Artifact == nil {
		return ""
	}
	return result.Artifact.Name
}

// runLogger stamps every entry with the run id.
type runLogger struct {
	Logger
	runID string
}

func (l runLogger) Infow(msg string, keysAndValues ...interface{}) {
	l.Logger.Infow(msg, append([]interface{}{"run_id", l.runID}, keysAndValues...)...)
}

func (l runLogger) Warnw(msg string, keysAndValues ...interface{}) {
	l.Logger.Warnw(msg, append([]interface{}{"run_id", l.runID}, keysAndValues...)...)
}

func (l runLogger) Errorw(msg string, keysAndValues ...interface{}) {
	l.Logger.Errorw(msg, append([]interface{}{"run_id", l.runID}, keysAndValues...)...)
}
