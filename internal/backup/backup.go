// Package backup snapshots the credential store and ships it to object storage.
package backup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"authkit/internal/repository/sqlstore"
	"authkit/internal/storage"
)

const (
	snapshotPrefix = "authkit-"
	snapshotSuffix = ".db"
)

// ErrUnsupportedDialect is returned for stores that cannot be snapshotted to a file.
var ErrUnsupportedDialect = errors.New("backups are only supported for sqlite databases")

// Config describes where snapshots go and how many are retained.
type Config struct {
	Bucket    string
	KeyPrefix string
	Keep      int
	Logger    logrus.FieldLogger
}

// Result reports what a run did.
type Result struct {
	Location string
	Size     int64
	Pruned   []string
}

type Runner struct {
	db    *sqlstore.DB
	store storage.Service
	cfg   Config
	now   func() time.Time
}

func NewRunner(db *sqlstore.DB, store storage.Service, cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	cfg.KeyPrefix = strings.Trim(cfg.KeyPrefix, "/")
	return &Runner{
		db:    db,
		store: store,
		cfg:   cfg,
		now:   time.Now,
	}
}

// Run snapshots the database, uploads it and prunes old snapshots.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.db.Dialect != sqlstore.DialectSQLite {
		return Result{}, ErrUnsupportedDialect
	}
	if r.cfg.Bucket == "" {
		return Result{}, fmt.Errorf("storage bucket is required")
	}

	tmpDir, err := os.MkdirTemp("", "authkit-backup-")
	if err != nil {
		return Result{}, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	name := snapshotName(r.now())
	local := filepath.Join(tmpDir, name)
	if err := Snapshot(ctx, r.db, local); err != nil {
		return Result{}, err
	}
	fi, err := os.Stat(local)
	if err != nil {
		return Result{}, fmt.Errorf("stat snapshot: %w", err)
	}

	location, err := r.store.UploadFile(ctx, local, storage.UploadOptions{
		Bucket:      r.cfg.Bucket,
		Key:         r.objectKey(name),
		ContentType: "application/vnd.sqlite3",
		ProgressCallback: func(done, total int64) {
			r.cfg.Logger.Debugf("backup upload %d/%d bytes", done, total)
		},
	})
	if err != nil {
		return Result{}, err
	}
	r.cfg.Logger.WithFields(logrus.Fields{"location": location, "size": fi.Size()}).Info("backup uploaded")

	pruned, err := r.prune(ctx)
	if err != nil {
		return Result{Location: location, Size: fi.Size()}, fmt.Errorf("prune backups: %w", err)
	}

	return Result{Location: location, Size: fi.Size(), Pruned: pruned}, nil
}

// Snapshot writes a consistent copy of a sqlite database to dest.
func Snapshot(ctx context.Context, db *sqlstore.DB, dest string) error {
	if db.Dialect != sqlstore.DialectSQLite {
		return ErrUnsupportedDialect
	}
	if _, err := db.ExecContext(ctx, `VACUUM INTO ?`, dest); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dest, err)
	}
	return nil
}

// prune deletes all but the newest Keep snapshots under the key prefix.
func (r *Runner) prune(ctx context.Context) ([]string, error) {
	if r.cfg.Keep <= 0 {
		return nil, nil
	}

	objects, err := r.store.ListObjects(ctx, r.cfg.Bucket, r.objectKey(snapshotPrefix))
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, obj := range objects {
		base := path.Base(obj.Key)
		if strings.HasPrefix(base, snapshotPrefix) && strings.HasSuffix(base, snapshotSuffix) {
			keys = append(keys, obj.Key)
		}
	}
	if len(keys) <= r.cfg.Keep {
		return nil, nil
	}

	// names embed a sortable UTC timestamp, newest last
	sort.Strings(keys)
	stale := keys[:len(keys)-r.cfg.Keep]
	if err := r.store.DeleteObjects(ctx, r.cfg.Bucket, stale); err != nil {
		return nil, err
	}
	r.cfg.Logger.WithField("count", len(stale)).Info("pruned old backups")
	return stale, nil
}

func (r *Runner) objectKey(name string) string {
	if r.cfg.KeyPrefix == "" {
		return name
	}
	return r.cfg.KeyPrefix + "/" + name
}

func snapshotName(now time.Time) string {
	return fmt.Sprintf("%s%s-%s%s", snapshotPrefix, now.UTC().Format("20060102T150405Z"), uuid.NewString()[:8], snapshotSuffix)
}
