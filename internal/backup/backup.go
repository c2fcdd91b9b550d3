// Package backup writes timestamped copies of the embedded database on a cron
// schedule and prunes old copies.
package backup

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/db"
	"github.com/DLMCQ/DermaClinic/internal/metrics"
)

const (
	filePrefix = "dermaclinic-"
	fileSuffix = ".db"
	stampFmt   = "20060102T150405Z"
)

type Scheduler struct {
	source db.Backuper
	dir    string
	keep   int
	log    *zap.Logger
	now    func() time.Time

	cron *cron.Cron
}

// NewScheduler keeps the newest keep copies in dir; keep <= 0 keeps all.
func NewScheduler(source db.Backuper, dir string, keep int, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{source: source, dir: dir, keep: keep, log: log, now: time.Now}
}

// RunOnce writes a single backup and prunes. It returns the new file's path.
func (s *Scheduler) RunOnce(ctx context.Context) (string, error) {
	dest := filepath.Join(s.dir, filePrefix+s.now().UTC().Format(stampFmt)+fileSuffix)
	if err := s.source.Backup(ctx, dest); err != nil {
		metrics.BackupsTotal.WithLabelValues("failure").Inc()
		return "", fmt.Errorf("backup to %s: %w", dest, err)
	}
	metrics.BackupsTotal.WithLabelValues("success").Inc()

	if err := s.prune(); err != nil {
		s.log.Warn("prune old backups failed", zap.String("dir", s.dir), zap.Error(err))
	}
	return dest, nil
}

// Backups lists existing backup files, oldest first.
func (s *Scheduler) Backups() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		out = append(out, filepath.Join(s.dir, name))
	}
	// the timestamp layout sorts lexically
	sort.Strings(out)
	return out, nil
}

func (s *Scheduler) prune() error {
	if s.keep <= 0 {
		return nil
	}
	files, err := s.Backups()
	if err != nil {
		return err
	}
	for len(files) > s.keep {
		if err := os.Remove(files[0]); err != nil {
			return err
		}
		s.log.Debug("removed old backup", zap.String("path", files[0]))
		files = files[1:]
	}
	return nil
}

// Start runs RunOnce on the cron spec until Stop.
func (s *Scheduler) Start(spec string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	_, err := c.AddFunc(spec, func() {
		path, err := s.RunOnce(context.Background())
		if err != nil {
			s.log.Error("scheduled backup failed", zap.Error(err))
			return
		}
		s.log.Info("scheduled backup written", zap.String("path", path))
	})
	if err != nil {
		return fmt.Errorf("invalid backup schedule %q: %w", spec, err)
	}
	s.cron = c
	c.Start()
	s.log.Info("backup scheduler started", zap.String("schedule", spec), zap.String("dir", s.dir))
	return nil
}

// Stop waits for a running backup to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}
