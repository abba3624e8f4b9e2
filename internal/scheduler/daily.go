// Package scheduler 定时为活跃用户生成每日洞察快照。
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/easeaico/project-kairos/internal/types"
)

const (
	DefaultSchedule = "0 2 * * *"
	activeWindow    = 24 * time.Hour
	ownerParallel   = 4
	stopTimeout     = 30 * time.Second
)

type OwnerSource interface {
	ListActiveOwners(ctx context.Context, since time.Time) ([]string, error)
}

type Snapshotter interface {
	DailySnapshot(ctx context.Context, ownerID string, now time.Time) (*types.Insight, bool, error)
}

// Summary reports one run of the daily job.
type Summary struct {
	Owners  int `json:"owners"`
	Created int `json:"created"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// DailyJob snapshots every owner active in the last 24 hours.
type DailyJob struct {
	owners OwnerSource
	snap   Snapshotter
	now    func() time.Time
}

func NewDailyJob(owners OwnerSource, snap Snapshotter) *DailyJob {
	return &DailyJob{owners: owners, snap: snap, now: time.Now}
}

// Run never stops on a single owner's failure.
func (j *DailyJob) Run(ctx context.Context) (Summary, error) {
	now := j.now().UTC()
	owners, err := j.owners.ListActiveOwners(ctx, now.Add(-activeWindow))
	if err != nil {
		return Summary{}, fmt.Errorf("failed to list active owners: %w", err)
	}

	var (
		mu      sync.Mutex
		summary = Summary{Owners: len(owners)}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ownerParallel)
	for _, owner := range owners {
		g.Go(func() error {
			_, created, err := j.snap.DailySnapshot(gctx, owner, now)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				summary.Failed++
				slog.Error("failed to create daily insight", "owner_id", owner, "error", err.Error())
			case created:
				summary.Created++
			default:
				summary.Skipped++
			}
			return nil
		})
	}
	_ = g.Wait()
	return summary, nil
}

// Scheduler runs the daily job on a UTC cron schedule.
type Scheduler struct {
	cron    *rcron.Cron
	job     *DailyJob
	timeout time.Duration
}

func New(spec string, job *DailyJob, timeout time.Duration) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSchedule
	}
	if timeout <= 0 {
		timeout = time.Hour
	}
	s := &Scheduler{
		cron:    rcron.New(rcron.WithLocation(time.UTC)),
		job:     job,
		timeout: timeout,
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid daily insight schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	start := time.Now()
	summary, err := s.job.Run(ctx)
	if err != nil {
		slog.Error("daily insight job failed", "error", err.Error())
		return
	}
	slog.Info("daily insight job finished",
		"owners", summary.Owners,
		"created", summary.Created,
		"skipped", summary.Skipped,
		"failed", summary.Failed,
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

func (s *Scheduler) Start() {
	s.cron.Start()
	slog.Info("scheduler started", "entries", len(s.cron.Entries()))
}

// Stop waits for a running job, up to a bounded timeout.
func (s *Scheduler) Stop() {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(stopTimeout):
		slog.Warn("scheduler stop timeout waiting for running jobs")
	}
}
