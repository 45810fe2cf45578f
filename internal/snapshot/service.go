package snapshot

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"siri-poller/internal/logging"
	"siri-poller/internal/poller"
)

// Snapshot is the outcome of one aggregation pass. Lines is the served
// payload; the rest describes the pass.
type Snapshot struct {
	ID          uuid.UUID
	StartedAt   time.Time
	CompletedAt time.Time
	Lines       []LineResult
	Probed      int
	Empty       int
	Failed      int
	Incomplete  int
	Dropped     int
}

// Vehicles counts the records across all lines.
func (s Snapshot) Vehicles() int {
	n := 0
	for _, l := range s.Lines {
		n += len(l.Vehicles)
	}
	return n
}

// Poller runs one pass over a list of line identifiers.
type Poller interface {
	Poll(ctx context.Context, lines []int) poller.Result
}

// Publisher forwards a finished snapshot to downstream consumers.
type Publisher interface {
	PublishSnapshot(s Snapshot) error
}

// Metrics receives pass and drop observations. May be nil.
type Metrics interface {
	ObservePass(s Snapshot, d time.Duration)
	ObserveDropped(field string)
}

// Options configure caching and background refresh. A zero TTL polls on
// every call; a zero RefreshInterval disables the refresher.
type Options struct {
	TTL             time.Duration
	RefreshInterval time.Duration
}

// Service serves the current snapshot, polling upstream at most once at a
// time and reusing a result younger than the TTL.
type Service struct {
	poller    Poller
	assembler *Assembler
	lines     []int
	opts      Options
	logger    *slog.Logger
	metrics   Metrics
	publisher Publisher
	now       func() time.Time

	group singleflight.Group

	mu   sync.RWMutex
	last *Snapshot

	refreshCancel context.CancelFunc
	refreshWG     sync.WaitGroup
}

func NewService(p Poller, a *Assembler, lines []int, opts Options, logger *slog.Logger, m Metrics, pub Publisher) *Service {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		poller:    p,
		assembler: a,
		lines:     append([]int(nil), lines...),
		opts:      opts,
		logger:    logger,
		metrics:   m,
		publisher: pub,
		now:       time.Now,
	}
}

// Current returns the cached snapshot while it is fresh, otherwise runs a
// pass. It never fails; at worst the snapshot has no lines.
func (s *Service) Current(ctx context.Context) Snapshot {
	if snap, ok := s.fresh(); ok {
		return snap
	}
	return s.Refresh(ctx)
}

// Refresh runs a pass now. Concurrent callers share the same pass, which is
// detached from any single caller's cancellation.
func (s *Service) Refresh(ctx context.Context) Snapshot {
	ch := s.group.DoChan("pass", func() (any, error) {
		return s.pass(context.WithoutCancel(ctx)), nil
	})
	select {
	case res := <-ch:
		return res.Val.(Snapshot)
	case <-ctx.Done():
		if snap, ok := s.Last(); ok {
			return snap
		}
		return Snapshot{Lines: []LineResult{}}
	}
}

// Last returns the most recent snapshot regardless of age.
func (s *Service) Last() (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.last == nil {
		return Snapshot{}, false
	}
	return *s.last, true
}

func (s *Service) fresh() (Snapshot, bool) {
	if s.opts.TTL <= 0 {
		return Snapshot{}, false
	}
	snap, ok := s.Last()
	if !ok || s.now().Sub(snap.CompletedAt) > s.opts.TTL {
		return Snapshot{}, false
	}
	return snap, true
}

func (s *Service) pass(ctx context.Context) Snapshot {
	id := uuid.New()
	started := s.now()
	logger := s.logger.With(slog.String("snapshot_id", id.String()))
	ctx = logging.WithLogger(ctx, logger)

	res := s.poller.Poll(ctx, s.lines)
	lines, dropped := s.assembler.Assemble(res.Lines)

	snap := Snapshot{
		ID:          id,
		StartedAt:   started,
		CompletedAt: s.now(),
		Lines:       lines,
		Probed:      res.Probed,
		Empty:       res.Empty,
		Failed:      res.Failed,
		Incomplete:  res.Incomplete,
		Dropped:     dropped,
	}
	elapsed := snap.CompletedAt.Sub(started)

	s.mu.Lock()
	s.last = &snap
	s.mu.Unlock()

	logging.LogOperation(logger, "snapshot_pass_completed",
		slog.Int("lines", len(snap.Lines)),
		slog.Int("vehicles", snap.Vehicles()),
		slog.Int("probed", snap.Probed),
		slog.Int("failed", snap.Failed),
		slog.Int("incomplete", snap.Incomplete),
		slog.Int("dropped", snap.Dropped),
		slog.Duration("duration", elapsed))

	if s.metrics != nil {
		s.metrics.ObservePass(snap, elapsed)
	}
	if s.publisher != nil {
		if err := s.publisher.PublishSnapshot(snap); err != nil {
			logging.LogError(logger, "snapshot publish failed", err)
		}
	}
	return snap
}

// StartRefresher runs a pass immediately and then every RefreshInterval
// until Stop is called or parent is cancelled.
func (s *Service) StartRefresher(parent context.Context) {
	if s.opts.RefreshInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	s.refreshCancel = cancel
	s.refreshWG.Add(1)
	go func() {
		defer s.refreshWG.Done()
		s.Refresh(ctx)
		ticker := time.NewTicker(s.opts.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.Refresh(ctx)
			}
		}
	}()
}

// Stop halts the refresher and waits for it to exit.
func (s *Service) Stop() {
	if s.refreshCancel != nil {
		s.refreshCancel()
	}
	s.refreshWG.Wait()
}
