package poller

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"siri-poller/internal/logging"
	"siri-poller/internal/siri"
)

// Fetch outcomes, used as log fields and metric labels.
const (
	OutcomeOK        = "ok"
	OutcomeEmpty     = "empty"
	OutcomeTransport = "transport"
	OutcomeEnvelope  = "envelope"
	OutcomeShape     = "shape"
	OutcomeSkipped   = "skipped"
)

// Fetcher retrieves the raw payload for one line identifier.
type Fetcher interface {
	Fetch(ctx context.Context, line int) (siri.Node, error)
}

// Metrics receives one observation per probed line. May be nil.
type Metrics interface {
	ObserveFetch(outcome string, d time.Duration)
}

// Options bound the load one pass puts on the upstream feed.
type Options struct {
	Concurrency   int
	RatePerSecond float64
	FetchTimeout  time.Duration
	PassDeadline  time.Duration
}

// LineActivities is the raw vehicle activity list of one line that answered
// with at least one vehicle.
type LineActivities struct {
	Line       int
	Name       string
	Activities []siri.Node
}

// Result is what one pass over the line list produced. Lines is ordered as
// the identifiers were given.
type Result struct {
	Lines      []LineActivities
	Probed     int
	Empty      int
	Failed     int
	Incomplete int
}

type slot struct {
	outcome string
	lines   LineActivities
}

type Poller struct {
	fetcher Fetcher
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger
	metrics Metrics
}

// New returns a Poller. Zero options fall back to one worker, no rate
// limit, a 10s fetch timeout and no pass deadline.
func New(f Fetcher, opts Options, logger *slog.Logger, m Metrics) *Poller {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = 10 * time.Second
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Poller{
		fetcher: f,
		opts:    opts,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger,
		metrics: m,
	}
}

// Poll probes every line and never fails: lines that error, come back empty
// or are still pending when the pass deadline expires are left out.
func (p *Poller) Poll(ctx context.Context, lines []int) Result {
	if p.opts.PassDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.PassDeadline)
		defer cancel()
	}

	logger := logging.FromContextOr(ctx, p.logger)
	slots := make([]slot, len(lines))
	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)
	for i, line := range lines {
		if ctx.Err() != nil {
			break
		}
		// each worker writes only its own slot
		g.Go(func() error {
			slots[i] = p.pollLine(ctx, logger, line)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Probed: len(lines)}
	for _, s := range slots {
		switch s.outcome {
		case OutcomeOK:
			res.Lines = append(res.Lines, s.lines)
		case OutcomeEmpty:
			res.Empty++
		case OutcomeTransport, OutcomeEnvelope, OutcomeShape:
			res.Failed++
		default:
			res.Incomplete++
		}
	}
	return res
}

func (p *Poller) pollLine(ctx context.Context, logger *slog.Logger, line int) slot {
	if err := p.limiter.Wait(ctx); err != nil {
		logger.Debug("line skipped", slog.Int("line", line), slog.String("reason", err.Error()))
		return slot{outcome: OutcomeSkipped}
	}

	fctx, cancel := context.WithTimeout(ctx, p.opts.FetchTimeout)
	defer cancel()

	start := time.Now()
	s := p.probe(fctx, logger, line)
	if s.outcome == OutcomeTransport && ctx.Err() != nil {
		// the pass ran out, not this line
		s.outcome = OutcomeSkipped
	}
	if p.metrics != nil {
		p.metrics.ObserveFetch(s.outcome, time.Since(start))
	}
	return s
}

func (p *Poller) probe(ctx context.Context, logger *slog.Logger, line int) slot {
	payload, err := p.fetcher.Fetch(ctx, line)
	if err != nil {
		outcome := classify(err)
		logger.Warn("line fetch failed",
			slog.Int("line", line),
			slog.String("outcome", outcome),
			slog.String("error", err.Error()))
		return slot{outcome: outcome}
	}

	activities, err := siri.VehicleActivities(payload)
	if err != nil {
		logger.Warn("line payload skipped",
			slog.Int("line", line),
			slog.String("outcome", OutcomeShape),
			slog.String("error", err.Error()))
		return slot{outcome: OutcomeShape}
	}
	if len(activities) == 0 {
		logger.Debug("line has no vehicles", slog.Int("line", line))
		return slot{outcome: OutcomeEmpty}
	}

	name, ok := siri.PublishedLineName(activities[0])
	if !ok {
		logger.Warn("line payload skipped",
			slog.Int("line", line),
			slog.String("outcome", OutcomeShape),
			slog.String("error", "first vehicle has no PublishedLineName"))
		return slot{outcome: OutcomeShape}
	}

	return slot{
		outcome: OutcomeOK,
		lines:   LineActivities{Line: line, Name: name, Activities: activities},
	}
}

func classify(err error) string {
	switch {
	case errors.Is(err, siri.ErrEnvelope):
		return OutcomeEnvelope
	case errors.Is(err, siri.ErrShape):
		return OutcomeShape
	default:
		return OutcomeTransport
	}
}
