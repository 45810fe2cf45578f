package snapshot

import (
	"errors"
	"fmt"
	"log/slog"

	"siri-poller/internal/logging"
	"siri-poller/internal/poller"
	"siri-poller/internal/siri"
	"siri-poller/internal/vehicle"
)

// DuplicatePolicy decides what happens when two line identifiers publish the
// same line name.
type DuplicatePolicy string

const (
	// PolicyMerge appends the later identifier's vehicles to the first entry.
	PolicyMerge DuplicatePolicy = "merge"
	// PolicyReplace keeps the first entry's position but only the later vehicles.
	PolicyReplace DuplicatePolicy = "replace"
)

// ParsePolicy accepts "merge" or "replace"; empty means merge.
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "", PolicyMerge:
		return PolicyMerge, nil
	case PolicyReplace:
		return PolicyReplace, nil
	default:
		return "", fmt.Errorf("unknown duplicate line policy %q", s)
	}
}

// LineResult is one published line and its normalized vehicles.
type LineResult struct {
	Line     string           `json:"line"`
	Vehicles []vehicle.Record `json:"vehicles"`
}

// Normalizer maps one raw vehicle activity to a Record.
type Normalizer interface {
	Normalize(activity siri.Node) (vehicle.Record, error)
}

type Assembler struct {
	normalizer Normalizer
	policy     DuplicatePolicy
	logger     *slog.Logger
	metrics    Metrics
}

func NewAssembler(n Normalizer, policy DuplicatePolicy, logger *slog.Logger, m Metrics) *Assembler {
	if policy == "" {
		policy = PolicyMerge
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Assembler{normalizer: n, policy: policy, logger: logger, metrics: m}
}

// Assemble folds the poller's per-line activity lists into ordered line
// results, keyed by published name in first-seen order. A line whose vehicles
// all fail normalization is kept with an empty vehicle list. It also returns
// how many vehicles were dropped.
func (a *Assembler) Assemble(lines []poller.LineActivities) ([]LineResult, int) {
	out := make([]LineResult, 0, len(lines))
	index := make(map[string]int, len(lines))
	dropped := 0

	for _, la := range lines {
		records := make([]vehicle.Record, 0, len(la.Activities))
		for i, act := range la.Activities {
			rec, err := a.normalizer.Normalize(act)
			if err != nil {
				dropped++
				a.drop(la, i, err)
				continue
			}
			records = append(records, rec)
		}

		pos, seen := index[la.Name]
		if !seen {
			index[la.Name] = len(out)
			out = append(out, LineResult{Line: la.Name, Vehicles: records})
			continue
		}

		a.logger.Warn("line name published by several identifiers",
			slog.String("line_name", la.Name),
			slog.Int("line", la.Line),
			slog.String("policy", string(a.policy)))
		if a.policy == PolicyReplace {
			out[pos].Vehicles = records
		} else {
			out[pos].Vehicles = append(out[pos].Vehicles, records...)
		}
	}
	return out, dropped
}

func (a *Assembler) drop(la poller.LineActivities, i int, err error) {
	field := "unknown"
	var mf *vehicle.MissingFieldError
	if errors.As(err, &mf) {
		field = mf.Field
	}
	a.logger.Warn("vehicle dropped",
		slog.Int("line", la.Line),
		slog.String("line_name", la.Name),
		slog.Int("index", i),
		slog.String("field", field),
		slog.String("error", err.Error()))
	if a.metrics != nil {
		a.metrics.ObserveDropped(field)
	}
}
