package poller

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"siri-poller/internal/siri"
)

type fakeFetcher struct {
	mu       sync.Mutex
	bodies   map[int]string
	errs     map[int]error
	block    map[int]bool
	requests []int
}

func (f *fakeFetcher) Fetch(ctx context.Context, line int) (siri.Node, error) {
	f.mu.Lock()
	f.requests = append(f.requests, line)
	body, hasBody := f.bodies[line]
	err := f.errs[line]
	block := f.block[line]
	f.mu.Unlock()

	if block {
		<-ctx.Done()
		return siri.Node{}, fmt.Errorf("%w: %v", siri.ErrTransport, ctx.Err())
	}
	if err != nil {
		return siri.Node{}, err
	}
	if !hasBody {
		return siri.Decode([]byte(`{"Siri":{"ServiceDelivery":{"VehicleMonitoringDelivery":[{}]}}}`))
	}
	return siri.Decode([]byte(body))
}

type recordingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *recordingMetrics) ObserveFetch(outcome string, _ time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func linePayload(name string, vehicles int) string {
	acts := ""
	for i := 0; i < vehicles; i++ {
		if i > 0 {
			acts += ","
		}
		acts += fmt.Sprintf(`{"MonitoredVehicleJourney":{"PublishedLineName":%q,"VehicleRef":"V%d"}}`, name, i)
	}
	return fmt.Sprintf(`{"Siri":{"ServiceDelivery":{"VehicleMonitoringDelivery":[{"VehicleActivity":[%s]}]}}}`, acts)
}

func lineRange(n int) []int {
	out := make([]int, n)
	for i := range out {
		out[i] = i + 1
	}
	return out
}

func TestPollKeepsIdentifierOrder(t *testing.T) {
	f := &fakeFetcher{bodies: map[int]string{
		42: linePayload("42A", 1),
		5:  linePayload("5", 1),
		77: linePayload("77", 3),
	}}
	p := New(f, Options{Concurrency: 8}, nil, nil)

	res := p.Poll(context.Background(), lineRange(100))

	require.Len(t, res.Lines, 3)
	assert.Equal(t, 5, res.Lines[0].Line)
	assert.Equal(t, "5", res.Lines[0].Name)
	assert.Equal(t, 42, res.Lines[1].Line)
	assert.Equal(t, "42A", res.Lines[1].Name)
	assert.Equal(t, 77, res.Lines[2].Line)
	assert.Len(t, res.Lines[2].Activities, 3)

	assert.Equal(t, 100, res.Probed)
	assert.Equal(t, 97, res.Empty)
	assert.Zero(t, res.Failed)
	assert.Zero(t, res.Incomplete)
	assert.Len(t, f.requests, 100)
}

func TestPollIsolatesLineFailures(t *testing.T) {
	f := &fakeFetcher{
		bodies: map[int]string{
			1: linePayload("1", 1),
			3: `{"Siri":{}}`,
			4: `{"Siri":{"ServiceDelivery":{"VehicleMonitoringDelivery":[{"VehicleActivity":[{}]}]}}}`,
			6: linePayload("6", 2),
		},
		errs: map[int]error{
			2: fmt.Errorf("%w: status 500", siri.ErrTransport),
			5: fmt.Errorf("%w: bad wrapper", siri.ErrEnvelope),
		},
	}
	m := &recordingMetrics{}
	p := New(f, Options{Concurrency: 3}, nil, m)

	res := p.Poll(context.Background(), lineRange(6))

	require.Len(t, res.Lines, 2)
	assert.Equal(t, "1", res.Lines[0].Name)
	assert.Equal(t, "6", res.Lines[1].Name)
	assert.Equal(t, 4, res.Failed)

	assert.Equal(t, map[string]int{
		OutcomeOK:        2,
		OutcomeTransport: 1,
		OutcomeEnvelope:  1,
		OutcomeShape:     2,
	}, m.outcomes)
}

func TestPollSlowLineDoesNotBlockOthers(t *testing.T) {
	f := &fakeFetcher{
		bodies: map[int]string{
			1: linePayload("1", 1),
			2: linePayload("2", 1),
			4: linePayload("4", 1),
		},
		block: map[int]bool{3: true},
	}
	p := New(f, Options{Concurrency: 2, FetchTimeout: 50 * time.Millisecond, PassDeadline: 5 * time.Second}, nil, nil)

	res := p.Poll(context.Background(), lineRange(4))

	require.Len(t, res.Lines, 3)
	assert.Equal(t, []int{1, 2, 4}, []int{res.Lines[0].Line, res.Lines[1].Line, res.Lines[2].Line})
	assert.Equal(t, 1, res.Failed)
}

func TestPollPassDeadlineOmitsPendingLines(t *testing.T) {
	f := &fakeFetcher{
		bodies: map[int]string{1: linePayload("1", 1)},
		block:  map[int]bool{2: true, 3: true, 4: true, 5: true},
	}
	p := New(f, Options{Concurrency: 1, FetchTimeout: time.Minute, PassDeadline: 100 * time.Millisecond}, nil, nil)

	start := time.Now()
	res := p.Poll(context.Background(), lineRange(5))

	assert.Less(t, time.Since(start), 5*time.Second)
	require.Len(t, res.Lines, 1)
	assert.Equal(t, "1", res.Lines[0].Name)
	assert.Equal(t, 4, res.Incomplete)
	assert.Zero(t, res.Failed)
}

func TestPollHonoursRateLimit(t *testing.T) {
	f := &fakeFetcher{}
	p := New(f, Options{Concurrency: 5, RatePerSecond: 20}, nil, nil)

	start := time.Now()
	res := p.Poll(context.Background(), lineRange(5))

	// burst of one, then one token every 50ms
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
	assert.Equal(t, 5, res.Empty)
}

func TestPollCancelledContext(t *testing.T) {
	f := &fakeFetcher{}
	p := New(f, Options{Concurrency: 2}, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := p.Poll(ctx, lineRange(10))

	assert.Empty(t, res.Lines)
	assert.Equal(t, 10, res.Incomplete)
	assert.Empty(t, f.requests)
}
