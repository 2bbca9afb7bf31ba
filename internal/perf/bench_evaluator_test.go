package perf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foursyz/policyd/internal/app"
	"github.com/foursyz/policyd/internal/assignment"
	"github.com/foursyz/policyd/internal/evaluator"
	"github.com/foursyz/policyd/internal/policy"
	_ "github.com/foursyz/policyd/internal/testing/guard"
)

func newEvaluator(tb testing.TB) *evaluator.Evaluator {
	tb.Helper()
	require.True(tb, app.InTestMode())

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	c, err := app.Build(context.Background(), &app.Config{
		StoreDriver:  app.StoreDriverMemory,
		LegacySource: app.LegacySourceNone,
		EvalTimeout:  time.Second,
	}, logger)
	require.NoError(tb, err)

	ctx := context.Background()
	_, err = c.Lifecycle.InitializeBaseline(ctx)
	require.NoError(tb, err)
	for _, id := range []string{"AuthBasicAccess", "ClientReadOnly", "DeliveryChallanCreator"} {
		_, err := c.Assignments.Assign(ctx, "bench-user", id, assignment.AssignInput{})
		require.NoError(tb, err)
	}
	return c.Evaluator
}

func TestEvaluateLatencyTargets(t *testing.T) {
	eval := newEvaluator(t)
	ctx := context.Background()

	samples := make([]time.Duration, 0, 200)
	for i := 0; i < 200; i++ {
		start := time.Now()
		_, err := eval.Evaluate(ctx, evaluator.Request{
			UserID:   "bench-user",
			Action:   "delivery_challan:read",
			Resource: fmt.Sprintf("delivery_challan:%d", i),
		})
		require.NoError(t, err)
		samples = append(samples, time.Since(start))
	}

	threshold := 50 * time.Millisecond
	if p95 := percentile95(samples); p95 > threshold {
		t.Fatalf("in-memory evaluation regression: p95=%s threshold=%s", p95, threshold)
	}
}

func BenchmarkEvaluate(b *testing.B) {
	eval := newEvaluator(b)
	ctx := context.Background()
	req := evaluator.Request{UserID: "bench-user", Action: "delivery_challan:update", Resource: "delivery_challan:42"}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eval.Evaluate(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkMatchPattern(b *testing.B) {
	for i := 0; i < b.N; i++ {
		policy.MatchPattern("delivery_challan:*", "delivery_challan:file:7")
	}
}

func percentile95(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]time.Duration(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	index := int(float64(len(sorted)-1) * 0.95)
	if index < 0 {
		index = 0
	}
	if index >= len(sorted) {
		index = len(sorted) - 1
	}
	return sorted[index]
}
