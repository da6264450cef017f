package prometheus

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	goMembership "github.com/MrEthical07/goMembership"
	"github.com/MrEthical07/goMembership/repository/memory"
)

type fakeSource struct {
	snapshot goMembership.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() goMembership.MetricsSnapshot { return f.snapshot }
func (f fakeSource) AuditDropped() uint64                          { return f.dropped }

type fakeLive struct {
	online int
}

func (f fakeLive) GetNumberOfUsersOnline(context.Context) (int, error) { return f.online, nil }
func (f fakeLive) EstimateActiveSessions(context.Context) (int, error) {
	return 0, errors.New("not supported")
}

func activeSource() fakeSource {
	return fakeSource{
		snapshot: goMembership.MetricsSnapshot{
			Counters: map[goMembership.MetricID]uint64{
				goMembership.MetricValidateSuccess: 7,
			},
			Histograms: map[goMembership.MetricID][]uint64{
				goMembership.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	}
}

func TestRenderEmptyWhenMetricsDisabled(t *testing.T) {
	exp := New(fakeSource{
		snapshot: goMembership.MetricsSnapshot{
			Counters:   map[goMembership.MetricID]uint64{},
			Histograms: map[goMembership.MetricID][]uint64{},
		},
	})

	if got := exp.Render(context.Background()); got != "" {
		t.Fatalf("expected empty output for disabled metrics, got:\n%s", got)
	}
}

func TestRenderCountersAndHistogram(t *testing.T) {
	out := New(activeSource()).Render(context.Background())

	for _, want := range []string{
		"# TYPE gomembership_validate_success_total counter\n",
		"gomembership_validate_success_total 7\n",
		"gomembership_user_created_total 0\n",
		`gomembership_validate_latency_seconds_bucket{le="0.005"} 1` + "\n",
		`gomembership_validate_latency_seconds_bucket{le="+Inf"} 36` + "\n",
		"gomembership_validate_latency_seconds_count 36\n",
		"gomembership_audit_dropped_total 2\n",
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "gomembership_users_online") {
		t.Fatal("live gauges rendered without WithLiveGauges")
	}
}

func TestRenderConstLabelsAndLiveGauges(t *testing.T) {
	exp := New(activeSource(),
		WithLabels(map[string]string{"application": `sh"op`, "env": "test"}),
		WithLiveGauges(fakeLive{online: 4}),
	)
	out := exp.Render(context.Background())

	for _, want := range []string{
		`gomembership_validate_success_total{application="sh\"op",env="test"} 7`,
		`gomembership_validate_latency_seconds_bucket{application="sh\"op",env="test",le="0.5"} 28`,
		`gomembership_users_online{application="sh\"op",env="test"} 4`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output, got:\n%s", want, out)
		}
	}
	if strings.Contains(out, "gomembership_sessions_active") {
		t.Fatal("failed gauge reading should be skipped")
	}
}

func TestServeHTTP(t *testing.T) {
	exp := New(activeSource())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	exp.ServeHTTP(rec, req)

	if got := rec.Header().Get("Content-Type"); !strings.Contains(got, "text/plain") {
		t.Fatalf("expected prometheus content type, got %q", got)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "gomembership_validate_success_total 7") {
		t.Fatalf("unexpected body:\n%s", rec.Body.String())
	}
}

func TestEngineExport(t *testing.T) {
	cfg := goMembership.DefaultConfig()
	cfg.Metrics.Enabled = true
	engine, err := goMembership.New().
		WithConfig(cfg).
		WithUserRepository(memory.NewUsers()).
		WithSessionRepository(memory.NewSessions()).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	defer engine.Close()

	ctx := context.Background()
	if ok, _ := engine.ValidateUser(ctx, "ghost", "x"); ok {
		t.Fatal("expected unknown user to fail")
	}

	out := New(engine, WithLiveGauges(engine)).Render(ctx)
	if !strings.Contains(out, "gomembership_validate_failure_total 1") {
		t.Fatalf("expected one validate failure, got:\n%s", out)
	}
	if !strings.Contains(out, "gomembership_users_online 0") {
		t.Fatalf("expected users online gauge, got:\n%s", out)
	}
}

func BenchmarkRender(b *testing.B) {
	exp := New(fakeSource{
		snapshot: goMembership.MetricsSnapshot{
			Counters: map[goMembership.MetricID]uint64{
				goMembership.MetricValidateSuccess:     1000,
				goMembership.MetricValidateFailure:     40,
				goMembership.MetricSessionLockAcquired: 800,
				goMembership.MetricSessionReleased:     790,
				goMembership.MetricSessionCreated:      800,
				goMembership.MetricSessionLockConflict: 20,
				goMembership.MetricUserLockedOut:       3,
			},
			Histograms: map[goMembership.MetricID][]uint64{
				goMembership.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	}, WithLabels(map[string]string{"application": "shop"}))
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = exp.Render(ctx)
	}
}
