package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/auditrail/auditrail/internal/kv"
	"github.com/auditrail/auditrail/internal/metrics"
)

type fakeKV struct {
	values map[string]string
}

func newFakeKV() *fakeKV { return &fakeKV{values: map[string]string{}} }

func (f *fakeKV) Incr(ctx context.Context, key string) (int64, error) { return f.IncrBy(ctx, key, 1) }

func (f *fakeKV) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	var cur int64
	if v, ok := f.values[key]; ok {
		for _, c := range v {
			cur = cur*10 + int64(c-'0')
		}
	}
	cur += delta
	f.values[key] = itoa(cur)
	return cur, nil
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

func (f *fakeKV) Set(ctx context.Context, key, value string) error { f.values[key] = value; return nil }

func (f *fakeKV) SetEx(ctx context.Context, key, value string, ttl time.Duration) error {
	return f.Set(ctx, key, value)
}

func (f *fakeKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, ok := f.values[key]
	return v, ok, nil
}

func (f *fakeKV) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := f.values[key]
	return ok, nil
}

func (f *fakeKV) Delete(ctx context.Context, key string) error { delete(f.values, key); return nil }

func (f *fakeKV) Expire(ctx context.Context, key string, ttl time.Duration) error { return nil }

func (f *fakeKV) Keys(ctx context.Context, pattern string) ([]string, error) { return nil, nil }

var _ kv.Store = (*fakeKV)(nil)

type fakeAlertCounter struct {
	count int
	err   error
}

func (f *fakeAlertCounter) CountActive(ctx context.Context, organizationID string) (int, error) {
	return f.count, f.err
}

func noRetryConfig() Config {
	return Config{Timeout: time.Second, Retries: 0, RetryDelay: time.Millisecond}
}

func TestCheckReturnsOKWhenNothingIsWrong(t *testing.T) {
	collector := metrics.NewCollector(newFakeKV())
	checker := NewChecker(collector, &fakeAlertCounter{count: 1}, noRetryConfig())

	report := checker.Check(context.Background(), "org-1")

	assert.Equal(t, StatusOK, report.Status)
	assert.Len(t, report.Checks, 4)
}

func TestCheckReturnsWarningWhenActiveAlertsExceedThreshold(t *testing.T) {
	collector := metrics.NewCollector(newFakeKV())
	checker := NewChecker(collector, &fakeAlertCounter{count: 11}, noRetryConfig())

	report := checker.Check(context.Background(), "org-1")

	assert.Equal(t, StatusWarning, report.Status)
}

func TestCheckReturnsCriticalWhenErrorRateExceedsThreshold(t *testing.T) {
	store := newFakeKV()
	collector := metrics.NewCollector(store)
	ctx := context.Background()
	for i := 0; i < 20; i++ {
		require.NoError(t, collector.Incr(ctx, "eventsProcessed"))
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, collector.Incr(ctx, "errorsGenerated"))
	}
	checker := NewChecker(collector, &fakeAlertCounter{count: 0}, noRetryConfig())

	report := checker.Check(ctx, "org-1")

	assert.Equal(t, StatusCritical, report.Status)
}

func TestCheckSkipsActiveAlertsWhenOrganizationIDEmpty(t *testing.T) {
	collector := metrics.NewCollector(newFakeKV())
	checker := NewChecker(collector, &fakeAlertCounter{count: 999}, noRetryConfig())

	report := checker.Check(context.Background(), "")

	assert.Equal(t, StatusOK, report.Status)
}

func TestCheckActiveAlertsOKWhenCounterNil(t *testing.T) {
	collector := metrics.NewCollector(newFakeKV())
	checker := NewChecker(collector, nil, noRetryConfig())

	report := checker.Check(context.Background(), "org-1")

	assert.Equal(t, StatusOK, report.Status)
}
