package financial

import (
	"context"
	"errors"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

type fakeCache struct {
	data    map[string]string
	getErr  error
	setErr  error
	scanErr error
	ttls    map[string]time.Duration
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: make(map[string]string), ttls: make(map[string]time.Duration)}
}

func (f *fakeCache) Get(_ context.Context, key string) *redis.StringCmd {
	if f.getErr != nil {
		return redis.NewStringResult("", f.getErr)
	}
	v, ok := f.data[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeCache) Set(_ context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.setErr != nil {
		return redis.NewStatusResult("", f.setErr)
	}
	switch v := value.(type) {
	case []byte:
		f.data[key] = string(v)
	case string:
		f.data[key] = v
	}
	f.ttls[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

// Scan returns every matching key in one page. Only trailing-star patterns
// are supported.
func (f *fakeCache) Scan(_ context.Context, _ uint64, match string, _ int64) *redis.ScanCmd {
	if f.scanErr != nil {
		return redis.NewScanCmdResult(nil, 0, f.scanErr)
	}
	prefix := strings.TrimSuffix(match, "*")
	var keys []string
	for k := range f.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return redis.NewScanCmdResult(keys, 0, nil)
}

func (f *fakeCache) Del(_ context.Context, keys ...string) *redis.IntCmd {
	var n int64
	for _, k := range keys {
		if _, ok := f.data[k]; ok {
			delete(f.data, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func TestCachedRateRepository_MissThenHit(t *testing.T) {
	inst, proc := uuid.New(), uuid.New()
	next := newMockRateRepo()
	next.rates[rateKey{inst, proc}] = 80
	cache := newFakeCache()
	repo := NewCachedRateRepository(next, cache, time.Minute, zerolog.Nop())

	for i := 0; i < 3; i++ {
		rate, err := repo.GetNegotiatedRate(context.Background(), inst, proc, serviceDay)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if rate == nil || *rate != 80 {
			t.Fatalf("expected 80, got %v", rate)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected 1 repository call, got %d", next.calls)
	}
	if ttl := cache.ttls[rateCacheKey(inst, proc, serviceDay)]; ttl != time.Minute {
		t.Errorf("expected ttl 1m, got %v", ttl)
	}
}

func TestCachedRateRepository_CachesAbsentRate(t *testing.T) {
	next := newMockRateRepo()
	repo := NewCachedRateRepository(next, newFakeCache(), 0, zerolog.Nop())
	inst, proc := uuid.New(), uuid.New()

	for i := 0; i < 2; i++ {
		rate, err := repo.GetNegotiatedRate(context.Background(), inst, proc, serviceDay)
		if err != nil || rate != nil {
			t.Fatalf("expected (nil, nil), got (%v, %v)", rate, err)
		}
	}
	if next.calls != 1 {
		t.Errorf("expected absent rate to be cached, got %d calls", next.calls)
	}
	if repo.ttl != DefaultRateCacheTTL {
		t.Errorf("expected default ttl, got %v", repo.ttl)
	}
}

func TestCachedRateRepository_CacheErrorsFallThrough(t *testing.T) {
	inst, proc := uuid.New(), uuid.New()
	next := newMockRateRepo()
	next.rates[rateKey{inst, proc}] = 55
	cache := newFakeCache()
	cache.getErr = errors.New("dial tcp: connection refused")
	cache.setErr = errors.New("dial tcp: connection refused")
	repo := NewCachedRateRepository(next, cache, time.Minute, zerolog.Nop())

	for i := 0; i < 2; i++ {
		rate, err := repo.GetNegotiatedRate(context.Background(), inst, proc, serviceDay)
		if err != nil || rate == nil || *rate != 55 {
			t.Fatalf("expected 55 from repository, got (%v, %v)", rate, err)
		}
	}
	if next.calls != 2 {
		t.Errorf("expected every lookup to reach the repository, got %d", next.calls)
	}
}

func TestCachedRateRepository_MalformedEntry(t *testing.T) {
	inst, proc := uuid.New(), uuid.New()
	next := newMockRateRepo()
	next.rates[rateKey{inst, proc}] = 12
	cache := newFakeCache()
	cache.data[rateCacheKey(inst, proc, serviceDay)] = "{not json"
	repo := NewCachedRateRepository(next, cache, time.Minute, zerolog.Nop())

	rate, err := repo.GetNegotiatedRate(context.Background(), inst, proc, serviceDay)
	if err != nil || rate == nil || *rate != 12 {
		t.Fatalf("expected 12, got (%v, %v)", rate, err)
	}
	if cache.data[rateCacheKey(inst, proc, serviceDay)] == "{not json" {
		t.Error("expected malformed entry to be overwritten")
	}
}

func TestCachedRateRepository_RepositoryError(t *testing.T) {
	next := newMockRateRepo()
	next.err = errBoom
	cache := newFakeCache()
	repo := NewCachedRateRepository(next, cache, time.Minute, zerolog.Nop())

	if _, err := repo.GetNegotiatedRate(context.Background(), uuid.New(), uuid.New(), serviceDay); !errors.Is(err, errBoom) {
		t.Fatalf("expected repository error, got %v", err)
	}
	if len(cache.data) != 0 {
		t.Error("errors must not be cached")
	}
}

func TestCachedRateRepository_KeyedByServiceDate(t *testing.T) {
	inst, proc := uuid.New(), uuid.New()
	next := newMockRateRepo()
	next.rates[rateKey{inst, proc}] = 40
	cache := newFakeCache()
	repo := NewCachedRateRepository(next, cache, time.Minute, zerolog.Nop())

	later := serviceDay.AddDate(0, 0, 1)
	for _, on := range []time.Time{serviceDay, later, serviceDay} {
		if _, err := repo.GetNegotiatedRate(context.Background(), inst, proc, on); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if next.calls != 2 {
		t.Errorf("expected one repository call per service date, got %d", next.calls)
	}
	if !next.lastOn.Equal(later) {
		t.Errorf("expected service date %v forwarded, got %v", later, next.lastOn)
	}
}

func TestCachedRateRepository_InvalidateAfterImport(t *testing.T) {
	inst, other, proc := uuid.New(), uuid.New(), uuid.New()
	next := newMockRateRepo()
	next.rates[rateKey{other, proc}] = 30
	cache := newFakeCache()
	repo := NewCachedRateRepository(next, cache, time.Hour, zerolog.Nop())
	ctx := context.Background()

	if rate, _ := repo.GetNegotiatedRate(ctx, inst, proc, serviceDay); rate != nil {
		t.Fatalf("expected no rate before import, got %v", *rate)
	}
	if _, err := repo.GetNegotiatedRate(ctx, other, proc, serviceDay); err != nil {
		t.Fatal(err)
	}

	// a new rate sheet lands for inst only
	next.rates[rateKey{inst, proc}] = 65
	if rate, _ := repo.GetNegotiatedRate(ctx, inst, proc, serviceDay); rate != nil {
		t.Fatalf("expected cached absent rate before invalidation, got %v", *rate)
	}

	n, err := repo.Invalidate(ctx, inst)
	if err != nil {
		t.Fatalf("Invalidate() error: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 key deleted, got %d", n)
	}
	rate, err := repo.GetNegotiatedRate(ctx, inst, proc, serviceDay)
	if err != nil || rate == nil || *rate != 65 {
		t.Fatalf("expected imported rate 65 after invalidation, got (%v, %v)", rate, err)
	}
	if _, ok := cache.data[rateCacheKey(other, proc, serviceDay)]; !ok {
		t.Error("other institutions must keep their cached rates")
	}
}

func TestCachedRateRepository_InvalidateScanError(t *testing.T) {
	cache := newFakeCache()
	cache.scanErr = errors.New("dial tcp: connection refused")
	repo := NewCachedRateRepository(newMockRateRepo(), cache, time.Minute, zerolog.Nop())

	if _, err := repo.Invalidate(context.Background(), uuid.New()); err == nil {
		t.Fatal("expected scan error to be returned")
	}
}

func TestRateInstitutions(t *testing.T) {
	a, b := uuid.New(), uuid.New()
	got := RateInstitutions([]*NegotiatedRate{
		{InstitutionID: a}, {InstitutionID: b}, {InstitutionID: a},
	})
	if len(got) != 2 || got[0] != a || got[1] != b {
		t.Errorf("expected [%s %s], got %v", a, b, got)
	}
}
