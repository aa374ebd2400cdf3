package fx

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	rate  float64
	err   error
	calls int
}

func (s *stubSource) FetchRate(ctx context.Context, base, quote string) (float64, error) {
	s.calls++
	return s.rate, s.err
}

func newTestService(t *testing.T, source RateSource) (*RateService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewRateService(client, source, time.Hour), mr
}

func TestRateCachesProviderResult(t *testing.T) {
	source := &stubSource{rate: 1.0842}
	svc, mr := newTestService(t, source)

	rate, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	require.InDelta(t, 1.0842, rate, 0.0001)
	require.Equal(t, 1, source.calls)
	require.True(t, mr.Exists("fx:rate:EUR:USD"))

	rate, err = svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	require.InDelta(t, 1.0842, rate, 0.0001)
	require.Equal(t, 1, source.calls)
}

func TestInvalidateForcesRefetch(t *testing.T) {
	source := &stubSource{rate: 1.0842}
	svc, _ := newTestService(t, source)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)

	require.NoError(t, svc.Invalidate(context.Background(), "EUR", "USD"))
	source.rate = 1.0950

	rate, err := svc.Rate(context.Background(), "EUR", "USD")
	require.NoError(t, err)
	require.InDelta(t, 1.0950, rate, 0.0001)
	require.Equal(t, 2, source.calls)
}

func TestRateRejectsUnknownCode(t *testing.T) {
	source := &stubSource{rate: 1}
	svc, _ := newTestService(t, source)

	_, err := svc.Rate(context.Background(), "EUR", "DOGE")
	require.ErrorIs(t, err, ErrInvalidCurrency)
	require.Zero(t, source.calls)
}

func TestRateIdentityPair(t *testing.T) {
	source := &stubSource{rate: 2}
	svc, _ := newTestService(t, source)

	rate, err := svc.Rate(context.Background(), "USD", "USD")
	require.NoError(t, err)
	require.InDelta(t, 1.0, rate, 0.0001)
	require.Zero(t, source.calls)
}

func TestRateRejectsNonPositiveProviderRate(t *testing.T) {
	source := &stubSource{rate: 0}
	svc, mr := newTestService(t, source)

	_, err := svc.Rate(context.Background(), "EUR", "USD")
	require.ErrorIs(t, err, ErrRateUnavailable)
	require.False(t, mr.Exists("fx:rate:EUR:USD"))
}

func TestRateSurvivesCacheOutage(t *testing.T) {
	source := &stubSource{rate: 1.21}
	svc, mr := newTestService(t, source)
	mr.Close()

	rate, err := svc.Rate(context.Background(), "GBP", "USD")
	require.NoError(t, err)
	require.InDelta(t, 1.21, rate, 0.0001)
	require.Equal(t, 1, source.calls)
}
