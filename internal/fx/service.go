package fx

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/text/currency"
)

var (
	// ErrInvalidCurrency rejects codes outside ISO 4217.
	ErrInvalidCurrency = errors.New("fx: invalid currency code")
	// ErrRateUnavailable indicates the provider returned no usable rate.
	ErrRateUnavailable = errors.New("fx: rate unavailable")
)

// RateSource is the external exchange rate provider port.
type RateSource interface {
	FetchRate(ctx context.Context, base, quote string) (float64, error)
}

// RateService caches provider rates in redis. It is constructed explicitly
// and injected; cache invalidation is an explicit call, never ambient.
type RateService struct {
	cache  *redis.Client
	source RateSource
	ttl    time.Duration
}

// NewRateService constructs the service. ttl <= 0 selects one hour.
func NewRateService(cache *redis.Client, source RateSource, ttl time.Duration) *RateService {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RateService{cache: cache, source: source, ttl: ttl}
}

// ValidateCode checks an ISO 4217 currency code.
func ValidateCode(code string) error {
	if _, err := currency.ParseISO(code); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}
	return nil
}

func cacheKey(base, quote string) string {
	return fmt.Sprintf("fx:rate:%s:%s", base, quote)
}

// Rate returns the base to quote exchange rate, consulting the cache first.
// A cache failure falls through to the provider.
func (s *RateService) Rate(ctx context.Context, base, quote string) (float64, error) {
	if err := ValidateCode(base); err != nil {
		return 0, err
	}
	if err := ValidateCode(quote); err != nil {
		return 0, err
	}
	if base == quote {
		return 1, nil
	}
	key := cacheKey(base, quote)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key).Result(); err == nil {
			if rate, err := strconv.ParseFloat(raw, 64); err == nil && rate > 0 {
				return rate, nil
			}
		}
	}
	rate, err := s.source.FetchRate(ctx, base, quote)
	if err != nil {
		return 0, fmt.Errorf("fx: fetch %s/%s: %w", base, quote, err)
	}
	if rate <= 0 {
		return 0, ErrRateUnavailable
	}
	if s.cache != nil {
		_ = s.cache.Set(ctx, key, strconv.FormatFloat(rate, 'f', -1, 64), s.ttl).Err()
	}
	return rate, nil
}

// Invalidate drops the cached rate for one pair.
func (s *RateService) Invalidate(ctx context.Context, base, quote string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.Del(ctx, cacheKey(base, quote)).Err()
}
