package mount

import (
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type config struct {
	CacheMaxSize      int           `mapstructure:"cache_maxsize"`
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	DcachePositiveTTL time.Duration `mapstructure:"dcache_positive_ttl"`
	DcacheNegativeTTL time.Duration `mapstructure:"dcache_negative_ttl"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{
		CacheMaxSize:      4096,
		CacheTTL:          5 * time.Minute,
		DcachePositiveTTL: 30 * time.Second,
		DcacheNegativeTTL: 3 * time.Second,
	}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "mount: error decoding conf")
	}
	return c, nil
}
