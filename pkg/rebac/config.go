package rebac

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type config struct {
	CacheTTLSeconds    int  `mapstructure:"cache_ttl_seconds"`
	MaxDepth           int  `mapstructure:"max_depth"`
	MaxFanOut          int  `mapstructure:"max_fan_out"`
	MaxVisitedNodes    int  `mapstructure:"max_visited_nodes"`
	MaxTupleQueries    int  `mapstructure:"max_tuple_queries"`
	MaxExecutionTimeMs int  `mapstructure:"max_execution_time_ms"`
	EnableL1Cache      bool `mapstructure:"enable_l1_cache"`
	EnableL2Cache      bool `mapstructure:"enable_l2_cache"`
}

func (c *config) init() {
	if c.MaxDepth == 0 {
		c.MaxDepth = 50
	}
	if c.MaxFanOut == 0 {
		c.MaxFanOut = 100
	}
	if c.MaxVisitedNodes == 0 {
		c.MaxVisitedNodes = 10000
	}
	if c.MaxTupleQueries == 0 {
		c.MaxTupleQueries = 5000
	}
	if c.MaxExecutionTimeMs == 0 {
		c.MaxExecutionTimeMs = 2000
	}
	if c.CacheTTLSeconds == 0 {
		c.CacheTTLSeconds = 60
	}
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{EnableL1Cache: true}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "rebac: error decoding conf")
	}
	c.init()
	return c, nil
}
