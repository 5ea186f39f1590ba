package cas

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type config struct {
	RootPath         string `mapstructure:"root_path"`
	CacheMaxSize     int    `mapstructure:"cache_maxsize"`
	BatchReadWorkers int    `mapstructure:"batch_read_workers"`
	ChunkSize        int    `mapstructure:"chunk_size"`
}

func (c *config) init() {
	if c.CacheMaxSize == 0 {
		c.CacheMaxSize = 1024
	}
	if c.BatchReadWorkers == 0 {
		c.BatchReadWorkers = 8
	}
	if c.ChunkSize == 0 {
		c.ChunkSize = 8 * 1024
	}
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "cas: error decoding conf")
	}
	if c.RootPath == "" {
		return nil, errors.New("cas: root_path is required")
	}
	c.init()
	return c, nil
}
