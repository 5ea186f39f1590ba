package lock

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type config struct {
	Plugin string   `mapstructure:"plugin"` // memory, redis
	Nodes  []string `mapstructure:"nodes"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{Plugin: "memory"}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "lock: error decoding conf")
	}
	return c, nil
}
