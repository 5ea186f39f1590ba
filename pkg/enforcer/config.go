package enforcer

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

type config struct {
	AllowAdminBypass bool `mapstructure:"allow_admin_bypass"`
}

func parseConfig(m map[string]interface{}) (*config, error) {
	c := &config{}
	if err := mapstructure.Decode(m, c); err != nil {
		return nil, errors.Wrap(err, "enforcer: error decoding conf")
	}
	return c, nil
}
