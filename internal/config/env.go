package config

import (
	"strings"

	"github.com/spf13/viper"
)

var envKeyReplacer = strings.NewReplacer(".", "_")

// envKeys are bound explicitly; AutomaticEnv alone is not consulted by Unmarshal
// for keys that never appeared in a config file.
var envKeys = []string{
	"backend.auth_url",
	"backend.client_id",
	"backend.redirect_uri",
	"backend.locale",
	"backend.timeout",
	"local.content_path",
	"local.refresh_interval",
	"cache.path",
	"logging.file",
	"logging.level",
	"metrics.listen",
	"tracing.endpoint",
}

func bindEnv(v *viper.Viper) {
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}
}
