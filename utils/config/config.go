package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix of environment variables that override file values,
// e.g. KERNEL_LOG_LEVEL=debug.
const EnvPrefix = "KERNEL"

// CargarConfig reads filePath (JSON or YAML, by extension) on top of defaults
// and decodes the result into a T using its mapstructure tags.
func CargarConfig[T any](filePath string, defaults map[string]any) (*T, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if filePath != "" {
		v.SetConfigFile(filePath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", filePath, err)
		}
	}

	config := new(T)
	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("decoding config %s: %w", filePath, err)
	}
	return config, nil
}
