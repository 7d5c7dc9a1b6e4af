package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Defaults holds optional fallback values for knobs the command line does not require.
// Positional arguments documented in the CLI always take precedence over these; Defaults
// exists only so a project can pin its own preferred values once in configs/defuzz.yaml
// instead of retyping them on every invocation.
type Defaults struct {
	LogLevel          string `mapstructure:"log_level"`
	LogDir            string `mapstructure:"log_dir"`
	NBKnownBugs       int    `mapstructure:"nb_known_bugs"`
	Schedule          string `mapstructure:"schedule"`
	GreynessPct       int    `mapstructure:"greyness_pct"`
	ConcatenatednessPct int  `mapstructure:"concatenatedness_pct"`
}

// envVarPattern matches environment variable placeholders: ${VAR_NAME} or $VAR_NAME
var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}|\$([A-Za-z_][A-Za-z0-9_]*)`)

// resolveEnvVars replaces environment variable placeholders in a string with their values.
// If an environment variable is not set, it is left as-is in the string.
func resolveEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match
		if strings.HasPrefix(match, "${") && strings.HasSuffix(match, "}") {
			varName = match[2 : len(match)-1]
		} else if strings.HasPrefix(match, "$") {
			varName = match[1:]
		}
		if value, ok := os.LookupEnv(varName); ok {
			return value
		}
		return match
	})
}

// LoadEnvFromDotEnv loads environment variables from a .env file in the specified directory.
// The .env file is optional; a missing file is not an error.
func LoadEnvFromDotEnv(dir string) error {
	envPath := filepath.Join(dir, ".env")
	if _, err := os.Stat(envPath); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(envPath)
	if err != nil {
		return fmt.Errorf("failed to read .env file: %w", err)
	}

	for lineNum, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, "=")
		if idx < 0 {
			return fmt.Errorf("invalid line in .env file at line %d: missing '='", lineNum+1)
		}

		key := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if strings.HasPrefix(value, "\"") && strings.HasSuffix(value, "\"") {
			value = value[1 : len(value)-1]
		} else if strings.HasPrefix(value, "'") && strings.HasSuffix(value, "'") {
			value = value[1 : len(value)-1]
		}

		if _, exists := os.LookupEnv(key); !exists {
			os.Setenv(key, value)
		}
	}

	return nil
}

// LoadEnvFromDotEnvRecursive searches startDir and its parents for a .env file.
func LoadEnvFromDotEnvRecursive(startDir string) error {
	dir := startDir
	for i := 0; i < 8; i++ {
		envPath := filepath.Join(dir, ".env")
		if _, err := os.Stat(envPath); err == nil {
			return LoadEnvFromDotEnv(dir)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil
}

// resolveInMap recursively resolves environment variables in string map values
// and in the string elements of list values.
func resolveInMap(m map[string]interface{}) {
	for k, v := range m {
		switch val := v.(type) {
		case string:
			if resolved := resolveEnvVars(val); resolved != val {
				m[k] = resolved
			}
		case map[string]interface{}:
			resolveInMap(val)
		case []interface{}:
			for i, item := range val {
				if s, ok := item.(string); ok {
					val[i] = resolveEnvVars(s)
				}
			}
		}
	}
}

// Load reads configs/defuzz.yaml (or ../configs, ../../configs) into Defaults.
// A missing config file is not an error: it simply yields a zero-value Defaults,
// letting callers fall back to the hard-coded defaults documented in the CLI.
func Load() (Defaults, error) {
	var d Defaults

	if err := LoadEnvFromDotEnvRecursive("."); err != nil {
		return d, fmt.Errorf("failed to load .env file: %w", err)
	}

	v := viper.New()
	v.SetConfigName("defuzz")
	v.SetConfigType("yaml")
	v.AddConfigPath("configs")
	v.AddConfigPath("../configs")
	v.AddConfigPath("../../configs")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return d, nil
		}
		return d, fmt.Errorf("failed to read config file: %w", err)
	}

	settings := v.AllSettings()
	resolveInMap(settings)
	resolved := viper.New()
	for k, val := range settings {
		resolved.Set(k, val)
	}

	if err := resolved.Unmarshal(&d); err != nil {
		return d, fmt.Errorf("failed to unmarshal config data: %w", err)
	}

	// Reload on change so a long-running fuzz session can pick up new defaults
	// for the *next* invocation; the running engine itself never re-reads config.
	v.OnConfigChange(func(fsnotify.Event) {})
	v.WatchConfig()

	return d, nil
}
