package config

import (
	"os"
	"strings"
)

const (
	appEnvVar              = "APP_ENV"
	environmentDevelopment = "development"
	environmentProduction  = "production"
	environmentStaging     = "staging"
)

var environmentAliases = map[string]string{
	"prod": environmentProduction,
	"stag": environmentStaging,
}

// AppEnvironment reads the application environment from APP_ENV and
// defaults to development when no value is provided.
func AppEnvironment() string {
	env := strings.ToLower(strings.TrimSpace(os.Getenv(appEnvVar)))
	if env == "" {
		return environmentDevelopment
	}
	if canonical, ok := environmentAliases[env]; ok {
		return canonical
	}
	return env
}

// ResolvePath selects an environment specific configuration file when one
// exists next to the requested path, e.g. config.production.yml for
// config.yml under APP_ENV=production. The requested path wins when no
// environment specific file is present.
func ResolvePath(path string) string {
	env := AppEnvironment()
	if env == environmentDevelopment {
		return path
	}

	if idx := strings.LastIndex(path, ".yml"); idx > 0 && idx == len(path)-4 {
		candidate := path[:idx] + "." + env + ".yml"
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return path
}
