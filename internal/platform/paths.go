// Package platform resolves per-OS locations for bomcat's config, data and logs.
package platform

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// DefaultAppName names the config/data directories.
const DefaultAppName = "bomcat"

// Environment variables read by OptionsFromEnv.
const (
	EnvAppName = "BOMCAT_APP_NAME"
	EnvDevMode = "BOMCAT_DEV_MODE"
)

// Paths lists the resolved on-disk locations.
type Paths struct {
	ConfigPath string
	DataDir    string
	DBPath     string
	LogDir     string
}

// Options selects the directory namespace.
type Options struct {
	AppName string
	DevMode bool
}

// OptionsFromEnv reads BOMCAT_APP_NAME and BOMCAT_DEV_MODE through lookup.
func OptionsFromEnv(lookup func(string) (string, bool)) Options {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	var opts Options
	if v, ok := lookup(EnvAppName); ok {
		opts.AppName = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvDevMode); ok {
		opts.DevMode, _ = strconv.ParseBool(strings.TrimSpace(v))
	}
	return opts
}

// DefaultPaths returns the paths of the default app namespace.
func DefaultPaths() (Paths, error) {
	return DefaultPathsWithOptions(Options{})
}

// DefaultPathsWithOptions resolves paths from the current user's OS directories.
func DefaultPathsWithOptions(opts Options) (Paths, error) {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return Paths{}, fmt.Errorf("user config dir: %w", err)
	}
	dataDir := configDir
	switch runtime.GOOS {
	case "linux":
		home, err := os.UserHomeDir()
		if err != nil {
			return Paths{}, fmt.Errorf("user home dir: %w", err)
		}
		dataDir = filepath.Join(home, ".local", "share")
	case "windows":
		if v := strings.TrimSpace(os.Getenv("LOCALAPPDATA")); v != "" {
			dataDir = v
		}
	}

	env := map[string]string{}
	for _, key := range []string{"XDG_CONFIG_HOME", "XDG_DATA_HOME", "XDG_STATE_HOME", "APPDATA", "LOCALAPPDATA"} {
		env[key] = os.Getenv(key)
	}
	return PathsFor(runtime.GOOS, env, configDir, dataDir, appNameFor(opts))
}

// appNameFor applies defaults and the dev-mode suffix.
func appNameFor(opts Options) string {
	name := strings.TrimSpace(opts.AppName)
	if name == "" {
		name = DefaultAppName
	}
	if opts.DevMode {
		name += "-dev"
	}
	return name
}

// PathsFor resolves paths for goos from explicit base directories and environment values.
func PathsFor(goos string, env map[string]string, userConfigDir, userDataDir, appName string) (Paths, error) {
	if userConfigDir == "" || userDataDir == "" {
		return Paths{}, fmt.Errorf("empty base dirs")
	}
	appName = strings.TrimSpace(appName)
	if appName == "" {
		return Paths{}, fmt.Errorf("empty app name")
	}
	if strings.ContainsAny(appName, `/\`) {
		return Paths{}, fmt.Errorf("app name %q must not contain path separators", appName)
	}

	configBase, dataBase := userConfigDir, userDataDir
	var stateBase string
	switch goos {
	case "linux":
		if v := env["XDG_CONFIG_HOME"]; v != "" {
			configBase = v
		}
		if v := env["XDG_DATA_HOME"]; v != "" {
			dataBase = v
		}
		stateBase = env["XDG_STATE_HOME"]
	case "windows":
		if v := env["APPDATA"]; v != "" {
			configBase = v
		}
		if v := env["LOCALAPPDATA"]; v != "" {
			dataBase = v
		}
	}

	appDataDir := filepath.Join(dataBase, appName)
	logDir := filepath.Join(appDataDir, "log")
	if stateBase != "" {
		logDir = filepath.Join(stateBase, appName, "log")
	}
	return Paths{
		ConfigPath: filepath.Join(configBase, appName, "config.toml"),
		DataDir:    appDataDir,
		DBPath:     filepath.Join(appDataDir, appName+".db"),
		LogDir:     logDir,
	}, nil
}
