package platform

import (
	"path/filepath"
	"testing"
)

func TestPathsFor(t *testing.T) {
	cases := []struct {
		name       string
		goos       string
		env        map[string]string
		configBase string
		dataBase   string
		wantConfig string
		wantDB     string
		wantLog    string
	}{
		{
			name:       "linux xdg",
			goos:       "linux",
			env:        map[string]string{"XDG_CONFIG_HOME": "/xdg/config", "XDG_DATA_HOME": "/xdg/data", "XDG_STATE_HOME": "/xdg/state"},
			configBase: "/fallback/config",
			dataBase:   "/fallback/data",
			wantConfig: filepath.Join("/xdg/config", "bomcat", "config.toml"),
			wantDB:     filepath.Join("/xdg/data", "bomcat", "bomcat.db"),
			wantLog:    filepath.Join("/xdg/state", "bomcat", "log"),
		},
		{
			name:       "linux without xdg",
			goos:       "linux",
			env:        map[string]string{},
			configBase: "/home/me/.config",
			dataBase:   "/home/me/.local/share",
			wantConfig: filepath.Join("/home/me/.config", "bomcat", "config.toml"),
			wantDB:     filepath.Join("/home/me/.local/share", "bomcat", "bomcat.db"),
			wantLog:    filepath.Join("/home/me/.local/share", "bomcat", "log"),
		},
		{
			name:       "windows appdata",
			goos:       "windows",
			env:        map[string]string{"APPDATA": `C:\Users\me\AppData\Roaming`, "LOCALAPPDATA": `C:\Users\me\AppData\Local`},
			configBase: `C:\fallback\config`,
			dataBase:   `C:\fallback\data`,
			wantConfig: filepath.Join(`C:\Users\me\AppData\Roaming`, "bomcat", "config.toml"),
			wantDB:     filepath.Join(`C:\Users\me\AppData\Local`, "bomcat", "bomcat.db"),
			wantLog:    filepath.Join(`C:\Users\me\AppData\Local`, "bomcat", "log"),
		},
		{
			name:       "darwin ignores xdg",
			goos:       "darwin",
			env:        map[string]string{"XDG_CONFIG_HOME": "/ignored", "XDG_STATE_HOME": "/ignored"},
			configBase: "/Users/me/Library/Application Support",
			dataBase:   "/Users/me/Library/Application Support",
			wantConfig: filepath.Join("/Users/me/Library/Application Support", "bomcat", "config.toml"),
			wantDB:     filepath.Join("/Users/me/Library/Application Support", "bomcat", "bomcat.db"),
			wantLog:    filepath.Join("/Users/me/Library/Application Support", "bomcat", "log"),
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p, err := PathsFor(tc.goos, tc.env, tc.configBase, tc.dataBase, "bomcat")
			if err != nil {
				t.Fatalf("PathsFor() error = %v", err)
			}
			if p.ConfigPath != tc.wantConfig {
				t.Fatalf("unexpected config path %q", p.ConfigPath)
			}
			if p.DBPath != tc.wantDB {
				t.Fatalf("unexpected db path %q", p.DBPath)
			}
			if p.LogDir != tc.wantLog {
				t.Fatalf("unexpected log dir %q", p.LogDir)
			}
		})
	}
}

func TestPathsForRejectsBadInput(t *testing.T) {
	if _, err := PathsFor("darwin", nil, "", "/tmp/data", "bomcat"); err == nil {
		t.Fatal("expected error for empty dirs")
	}
	if _, err := PathsFor("linux", nil, "/cfg", "/data", " "); err == nil {
		t.Fatal("expected error for empty app name")
	}
	if _, err := PathsFor("linux", nil, "/cfg", "/data", "../escape"); err == nil {
		t.Fatal("expected error for app name with separators")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	env := map[string]string{EnvAppName: " bomcat-staging ", EnvDevMode: "true"}
	opts := OptionsFromEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if opts.AppName != "bomcat-staging" || !opts.DevMode {
		t.Fatalf("unexpected options %#v", opts)
	}
	if got := appNameFor(opts); got != "bomcat-staging-dev" {
		t.Fatalf("appNameFor() = %q", got)
	}
	if got := appNameFor(Options{}); got != DefaultAppName {
		t.Fatalf("appNameFor(default) = %q", got)
	}
}

func TestDefaultPathsWithOptionsDevMode(t *testing.T) {
	p, err := DefaultPathsWithOptions(Options{DevMode: true})
	if err != nil {
		t.Fatalf("DefaultPathsWithOptions() error = %v", err)
	}
	if filepath.Base(filepath.Dir(p.ConfigPath)) != "bomcat-dev" {
		t.Fatalf("expected dev config dir suffix, got %q", p.ConfigPath)
	}
	if filepath.Base(p.DBPath) != "bomcat-dev.db" {
		t.Fatalf("expected dev db name, got %q", p.DBPath)
	}
}
