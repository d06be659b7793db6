package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"

	"github.com/replaykit/stitch/pkg/errors"
)

// FFmpeg contains settings for the external transcoder invocation.
type FFmpeg struct {
	// Binary is the ffmpeg executable name or absolute path.
	Binary string `toml:"binary"`
	// ExtraArgs are appended to the concat command line before the output
	// path, mirroring the tool's positional argument rules.
	ExtraArgs []string `toml:"extra_args"`
	// TimeoutSeconds bounds a single transcode. Zero means no timeout.
	TimeoutSeconds int `toml:"timeout_seconds"`
}

// Playback contains settings for the playback surface integration.
type Playback struct {
	// NowPlayingDir, when set, receives one "<sink>.txt" file per successful
	// build containing the finished output path.
	NowPlayingDir string `toml:"now_playing_dir"`
}

// Compilation describes one named replay compilation.
type Compilation struct {
	// Name is the unique key triggers use to address this compilation.
	Name string `toml:"name"`
	// Folder is the directory that accumulates this compilation's clips.
	Folder string `toml:"folder"`
	// Output is the finished file's destination. Defaults to
	// "<name>.mp4" next to the clip folder when empty.
	Output string `toml:"output"`
	// Sink identifies the playback surface that should show the result.
	Sink string `toml:"sink"`
	// Hotkeys maps action names to host-side hotkey identifiers. Opaque to
	// this process; carried only so the host event source can route triggers.
	Hotkeys map[string]string `toml:"hotkeys"`
}

// Config is the root configuration, read once at startup.
type Config struct {
	FFmpeg       FFmpeg        `toml:"ffmpeg"`
	Playback     Playback      `toml:"playback"`
	Compilations []Compilation `toml:"compilation"`
}

// OutputPath returns the compilation's configured output path, or the
// default location next to its clip folder.
func (c Compilation) OutputPath() string {
	if c.Output != "" {
		return c.Output
	}
	return filepath.Join(filepath.Dir(c.Folder), c.Name+".mp4")
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ValidationError, "Failed to read configuration file", errors.ErrConfigUnreadable)
	}

	cfg := &Config{}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, errors.ValidationError, "Failed to parse configuration file", errors.ErrConfigUnreadable)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.FFmpeg.Binary == "" {
		c.FFmpeg.Binary = "ffmpeg"
	}
}

// Validate checks that every required field is present and that compilation
// names are unique. It returns a typed ValidationError describing the first
// problem found.
func (c *Config) Validate() error {
	if len(c.Compilations) == 0 {
		return errors.New(errors.ValidationError, "No compilations configured", "", errors.ErrConfigNoCompilations)
	}

	seen := make(map[string]struct{}, len(c.Compilations))
	for i, comp := range c.Compilations {
		at := fmt.Sprintf("compilation #%d", i+1)
		if comp.Name == "" {
			return errors.New(errors.ValidationError, "Compilation name is required", at, errors.ErrConfigMissingName)
		}
		if comp.Folder == "" {
			return errors.New(errors.ValidationError, "Compilation folder is required", comp.Name, errors.ErrConfigMissingFolder)
		}
		if comp.Sink == "" {
			return errors.New(errors.ValidationError, "Compilation sink is required", comp.Name, errors.ErrConfigMissingSink)
		}
		if _, dup := seen[comp.Name]; dup {
			return errors.New(errors.ValidationError, "Duplicate compilation name", comp.Name, errors.ErrConfigDuplicateName)
		}
		seen[comp.Name] = struct{}{}
	}
	return nil
}
