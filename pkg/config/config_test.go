package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replaykit/stitch/pkg/errors"
)

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stitch.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	path := writeConfig(t, `
[ffmpeg]
binary = "/usr/bin/ffmpeg"
extra_args = ["-loglevel", "warning"]
timeout_seconds = 120

[playback]
now_playing_dir = "/tmp/sinks"

[[compilation]]
name = "P1_Comp"
folder = "/replays/p1"
sink = "media_p1"
hotkeys = { save = "F13", build = "F14", clear = "F15" }

[[compilation]]
name = "P2_Comp"
folder = "/replays/p2"
output = "/videos/p2_best.mp4"
sink = "media_p2"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/usr/bin/ffmpeg", cfg.FFmpeg.Binary)
	assert.Equal(t, []string{"-loglevel", "warning"}, cfg.FFmpeg.ExtraArgs)
	assert.Equal(t, 120, cfg.FFmpeg.TimeoutSeconds)
	assert.Equal(t, "/tmp/sinks", cfg.Playback.NowPlayingDir)

	require.Len(t, cfg.Compilations, 2)
	assert.Equal(t, "P1_Comp", cfg.Compilations[0].Name)
	assert.Equal(t, "F14", cfg.Compilations[0].Hotkeys["build"])
	assert.Equal(t, filepath.Join("/replays", "P1_Comp.mp4"), cfg.Compilations[0].OutputPath())
	assert.Equal(t, "/videos/p2_best.mp4", cfg.Compilations[1].OutputPath())
}

func TestLoadDefaultsBinary(t *testing.T) {
	path := writeConfig(t, `
[[compilation]]
name = "A"
folder = "/replays/a"
sink = "media_a"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "ffmpeg", cfg.FFmpeg.Binary)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ValidationError))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name     string
		contents string
		wantCode int
	}{
		{
			name:     "no compilations",
			contents: `[ffmpeg]` + "\n" + `binary = "ffmpeg"`,
			wantCode: errors.ErrConfigNoCompilations,
		},
		{
			name: "missing name",
			contents: `
[[compilation]]
folder = "/replays/a"
sink = "media_a"
`,
			wantCode: errors.ErrConfigMissingName,
		},
		{
			name: "missing folder",
			contents: `
[[compilation]]
name = "A"
sink = "media_a"
`,
			wantCode: errors.ErrConfigMissingFolder,
		},
		{
			name: "missing sink",
			contents: `
[[compilation]]
name = "A"
folder = "/replays/a"
`,
			wantCode: errors.ErrConfigMissingSink,
		},
		{
			name: "duplicate name",
			contents: `
[[compilation]]
name = "A"
folder = "/replays/a"
sink = "media_a"

[[compilation]]
name = "A"
folder = "/replays/b"
sink = "media_b"
`,
			wantCode: errors.ErrConfigDuplicateName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.contents))
			require.Error(t, err)

			var se *errors.StructuredError
			require.ErrorAs(t, err, &se)
			assert.Equal(t, errors.ValidationError, se.Type)
			assert.Equal(t, tt.wantCode, se.Code)
		})
	}
}
