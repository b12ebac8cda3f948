package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scpd.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `ae_title = "ARCHIVE"`))
	require.NoError(t, err)

	want := DefaultConfig()
	want.AETitle = "ARCHIVE"
	require.Equal(t, want, cfg)
}

func TestLoadOverrides(t *testing.T) {
	testlog.Start(t)
	cfg, err := Load(writeConfig(t, `
ae_title = " PACS "
port = 4242
services = ["verification", " ", "storage"]
image_syntaxes = ["jpeg_lossless", "rle"]
bitbucket = true
stream_objects = false
drain_timeout = "250ms"
dimse_timeout = "1m"
accept_rate = 2.5
accept_burst = 4
max_pdu_bytes = 65536
allowed_calling_aes = ["MODALITY", "WORKSTATION"]

[tls]
enabled = false
`))
	require.NoError(t, err)
	require.Equal(t, "PACS", cfg.AETitle)
	require.Equal(t, 4242, cfg.Port)
	require.Equal(t, []string{"verification", "storage"}, cfg.Services)
	require.Equal(t, []string{"jpeg_lossless", "rle"}, cfg.ImageSyntaxes)
	require.True(t, cfg.Bitbucket)
	require.False(t, cfg.StreamObjects)
	require.Equal(t, 250*time.Millisecond, cfg.DrainTimeout)
	require.Equal(t, time.Minute, cfg.DimseTimeout)
	require.Equal(t, 2.5, cfg.AcceptRate)
	require.Equal(t, 4, cfg.AcceptBurst)
	require.Equal(t, uint64(65536), cfg.MaxPDUBytes)
	require.Equal(t, []string{"MODALITY", "WORKSTATION"}, cfg.AllowedCallingAEs)

	params := cfg.Listener()
	require.Equal(t, time.Minute, params.DimseTimeout)
	require.Equal(t, uint64(65536), params.MaxPayloadBytes)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	testlog.Start(t)
	cases := map[string]string{
		"ae_title":            `ae_title = "THIS-TITLE-IS-TOO-LONG"`,
		"port":                `port = 70000`,
		"services":            `services = []`,
		"image_syntaxes":      `image_syntaxes = ["webp"]`,
		"drain_timeout":       `drain_timeout = "soon"`,
		"max_pdu_bytes":       `max_pdu_bytes = 0`,
		"unknown key":         `colour = "blue"`,
		"storage_dir":         `storage_dir = ""`,
		"tls":                 "[tls]\nenabled = true",
		"accept_rate":         `accept_rate = -1.0`,
		"allowed_calling_aes": `allowed_calling_aes = ['BAD\AE']`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}

func TestTemplateLoads(t *testing.T) {
	testlog.Start(t)
	path := filepath.Join(t.TempDir(), "etc", "scpd.toml")
	require.NoError(t, WriteTemplate(path, false))
	require.Error(t, WriteTemplate(path, false))
	require.NoError(t, WriteTemplate(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	want := DefaultConfig()
	want.ImageSyntaxes = []string{}
	want.AllowedCallingAEs = []string{}
	want.CorsOrigins = []string{}
	require.Equal(t, want, cfg)
}
