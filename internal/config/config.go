package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/danmuck/scpd/internal/services"
)

var ErrInvalidConfig = errors.New("config: invalid")

// Config is the daemon configuration of one listening AE.
type Config struct {
	AETitle string
	Address string
	Port    int

	StorageDir    string
	Bitbucket     bool
	StreamObjects bool
	Services      []string
	ImageSyntaxes []string

	Workers      int
	DrainTimeout time.Duration
	AcceptRate   float64
	AcceptBurst  int

	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	DimseTimeout   time.Duration
	MaxPDUBytes    uint64
	MaxObjectBytes uint64

	AllowedCallingAEs []string

	AdminAddr          string
	CorsOrigins        []string
	RecentAssociations int

	TLS network.TLSConfig
}

func DefaultConfig() Config {
	return Config{
		AETitle:            "SCPD",
		Address:            "0.0.0.0",
		Port:               11112,
		StorageDir:         "local/storage",
		StreamObjects:      true,
		Services:           []string{"verification", "storage"},
		Workers:            16,
		DrainTimeout:       5 * time.Second,
		ReadTimeout:        30 * time.Second,
		WriteTimeout:       30 * time.Second,
		MaxPDUBytes:        16 * 1024 * 1024,
		MaxObjectBytes:     512 * 1024 * 1024,
		AdminAddr:          "127.0.0.1:7104",
		RecentAssociations: 100,
	}
}

type fileTLS struct {
	Enabled    bool   `toml:"enabled"`
	Mutual     bool   `toml:"mutual"`
	CertFile   string `toml:"cert_file"`
	KeyFile    string `toml:"key_file"`
	CAFile     string `toml:"ca_file"`
	ServerName string `toml:"server_name"`
}

type fileConfig struct {
	AETitle            string   `toml:"ae_title"`
	Address            string   `toml:"address"`
	Port               int      `toml:"port"`
	StorageDir         string   `toml:"storage_dir"`
	Bitbucket          bool     `toml:"bitbucket"`
	StreamObjects      bool     `toml:"stream_objects"`
	Services           []string `toml:"services"`
	ImageSyntaxes      []string `toml:"image_syntaxes"`
	Workers            int      `toml:"workers"`
	DrainTimeout       string   `toml:"drain_timeout"`
	AcceptRate         float64  `toml:"accept_rate"`
	AcceptBurst        int      `toml:"accept_burst"`
	ReadTimeout        string   `toml:"read_timeout"`
	WriteTimeout       string   `toml:"write_timeout"`
	DimseTimeout       string   `toml:"dimse_timeout"`
	MaxPDUBytes        int64    `toml:"max_pdu_bytes"`
	MaxObjectBytes     int64    `toml:"max_object_bytes"`
	AllowedCallingAEs  []string `toml:"allowed_calling_aes"`
	AdminAddr          string   `toml:"admin_addr"`
	CorsOrigins        []string `toml:"cors_origins"`
	RecentAssociations int      `toml:"recent_associations"`
	TLS                fileTLS  `toml:"tls"`
}

// Load reads path over DefaultConfig. Keys absent from the file keep their
// defaults.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return Config{}, fmt.Errorf("load scpd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("%w: unknown key %s", ErrInvalidConfig, undecoded[0])
	}

	if meta.IsDefined("ae_title") {
		cfg.AETitle = strings.TrimSpace(raw.AETitle)
	}
	if meta.IsDefined("address") {
		cfg.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("port") {
		cfg.Port = raw.Port
	}
	if meta.IsDefined("storage_dir") {
		cfg.StorageDir = strings.TrimSpace(raw.StorageDir)
	}
	if meta.IsDefined("bitbucket") {
		cfg.Bitbucket = raw.Bitbucket
	}
	if meta.IsDefined("stream_objects") {
		cfg.StreamObjects = raw.StreamObjects
	}
	if meta.IsDefined("services") {
		cfg.Services = normalizeList(raw.Services)
	}
	if meta.IsDefined("image_syntaxes") {
		cfg.ImageSyntaxes = normalizeList(raw.ImageSyntaxes)
	}
	if meta.IsDefined("workers") {
		cfg.Workers = raw.Workers
	}
	if meta.IsDefined("accept_rate") {
		cfg.AcceptRate = raw.AcceptRate
	}
	if meta.IsDefined("accept_burst") {
		cfg.AcceptBurst = raw.AcceptBurst
	}
	if meta.IsDefined("max_pdu_bytes") {
		if raw.MaxPDUBytes <= 0 {
			return Config{}, fmt.Errorf("%w: max_pdu_bytes must be positive", ErrInvalidConfig)
		}
		cfg.MaxPDUBytes = uint64(raw.MaxPDUBytes)
	}
	if meta.IsDefined("max_object_bytes") {
		if raw.MaxObjectBytes <= 0 {
			return Config{}, fmt.Errorf("%w: max_object_bytes must be positive", ErrInvalidConfig)
		}
		cfg.MaxObjectBytes = uint64(raw.MaxObjectBytes)
	}
	if meta.IsDefined("allowed_calling_aes") {
		cfg.AllowedCallingAEs = normalizeList(raw.AllowedCallingAEs)
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("cors_origins") {
		cfg.CorsOrigins = normalizeList(raw.CorsOrigins)
	}
	if meta.IsDefined("recent_associations") {
		cfg.RecentAssociations = raw.RecentAssociations
	}

	durations := []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"drain_timeout", raw.DrainTimeout, &cfg.DrainTimeout},
		{"read_timeout", raw.ReadTimeout, &cfg.ReadTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.WriteTimeout},
		{"dimse_timeout", raw.DimseTimeout, &cfg.DimseTimeout},
	}
	for _, d := range durations {
		if !meta.IsDefined(d.key) {
			continue
		}
		parsed, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, d.key, err)
		}
		*d.dst = parsed
	}

	if meta.IsDefined("tls") {
		cfg.TLS = network.TLSConfig{
			Enabled:    raw.TLS.Enabled,
			Mutual:     raw.TLS.Mutual,
			CertFile:   strings.TrimSpace(raw.TLS.CertFile),
			KeyFile:    strings.TrimSpace(raw.TLS.KeyFile),
			CAFile:     strings.TrimSpace(raw.TLS.CAFile),
			ServerName: strings.TrimSpace(raw.TLS.ServerName),
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks every field and names the offending key.
func (c Config) Validate() error {
	if err := dicom.ValidateAETitle(c.AETitle); err != nil {
		return fmt.Errorf("%w: ae_title: %v", ErrInvalidConfig, err)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConfig, c.Port)
	}
	if len(c.Services) == 0 {
		return fmt.Errorf("%w: services must name at least one service", ErrInvalidConfig)
	}
	if !c.Bitbucket && c.StorageDir == "" {
		return fmt.Errorf("%w: storage_dir required unless bitbucket is set", ErrInvalidConfig)
	}
	if _, err := services.ParseImageSyntaxes(c.ImageSyntaxes); err != nil {
		return fmt.Errorf("%w: image_syntaxes: %v", ErrInvalidConfig, err)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative", ErrInvalidConfig)
	}
	if c.AcceptRate < 0 || c.AcceptBurst < 0 {
		return fmt.Errorf("%w: accept_rate and accept_burst must not be negative", ErrInvalidConfig)
	}
	for _, d := range []struct {
		key string
		v   time.Duration
	}{
		{"read_timeout", c.ReadTimeout},
		{"write_timeout", c.WriteTimeout},
		{"dimse_timeout", c.DimseTimeout},
	} {
		if d.v < 0 {
			return fmt.Errorf("%w: %s must not be negative", ErrInvalidConfig, d.key)
		}
	}
	for _, ae := range c.AllowedCallingAEs {
		if err := dicom.ValidateAETitle(ae); err != nil {
			return fmt.Errorf("%w: allowed_calling_aes: %v", ErrInvalidConfig, err)
		}
	}
	if c.RecentAssociations < 0 {
		return fmt.Errorf("%w: recent_associations must not be negative", ErrInvalidConfig)
	}
	if err := c.TLS.ValidateServer(); err != nil {
		return fmt.Errorf("%w: tls: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Listener converts the transport settings into listener parameters.
func (c Config) Listener() network.ListenerParameters {
	return network.ListenerParameters{
		ReadTimeout:     c.ReadTimeout,
		WriteTimeout:    c.WriteTimeout,
		DimseTimeout:    c.DimseTimeout,
		MaxPayloadBytes: c.MaxPDUBytes,
		MaxObjectBytes:  c.MaxObjectBytes,
		TLS:             c.TLS,
	}
}

func normalizeList(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
