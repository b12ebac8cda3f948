package main

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/danmuck/scpd/internal/config"
	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/logging"
	"github.com/danmuck/scpd/internal/network"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "scpd.toml"

var errUnknownLevel = errors.New("unknown log level")

func newRootCmd() *cobra.Command {
	var level string
	root := &cobra.Command{
		Use:           "scpd",
		Short:         "DICOM storage and verification SCP",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logging.ConfigureRuntime()
			if level == "" {
				return nil
			}
			lvl, ok := logging.ParseLevel(level)
			if !ok {
				return fmt.Errorf("%w: %q", errUnknownLevel, level)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}
	root.PersistentFlags().StringVar(&level, "log-level", "", "override log level (trace, debug, info, warn, error, off)")
	root.AddCommand(newServeCmd(), newEchoCmd(), newStoreCmd(), newConfigCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Listen for associations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			d, err := newDaemon(cfg)
			if err != nil {
				return err
			}
			log.Info().Str("config", path).Strs("services", cfg.Services).Msg("scpd.serve")
			return d.run(cmd.Context())
		},
	}
	cmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "path to the TOML config")
	return cmd
}

// peerFlags are the requesting side settings shared by echo and store.
type peerFlags struct {
	address   string
	calledAE  string
	callingAE string
	timeout   time.Duration
	tls       network.TLSConfig
}

func (p *peerFlags) register(cmd *cobra.Command) {
	f := cmd.Flags()
	f.StringVarP(&p.address, "address", "a", "127.0.0.1:11112", "peer host:port")
	f.StringVar(&p.calledAE, "called-ae", "SCPD", "called AE title")
	f.StringVar(&p.callingAE, "calling-ae", "SCPDCLIENT", "calling AE title")
	f.DurationVar(&p.timeout, "timeout", 30*time.Second, "per operation timeout")
	f.BoolVar(&p.tls.Enabled, "tls", false, "connect over TLS")
	f.StringVar(&p.tls.CAFile, "tls-ca", "", "CA bundle used to verify the peer")
	f.StringVar(&p.tls.CertFile, "tls-cert", "", "client certificate for mutual TLS")
	f.StringVar(&p.tls.KeyFile, "tls-key", "", "client key for mutual TLS")
	f.StringVar(&p.tls.ServerName, "tls-server-name", "", "expected peer certificate name")
}

// associate dials the peer and negotiates one context per class using the
// given syntaxes.
func (p *peerFlags) associate(ctx context.Context, classes []dicom.SopClass, syntaxes []dicom.TransferSyntax) (*network.Client, error) {
	if p.tls.CertFile != "" || p.tls.KeyFile != "" {
		p.tls.Mutual = true
	}
	c, err := network.Dial(ctx, network.ClientConfig{
		Address: p.address,
		Timeout: p.timeout,
		TLS:     p.tls,
	})
	if err != nil {
		return nil, err
	}
	prop := dicom.NewAssociationParameters(p.callingAE, p.calledAE)
	for _, class := range classes {
		id, err := prop.AddPresentationContext(class)
		if err != nil {
			c.Close()
			return nil, err
		}
		for _, ts := range syntaxes {
			if err := prop.AddTransferSyntax(id, ts); err != nil {
				c.Close()
				return nil, err
			}
		}
	}
	if _, err := c.Associate(ctx, prop); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func newEchoCmd() *cobra.Command {
	var peer peerFlags
	cmd := &cobra.Command{
		Use:   "echo",
		Short: "Send a C-ECHO to a peer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := peer.associate(ctx, []dicom.SopClass{dicom.VerificationSopClass}, []dicom.TransferSyntax{dicom.ImplicitVRLittleEndian})
			if err != nil {
				return err
			}
			defer c.Close()
			status, err := c.Echo(ctx)
			if err != nil {
				_ = c.Abort()
				return err
			}
			if err := c.Release(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "echo %s: %s\n", peer.address, status)
			return statusError(status)
		},
	}
	peer.register(cmd)
	return cmd
}

func newStoreCmd() *cobra.Command {
	var (
		peer     peerFlags
		sopUID   string
		study    string
		series   string
		patient  string
		stream   bool
		explicit bool
	)
	cmd := &cobra.Command{
		Use:   "store FILE...",
		Short: "Send files to a peer with C-STORE",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			class, ok := dicom.LookupSopClass(sopUID)
			if !ok {
				return fmt.Errorf("unknown sop class %q", sopUID)
			}
			syntax := dicom.ImplicitVRLittleEndian
			if explicit {
				syntax = dicom.ExplicitVRLittleEndian
			}
			if study == "" {
				study = newUID()
			}
			if series == "" {
				series = newUID()
			}
			c, err := peer.associate(ctx, []dicom.SopClass{class}, []dicom.TransferSyntax{syntax})
			if err != nil {
				return err
			}
			defer c.Close()

			for _, path := range args {
				ds := dicom.Dataset{
					dicom.TagPatientID:         patient,
					dicom.TagStudyInstanceUID:  study,
					dicom.TagSeriesInstanceUID: series,
				}
				status, err := storeFile(ctx, c, class, newUID(), ds, path, stream)
				if err != nil {
					_ = c.Abort()
					return fmt.Errorf("%s: %w", path, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "store %s: %s\n", filepath.Base(path), status)
				if err := statusError(status); err != nil {
					_ = c.Abort()
					return err
				}
			}
			return c.Release(ctx)
		},
	}
	peer.register(cmd)
	f := cmd.Flags()
	f.StringVar(&sopUID, "sop-class", dicom.SecondaryCaptureImageStorage.UID, "SOP class UID of the objects")
	f.StringVar(&study, "study", "", "study instance UID (generated when empty)")
	f.StringVar(&series, "series", "", "series instance UID (generated when empty)")
	f.StringVar(&patient, "patient-id", "ANON", "patient id")
	f.BoolVar(&stream, "stream", false, "stream each file instead of buffering it")
	f.BoolVar(&explicit, "explicit", false, "propose explicit VR little endian instead of implicit")
	return cmd
}

func storeFile(ctx context.Context, c *network.Client, class dicom.SopClass, instance string, ds dicom.Dataset, path string, stream bool) (dicom.Status, error) {
	if !stream {
		payload, err := os.ReadFile(path)
		if err != nil {
			return 0, err
		}
		return c.Store(ctx, class, instance, ds, payload)
	}
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return c.StoreStream(ctx, class, instance, ds, f)
}

// newUID derives a UID under the 2.25 root from a random UUID.
func newUID() string {
	id := uuid.New()
	return "2.25." + new(big.Int).SetBytes(id[:]).String()
}

func statusError(status dicom.Status) error {
	if status.IsSuccess() {
		return nil
	}
	return fmt.Errorf("peer returned %s", status)
}

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage scpd configuration",
	}
	var (
		path  string
		force bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a config template",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := config.WriteTemplate(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	initCmd.Flags().StringVarP(&path, "config", "c", defaultConfigPath, "path to write")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	var checkPath string
	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Load and validate a config",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(checkPath)
			if err != nil {
				return err
			}
			if _, err := newDaemon(cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s ok: ae=%s port=%d services=%v\n", checkPath, cfg.AETitle, cfg.Port, cfg.Services)
			return nil
		},
	}
	checkCmd.Flags().StringVarP(&checkPath, "config", "c", defaultConfigPath, "path to load")

	cmd.AddCommand(initCmd, checkCmd)
	return cmd
}
