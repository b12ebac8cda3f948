package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"slices"
	"sync/atomic"

	"github.com/danmuck/scpd/internal/admin"
	"github.com/danmuck/scpd/internal/auth"
	"github.com/danmuck/scpd/internal/config"
	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/danmuck/scpd/internal/scp"
	"github.com/danmuck/scpd/internal/services"
	"github.com/danmuck/scpd/internal/services/storage"
	"github.com/danmuck/scpd/internal/services/verification"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var ErrUnknownService = errors.New("scpd: unknown service")

// catalog maps configured service names to handler factories.
var catalog = map[string]scp.Factory[*services.Context]{
	verification.Name: func() scp.ServiceHandler[*services.Context] { return verification.New() },
	storage.Name:      func() scp.ServiceHandler[*services.Context] { return storage.New() },
}

func buildRegistry(names []string) (*scp.FactoryRegistry[*services.Context], error) {
	r := scp.NewFactoryRegistry[*services.Context]()
	for _, name := range names {
		factory, ok := catalog[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownService, name)
		}
		if err := r.Register(name, factory); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// allowCallingAEs vetoes associations from calling AEs outside allowed. An
// empty list admits everyone.
func allowCallingAEs(allowed []string) scp.VerifyFunc[*services.Context] {
	if len(allowed) == 0 {
		return nil
	}
	return verifyCallingAE(auth.AllowList(slices.Clone(allowed)))
}

func verifyCallingAE(v auth.Validator) scp.VerifyFunc[*services.Context] {
	return func(_ *services.Context, assoc *dicom.AssociationParameters) (bool, dicom.RejectResult, dicom.RejectReason) {
		if err := v.Validate(assoc.CallingAE); err != nil {
			log.Warn().Err(err).Str("calling_ae", assoc.CallingAE).Str("remote", assoc.RemoteAddr).Msg("scpd.verify calling ae refused")
			return false, dicom.RejectResultPermanent, dicom.RejectReasonCallingAENotRecognized
		}
		return true, 0, 0
	}
}

// daemon is one listening AE plus its admin surface.
type daemon struct {
	cfg       config.Config
	transport *network.TCPTransport
	scp       *scp.Scp[*services.Context]
	recent    *admin.RecentAssociations
	admin     *admin.Server
	ready     atomic.Bool
}

func newDaemon(cfg config.Config) (*daemon, error) {
	syntaxes, err := services.ParseImageSyntaxes(cfg.ImageSyntaxes)
	if err != nil {
		return nil, err
	}
	registry, err := buildRegistry(cfg.Services)
	if err != nil {
		return nil, err
	}
	appCtx := &services.Context{
		AETitle:       cfg.AETitle,
		StorageDir:    cfg.StorageDir,
		Bitbucket:     cfg.Bitbucket,
		StreamObjects: cfg.StreamObjects,
		ImageSyntaxes: syntaxes,
	}
	d := &daemon{
		cfg:       cfg,
		transport: network.NewTCPTransport(),
		recent:    admin.NewRecentAssociations(cfg.RecentAssociations),
	}
	d.scp = scp.New(scp.Options[*services.Context]{
		Context:      appCtx,
		Verify:       allowCallingAEs(cfg.AllowedCallingAEs),
		Complete:     d.complete,
		Registry:     registry,
		Transport:    d.transport,
		Workers:      cfg.Workers,
		DrainTimeout: cfg.DrainTimeout,
		AcceptRate:   rate.Limit(cfg.AcceptRate),
		AcceptBurst:  cfg.AcceptBurst,
		Listener:     cfg.Listener(),
	})
	if cfg.AdminAddr != "" {
		d.admin = admin.New(admin.Options{
			ID:          cfg.AETitle,
			Addr:        cfg.AdminAddr,
			CorsOrigins: cfg.CorsOrigins,
			Recent:      d.recent,
			Statistics:  d.scp.Statistics,
			Ready:       d.ready.Load,
		})
	}
	return d, nil
}

func (d *daemon) complete(_ *services.Context, assoc *dicom.AssociationParameters, records []scp.StorageInstance) {
	d.recent.Record(assoc, records)
	log.Info().
		Str("ae", assoc.CalledAE).
		Str("calling_ae", assoc.CallingAE).
		Int("objects", len(records)).
		Msg("scpd.association complete")
}

func (d *daemon) start() error {
	if err := d.scp.Start(d.cfg.Address, d.cfg.Port, d.cfg.AETitle); err != nil {
		return err
	}
	d.ready.Store(true)
	return nil
}

// addr is the bound listener address, useful when the port is 0.
func (d *daemon) addr() (net.Addr, bool) {
	return d.transport.Addr(d.cfg.Address, d.cfg.Port)
}

// run starts the listener and blocks until ctx is done.
func (d *daemon) run(ctx context.Context) error {
	if err := d.start(); err != nil {
		return err
	}
	defer d.close()

	if d.admin == nil {
		<-ctx.Done()
		return nil
	}
	return d.admin.Serve(ctx)
}

func (d *daemon) close() {
	d.ready.Store(false)
	d.scp.Stop()
	d.transport.Close()
}
