package scp

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrNoPresentationContexts = errors.New("scp: no presentation contexts to offer")
	ErrListen                 = errors.New("scp: listen failed")
	ErrAlreadyStarted         = errors.New("scp: already started")
	ErrNoRegistry             = errors.New("scp: registry required")
	ErrNoTransport            = errors.New("scp: transport required")
)

// DefaultDrainTimeout bounds how long the end of an association waits for
// in-flight operations before cleanup.
const DefaultDrainTimeout = 5 * time.Second

// Options configure an Scp. Context, Verify and Complete are handed to every
// association the Scp accepts.
type Options[C any] struct {
	Context  C
	Verify   VerifyFunc[C]
	Complete CompleteFunc[C]

	Registry  Registry[C]
	Transport network.Transport

	// Workers bounds operations processed at once across all associations.
	Workers int
	// DrainTimeout is the wait for in-flight operations at association end.
	// Negative disables the wait.
	DrainTimeout time.Duration
	// AcceptRate limits association requests per second; zero disables.
	AcceptRate  rate.Limit
	AcceptBurst int

	// Listener supplies timeouts, limits and TLS. Address, port, AE title and
	// contexts are filled by Start.
	Listener network.ListenerParameters
}

// Scp owns the proposable presentation contexts and the listener of one
// application entity.
type Scp[C any] struct {
	opts    Options[C]
	pool    *workerPool
	limiter *rate.Limiter

	mu       sync.Mutex
	params   network.ListenerParameters
	contexts *dicom.AssociationParameters
	stats    *StatisticsRecorder
	started  bool
}

func New[C any](opts Options[C]) *Scp[C] {
	if opts.DrainTimeout == 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}
	s := &Scp[C]{opts: opts, pool: newWorkerPool(opts.Workers)}
	if opts.AcceptRate > 0 {
		burst := opts.AcceptBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(opts.AcceptRate, burst)
	}
	return s
}

// Start builds the proposable contexts from the registry's handlers and
// starts listening. The returned error wraps ErrNoPresentationContexts or
// ErrListen.
func (s *Scp[C]) Start(address string, port int, aeTitle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	if s.opts.Registry == nil {
		return ErrNoRegistry
	}
	if s.opts.Transport == nil {
		return ErrNoTransport
	}
	aeTitle = strings.TrimSpace(aeTitle)
	if err := dicom.ValidateAETitle(aeTitle); err != nil {
		return err
	}

	contexts := buildProposableContexts(s.opts.Registry.Handlers(), s.opts.Context, aeTitle)
	if len(contexts.PresentationContexts()) == 0 {
		log.Error().Str("ae", aeTitle).Msg("scp.start no presentation contexts offered by any handler")
		return fmt.Errorf("%w: ae %s", ErrNoPresentationContexts, aeTitle)
	}

	params := s.opts.Listener
	params.AETitle = aeTitle
	params.Address = address
	params.Port = port
	params.Contexts = contexts
	stats := NewStatisticsRecorder(aeTitle)

	if err := s.opts.Transport.Listen(params, func(srv network.Server, assoc *dicom.AssociationParameters) network.ServerHandler {
		return newAssociationHandler(s, stats, assoc)
	}); err != nil {
		log.Error().Err(err).Str("ae", aeTitle).Str("address", address).Int("port", port).Msg("scp.start listen failed")
		return fmt.Errorf("%w: %s:%d: %v", ErrListen, address, port, err)
	}

	s.params = params
	s.contexts = contexts
	s.stats = stats
	s.started = true
	log.Info().
		Str("ae", aeTitle).
		Str("address", address).
		Int("port", port).
		Int("contexts", len(contexts.PresentationContexts())).
		Msg("scp.start listening")
	return nil
}

// Stop stops listening. Transport errors are logged, not returned.
func (s *Scp[C]) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return
	}
	if err := s.opts.Transport.StopListening(s.params); err != nil {
		log.Error().Err(err).Str("ae", s.params.AETitle).Msg("scp.stop listening failed")
	}
	s.started = false
	log.Info().Str("ae", s.params.AETitle).Msg("scp.stop")
}

// Contexts returns a copy of the proposable contexts built by Start.
func (s *Scp[C]) Contexts() *dicom.AssociationParameters {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.contexts == nil {
		return nil
	}
	return s.contexts.Clone()
}

// Statistics returns the listener counters, zero before Start.
func (s *Scp[C]) Statistics() Statistics {
	s.mu.Lock()
	stats := s.stats
	s.mu.Unlock()
	if stats == nil {
		return Statistics{}
	}
	return stats.Snapshot()
}

// buildProposableContexts merges every handler's declared pairs into one
// context per SOP class with deduplicated, preference ordered syntaxes.
func buildProposableContexts[C any](handlers []ServiceHandler[C], ctx C, aeTitle string) *dicom.AssociationParameters {
	contexts := dicom.NewAssociationParameters("", aeTitle)
	for _, h := range handlers {
		h.SetContext(ctx)
		for _, sop := range h.GetSupportedSops() {
			id := contexts.FindAbstractSyntax(sop.SopClass)
			if id == 0 {
				next, err := contexts.AddPresentationContext(sop.SopClass)
				if err != nil {
					log.Warn().Err(err).Str("sop_class", sop.SopClass.String()).Msg("scp.start context skipped")
					continue
				}
				id = next
			}
			_ = contexts.AddTransferSyntax(id, sop.TransferSyntax)
		}
	}
	for _, pc := range contexts.PresentationContexts() {
		pc.SortTransfers(CompareTransferSyntax)
	}
	return contexts
}
