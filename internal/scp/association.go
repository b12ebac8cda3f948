package scp

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// State is the lifecycle position of one association.
type State int32

const (
	StateNegotiating State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNegotiating:
		return "negotiating"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var errNoBinding = errors.New("scp: no handler bound to presentation context")

// AssociationHandler dispatches the callbacks of one association to the
// service handlers bound to its accepted presentation contexts.
type AssociationHandler[C any] struct {
	id       string
	ctx      C
	verify   VerifyFunc[C]
	complete CompleteFunc[C]
	limiter  *rate.Limiter
	pool     *workerPool
	drain    time.Duration
	recorder *StatisticsRecorder
	logger   zerolog.Logger

	handlers []ServiceHandler[C]
	bindings map[byte]ServiceHandler[C]

	state    atomic.Int32
	records  recordList
	inflight sync.WaitGroup
	stats    associationStats
}

var _ network.ServerHandler = (*AssociationHandler[struct{}])(nil)

func newAssociationHandler[C any](s *Scp[C], recorder *StatisticsRecorder, assoc *dicom.AssociationParameters) *AssociationHandler[C] {
	h := &AssociationHandler[C]{
		id:       uuid.NewString(),
		ctx:      s.opts.Context,
		verify:   s.opts.Verify,
		complete: s.opts.Complete,
		pool:     s.pool,
		drain:    s.opts.DrainTimeout,
		recorder: recorder,
		limiter:  s.limiter,
		handlers: s.opts.Registry.Handlers(),
	}
	h.logger = log.With().
		Str("ae", assoc.CalledAE).
		Str("calling_ae", assoc.CallingAE).
		Str("assoc", h.id).
		Logger()
	for _, sh := range h.handlers {
		sh.SetContext(h.ctx)
	}
	h.bind(assoc)
	return h
}

// ID is the correlation id carried by every log line of the association.
func (h *AssociationHandler[C]) ID() string {
	return h.id
}

func (h *AssociationHandler[C]) State() State {
	return State(h.state.Load())
}

// Records returns the objects received so far.
func (h *AssociationHandler[C]) Records() []StorageInstance {
	return h.records.snapshot()
}

// bind maps every context the transport accepted to the first handler that
// declares its SOP class and chosen transfer syntax.
func (h *AssociationHandler[C]) bind(assoc *dicom.AssociationParameters) {
	h.bindings = make(map[byte]ServiceHandler[C])
	for _, pc := range assoc.PresentationContexts() {
		if pc.Result != dicom.PresContextAccept {
			continue
		}
		ts, _ := pc.AcceptedTransferSyntax()
		first := -1
		for i, sh := range h.handlers {
			if !declares(sh, pc.AbstractSyntax, ts) {
				continue
			}
			if first < 0 {
				first = i
				h.bindings[pc.ID] = sh
				continue
			}
			h.logger.Warn().
				Uint8("pcid", pc.ID).
				Str("sop_class", pc.AbstractSyntax.String()).
				Str("transfer_syntax", ts.String()).
				Str("bound", fmt.Sprintf("%T", h.handlers[first])).
				Str("duplicate", fmt.Sprintf("%T", sh)).
				Msg("scp.bind more than one handler claims context, keeping the first")
		}
		if _, ok := h.bindings[pc.ID]; !ok {
			h.logger.Warn().
				Uint8("pcid", pc.ID).
				Str("sop_class", pc.AbstractSyntax.String()).
				Str("transfer_syntax", ts.String()).
				Msg("scp.bind no handler for accepted context")
			pc.ClearTransfers()
			pc.Result = dicom.PresContextRejectNoReason
		}
	}
}

func declares[C any](sh ServiceHandler[C], abstract dicom.SopClass, ts dicom.TransferSyntax) bool {
	for _, sop := range sh.GetSupportedSops() {
		if sop.matches(abstract, ts) {
			return true
		}
	}
	return false
}

func (h *AssociationHandler[C]) OnReceiveAssociateRequest(srv network.Server, assoc *dicom.AssociationParameters) {
	if h.limiter != nil && !h.limiter.Allow() {
		h.logger.Warn().Msg("scp.associate throttled")
		h.reject(srv, OutcomeThrottled, dicom.RejectResultTransient, dicom.RejectSourceServiceProviderPresentation, dicom.RejectReasonTemporaryCongestion)
		return
	}
	if h.verify != nil {
		ok, result, reason := h.verifyAssociation(assoc)
		if !ok {
			h.logger.Info().
				Str("result", result.String()).
				Str("reason", dicom.RejectReasonString(dicom.RejectSourceServiceUser, reason)).
				Msg("scp.associate rejected by verification")
			h.reject(srv, OutcomeRejected, result, dicom.RejectSourceServiceUser, reason)
			return
		}
	}

	for _, pc := range assoc.PresentationContexts() {
		if pc.Result != dicom.PresContextAccept {
			continue
		}
		sh, ok := h.bindings[pc.ID]
		if !ok {
			continue
		}
		result := h.verifyContext(sh, assoc, pc.ID)
		if result == dicom.PresContextAccept {
			continue
		}
		h.logger.Debug().
			Uint8("pcid", pc.ID).
			Str("sop_class", pc.AbstractSyntax.String()).
			Str("result", result.String()).
			Msg("scp.associate context vetoed")
		pc.ClearTransfers()
		pc.Result = result
		delete(h.bindings, pc.ID)
	}

	if !assoc.AnyAccepted() {
		h.logger.Info().Msg("scp.associate no presentation context accepted")
		h.reject(srv, OutcomeRejected, dicom.RejectResultPermanent, dicom.RejectSourceServiceUser, dicom.RejectReasonNoReasonGiven)
		return
	}

	if !h.state.CompareAndSwap(int32(StateNegotiating), int32(StateOpen)) {
		return
	}
	h.stats.started = time.Now()
	if err := srv.SendAssociateAccept(assoc); err != nil {
		h.logger.Error().Err(err).Msg("scp.associate accept failed")
	}
	h.recorder.Accepted()
	h.logger.Info().Int("contexts", len(h.bindings)).Str("remote", assoc.RemoteAddr).Msg("scp.associate accepted")

	if ev := h.logger.Debug(); ev.Enabled() {
		snapshot := assoc.Clone()
		go func() {
			ev.Str("proposal", snapshot.String()).Msg("scp.associate negotiated")
		}()
	}
}

// verifyAssociation runs the application callback. A panic is a veto with
// no reason given.
func (h *AssociationHandler[C]) verifyAssociation(assoc *dicom.AssociationParameters) (ok bool, result dicom.RejectResult, reason dicom.RejectReason) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("scp.associate verification callback panicked")
			ok, result, reason = false, dicom.RejectResultPermanent, dicom.RejectReasonNoReasonGiven
		}
	}()
	return h.verify(h.ctx, assoc)
}

func (h *AssociationHandler[C]) verifyContext(sh ServiceHandler[C], assoc *dicom.AssociationParameters, pcid byte) (result dicom.PresContextResult) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Uint8("pcid", pcid).Msg("scp.associate handler verification panicked")
			result = dicom.PresContextRejectNoReason
		}
	}()
	return sh.VerifyAssociation(assoc, pcid)
}

func (h *AssociationHandler[C]) reject(srv network.Server, outcome string, result dicom.RejectResult, source dicom.RejectSource, reason dicom.RejectReason) {
	if err := srv.SendAssociateReject(result, source, reason); err != nil {
		h.logger.Error().Err(err).Msg("scp.associate reject failed")
	}
	h.recorder.Rejected(outcome)
	h.state.Store(int32(StateClosed))
	cleanupHandlers(h.handlers, h.logger)
}

func (h *AssociationHandler[C]) OnReceiveRequestMessage(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) {
	if h.State() != StateOpen {
		h.logger.Warn().Uint8("pcid", pcid).Str("command", msg.CommandField.String()).Msg("scp.request outside open association")
		return
	}
	h.pool.submit(&h.inflight, func() {
		h.process(srv, assoc, pcid, msg)
	})
}

func (h *AssociationHandler[C]) process(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) {
	ok, err := h.invokeRequest(srv, assoc, pcid, msg)
	h.stats.requests.Add(1)
	h.recorder.Request(msg.CommandField, ok)
	if !ok {
		h.stats.failures.Add(1)
		ev := h.logger.Error().
			Uint8("pcid", pcid).
			Str("command", msg.CommandField.String()).
			Str("sop_class", msg.SopClass().String())
		if err != nil {
			ev = ev.Err(err)
		}
		ev.Msg("scp.request failed, aborting association")
		if err := srv.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonNotSpecified); err != nil {
			h.logger.Debug().Err(err).Msg("scp.request abort send failed")
		}
		return
	}
	if isStoreRequest(msg) {
		rec := newStorageInstance(assoc, pcid, msg, false)
		h.records.add(rec)
		h.stats.objects.Add(1)
		h.stats.bytes.Add(int64(rec.Bytes))
		h.recorder.Object(rec.Bytes)
	}
}

func (h *AssociationHandler[C]) invokeRequest(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) (ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	sh, bound := h.bindings[pcid]
	if !bound {
		return false, fmt.Errorf("%w: %d", errNoBinding, pcid)
	}
	return sh.OnReceiveRequest(srv, assoc, pcid, msg), nil
}

func (h *AssociationHandler[C]) OnReceiveResponseMessage(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) {
	h.logger.Error().
		Uint8("pcid", pcid).
		Str("command", msg.CommandField.String()).
		Msg("scp.response unexpected response message, aborting association")
	if err := srv.SendAssociateAbort(dicom.AbortSourceServiceUser, dicom.AbortReasonUnrecognizedPDU); err != nil {
		h.logger.Debug().Err(err).Msg("scp.response abort send failed")
	}
}

func (h *AssociationHandler[C]) OnReceiveReleaseRequest(srv network.Server, assoc *dicom.AssociationParameters) {
	h.logger.Info().Msg("scp.release requested")
	h.finish(assoc, OutcomeReleased)
}

func (h *AssociationHandler[C]) OnReceiveAbort(srv network.Server, assoc *dicom.AssociationParameters, source dicom.AbortSource, reason dicom.AbortReason) {
	h.logger.Error().Str("source", source.String()).Str("reason", reason.String()).Msg("scp.abort received")
	h.finish(assoc, OutcomeAborted)
}

func (h *AssociationHandler[C]) OnNetworkError(srv network.Server, assoc *dicom.AssociationParameters, err error) {
	outcome := OutcomeNetworkError
	if errors.Is(err, network.ErrLocalAbort) {
		outcome = OutcomeAborted
	}
	h.logger.Error().Err(err).Msg("scp.network error")
	h.finish(assoc, outcome)
}

func (h *AssociationHandler[C]) OnDimseTimeout(srv network.Server, assoc *dicom.AssociationParameters) {
	h.logger.Trace().Msg("scp.dimse timeout, still listening")
}

func (h *AssociationHandler[C]) OnReceiveDimseCommand(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) (streamed bool) {
	fh, ok := h.filestreamHandler(pcid)
	if !ok {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Uint8("pcid", pcid).Msg("scp.filestream command check panicked")
			streamed = false
		}
	}()
	return fh.ReceiveMessageAsFileStream(srv, assoc, pcid, command)
}

func (h *AssociationHandler[C]) OnStartFilestream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) network.FilestreamHandler {
	fh, ok := h.filestreamHandler(pcid)
	if !ok {
		return nil
	}
	sink := h.startFilestream(fh, srv, assoc, pcid, command)
	if sink == nil {
		return nil
	}
	if isStoreRequest(command) {
		h.records.add(newStorageInstance(assoc, pcid, command, true))
		h.stats.objects.Add(1)
		h.recorder.Object(0)
	}
	return &countingSink[C]{inner: sink, owner: h}
}

func (h *AssociationHandler[C]) startFilestream(fh FilestreamHandler, srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) (sink network.FilestreamHandler) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Uint8("pcid", pcid).Msg("scp.filestream start panicked")
			sink = nil
		}
	}()
	return fh.OnStartFilestream(srv, assoc, pcid, command)
}

func (h *AssociationHandler[C]) filestreamHandler(pcid byte) (FilestreamHandler, bool) {
	if h.State() != StateOpen {
		return nil, false
	}
	sh, ok := h.bindings[pcid]
	if !ok {
		return nil, false
	}
	fh, ok := sh.(FilestreamHandler)
	return fh, ok
}

// countingSink feeds streamed payload sizes and outcomes into the
// association statistics.
type countingSink[C any] struct {
	inner network.FilestreamHandler
	owner *AssociationHandler[C]
}

func (s *countingSink[C]) SaveStreamData(command *dicom.Message, data []byte) error {
	if err := s.inner.SaveStreamData(command, data); err != nil {
		return err
	}
	s.owner.stats.bytes.Add(int64(len(data)))
	s.owner.recorder.StreamBytes(len(data))
	return nil
}

func (s *countingSink[C]) CompleteStream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) error {
	err := s.inner.CompleteStream(srv, assoc, pcid, command)
	s.owner.stats.requests.Add(1)
	s.owner.recorder.Request(command.CommandField, err == nil)
	if err != nil {
		s.owner.stats.failures.Add(1)
	}
	return err
}

func (s *countingSink[C]) CancelStream() {
	s.inner.CancelStream()
}

// finish runs the completion callback and handler cleanup once, after
// in-flight operations drain or the drain timeout passes. An association
// that never opened only releases its handlers.
func (h *AssociationHandler[C]) finish(assoc *dicom.AssociationParameters, outcome string) {
	if h.state.CompareAndSwap(int32(StateNegotiating), int32(StateClosed)) {
		h.logger.Warn().Str("outcome", outcome).Msg("scp.finish association ended before it opened")
		cleanupHandlers(h.handlers, h.logger)
		return
	}
	if !h.state.CompareAndSwap(int32(StateOpen), int32(StateClosing)) {
		return
	}
	if h.drain > 0 && !waitTimeout(&h.inflight, h.drain) {
		h.logger.Warn().Dur("drain_timeout", h.drain).Msg("scp.finish in-flight operations still running at cleanup")
	}

	records := h.records.snapshot()
	var duration time.Duration
	if !h.stats.started.IsZero() {
		duration = time.Since(h.stats.started)
	}
	h.recorder.Ended(outcome, duration)
	h.logger.Info().
		Str("outcome", outcome).
		Int64("requests", h.stats.requests.Load()).
		Int64("failures", h.stats.failures.Load()).
		Int64("objects", h.stats.objects.Load()).
		Int64("bytes", h.stats.bytes.Load()).
		Dur("duration", duration).
		Msg("scp.association ended")

	if h.complete != nil {
		h.runComplete(assoc, records)
	}
	cleanupHandlers(h.handlers, h.logger)
	h.state.Store(int32(StateClosed))
}

func (h *AssociationHandler[C]) runComplete(assoc *dicom.AssociationParameters, records []StorageInstance) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error().Interface("panic", r).Msg("scp.finish completion callback panicked")
		}
	}()
	h.complete(h.ctx, assoc, records)
}

// cleanupHandlers releases every handler; one failure never skips the rest.
func cleanupHandlers[C any](handlers []ServiceHandler[C], logger zerolog.Logger) {
	for _, sh := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error().Interface("panic", r).Str("handler", fmt.Sprintf("%T", sh)).Msg("scp.cleanup panicked")
				}
			}()
			if err := sh.Cleanup(); err != nil {
				logger.Warn().Err(err).Str("handler", fmt.Sprintf("%T", sh)).Msg("scp.cleanup failed")
			}
		}()
	}
}
