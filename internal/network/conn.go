package network

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network/frame"
	"github.com/rs/zerolog/log"
)

var (
	// ErrLocalAbort is reported through OnNetworkError after this side sent
	// an abort, so handlers still observe the end of the association.
	ErrLocalAbort    = errors.New("network: association aborted locally")
	ErrNotOpen       = errors.New("network: association not open")
	ErrAlreadyAnswer = errors.New("network: associate request already answered")
	ErrObjectTooBig  = errors.New("network: object exceeds size limit")
)

type connPhase int32

const (
	phaseNegotiating connPhase = iota
	phaseOpen
	phaseRejected
	phaseAborted
	phaseReleased
)

type readResult struct {
	f   frame.Frame
	err error
}

// conn is one inbound association. It implements Server for the handler
// built by the application's StartAssociation.
type conn struct {
	nc     net.Conn
	reader *bufio.Reader
	lookup func(calledAE string) (*application, bool)
	params ListenerParameters
	limits frame.Limits

	writeMu sync.Mutex
	seq     atomic.Uint32
	phase   atomic.Int32

	assoc   *dicom.AssociationParameters
	handler ServerHandler
	stream  *inboundStream
}

type inboundStream struct {
	pcid    byte
	command *dicom.Message
	sink    FilestreamHandler
	buf     []byte
	size    uint64
}

func newConn(nc net.Conn, params ListenerParameters, lookup func(string) (*application, bool)) *conn {
	params = params.WithDefaults()
	return &conn{
		nc:     nc,
		reader: bufio.NewReader(nc),
		lookup: lookup,
		params: params,
		limits: frame.Limits{MaxPayloadBytes: params.MaxPayloadBytes},
	}
}

func (c *conn) RemoteAddr() string {
	return c.nc.RemoteAddr().String()
}

func (c *conn) SendAssociateAccept(assoc *dicom.AssociationParameters) error {
	if !c.phase.CompareAndSwap(int32(phaseNegotiating), int32(phaseOpen)) {
		return ErrAlreadyAnswer
	}
	ac := associateAC{
		CallingAE: assoc.CallingAE,
		CalledAE:  assoc.CalledAE,
		MaxPDULen: uint32(c.params.MaxPayloadBytes),
		Contexts:  encodeContexts(assoc),
	}
	return c.write(frame.TypeAssociateAC, ac)
}

func (c *conn) SendAssociateReject(result dicom.RejectResult, source dicom.RejectSource, reason dicom.RejectReason) error {
	if !c.phase.CompareAndSwap(int32(phaseNegotiating), int32(phaseRejected)) {
		return ErrAlreadyAnswer
	}
	log.Debug().
		Str("remote", c.RemoteAddr()).
		Str("result", result.String()).
		Str("source", source.String()).
		Str("reason", dicom.RejectReasonString(source, reason)).
		Msg("network.reject")
	return c.write(frame.TypeAssociateRJ, associateRJ{Result: uint8(result), Source: uint8(source), Reason: uint8(reason)})
}

// SendAssociateAbort writes an abort and closes the socket. The reader loop
// then reports ErrLocalAbort to the handler.
func (c *conn) SendAssociateAbort(source dicom.AbortSource, reason dicom.AbortReason) error {
	for {
		cur := connPhase(c.phase.Load())
		if cur == phaseAborted || cur == phaseReleased || cur == phaseRejected {
			return nil
		}
		if c.phase.CompareAndSwap(int32(cur), int32(phaseAborted)) {
			break
		}
	}
	err := c.write(frame.TypeAbort, abortPDU{Source: uint8(source), Reason: uint8(reason)})
	_ = c.nc.Close()
	return err
}

func (c *conn) SendResponse(pcid byte, msg *dicom.Message) error {
	if connPhase(c.phase.Load()) != phaseOpen {
		return ErrNotOpen
	}
	return c.write(frame.TypePData, pdata{PCID: pcid, Message: msg})
}

func (c *conn) write(t frame.Type, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(time.Now().Add(c.params.WriteTimeout))
	return writeMessage(c.nc, t, c.seq.Add(1), v, c.limits)
}

func (c *conn) serve() {
	defer c.nc.Close()

	_ = c.nc.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
	first, err := frame.ReadFrame(c.reader, c.limits)
	if err != nil {
		log.Debug().Err(err).Str("remote", c.RemoteAddr()).Msg("network.handshake read failed")
		return
	}
	if first.Header.Type != frame.TypeAssociateRQ {
		log.Warn().Str("remote", c.RemoteAddr()).Str("type", first.Header.Type.String()).Msg("network.handshake unexpected frame")
		_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonUnexpectedPDU)
		return
	}
	if !c.negotiate(first) {
		return
	}
	c.loop()
}

// negotiate resolves the associate request and runs the handler's
// OnReceiveAssociateRequest. It reports whether the association is open.
func (c *conn) negotiate(f frame.Frame) bool {
	var rq associateRQ
	if err := decodePayload(f, &rq); err != nil {
		log.Warn().Err(err).Str("remote", c.RemoteAddr()).Msg("network.associate decode failed")
		_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonInvalidPDUParameter)
		return false
	}
	proposal := dicom.NewAssociationParameters(rq.CallingAE, rq.CalledAE)
	proposal.RemoteAddr = c.RemoteAddr()
	proposal.LocalAddr = c.nc.LocalAddr().String()
	proposal.MaxPDULen = rq.MaxPDULen
	if err := decodeContexts(proposal, rq.Contexts, false); err != nil {
		_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonInvalidPDUParameter)
		return false
	}

	app, ok := c.lookup(proposal.CalledAE)
	if !ok {
		log.Warn().
			Str("called_ae", proposal.CalledAE).
			Str("calling_ae", proposal.CallingAE).
			Str("remote", c.RemoteAddr()).
			Msg("network.associate unknown called ae")
		_ = c.SendAssociateReject(dicom.RejectResultPermanent, dicom.RejectSourceServiceUser, dicom.RejectReasonCalledAENotRecognized)
		return false
	}
	c.params = app.params
	c.limits = frame.Limits{MaxPayloadBytes: app.params.MaxPayloadBytes}

	if !Negotiate(app.params.Contexts, proposal) {
		log.Info().
			Str("ae", proposal.CalledAE).
			Str("calling_ae", proposal.CallingAE).
			Msg("network.associate no acceptable presentation context")
		_ = c.SendAssociateReject(dicom.RejectResultPermanent, dicom.RejectSourceServiceProviderACSE, dicom.RejectReasonNoReasonGiven)
		return false
	}

	c.assoc = proposal
	c.handler = app.start(c, proposal)
	if c.handler == nil {
		_ = c.SendAssociateReject(dicom.RejectResultTransient, dicom.RejectSourceServiceProviderPresentation, dicom.RejectReasonLocalLimitExceeded)
		return false
	}
	c.invoke("OnReceiveAssociateRequest", func() { c.handler.OnReceiveAssociateRequest(c, proposal) })

	switch connPhase(c.phase.Load()) {
	case phaseOpen:
		return true
	case phaseNegotiating:
		log.Error().Str("ae", proposal.CalledAE).Msg("network.associate request left unanswered")
		_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonNotSpecified)
		fallthrough
	case phaseAborted:
		c.invoke("OnNetworkError", func() { c.handler.OnNetworkError(c, c.assoc, ErrLocalAbort) })
	}
	return false
}

func (c *conn) loop() {
	frames := make(chan readResult, 1)
	done := make(chan struct{})
	defer close(done)
	go c.readFrames(frames, done)

	var timer *time.Timer
	var idle <-chan time.Time
	resetIdle := func() {
		if c.params.DimseTimeout <= 0 {
			return
		}
		if timer == nil {
			timer = time.NewTimer(c.params.DimseTimeout)
		} else {
			timer.Reset(c.params.DimseTimeout)
		}
		idle = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	resetIdle()

	for {
		select {
		case <-idle:
			c.invoke("OnDimseTimeout", func() { c.handler.OnDimseTimeout(c, c.assoc) })
			resetIdle()
		case rr := <-frames:
			if rr.err != nil {
				c.readFailed(rr.err)
				return
			}
			if done := c.dispatch(rr.f); done {
				return
			}
			resetIdle()
		}
	}
}

func (c *conn) readFrames(out chan<- readResult, done <-chan struct{}) {
	for {
		_ = c.nc.SetReadDeadline(time.Now().Add(c.params.ReadTimeout))
		f, err := frame.ReadFrame(c.reader, c.limits)
		select {
		case out <- readResult{f: f, err: err}:
		case <-done:
			return
		}
		if err != nil {
			return
		}
	}
}

func (c *conn) readFailed(err error) {
	c.cancelStream()
	switch connPhase(c.phase.Load()) {
	case phaseAborted:
		err = ErrLocalAbort
	case phaseReleased:
		return
	}
	c.phase.Store(int32(phaseAborted))
	c.invoke("OnNetworkError", func() { c.handler.OnNetworkError(c, c.assoc, err) })
}

// dispatch routes one frame of an open association. It reports whether the
// association has ended.
func (c *conn) dispatch(f frame.Frame) bool {
	switch f.Header.Type {
	case frame.TypePData:
		var p pdata
		if err := decodePayload(f, &p); err != nil || p.Message == nil {
			return c.protocolAbort(dicom.AbortReasonInvalidPDUParameter, fmt.Errorf("%w: pdata", ErrMalformedFrame))
		}
		if p.Message.CommandField.IsResponse() {
			c.invoke("OnReceiveResponseMessage", func() { c.handler.OnReceiveResponseMessage(c, c.assoc, p.PCID, p.Message) })
		} else {
			c.invoke("OnReceiveRequestMessage", func() { c.handler.OnReceiveRequestMessage(c, c.assoc, p.PCID, p.Message) })
		}
	case frame.TypePDataStream:
		var chunk streamChunk
		if err := decodePayload(f, &chunk); err != nil {
			return c.protocolAbort(dicom.AbortReasonInvalidPDUParameter, err)
		}
		if err := c.receiveChunk(chunk); err != nil {
			return c.protocolAbort(dicom.AbortReasonNotSpecified, err)
		}
	case frame.TypeReleaseRQ:
		c.cancelStream()
		c.invoke("OnReceiveReleaseRequest", func() { c.handler.OnReceiveReleaseRequest(c, c.assoc) })
		if c.phase.CompareAndSwap(int32(phaseOpen), int32(phaseReleased)) {
			_ = c.write(frame.TypeReleaseRP, nil)
		}
		return true
	case frame.TypeAbort:
		var a abortPDU
		_ = decodePayload(f, &a)
		c.cancelStream()
		c.phase.Store(int32(phaseAborted))
		c.invoke("OnReceiveAbort", func() {
			c.handler.OnReceiveAbort(c, c.assoc, dicom.AbortSource(a.Source), dicom.AbortReason(a.Reason))
		})
		return true
	default:
		return c.protocolAbort(dicom.AbortReasonUnexpectedPDU, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.Type))
	}
	// A local abort closes the socket; the reader reports it as ErrLocalAbort.
	return false
}

func (c *conn) protocolAbort(reason dicom.AbortReason, err error) bool {
	log.Warn().Err(err).Str("ae", c.assoc.CalledAE).Str("remote", c.RemoteAddr()).Msg("network.protocol violation")
	c.cancelStream()
	_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, reason)
	c.invoke("OnNetworkError", func() { c.handler.OnNetworkError(c, c.assoc, fmt.Errorf("%w: %v", ErrLocalAbort, err)) })
	return true
}

func (c *conn) receiveChunk(chunk streamChunk) error {
	if chunk.First {
		if c.stream != nil {
			return fmt.Errorf("%w: stream already in progress on pcid %d", ErrUnexpectedFrame, c.stream.pcid)
		}
		if chunk.Command == nil {
			return fmt.Errorf("%w: stream without command", ErrMalformedFrame)
		}
		st := &inboundStream{pcid: chunk.PCID, command: chunk.Command}
		var streamed bool
		c.invoke("OnReceiveDimseCommand", func() {
			streamed = c.handler.OnReceiveDimseCommand(c, c.assoc, chunk.PCID, chunk.Command)
		})
		if streamed {
			c.invoke("OnStartFilestream", func() {
				st.sink = c.handler.OnStartFilestream(c, c.assoc, chunk.PCID, chunk.Command)
			})
		}
		c.stream = st
	}
	st := c.stream
	if st == nil || st.pcid != chunk.PCID {
		return fmt.Errorf("%w: stream data without command", ErrUnexpectedFrame)
	}
	st.size += uint64(len(chunk.Data))
	if st.size > c.params.MaxObjectBytes {
		return fmt.Errorf("%w: %d bytes", ErrObjectTooBig, st.size)
	}
	if len(chunk.Data) > 0 {
		if st.sink != nil {
			if err := st.sink.SaveStreamData(st.command, chunk.Data); err != nil {
				return fmt.Errorf("save stream data: %w", err)
			}
		} else {
			st.buf = append(st.buf, chunk.Data...)
		}
	}
	if !chunk.Last {
		return nil
	}
	c.stream = nil
	if st.sink != nil {
		if err := st.sink.CompleteStream(c, c.assoc, st.pcid, st.command); err != nil {
			return fmt.Errorf("complete stream: %w", err)
		}
		return nil
	}
	msg := *st.command
	msg.Payload = st.buf
	c.invoke("OnReceiveRequestMessage", func() { c.handler.OnReceiveRequestMessage(c, c.assoc, st.pcid, &msg) })
	return nil
}

func (c *conn) cancelStream() {
	st := c.stream
	c.stream = nil
	if st == nil || st.sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("network.stream cancel panicked")
		}
	}()
	st.sink.CancelStream()
}

// invoke runs a handler callback, containing any panic so one faulty
// handler cannot take down the listener.
func (c *conn) invoke(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Interface("panic", r).
				Str("callback", name).
				Str("remote", c.RemoteAddr()).
				Msg("network.handler callback panicked")
			_ = c.SendAssociateAbort(dicom.AbortSourceServiceProvider, dicom.AbortReasonNotSpecified)
		}
	}()
	fn()
}
