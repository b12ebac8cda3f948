package network

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network/frame"
)

var (
	ErrAddressRequired   = errors.New("network: address required")
	ErrNotAssociated     = errors.New("network: client not associated")
	ErrNoAcceptedContext = errors.New("network: no accepted presentation context for sop class")
	ErrResponseMismatch  = errors.New("network: response does not answer request")
)

const defaultStreamChunkLen = 64 * 1024

// RejectError is returned by Associate when the peer rejects.
type RejectError struct {
	Result dicom.RejectResult
	Source dicom.RejectSource
	Reason dicom.RejectReason
}

func (e *RejectError) Error() string {
	return fmt.Sprintf("association rejected: result=%s source=%s reason=%s",
		e.Result, e.Source, dicom.RejectReasonString(e.Source, e.Reason))
}

// AbortError is returned when the peer aborts.
type AbortError struct {
	Source dicom.AbortSource
	Reason dicom.AbortReason
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("association aborted: source=%s reason=%s", e.Source, e.Reason)
}

type ClientConfig struct {
	Address         string
	ConnectTimeout  time.Duration
	Timeout         time.Duration
	MaxPayloadBytes uint64
	TLS             TLSConfig
}

func (c ClientConfig) withDefaults() ClientConfig {
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = 5 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultReadTimeout
	}
	if c.MaxPayloadBytes == 0 {
		c.MaxPayloadBytes = frame.DefaultLimits().MaxPayloadBytes
	}
	return c
}

// Client is the requesting side of one association.
type Client struct {
	cfg    ClientConfig
	nc     net.Conn
	reader *bufio.Reader
	limits frame.Limits

	writeMu sync.Mutex
	readMu  sync.Mutex
	seq     atomic.Uint32
	msgID   atomic.Uint32
	assoc   *dicom.AssociationParameters
}

// Dial connects to a listener without associating.
func Dial(ctx context.Context, cfg ClientConfig) (*Client, error) {
	if strings.TrimSpace(cfg.Address) == "" {
		return nil, ErrAddressRequired
	}
	cfg = cfg.withDefaults()
	if err := cfg.TLS.ValidateClient(); err != nil {
		return nil, err
	}
	dialer := net.Dialer{Timeout: cfg.ConnectTimeout}
	nc, err := dialer.DialContext(ctx, "tcp", cfg.Address)
	if err != nil {
		return nil, err
	}
	if cfg.TLS.Enabled {
		tlsCfg, err := cfg.TLS.ClientConfig()
		if err != nil {
			_ = nc.Close()
			return nil, err
		}
		if tlsCfg.ServerName == "" && !tlsCfg.InsecureSkipVerify {
			host, _, _ := net.SplitHostPort(cfg.Address)
			tlsCfg.ServerName = host
		}
		tc := tls.Client(nc, tlsCfg)
		_ = tc.SetDeadline(time.Now().Add(cfg.ConnectTimeout))
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = nc.Close()
			return nil, fmt.Errorf("tls handshake: %w", err)
		}
		_ = tc.SetDeadline(time.Time{})
		nc = tc
	}
	return &Client{
		cfg:    cfg,
		nc:     nc,
		reader: bufio.NewReader(nc),
		limits: frame.Limits{MaxPayloadBytes: cfg.MaxPayloadBytes},
	}, nil
}

// Associate proposes the contexts of proposal and returns the negotiated
// parameters. A rejection is returned as *RejectError.
func (c *Client) Associate(ctx context.Context, proposal *dicom.AssociationParameters) (*dicom.AssociationParameters, error) {
	rq := associateRQ{
		CallingAE: proposal.CallingAE,
		CalledAE:  proposal.CalledAE,
		MaxPDULen: uint32(c.cfg.MaxPayloadBytes),
		Contexts:  encodeContexts(proposal),
	}
	if err := c.write(ctx, frame.TypeAssociateRQ, rq); err != nil {
		return nil, err
	}
	f, err := c.read(ctx)
	if err != nil {
		return nil, err
	}
	switch f.Header.Type {
	case frame.TypeAssociateAC:
		var ac associateAC
		if err := decodePayload(f, &ac); err != nil {
			return nil, err
		}
		assoc := dicom.NewAssociationParameters(ac.CallingAE, ac.CalledAE)
		assoc.MaxPDULen = ac.MaxPDULen
		assoc.RemoteAddr = c.nc.RemoteAddr().String()
		assoc.LocalAddr = c.nc.LocalAddr().String()
		if err := decodeContexts(assoc, ac.Contexts, true); err != nil {
			return nil, err
		}
		c.assoc = assoc
		return assoc.Clone(), nil
	case frame.TypeAssociateRJ:
		var rj associateRJ
		if err := decodePayload(f, &rj); err != nil {
			return nil, err
		}
		_ = c.nc.Close()
		return nil, &RejectError{
			Result: dicom.RejectResult(rj.Result),
			Source: dicom.RejectSource(rj.Source),
			Reason: dicom.RejectReason(rj.Reason),
		}
	case frame.TypeAbort:
		return nil, c.abortError(f)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.Type)
	}
}

// Association returns a copy of the negotiated parameters.
func (c *Client) Association() *dicom.AssociationParameters {
	if c.assoc == nil {
		return nil
	}
	return c.assoc.Clone()
}

// ContextFor returns the accepted context id carrying sopClass.
func (c *Client) ContextFor(sopClass dicom.SopClass) (byte, error) {
	if c.assoc == nil {
		return 0, ErrNotAssociated
	}
	for _, pc := range c.assoc.PresentationContexts() {
		if pc.Result == dicom.PresContextAccept && pc.AbstractSyntax.UID == sopClass.UID {
			return pc.ID, nil
		}
	}
	return 0, fmt.Errorf("%w: %s", ErrNoAcceptedContext, sopClass)
}

// NextMessageID allocates a message id.
func (c *Client) NextMessageID() uint16 {
	return uint16(c.msgID.Add(1))
}

// Send writes one request without waiting for its response.
func (c *Client) Send(ctx context.Context, pcid byte, msg *dicom.Message) error {
	if c.assoc == nil {
		return ErrNotAssociated
	}
	if msg.MessageID == 0 {
		msg.MessageID = c.NextMessageID()
	}
	return c.write(ctx, frame.TypePData, pdata{PCID: pcid, Message: msg})
}

// ReadResponse waits for the next response on the association.
func (c *Client) ReadResponse(ctx context.Context) (byte, *dicom.Message, error) {
	f, err := c.read(ctx)
	if err != nil {
		return 0, nil, err
	}
	switch f.Header.Type {
	case frame.TypePData:
		var p pdata
		if err := decodePayload(f, &p); err != nil {
			return 0, nil, err
		}
		if p.Message == nil {
			return 0, nil, fmt.Errorf("%w: empty pdata", ErrMalformedFrame)
		}
		return p.PCID, p.Message, nil
	case frame.TypeAbort:
		return 0, nil, c.abortError(f)
	default:
		return 0, nil, fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.Type)
	}
}

// Request sends msg and waits for its response.
func (c *Client) Request(ctx context.Context, pcid byte, msg *dicom.Message) (*dicom.Message, error) {
	if err := c.Send(ctx, pcid, msg); err != nil {
		return nil, err
	}
	_, rsp, err := c.ReadResponse(ctx)
	if err != nil {
		return nil, err
	}
	if rsp.MessageIDBeingRespondedTo != msg.MessageID {
		return rsp, fmt.Errorf("%w: sent %d got %d", ErrResponseMismatch, msg.MessageID, rsp.MessageIDBeingRespondedTo)
	}
	return rsp, nil
}

// Echo sends a verification request.
func (c *Client) Echo(ctx context.Context) (dicom.Status, error) {
	pcid, err := c.ContextFor(dicom.VerificationSopClass)
	if err != nil {
		return 0, err
	}
	rsp, err := c.Request(ctx, pcid, &dicom.Message{
		CommandField:        dicom.CEchoRequest,
		AffectedSopClassUID: dicom.VerificationSopClass.UID,
	})
	if err != nil {
		return 0, err
	}
	return rsp.Status, nil
}

// Store sends a buffered store request carrying payload.
func (c *Client) Store(ctx context.Context, sopClass dicom.SopClass, instanceUID string, ds dicom.Dataset, payload []byte) (dicom.Status, error) {
	pcid, err := c.ContextFor(sopClass)
	if err != nil {
		return 0, err
	}
	rsp, err := c.Request(ctx, pcid, &dicom.Message{
		CommandField:           dicom.CStoreRequest,
		AffectedSopClassUID:    sopClass.UID,
		AffectedSopInstanceUID: instanceUID,
		DataSet:                ds,
		Payload:                payload,
	})
	if err != nil {
		return 0, err
	}
	return rsp.Status, nil
}

// StoreStream sends a store request whose payload is read from r in chunks.
func (c *Client) StoreStream(ctx context.Context, sopClass dicom.SopClass, instanceUID string, ds dicom.Dataset, r io.Reader) (dicom.Status, error) {
	pcid, err := c.ContextFor(sopClass)
	if err != nil {
		return 0, err
	}
	cmd := &dicom.Message{
		CommandField:           dicom.CStoreRequest,
		MessageID:              c.NextMessageID(),
		AffectedSopClassUID:    sopClass.UID,
		AffectedSopInstanceUID: instanceUID,
		DataSet:                ds,
	}
	if err := c.write(ctx, frame.TypePDataStream, streamChunk{PCID: pcid, Command: cmd, First: true}); err != nil {
		return 0, err
	}
	buf := make([]byte, defaultStreamChunkLen)
	for {
		n, readErr := r.Read(buf)
		last := errors.Is(readErr, io.EOF)
		if readErr != nil && !last {
			_ = c.Abort()
			return 0, fmt.Errorf("read object: %w", readErr)
		}
		if n > 0 || last {
			chunk := streamChunk{PCID: pcid, Data: buf[:n], Last: last}
			if err := c.write(ctx, frame.TypePDataStream, chunk); err != nil {
				return 0, err
			}
		}
		if last {
			break
		}
	}
	_, rsp, err := c.ReadResponse(ctx)
	if err != nil {
		return 0, err
	}
	if rsp.MessageIDBeingRespondedTo != cmd.MessageID {
		return rsp.Status, fmt.Errorf("%w: sent %d got %d", ErrResponseMismatch, cmd.MessageID, rsp.MessageIDBeingRespondedTo)
	}
	return rsp.Status, nil
}

// Release performs an orderly release and closes the connection.
func (c *Client) Release(ctx context.Context) error {
	defer c.nc.Close()
	if err := c.write(ctx, frame.TypeReleaseRQ, nil); err != nil {
		return err
	}
	for {
		f, err := c.read(ctx)
		if err != nil {
			return err
		}
		switch f.Header.Type {
		case frame.TypeReleaseRP:
			return nil
		case frame.TypeAbort:
			return c.abortError(f)
		case frame.TypePData:
			// late response to a pipelined request
			continue
		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedFrame, f.Header.Type)
		}
	}
}

// Abort sends a user abort and closes the connection.
func (c *Client) Abort() error {
	err := c.write(context.Background(), frame.TypeAbort, abortPDU{
		Source: uint8(dicom.AbortSourceServiceUser),
		Reason: uint8(dicom.AbortReasonNotSpecified),
	})
	_ = c.nc.Close()
	return err
}

func (c *Client) Close() error {
	return c.nc.Close()
}

func (c *Client) write(ctx context.Context, t frame.Type, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.nc.SetWriteDeadline(c.deadline(ctx))
	return writeMessage(c.nc, t, c.seq.Add(1), v, c.limits)
}

func (c *Client) read(ctx context.Context) (frame.Frame, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	_ = c.nc.SetReadDeadline(c.deadline(ctx))
	return frame.ReadFrame(c.reader, c.limits)
}

func (c *Client) deadline(ctx context.Context) time.Time {
	if d, ok := ctx.Deadline(); ok {
		return d
	}
	return time.Now().Add(c.cfg.Timeout)
}

func (c *Client) abortError(f frame.Frame) error {
	var a abortPDU
	_ = decodePayload(f, &a)
	_ = c.nc.Close()
	return &AbortError{Source: dicom.AbortSource(a.Source), Reason: dicom.AbortReason(a.Reason)}
}
