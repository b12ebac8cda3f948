package scp

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
)

type appContext struct {
	name string
}

type rejectCall struct {
	result dicom.RejectResult
	source dicom.RejectSource
	reason dicom.RejectReason
}

type abortCall struct {
	source dicom.AbortSource
	reason dicom.AbortReason
}

// fakeServer records what the dispatcher asks the transport to send.
type fakeServer struct {
	mu        sync.Mutex
	accepts   int
	rejects   []rejectCall
	aborts    []abortCall
	responses []*dicom.Message
}

func (s *fakeServer) SendAssociateAccept(*dicom.AssociationParameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accepts++
	return nil
}

func (s *fakeServer) SendAssociateReject(result dicom.RejectResult, source dicom.RejectSource, reason dicom.RejectReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejects = append(s.rejects, rejectCall{result, source, reason})
	return nil
}

func (s *fakeServer) SendAssociateAbort(source dicom.AbortSource, reason dicom.AbortReason) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborts = append(s.aborts, abortCall{source, reason})
	return nil
}

func (s *fakeServer) SendResponse(pcid byte, msg *dicom.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, msg)
	return nil
}

func (s *fakeServer) RemoteAddr() string { return "127.0.0.1:40000" }

func (s *fakeServer) counts() (accepts, rejects, aborts, responses int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepts, len(s.rejects), len(s.aborts), len(s.responses)
}

// fakeTransport captures the listener instead of opening a socket.
type fakeTransport struct {
	mu       sync.Mutex
	params   network.ListenerParameters
	start    network.StartAssociation
	listenFn func(network.ListenerParameters) error
	stopErr  error
	stops    int
}

func (t *fakeTransport) Listen(params network.ListenerParameters, start network.StartAssociation) error {
	if t.listenFn != nil {
		if err := t.listenFn(params); err != nil {
			return err
		}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.params = params
	t.start = start
	return nil
}

func (t *fakeTransport) StopListening(network.ListenerParameters) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stops++
	return t.stopErr
}

// associate runs the transport half of negotiation for proposal and builds
// the dispatcher the way the TCP transport does.
func (t *fakeTransport) associate(srv network.Server, proposal *dicom.AssociationParameters) network.ServerHandler {
	t.mu.Lock()
	params, start := t.params, t.start
	t.mu.Unlock()
	if !network.Negotiate(params.Contexts, proposal) {
		return nil
	}
	return start(srv, proposal)
}

type fakeService struct {
	name     string
	sops     []SupportedSop
	verdict  dicom.PresContextResult
	fail     bool
	panics   bool
	delay    time.Duration
	cleanErr error

	ctx          atomic.Pointer[appContext]
	setCalls     atomic.Int32
	verifyCalls  atomic.Int32
	requestCalls atomic.Int32
	cleanupCalls atomic.Int32
}

func (f *fakeService) SetContext(ctx *appContext) {
	f.setCalls.Add(1)
	f.ctx.Store(ctx)
}

func (f *fakeService) GetSupportedSops() []SupportedSop {
	return f.sops
}

func (f *fakeService) VerifyAssociation(*dicom.AssociationParameters, byte) dicom.PresContextResult {
	f.verifyCalls.Add(1)
	return f.verdict
}

func (f *fakeService) OnReceiveRequest(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) bool {
	f.requestCalls.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.panics {
		panic("service exploded")
	}
	if f.fail {
		return false
	}
	_ = srv.SendResponse(pcid, dicom.NewResponse(msg, dicom.StatusSuccess))
	return true
}

func (f *fakeService) Cleanup() error {
	f.cleanupCalls.Add(1)
	return f.cleanErr
}

// streamingService opts into filestream receipt for store requests.
type streamingService struct {
	*fakeService
	sink *bufferSink
}

func (s *streamingService) ReceiveMessageAsFileStream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) bool {
	return command.CommandField == dicom.CStoreRequest
}

func (s *streamingService) OnStartFilestream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) network.FilestreamHandler {
	if s.sink == nil {
		return nil
	}
	return s.sink
}

type bufferSink struct {
	mu        sync.Mutex
	data      []byte
	completed bool
	cancelled bool
	failWith  error
}

func (b *bufferSink) SaveStreamData(_ *dicom.Message, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = append(b.data, data...)
	return nil
}

func (b *bufferSink) CompleteStream(srv network.Server, _ *dicom.AssociationParameters, pcid byte, command *dicom.Message) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWith != nil {
		return b.failWith
	}
	b.completed = true
	return srv.SendResponse(pcid, dicom.NewResponse(command, dicom.StatusSuccess))
}

func (b *bufferSink) CancelStream() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = true
}

var errCleanup = errors.New("cleanup failed")

func sops(class dicom.SopClass, syntaxes ...dicom.TransferSyntax) []SupportedSop {
	out := make([]SupportedSop, 0, len(syntaxes))
	for _, ts := range syntaxes {
		out = append(out, SupportedSop{SopClass: class, TransferSyntax: ts})
	}
	return out
}

type ctxOffer struct {
	class    dicom.SopClass
	syntaxes []dicom.TransferSyntax
}

func propose(class dicom.SopClass, syntaxes ...dicom.TransferSyntax) ctxOffer {
	return ctxOffer{class: class, syntaxes: syntaxes}
}

func proposal(calling string, offers ...ctxOffer) *dicom.AssociationParameters {
	p := dicom.NewAssociationParameters(calling, "SCPTEST")
	for _, offer := range offers {
		id, _ := p.AddPresentationContext(offer.class)
		for _, ts := range offer.syntaxes {
			_ = p.AddTransferSyntax(id, ts)
		}
	}
	return p
}
