package network

import (
	"time"

	"github.com/danmuck/scpd/internal/dicom"
)

// Server is the outbound side of one inbound association.
type Server interface {
	SendAssociateAccept(assoc *dicom.AssociationParameters) error
	SendAssociateReject(result dicom.RejectResult, source dicom.RejectSource, reason dicom.RejectReason) error
	SendAssociateAbort(source dicom.AbortSource, reason dicom.AbortReason) error
	SendResponse(pcid byte, msg *dicom.Message) error
	RemoteAddr() string
}

// ServerHandler receives the lifecycle callbacks of one association. The
// transport invokes callbacks from the connection's reader goroutine, so
// implementations must return promptly.
type ServerHandler interface {
	OnReceiveAssociateRequest(srv Server, assoc *dicom.AssociationParameters)
	OnReceiveRequestMessage(srv Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message)
	OnReceiveResponseMessage(srv Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message)
	OnReceiveReleaseRequest(srv Server, assoc *dicom.AssociationParameters)
	OnReceiveAbort(srv Server, assoc *dicom.AssociationParameters, source dicom.AbortSource, reason dicom.AbortReason)
	OnNetworkError(srv Server, assoc *dicom.AssociationParameters, err error)
	OnDimseTimeout(srv Server, assoc *dicom.AssociationParameters)

	// OnReceiveDimseCommand reports whether the request whose command just
	// arrived should be received as a stream.
	OnReceiveDimseCommand(srv Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) bool
	// OnStartFilestream returns the sink for a streamed request, or nil to
	// fall back to buffered receipt.
	OnStartFilestream(srv Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) FilestreamHandler
}

// FilestreamHandler consumes the payload of one streamed request.
type FilestreamHandler interface {
	SaveStreamData(command *dicom.Message, data []byte) error
	CompleteStream(srv Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) error
	CancelStream()
}

// StartAssociation builds the handler for a negotiated association.
type StartAssociation func(srv Server, assoc *dicom.AssociationParameters) ServerHandler

// ListenerParameters describe one local application entity.
type ListenerParameters struct {
	AETitle string
	Address string
	Port    int
	// Contexts lists what the listener can accept, in preference order.
	Contexts *dicom.AssociationParameters

	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	DimseTimeout    time.Duration
	MaxPayloadBytes uint64
	MaxObjectBytes  uint64
	TLS             TLSConfig
}

// Transport starts and stops listeners on behalf of the service layer.
type Transport interface {
	Listen(params ListenerParameters, start StartAssociation) error
	StopListening(params ListenerParameters) error
}

const (
	defaultReadTimeout    = 30 * time.Second
	defaultWriteTimeout   = 30 * time.Second
	defaultMaxObjectBytes = 512 * 1024 * 1024
)

// WithDefaults fills unset timeouts and limits.
func (p ListenerParameters) WithDefaults() ListenerParameters {
	if p.ReadTimeout <= 0 {
		p.ReadTimeout = defaultReadTimeout
	}
	if p.WriteTimeout <= 0 {
		p.WriteTimeout = defaultWriteTimeout
	}
	if p.MaxPayloadBytes == 0 {
		p.MaxPayloadBytes = 16 * 1024 * 1024
	}
	if p.MaxObjectBytes == 0 {
		p.MaxObjectBytes = defaultMaxObjectBytes
	}
	return p
}
