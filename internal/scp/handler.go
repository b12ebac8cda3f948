package scp

import (
	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
)

// SupportedSop is one SOP class and transfer syntax pair a handler serves.
type SupportedSop struct {
	SopClass       dicom.SopClass
	TransferSyntax dicom.TransferSyntax
}

func (s SupportedSop) matches(abstract dicom.SopClass, ts dicom.TransferSyntax) bool {
	return s.SopClass.UID == abstract.UID && s.TransferSyntax.Equal(ts)
}

// ServiceHandler is the contract every pluggable service implements. C is
// the application context handed to SetContext.
//
// SetContext is called before any other method. GetSupportedSops must be
// stable for the life of an association. Expected OnReceiveRequest failures
// return false; panics are recovered and treated the same way. Cleanup must
// tolerate a handler that never finished initializing.
type ServiceHandler[C any] interface {
	SetContext(ctx C)
	GetSupportedSops() []SupportedSop
	VerifyAssociation(assoc *dicom.AssociationParameters, pcid byte) dicom.PresContextResult
	OnReceiveRequest(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) bool
	Cleanup() error
}

// FilestreamHandler is implemented by handlers that can receive bulk
// payloads as a stream instead of a buffered message.
type FilestreamHandler interface {
	ReceiveMessageAsFileStream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) bool
	// OnStartFilestream returns the sink for the payload, or nil to fall back
	// to buffered receipt.
	OnStartFilestream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) network.FilestreamHandler
}

// VerifyFunc vetoes an association before any handler sees it. Returning
// ok=false rejects with result and reason from the service user.
type VerifyFunc[C any] func(ctx C, assoc *dicom.AssociationParameters) (ok bool, result dicom.RejectResult, reason dicom.RejectReason)

// CompleteFunc receives the objects stored over one association, exactly
// once, after it ends by release, abort or network error.
type CompleteFunc[C any] func(ctx C, assoc *dicom.AssociationParameters, records []StorageInstance)
