package network

import (
	"testing"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func offered() *dicom.AssociationParameters {
	a := dicom.NewAssociationParameters("", "SCP")
	id, _ := a.AddPresentationContext(dicom.CtImageStorage)
	_ = a.AddTransferSyntax(id, dicom.ExplicitVRLittleEndian)
	_ = a.AddTransferSyntax(id, dicom.JpegLosslessProcess14SV1)
	_ = a.AddTransferSyntax(id, dicom.ImplicitVRLittleEndian)
	id, _ = a.AddPresentationContext(dicom.VerificationSopClass)
	_ = a.AddTransferSyntax(id, dicom.ImplicitVRLittleEndian)
	return a
}

func TestNegotiatePrefersListenerOrder(t *testing.T) {
	testlog.Start(t)
	proposal := dicom.NewAssociationParameters("SCU", "SCP")
	id, _ := proposal.AddPresentationContext(dicom.CtImageStorage)
	_ = proposal.AddTransferSyntax(id, dicom.ImplicitVRLittleEndian)
	_ = proposal.AddTransferSyntax(id, dicom.JpegLosslessProcess14SV1)

	require.True(t, Negotiate(offered(), proposal))
	ts, ok := proposal.AcceptedTransferSyntax(id)
	require.True(t, ok)
	require.Equal(t, dicom.JpegLosslessProcess14SV1.UID, ts.UID)
}

func TestNegotiateRejectVariants(t *testing.T) {
	testlog.Start(t)
	proposal := dicom.NewAssociationParameters("SCU", "SCP")
	unknown, _ := proposal.AddPresentationContext(dicom.EncapsulatedPdfStorage)
	_ = proposal.AddTransferSyntax(unknown, dicom.ExplicitVRLittleEndian)
	noSyntax, _ := proposal.AddPresentationContext(dicom.VerificationSopClass)
	_ = proposal.AddTransferSyntax(noSyntax, dicom.ExplicitVRBigEndian)

	require.False(t, Negotiate(offered(), proposal))

	pc, _ := proposal.PresentationContext(unknown)
	require.Equal(t, dicom.PresContextRejectAbstractSyntaxNotSupported, pc.Result)
	require.Empty(t, pc.Transfers())
	pc, _ = proposal.PresentationContext(noSyntax)
	require.Equal(t, dicom.PresContextRejectTransferSyntaxesNotSupported, pc.Result)
	require.False(t, proposal.AnyAccepted())
}

func TestNegotiateNilOffer(t *testing.T) {
	testlog.Start(t)
	proposal := dicom.NewAssociationParameters("SCU", "SCP")
	id, _ := proposal.AddPresentationContext(dicom.VerificationSopClass)
	_ = proposal.AddTransferSyntax(id, dicom.ImplicitVRLittleEndian)
	require.False(t, Negotiate(nil, proposal))
}
