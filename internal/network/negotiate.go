package network

import "github.com/danmuck/scpd/internal/dicom"

// Negotiate resolves every proposed context against what the listener
// offers. The chosen transfer syntax is the first one in the listener's
// order that the peer also proposed. It reports whether any context was
// accepted.
func Negotiate(offered, proposal *dicom.AssociationParameters) bool {
	accepted := false
	for _, pc := range proposal.PresentationContexts() {
		local := findOffered(offered, pc.AbstractSyntax)
		if local == nil {
			pc.ClearTransfers()
			pc.Result = dicom.PresContextRejectAbstractSyntaxNotSupported
			continue
		}
		chosen, ok := selectTransfer(local, pc)
		if !ok {
			pc.ClearTransfers()
			pc.Result = dicom.PresContextRejectTransferSyntaxesNotSupported
			continue
		}
		pc.ClearTransfers()
		pc.AddTransfer(chosen)
		pc.Result = dicom.PresContextAccept
		accepted = true
	}
	return accepted
}

func findOffered(offered *dicom.AssociationParameters, abstract dicom.SopClass) *dicom.PresContext {
	if offered == nil {
		return nil
	}
	id := offered.FindAbstractSyntax(abstract)
	if id == 0 {
		return nil
	}
	pc, _ := offered.PresentationContext(id)
	return pc
}

func selectTransfer(local, proposed *dicom.PresContext) (dicom.TransferSyntax, bool) {
	for _, ts := range local.Transfers() {
		if proposed.HasTransfer(ts) {
			return ts, true
		}
	}
	return dicom.TransferSyntax{}, false
}
