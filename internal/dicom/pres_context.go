package dicom

import "slices"

// PresContextResult is the negotiation outcome of one presentation context.
type PresContextResult uint8

const (
	PresContextAccept                             PresContextResult = 0
	PresContextRejectUser                         PresContextResult = 1
	PresContextRejectNoReason                     PresContextResult = 2
	PresContextRejectAbstractSyntaxNotSupported   PresContextResult = 3
	PresContextRejectTransferSyntaxesNotSupported PresContextResult = 4
	PresContextProposed                           PresContextResult = 255
)

func (r PresContextResult) String() string {
	switch r {
	case PresContextAccept:
		return "accept"
	case PresContextProposed:
		return "proposed"
	case PresContextRejectUser:
		return "reject-user"
	case PresContextRejectNoReason:
		return "reject-no-reason"
	case PresContextRejectAbstractSyntaxNotSupported:
		return "reject-abstract-syntax-not-supported"
	case PresContextRejectTransferSyntaxesNotSupported:
		return "reject-transfer-syntaxes-not-supported"
	default:
		return "unknown"
	}
}

// PresContext pairs one abstract syntax with an ordered list of transfer
// syntaxes. Once accepted the list holds exactly the chosen syntax.
type PresContext struct {
	ID             byte
	AbstractSyntax SopClass
	Result         PresContextResult
	transfers      []TransferSyntax
}

// NewPresContext creates a proposed context with no transfer syntaxes.
func NewPresContext(id byte, abstract SopClass) *PresContext {
	return &PresContext{ID: id, AbstractSyntax: abstract, Result: PresContextProposed}
}

// AddTransfer appends ts unless the context already lists it.
func (pc *PresContext) AddTransfer(ts TransferSyntax) bool {
	if pc.containsTransfer(ts) {
		return false
	}
	pc.transfers = append(pc.transfers, ts)
	return true
}

func (pc *PresContext) RemoveTransfer(ts TransferSyntax) {
	pc.transfers = slices.DeleteFunc(pc.transfers, ts.Equal)
}

func (pc *PresContext) ClearTransfers() {
	pc.transfers = nil
}

// Transfers returns a copy of the candidate list in its current order.
func (pc *PresContext) Transfers() []TransferSyntax {
	return slices.Clone(pc.transfers)
}

// SortTransfers orders candidates with a stable sort so equal elements keep
// their encounter order.
func (pc *PresContext) SortTransfers(cmp func(a, b TransferSyntax) int) {
	slices.SortStableFunc(pc.transfers, cmp)
}

// HasTransfer reports whether ts is still a live candidate. Rejected
// contexts have no live candidates.
func (pc *PresContext) HasTransfer(ts TransferSyntax) bool {
	if pc.Result != PresContextAccept && pc.Result != PresContextProposed {
		return false
	}
	return pc.containsTransfer(ts)
}

// AcceptedTransferSyntax returns the chosen syntax of an accepted context.
func (pc *PresContext) AcceptedTransferSyntax() (TransferSyntax, bool) {
	if pc.Result != PresContextAccept || len(pc.transfers) == 0 {
		return TransferSyntax{}, false
	}
	return pc.transfers[0], true
}

// Clone returns a deep copy safe to mutate independently.
func (pc *PresContext) Clone() *PresContext {
	out := *pc
	out.transfers = slices.Clone(pc.transfers)
	return &out
}

func (pc *PresContext) containsTransfer(ts TransferSyntax) bool {
	return slices.ContainsFunc(pc.transfers, ts.Equal)
}
