package dicom

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"
)

var (
	ErrPresContextNotFound = errors.New("dicom: presentation context not found")
	ErrPresContextExhaust  = errors.New("dicom: presentation context ids exhausted")
	ErrInvalidAETitle      = errors.New("dicom: invalid ae title")
)

// MaxAETitleLen is the longest application entity title the protocol allows.
const MaxAETitleLen = 16

// ValidateAETitle checks the length and character rules of an AE title.
func ValidateAETitle(ae string) error {
	trimmed := strings.TrimSpace(ae)
	if trimmed == "" {
		return fmt.Errorf("%w: empty", ErrInvalidAETitle)
	}
	if len(trimmed) > MaxAETitleLen {
		return fmt.Errorf("%w: %q longer than %d", ErrInvalidAETitle, trimmed, MaxAETitleLen)
	}
	for i := 0; i < len(trimmed); i++ {
		c := trimmed[i]
		if c < 0x20 || c > 0x7e || c == '\\' {
			return fmt.Errorf("%w: %q contains invalid character", ErrInvalidAETitle, trimmed)
		}
	}
	return nil
}

// AssociationParameters holds the identities and presentation contexts of
// one association, either proposed by a peer or offered by a listener.
type AssociationParameters struct {
	CallingAE  string
	CalledAE   string
	RemoteAddr string
	LocalAddr  string
	MaxPDULen  uint32
	Timestamp  time.Time

	contexts []*PresContext
}

// NewAssociationParameters creates an empty parameter set.
func NewAssociationParameters(callingAE, calledAE string) *AssociationParameters {
	return &AssociationParameters{
		CallingAE: strings.TrimSpace(callingAE),
		CalledAE:  strings.TrimSpace(calledAE),
		Timestamp: time.Now(),
	}
}

// AddPresentationContext adds a context for abstract under the next free odd
// context id.
func (a *AssociationParameters) AddPresentationContext(abstract SopClass) (byte, error) {
	next := 1
	for _, pc := range a.contexts {
		if int(pc.ID) >= next {
			next = int(pc.ID) + 2
		}
	}
	if next > 255 {
		return 0, ErrPresContextExhaust
	}
	id := byte(next)
	a.contexts = append(a.contexts, NewPresContext(id, abstract))
	return id, nil
}

// AddPresentationContextWithID adds a context under an explicit id,
// replacing any existing context with that id.
func (a *AssociationParameters) AddPresentationContextWithID(id byte, abstract SopClass) *PresContext {
	pc := NewPresContext(id, abstract)
	for i, existing := range a.contexts {
		if existing.ID == id {
			a.contexts[i] = pc
			return pc
		}
	}
	a.contexts = append(a.contexts, pc)
	return pc
}

func (a *AssociationParameters) AddTransferSyntax(id byte, ts TransferSyntax) error {
	pc, ok := a.PresentationContext(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrPresContextNotFound, id)
	}
	pc.AddTransfer(ts)
	return nil
}

// PresentationContext returns the live context for id.
func (a *AssociationParameters) PresentationContext(id byte) (*PresContext, bool) {
	for _, pc := range a.contexts {
		if pc.ID == id {
			return pc, true
		}
	}
	return nil, false
}

// PresentationContexts returns the live contexts in insertion order.
func (a *AssociationParameters) PresentationContexts() []*PresContext {
	return slices.Clone(a.contexts)
}

func (a *AssociationParameters) PresentationContextIDs() []byte {
	out := make([]byte, 0, len(a.contexts))
	for _, pc := range a.contexts {
		out = append(out, pc.ID)
	}
	return out
}

// FindAbstractSyntax returns the id of the first context proposing abstract,
// or 0 when none does.
func (a *AssociationParameters) FindAbstractSyntax(abstract SopClass) byte {
	for _, pc := range a.contexts {
		if pc.AbstractSyntax.UID == abstract.UID {
			return pc.ID
		}
	}
	return 0
}

// FindAbstractSyntaxWithTransferSyntax returns the id of the first context
// carrying both abstract and ts, or 0.
func (a *AssociationParameters) FindAbstractSyntaxWithTransferSyntax(abstract SopClass, ts TransferSyntax) byte {
	for _, pc := range a.contexts {
		if pc.AbstractSyntax.UID == abstract.UID && pc.HasTransfer(ts) {
			return pc.ID
		}
	}
	return 0
}

func (a *AssociationParameters) SetPresentationContextResult(id byte, result PresContextResult) error {
	pc, ok := a.PresentationContext(id)
	if !ok {
		return fmt.Errorf("%w: %d", ErrPresContextNotFound, id)
	}
	pc.Result = result
	return nil
}

// AcceptedTransferSyntax returns the chosen syntax of context id.
func (a *AssociationParameters) AcceptedTransferSyntax(id byte) (TransferSyntax, bool) {
	pc, ok := a.PresentationContext(id)
	if !ok {
		return TransferSyntax{}, false
	}
	return pc.AcceptedTransferSyntax()
}

// AnyAccepted reports whether at least one context is accepted.
func (a *AssociationParameters) AnyAccepted() bool {
	for _, pc := range a.contexts {
		if pc.Result == PresContextAccept {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (a *AssociationParameters) Clone() *AssociationParameters {
	out := *a
	out.contexts = make([]*PresContext, 0, len(a.contexts))
	for _, pc := range a.contexts {
		out.contexts = append(out.contexts, pc.Clone())
	}
	return &out
}

// String renders a multi-line dump suitable for debug logging.
func (a *AssociationParameters) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "calling_ae=%q called_ae=%q remote=%s max_pdu=%d\n", a.CallingAE, a.CalledAE, a.RemoteAddr, a.MaxPDULen)
	for _, pc := range a.contexts {
		fmt.Fprintf(&b, "  pcid=%d abstract=%q result=%s", pc.ID, pc.AbstractSyntax.String(), pc.Result)
		names := make([]string, 0, len(pc.transfers))
		for _, ts := range pc.transfers {
			names = append(names, ts.String())
		}
		fmt.Fprintf(&b, " transfers=[%s]\n", strings.Join(names, ", "))
	}
	return b.String()
}
