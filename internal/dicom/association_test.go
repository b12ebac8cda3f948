package dicom

import (
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/scpd/internal/testutil/testlog"
)

func TestAddPresentationContextAssignsOddIDs(t *testing.T) {
	testlog.Start(t)
	a := NewAssociationParameters("SCU", "SCP")
	ids := make([]byte, 0, 3)
	for _, s := range []SopClass{VerificationSopClass, CtImageStorage, MrImageStorage} {
		id, err := a.AddPresentationContext(s)
		if err != nil {
			t.Fatalf("add context: %v", err)
		}
		ids = append(ids, id)
	}
	if ids[0] != 1 || ids[1] != 3 || ids[2] != 5 {
		t.Fatalf("unexpected context ids: %v", ids)
	}
	if got := a.FindAbstractSyntax(MrImageStorage); got != 5 {
		t.Fatalf("FindAbstractSyntax=%d want 5", got)
	}
	if got := a.FindAbstractSyntax(EncapsulatedPdfStorage); got != 0 {
		t.Fatalf("expected 0 for missing abstract syntax, got %d", got)
	}
}

func TestAddPresentationContextExhaustsIDs(t *testing.T) {
	testlog.Start(t)
	a := NewAssociationParameters("SCU", "SCP")
	for i := 0; i < 128; i++ {
		if _, err := a.AddPresentationContext(CtImageStorage); err != nil {
			t.Fatalf("add context %d: %v", i, err)
		}
	}
	if _, err := a.AddPresentationContext(CtImageStorage); !errors.Is(err, ErrPresContextExhaust) {
		t.Fatalf("expected ErrPresContextExhaust, got %v", err)
	}
}

func TestTransferSyntaxesAreDeduplicated(t *testing.T) {
	testlog.Start(t)
	a := NewAssociationParameters("SCU", "SCP")
	id, _ := a.AddPresentationContext(CtImageStorage)
	_ = a.AddTransferSyntax(id, ExplicitVRLittleEndian)
	_ = a.AddTransferSyntax(id, ExplicitVRLittleEndian)
	_ = a.AddTransferSyntax(id, ImplicitVRLittleEndian)

	pc, ok := a.PresentationContext(id)
	if !ok {
		t.Fatalf("missing context %d", id)
	}
	if got := len(pc.Transfers()); got != 2 {
		t.Fatalf("expected 2 transfers, got %d", got)
	}
	if err := a.AddTransferSyntax(99, ExplicitVRLittleEndian); !errors.Is(err, ErrPresContextNotFound) {
		t.Fatalf("expected ErrPresContextNotFound, got %v", err)
	}
}

func TestRejectedContextHasNoLiveTransfers(t *testing.T) {
	testlog.Start(t)
	pc := NewPresContext(1, CtImageStorage)
	pc.AddTransfer(ExplicitVRLittleEndian)
	if !pc.HasTransfer(ExplicitVRLittleEndian) {
		t.Fatalf("proposed context should expose its transfers")
	}
	if _, ok := pc.AcceptedTransferSyntax(); ok {
		t.Fatalf("proposed context must not report an accepted syntax")
	}
	pc.Result = PresContextAccept
	if ts, ok := pc.AcceptedTransferSyntax(); !ok || !ts.Equal(ExplicitVRLittleEndian) {
		t.Fatalf("accepted syntax=%v ok=%v", ts, ok)
	}
	pc.Result = PresContextRejectUser
	if pc.HasTransfer(ExplicitVRLittleEndian) {
		t.Fatalf("rejected context must not expose transfers")
	}
}

func TestCloneIsIndependent(t *testing.T) {
	testlog.Start(t)
	a := NewAssociationParameters("SCU", "SCP")
	id, _ := a.AddPresentationContext(CtImageStorage)
	_ = a.AddTransferSyntax(id, ExplicitVRLittleEndian)

	b := a.Clone()
	pc, _ := b.PresentationContext(id)
	pc.ClearTransfers()
	pc.Result = PresContextRejectUser

	orig, _ := a.PresentationContext(id)
	if len(orig.Transfers()) != 1 || orig.Result != PresContextProposed {
		t.Fatalf("clone mutation leaked into original: %+v", orig)
	}
	if !strings.Contains(a.String(), "CT Image Storage") {
		t.Fatalf("dump missing abstract syntax name: %s", a.String())
	}
}

func TestValidateAETitle(t *testing.T) {
	testlog.Start(t)
	if err := ValidateAETitle("STORESCP"); err != nil {
		t.Fatalf("valid title rejected: %v", err)
	}
	for _, bad := range []string{"", "   ", "A_TITLE_LONGER_THAN_16", "BAD\\AE"} {
		if err := ValidateAETitle(bad); !errors.Is(err, ErrInvalidAETitle) {
			t.Fatalf("expected ErrInvalidAETitle for %q, got %v", bad, err)
		}
	}
}

func TestCommandFieldResponses(t *testing.T) {
	testlog.Start(t)
	if CStoreRequest.IsResponse() || !CStoreResponse.IsResponse() {
		t.Fatalf("store request/response classification wrong")
	}
	if CEchoRequest.Response() != CEchoResponse {
		t.Fatalf("echo response mapping wrong: %v", CEchoRequest.Response())
	}
	if CCancelRequest.IsResponse() {
		t.Fatalf("cancel is a request")
	}
	req := &Message{CommandField: CStoreRequest, MessageID: 7, AffectedSopClassUID: CtImageStorage.UID}
	rsp := NewResponse(req, StatusSuccess)
	if rsp.CommandField != CStoreResponse || rsp.MessageIDBeingRespondedTo != 7 {
		t.Fatalf("unexpected response skeleton: %+v", rsp)
	}
	if !req.SopClass().Storage {
		t.Fatalf("CT storage should resolve as a storage class")
	}
}
