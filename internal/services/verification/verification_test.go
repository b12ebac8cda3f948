package verification

import (
	"testing"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/services"
	"github.com/danmuck/scpd/internal/testutil/testlog"
)

type recordingServer struct {
	responses []*dicom.Message
}

func (s *recordingServer) SendAssociateAccept(*dicom.AssociationParameters) error { return nil }
func (s *recordingServer) SendAssociateReject(dicom.RejectResult, dicom.RejectSource, dicom.RejectReason) error {
	return nil
}
func (s *recordingServer) SendAssociateAbort(dicom.AbortSource, dicom.AbortReason) error { return nil }
func (s *recordingServer) SendResponse(_ byte, msg *dicom.Message) error {
	s.responses = append(s.responses, msg)
	return nil
}
func (s *recordingServer) RemoteAddr() string { return "127.0.0.1:104" }

func TestEchoAnswersSuccess(t *testing.T) {
	testlog.Start(t)
	h := New()
	h.SetContext(&services.Context{AETitle: "SCPD"})
	srv := &recordingServer{}
	assoc := dicom.NewAssociationParameters("SCU", "SCPD")

	if !h.OnReceiveRequest(srv, assoc, 1, &dicom.Message{CommandField: dicom.CEchoRequest, MessageID: 9}) {
		t.Fatalf("echo should succeed")
	}
	if len(srv.responses) != 1 {
		t.Fatalf("expected one response, got %d", len(srv.responses))
	}
	rsp := srv.responses[0]
	if rsp.CommandField != dicom.CEchoResponse || rsp.MessageIDBeingRespondedTo != 9 || rsp.Status != dicom.StatusSuccess {
		t.Fatalf("unexpected response: %+v", rsp)
	}
}

func TestNonEchoFails(t *testing.T) {
	testlog.Start(t)
	h := New()
	srv := &recordingServer{}
	ok := h.OnReceiveRequest(srv, dicom.NewAssociationParameters("SCU", "SCPD"), 1, &dicom.Message{CommandField: dicom.CFindRequest})
	if ok {
		t.Fatalf("find on the verification context should fail")
	}
	if len(srv.responses) != 0 {
		t.Fatalf("no response expected, got %d", len(srv.responses))
	}
}

func TestSupportedSops(t *testing.T) {
	testlog.Start(t)
	sops := New().GetSupportedSops()
	if len(sops) != 2 {
		t.Fatalf("expected explicit and implicit, got %d", len(sops))
	}
	for _, sop := range sops {
		if sop.SopClass.UID != dicom.VerificationSopClass.UID {
			t.Fatalf("unexpected sop class %s", sop.SopClass)
		}
	}
	if New().VerifyAssociation(nil, 1) != dicom.PresContextAccept {
		t.Fatalf("verification always accepts")
	}
}
