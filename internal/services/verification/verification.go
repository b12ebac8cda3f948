// Package verification answers echo requests on the verification SOP class.
package verification

import (
	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/danmuck/scpd/internal/scp"
	"github.com/danmuck/scpd/internal/services"
	"github.com/rs/zerolog/log"
)

// Name is the registry name of the verification service.
const Name = "verification"

type Handler struct {
	ctx *services.Context
}

var _ scp.ServiceHandler[*services.Context] = (*Handler)(nil)

func New() *Handler {
	return &Handler{}
}

func (h *Handler) SetContext(ctx *services.Context) {
	h.ctx = ctx
}

func (h *Handler) GetSupportedSops() []scp.SupportedSop {
	out := make([]scp.SupportedSop, 0, 2)
	for _, ts := range services.NativeSyntaxes() {
		out = append(out, scp.SupportedSop{SopClass: dicom.VerificationSopClass, TransferSyntax: ts})
	}
	return out
}

func (h *Handler) VerifyAssociation(*dicom.AssociationParameters, byte) dicom.PresContextResult {
	return dicom.PresContextAccept
}

func (h *Handler) OnReceiveRequest(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) bool {
	if msg.CommandField != dicom.CEchoRequest {
		log.Error().
			Str("calling_ae", assoc.CallingAE).
			Uint8("pcid", pcid).
			Str("command", msg.CommandField.String()).
			Msg("verification.request unsupported command")
		return false
	}
	log.Debug().Str("calling_ae", assoc.CallingAE).Uint16("message_id", msg.MessageID).Msg("verification.echo")
	return services.Respond(srv, pcid, msg, dicom.StatusSuccess)
}

func (h *Handler) Cleanup() error {
	return nil
}
