// Package storage receives composite objects and writes them under a
// study/series directory tree.
package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/danmuck/scpd/internal/scp"
	"github.com/danmuck/scpd/internal/services"
	"github.com/rs/zerolog/log"
)

// Name is the registry name of the storage service.
const Name = "storage"

const objectExt = ".dcm"

var (
	ErrMissingUID  = errors.New("storage: missing uid")
	ErrPathEscapes = errors.New("storage: path escapes root")
	ErrNoRoot      = errors.New("storage: storage dir not configured")

	errRespond = errors.New("storage: response not sent")
)

// Handler stores objects for one association. Streams still open when the
// association ends are cancelled by Cleanup.
type Handler struct {
	ctx *services.Context

	mu      sync.Mutex
	streams map[*fileSink]struct{}
}

var (
	_ scp.ServiceHandler[*services.Context] = (*Handler)(nil)
	_ scp.FilestreamHandler                 = (*Handler)(nil)
)

func New() *Handler {
	return &Handler{streams: make(map[*fileSink]struct{})}
}

func (h *Handler) SetContext(ctx *services.Context) {
	h.ctx = ctx
}

// GetSupportedSops offers native syntaxes for every storage class and the
// configured encapsulated syntaxes for image classes.
func (h *Handler) GetSupportedSops() []scp.SupportedSop {
	var out []scp.SupportedSop
	var extra []dicom.TransferSyntax
	if h.ctx != nil {
		extra = h.ctx.ImageSyntaxes
	}
	for _, class := range dicom.ImageStorageSopClasses() {
		for _, ts := range extra {
			out = append(out, scp.SupportedSop{SopClass: class, TransferSyntax: ts})
		}
		for _, ts := range services.NativeSyntaxes() {
			out = append(out, scp.SupportedSop{SopClass: class, TransferSyntax: ts})
		}
	}
	for _, class := range dicom.NonImageStorageSopClasses() {
		for _, ts := range services.NativeSyntaxes() {
			out = append(out, scp.SupportedSop{SopClass: class, TransferSyntax: ts})
		}
	}
	return out
}

func (h *Handler) VerifyAssociation(assoc *dicom.AssociationParameters, pcid byte) dicom.PresContextResult {
	if h.ctx == nil {
		return dicom.PresContextRejectNoReason
	}
	if !h.ctx.Bitbucket && strings.TrimSpace(h.ctx.StorageDir) == "" {
		log.Error().Str("calling_ae", assoc.CallingAE).Uint8("pcid", pcid).Msg("storage.verify no storage dir configured")
		return dicom.PresContextRejectNoReason
	}
	return dicom.PresContextAccept
}

func (h *Handler) OnReceiveRequest(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message) bool {
	if msg.CommandField != dicom.CStoreRequest {
		log.Error().
			Str("calling_ae", assoc.CallingAE).
			Uint8("pcid", pcid).
			Str("command", msg.CommandField.String()).
			Msg("storage.request unsupported command")
		return false
	}
	meta, err := readMeta(msg)
	if err != nil {
		log.Error().Err(err).Str("calling_ae", assoc.CallingAE).Uint8("pcid", pcid).Msg("storage.request unable to read uids")
		services.Respond(srv, pcid, msg, dicom.StatusProcessingFailure)
		return false
	}
	syntax, _ := assoc.AcceptedTransferSyntax(pcid)
	logger := log.With().
		Str("calling_ae", assoc.CallingAE).
		Str("sop_instance", meta.instance).
		Str("patient_id", meta.patient).
		Str("transfer_syntax", syntax.String()).
		Logger()

	if h.ctx.Bitbucket {
		logger.Info().Int("bytes", len(msg.Payload)).Msg("storage.received discarded")
		return services.Respond(srv, pcid, msg, dicom.StatusSuccess)
	}

	path, err := h.objectPath(meta)
	if err == nil {
		err = writeObject(path, msg.Payload)
	}
	if err != nil {
		logger.Error().Err(err).Msg("storage.received write failed")
		services.Respond(srv, pcid, msg, dicom.StatusOutOfResources)
		return false
	}
	logger.Info().Str("path", path).Int("bytes", len(msg.Payload)).Msg("storage.received")
	return services.Respond(srv, pcid, msg, dicom.StatusSuccess)
}

// ReceiveMessageAsFileStream opts store requests into streamed receipt.
func (h *Handler) ReceiveMessageAsFileStream(_ network.Server, _ *dicom.AssociationParameters, _ byte, command *dicom.Message) bool {
	return h.ctx != nil && h.ctx.StreamObjects && command.CommandField == dicom.CStoreRequest
}

// OnStartFilestream opens a partial file next to the final object path.
// Any failure returns nil so the transport falls back to buffered receipt.
func (h *Handler) OnStartFilestream(_ network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) network.FilestreamHandler {
	meta, err := readMeta(command)
	if err != nil {
		log.Warn().Err(err).Str("calling_ae", assoc.CallingAE).Uint8("pcid", pcid).Msg("storage.stream falling back to buffered receipt")
		return nil
	}
	sink := &fileSink{owner: h, meta: meta}
	if !h.ctx.Bitbucket {
		path, err := h.objectPath(meta)
		if err == nil {
			err = sink.open(path)
		}
		if err != nil {
			log.Warn().Err(err).Str("calling_ae", assoc.CallingAE).Uint8("pcid", pcid).Msg("storage.stream falling back to buffered receipt")
			return nil
		}
	}
	h.track(sink)
	return sink
}

// Cleanup cancels streams the transport never completed.
func (h *Handler) Cleanup() error {
	h.mu.Lock()
	open := make([]*fileSink, 0, len(h.streams))
	for s := range h.streams {
		open = append(open, s)
	}
	h.mu.Unlock()
	for _, s := range open {
		s.CancelStream()
	}
	return nil
}

func (h *Handler) track(s *fileSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.streams[s] = struct{}{}
}

func (h *Handler) untrack(s *fileSink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.streams, s)
}

type objectMeta struct {
	instance string
	study    string
	series   string
	patient  string
}

func readMeta(msg *dicom.Message) (objectMeta, error) {
	meta := objectMeta{instance: strings.TrimSpace(msg.AffectedSopInstanceUID)}
	if meta.instance == "" {
		meta.instance, _ = msg.DataSet.Get(dicom.TagSOPInstanceUID)
	}
	meta.study, _ = msg.DataSet.Get(dicom.TagStudyInstanceUID)
	meta.series, _ = msg.DataSet.Get(dicom.TagSeriesInstanceUID)
	meta.patient, _ = msg.DataSet.Get(dicom.TagPatientID)
	switch {
	case meta.instance == "":
		return meta, fmt.Errorf("%w: sop instance", ErrMissingUID)
	case meta.study == "":
		return meta, fmt.Errorf("%w: study instance", ErrMissingUID)
	case meta.series == "":
		return meta, fmt.Errorf("%w: series instance", ErrMissingUID)
	}
	return meta, nil
}

// objectPath lays objects out as <root>/<study>/<series>/<instance>.dcm.
func (h *Handler) objectPath(meta objectMeta) (string, error) {
	if h.ctx == nil || strings.TrimSpace(h.ctx.StorageDir) == "" {
		return "", ErrNoRoot
	}
	root, err := filepath.Abs(h.ctx.StorageDir)
	if err != nil {
		return "", err
	}
	p := filepath.Clean(filepath.Join(root, safeUID(meta.study), safeUID(meta.series), safeUID(meta.instance)+objectExt))
	if !isWithin(p, root) {
		return "", fmt.Errorf("%w: %s", ErrPathEscapes, p)
	}
	return p, nil
}

// safeUID keeps uid characters and replaces everything else.
func safeUID(uid string) string {
	var b strings.Builder
	for i := 0; i < len(uid); i++ {
		c := uid[i]
		if (c >= '0' && c <= '9') || c == '.' {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('_')
	}
	out := strings.Trim(b.String(), ".")
	if out == "" {
		return "_"
	}
	return out
}

func isWithin(path string, root string) bool {
	p := filepath.Clean(path)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}

func writeObject(path string, payload []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}
