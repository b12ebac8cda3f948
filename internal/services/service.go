package services

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/rs/zerolog/log"
)

var ErrUnknownImageSyntax = errors.New("services: unknown image syntax")

// Context is the application state shared with every service handler of a
// listening AE.
type Context struct {
	AETitle    string
	StorageDir string
	// Bitbucket accepts and acknowledges objects without keeping them.
	Bitbucket bool
	// StreamObjects receives store payloads through a filestream sink
	// instead of buffering them in memory.
	StreamObjects bool
	// ImageSyntaxes are encapsulated syntaxes offered for image storage in
	// addition to the native ones.
	ImageSyntaxes []dicom.TransferSyntax
}

// NativeSyntaxes are offered for every SOP class.
func NativeSyntaxes() []dicom.TransferSyntax {
	return []dicom.TransferSyntax{dicom.ExplicitVRLittleEndian, dicom.ImplicitVRLittleEndian}
}

var imageSyntaxOptions = map[string][]dicom.TransferSyntax{
	"jpeg_lossless": {dicom.JpegLosslessProcess14SV1},
	"jpeg_lossy":    {dicom.JpegBaselineProcess1, dicom.JpegExtendedProcess24},
	"rle":           {dicom.RleLossless},
	"j2k_lossless":  {dicom.Jpeg2000LosslessOnly},
	"j2k_lossy":     {dicom.Jpeg2000},
}

// ImageSyntaxOptions lists the names ParseImageSyntaxes accepts.
func ImageSyntaxOptions() []string {
	out := make([]string, 0, len(imageSyntaxOptions))
	for name := range imageSyntaxOptions {
		out = append(out, name)
	}
	slices.Sort(out)
	return out
}

// ParseImageSyntaxes resolves option names to transfer syntaxes, keeping
// the order of names and dropping repeats.
func ParseImageSyntaxes(names []string) ([]dicom.TransferSyntax, error) {
	var out []dicom.TransferSyntax
	for _, raw := range names {
		name := strings.ToLower(strings.TrimSpace(raw))
		syntaxes, ok := imageSyntaxOptions[name]
		if !ok {
			return nil, fmt.Errorf("%w: %q (want one of %s)", ErrUnknownImageSyntax, raw, strings.Join(ImageSyntaxOptions(), ", "))
		}
		for _, ts := range syntaxes {
			if !slices.ContainsFunc(out, ts.Equal) {
				out = append(out, ts)
			}
		}
	}
	return out, nil
}

// Respond sends a response answering req with status.
func Respond(srv network.Server, pcid byte, req *dicom.Message, status dicom.Status) bool {
	if err := srv.SendResponse(pcid, dicom.NewResponse(req, status)); err != nil {
		log.Error().Err(err).
			Uint8("pcid", pcid).
			Str("command", req.CommandField.String()).
			Msg("services.respond send failed")
		return false
	}
	return true
}
