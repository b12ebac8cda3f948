package dicom

import (
	"slices"
	"strings"
)

// TransferSyntax identifies how payload attributes are serialized for a
// presentation context.
type TransferSyntax struct {
	UID        string `cbor:"1,keyasint"`
	Name       string `cbor:"2,keyasint"`
	ExplicitVR bool   `cbor:"3,keyasint"`
	BigEndian  bool   `cbor:"4,keyasint"`
	// Encapsulated syntaxes carry a compressed or otherwise transformed payload.
	Encapsulated       bool `cbor:"5,keyasint"`
	LosslessCompressed bool `cbor:"6,keyasint"`
	LossyCompressed    bool `cbor:"7,keyasint"`
	Deflate            bool `cbor:"8,keyasint"`
}

func (ts TransferSyntax) String() string {
	if ts.Name == "" {
		return ts.UID
	}
	return ts.Name
}

// Equal compares transfer syntaxes by uid.
func (ts TransferSyntax) Equal(other TransferSyntax) bool {
	return ts.UID == other.UID
}

var (
	ImplicitVRLittleEndian = TransferSyntax{UID: "1.2.840.10008.1.2", Name: "Implicit VR Little Endian"}
	ExplicitVRLittleEndian = TransferSyntax{UID: "1.2.840.10008.1.2.1", Name: "Explicit VR Little Endian", ExplicitVR: true}
	DeflatedExplicitVRLittleEndian = TransferSyntax{
		UID:        "1.2.840.10008.1.2.1.99",
		Name:       "Deflated Explicit VR Little Endian",
		ExplicitVR: true,
		Deflate:    true,
	}
	ExplicitVRBigEndian = TransferSyntax{UID: "1.2.840.10008.1.2.2", Name: "Explicit VR Big Endian", ExplicitVR: true, BigEndian: true}

	JpegBaselineProcess1 = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.50", Name: "JPEG Baseline (Process 1)",
		ExplicitVR: true, Encapsulated: true, LossyCompressed: true,
	}
	JpegExtendedProcess24 = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.51", Name: "JPEG Extended (Process 2 & 4)",
		ExplicitVR: true, Encapsulated: true, LossyCompressed: true,
	}
	JpegLosslessProcess14SV1 = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.70", Name: "JPEG Lossless, Non-Hierarchical, First-Order Prediction",
		ExplicitVR: true, Encapsulated: true, LosslessCompressed: true,
	}
	JpegLsLossless = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.80", Name: "JPEG-LS Lossless Image Compression",
		ExplicitVR: true, Encapsulated: true, LosslessCompressed: true,
	}
	Jpeg2000LosslessOnly = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.90", Name: "JPEG 2000 Image Compression (Lossless Only)",
		ExplicitVR: true, Encapsulated: true, LosslessCompressed: true,
	}
	Jpeg2000 = TransferSyntax{
		UID: "1.2.840.10008.1.2.4.91", Name: "JPEG 2000 Image Compression",
		ExplicitVR: true, Encapsulated: true, LossyCompressed: true,
	}
	RleLossless = TransferSyntax{
		UID: "1.2.840.10008.1.2.5", Name: "RLE Lossless",
		ExplicitVR: true, Encapsulated: true, LosslessCompressed: true,
	}
)

var transferSyntaxesByUID = func() map[string]TransferSyntax {
	all := []TransferSyntax{
		ImplicitVRLittleEndian,
		ExplicitVRLittleEndian,
		DeflatedExplicitVRLittleEndian,
		ExplicitVRBigEndian,
		JpegBaselineProcess1,
		JpegExtendedProcess24,
		JpegLosslessProcess14SV1,
		JpegLsLossless,
		Jpeg2000LosslessOnly,
		Jpeg2000,
		RleLossless,
	}
	out := make(map[string]TransferSyntax, len(all))
	for _, ts := range all {
		out[ts.UID] = ts
	}
	return out
}()

// LookupTransferSyntax resolves a known transfer syntax by uid.
func LookupTransferSyntax(uid string) (TransferSyntax, bool) {
	ts, ok := transferSyntaxesByUID[strings.TrimSpace(uid)]
	return ts, ok
}

// TransferSyntaxes returns every catalogued transfer syntax ordered by uid.
func TransferSyntaxes() []TransferSyntax {
	out := make([]TransferSyntax, 0, len(transferSyntaxesByUID))
	for _, ts := range transferSyntaxesByUID {
		out = append(out, ts)
	}
	slices.SortFunc(out, func(a, b TransferSyntax) int {
		return strings.Compare(a.UID, b.UID)
	})
	return out
}
