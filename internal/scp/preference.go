package scp

import "github.com/danmuck/scpd/internal/dicom"

// CompareTransferSyntax orders transfer syntaxes from most to least
// preferred. Explicit VR precedes implicit VR whatever the compression. Among
// syntaxes of the same VR form, lossless encapsulated precedes native and
// native precedes lossy encapsulated; two encapsulated syntaxes tie when
// both are lossless or both lossy. Use it with a stable sort so ties keep
// their declaration order.
func CompareTransferSyntax(a, b dicom.TransferSyntax) int {
	if a.UID == b.UID {
		return 0
	}
	if a.ExplicitVR != b.ExplicitVR {
		if a.ExplicitVR {
			return -1
		}
		return 1
	}
	switch {
	case a.Encapsulated && b.Encapsulated:
		if a.LosslessCompressed == b.LosslessCompressed {
			return 0
		}
		if a.LosslessCompressed {
			return -1
		}
		return 1
	case a.Encapsulated:
		return encapsulatedVersusNative(a)
	case b.Encapsulated:
		return -encapsulatedVersusNative(b)
	}
	return 0
}

func encapsulatedVersusNative(enc dicom.TransferSyntax) int {
	if enc.LosslessCompressed {
		return -1
	}
	return 1
}
