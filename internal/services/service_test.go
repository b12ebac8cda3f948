package services

import (
	"testing"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/stretchr/testify/require"
)

func TestParseImageSyntaxes(t *testing.T) {
	testlog.Start(t)

	got, err := ParseImageSyntaxes([]string{" JPEG_LOSSY ", "rle", "jpeg_lossy"})
	require.NoError(t, err)
	require.Equal(t, []dicom.TransferSyntax{
		dicom.JpegBaselineProcess1,
		dicom.JpegExtendedProcess24,
		dicom.RleLossless,
	}, got)

	got, err = ParseImageSyntaxes(nil)
	require.NoError(t, err)
	require.Empty(t, got)

	_, err = ParseImageSyntaxes([]string{"webp"})
	require.ErrorIs(t, err, ErrUnknownImageSyntax)
	require.Contains(t, err.Error(), "j2k_lossless")
}

func TestImageSyntaxOptionsSorted(t *testing.T) {
	testlog.Start(t)
	require.Equal(t, []string{"j2k_lossless", "j2k_lossy", "jpeg_lossless", "jpeg_lossy", "rle"}, ImageSyntaxOptions())
}
