package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/scpd/internal/testutil/testlog"
	"github.com/rs/zerolog/log"
)

func TestAllowListValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		allowed AllowList
		input   string
		wantErr error
	}{
		{name: "empty list denied", allowed: nil, input: "MODALITY", wantErr: ErrUnauthorized},
		{name: "unlisted denied", allowed: AllowList{"MODALITY"}, input: "INTRUDER", wantErr: ErrUnauthorized},
		{name: "blank denied", allowed: AllowList{"MODALITY"}, input: "  ", wantErr: ErrUnauthorized},
		{name: "listed accepted", allowed: AllowList{"WORKSTATION", "MODALITY"}, input: "MODALITY", wantErr: nil},
		{name: "padding ignored", allowed: AllowList{"MODALITY"}, input: "MODALITY  ", wantErr: nil},
		{name: "case sensitive", allowed: AllowList{"MODALITY"}, input: "modality", wantErr: ErrUnauthorized},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.allowed.Validate(tc.input)
			log.Debug().Str("input", tc.input).AnErr("err", err).Msg("auth/allow-list")
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(ae string) error {
		if ae != "OK" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("BAD"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for BAD, got %v", err)
	}
	if err := validator.Validate("OK"); err != nil {
		t.Fatalf("expected success for OK, got %v", err)
	}
}
