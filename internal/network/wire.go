package network

import (
	"errors"
	"fmt"
	"io"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network/frame"
	"github.com/fxamacker/cbor/v2"
)

var (
	ErrUnexpectedFrame = errors.New("network: unexpected frame")
	ErrMalformedFrame  = errors.New("network: malformed frame payload")
)

type wireContext struct {
	ID          byte     `cbor:"1,keyasint"`
	AbstractUID string   `cbor:"2,keyasint"`
	Result      uint8    `cbor:"3,keyasint,omitempty"`
	Transfers   []string `cbor:"4,keyasint,omitempty"`
}

type associateRQ struct {
	CallingAE string        `cbor:"1,keyasint"`
	CalledAE  string        `cbor:"2,keyasint"`
	MaxPDULen uint32        `cbor:"3,keyasint,omitempty"`
	Contexts  []wireContext `cbor:"4,keyasint"`
}

type associateAC struct {
	CallingAE string        `cbor:"1,keyasint"`
	CalledAE  string        `cbor:"2,keyasint"`
	MaxPDULen uint32        `cbor:"3,keyasint,omitempty"`
	Contexts  []wireContext `cbor:"4,keyasint"`
}

type associateRJ struct {
	Result uint8 `cbor:"1,keyasint"`
	Source uint8 `cbor:"2,keyasint"`
	Reason uint8 `cbor:"3,keyasint"`
}

type pdata struct {
	PCID    byte           `cbor:"1,keyasint"`
	Message *dicom.Message `cbor:"2,keyasint"`
}

type streamChunk struct {
	PCID    byte           `cbor:"1,keyasint"`
	Command *dicom.Message `cbor:"2,keyasint,omitempty"`
	Data    []byte         `cbor:"3,keyasint,omitempty"`
	First   bool           `cbor:"4,keyasint,omitempty"`
	Last    bool           `cbor:"5,keyasint,omitempty"`
}

type abortPDU struct {
	Source uint8 `cbor:"1,keyasint"`
	Reason uint8 `cbor:"2,keyasint"`
}

func encodeContexts(assoc *dicom.AssociationParameters) []wireContext {
	pcs := assoc.PresentationContexts()
	out := make([]wireContext, 0, len(pcs))
	for _, pc := range pcs {
		wc := wireContext{ID: pc.ID, AbstractUID: pc.AbstractSyntax.UID, Result: uint8(pc.Result)}
		for _, ts := range pc.Transfers() {
			wc.Transfers = append(wc.Transfers, ts.UID)
		}
		out = append(out, wc)
	}
	return out
}

func decodeContexts(assoc *dicom.AssociationParameters, contexts []wireContext, withResult bool) error {
	for _, wc := range contexts {
		if wc.AbstractUID == "" {
			return fmt.Errorf("%w: context %d missing abstract syntax", ErrMalformedFrame, wc.ID)
		}
		abstract, _ := dicom.LookupSopClass(wc.AbstractUID)
		pc := assoc.AddPresentationContextWithID(wc.ID, abstract)
		if withResult {
			pc.Result = dicom.PresContextResult(wc.Result)
		}
		for _, uid := range wc.Transfers {
			ts, ok := dicom.LookupTransferSyntax(uid)
			if !ok {
				ts = dicom.TransferSyntax{UID: uid}
			}
			pc.AddTransfer(ts)
		}
	}
	return nil
}

func writeMessage(w io.Writer, t frame.Type, seq uint32, v any, limits frame.Limits) error {
	var payload []byte
	if v != nil {
		b, err := cbor.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", t, err)
		}
		payload = b
	}
	return frame.WriteFrame(w, frame.New(t, seq, payload), limits)
}

func decodePayload(f frame.Frame, out any) error {
	if err := cbor.Unmarshal(f.Payload, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedFrame, f.Header.Type, err)
	}
	return nil
}
