package dicom

import (
	"fmt"
	"strings"
)

// CommandField identifies the operation carried by a message.
type CommandField uint16

const (
	CStoreRequest         CommandField = 0x0001
	CStoreResponse        CommandField = 0x8001
	CGetRequest           CommandField = 0x0010
	CGetResponse          CommandField = 0x8010
	CFindRequest          CommandField = 0x0020
	CFindResponse         CommandField = 0x8020
	CMoveRequest          CommandField = 0x0021
	CMoveResponse         CommandField = 0x8021
	CEchoRequest          CommandField = 0x0030
	CEchoResponse         CommandField = 0x8030
	NEventReportRequest   CommandField = 0x0100
	NEventReportResponse  CommandField = 0x8100
	NGetRequest           CommandField = 0x0110
	NGetResponse          CommandField = 0x8110
	NSetRequest           CommandField = 0x0120
	NSetResponse          CommandField = 0x8120
	NActionRequest        CommandField = 0x0130
	NActionResponse       CommandField = 0x8130
	NCreateRequest        CommandField = 0x0140
	NCreateResponse       CommandField = 0x8140
	NDeleteRequest        CommandField = 0x0150
	NDeleteResponse       CommandField = 0x8150
	CCancelRequest        CommandField = 0x0FFF
	commandFieldResponses CommandField = 0x8000
)

// IsResponse reports whether the command field names a response message.
func (c CommandField) IsResponse() bool {
	return c&commandFieldResponses != 0
}

// Response returns the response command field paired with a request.
func (c CommandField) Response() CommandField {
	if c == CCancelRequest {
		return c
	}
	return c | commandFieldResponses
}

func (c CommandField) String() string {
	switch c {
	case CStoreRequest:
		return "C-STORE-RQ"
	case CStoreResponse:
		return "C-STORE-RSP"
	case CGetRequest:
		return "C-GET-RQ"
	case CGetResponse:
		return "C-GET-RSP"
	case CFindRequest:
		return "C-FIND-RQ"
	case CFindResponse:
		return "C-FIND-RSP"
	case CMoveRequest:
		return "C-MOVE-RQ"
	case CMoveResponse:
		return "C-MOVE-RSP"
	case CEchoRequest:
		return "C-ECHO-RQ"
	case CEchoResponse:
		return "C-ECHO-RSP"
	case NEventReportRequest:
		return "N-EVENT-REPORT-RQ"
	case NEventReportResponse:
		return "N-EVENT-REPORT-RSP"
	case NGetRequest:
		return "N-GET-RQ"
	case NGetResponse:
		return "N-GET-RSP"
	case NSetRequest:
		return "N-SET-RQ"
	case NSetResponse:
		return "N-SET-RSP"
	case NActionRequest:
		return "N-ACTION-RQ"
	case NActionResponse:
		return "N-ACTION-RSP"
	case NCreateRequest:
		return "N-CREATE-RQ"
	case NCreateResponse:
		return "N-CREATE-RSP"
	case NDeleteRequest:
		return "N-DELETE-RQ"
	case NDeleteResponse:
		return "N-DELETE-RSP"
	case CCancelRequest:
		return "C-CANCEL-RQ"
	default:
		return "UNKNOWN"
	}
}

// Status is the completion code of a response.
type Status uint16

const (
	StatusSuccess                  Status = 0x0000
	StatusPending                  Status = 0xFF00
	StatusCancel                   Status = 0xFE00
	StatusSOPClassNotSupported     Status = 0x0122
	StatusOutOfResources           Status = 0xA700
	StatusDataSetDoesNotMatchClass Status = 0xA900
	StatusCannotUnderstand         Status = 0xC000
	StatusProcessingFailure        Status = 0x0110
	StatusDuplicateSOPInstance     Status = 0x0111
)

func (s Status) IsSuccess() bool {
	return s == StatusSuccess
}

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusPending:
		return "pending"
	case StatusCancel:
		return "cancel"
	case StatusSOPClassNotSupported:
		return "sop class not supported"
	case StatusOutOfResources:
		return "out of resources"
	case StatusDataSetDoesNotMatchClass:
		return "dataset does not match sop class"
	case StatusCannotUnderstand:
		return "cannot understand"
	case StatusProcessingFailure:
		return "processing failure"
	case StatusDuplicateSOPInstance:
		return "duplicate sop instance"
	default:
		return fmt.Sprintf("status 0x%04X", uint16(s))
	}
}

// Priority of a request.
type Priority uint16

const (
	PriorityMedium Priority = 0x0000
	PriorityHigh   Priority = 0x0001
	PriorityLow    Priority = 0x0002
)

// Dataset attribute keywords used by the bundled services.
const (
	TagPatientName       = "PatientName"
	TagPatientID         = "PatientID"
	TagStudyInstanceUID  = "StudyInstanceUID"
	TagSeriesInstanceUID = "SeriesInstanceUID"
	TagSOPInstanceUID    = "SOPInstanceUID"
	TagSOPClassUID       = "SOPClassUID"
	TagModality          = "Modality"
	TagErrorComment      = "ErrorComment"
)

// Dataset holds attribute values keyed by keyword.
type Dataset map[string]string

// Get returns the trimmed value of keyword.
func (d Dataset) Get(keyword string) (string, bool) {
	if d == nil {
		return "", false
	}
	v, ok := d[keyword]
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

// Clone returns a copy of the dataset.
func (d Dataset) Clone() Dataset {
	if d == nil {
		return nil
	}
	out := make(Dataset, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out
}

// Message is one request or response exchanged over an open association.
// Payload carries the bulk object bytes of a buffered store request.
type Message struct {
	CommandField              CommandField `cbor:"1,keyasint"`
	MessageID                 uint16       `cbor:"2,keyasint"`
	MessageIDBeingRespondedTo uint16       `cbor:"3,keyasint,omitempty"`
	AffectedSopClassUID       string       `cbor:"4,keyasint,omitempty"`
	AffectedSopInstanceUID    string       `cbor:"5,keyasint,omitempty"`
	Priority                  Priority     `cbor:"6,keyasint,omitempty"`
	MoveDestination           string       `cbor:"7,keyasint,omitempty"`
	Status                    Status       `cbor:"8,keyasint,omitempty"`
	DataSet                   Dataset      `cbor:"9,keyasint,omitempty"`
	Payload                   []byte       `cbor:"10,keyasint,omitempty"`
}

// SopClass resolves the affected SOP class of the message.
func (m *Message) SopClass() SopClass {
	s, _ := LookupSopClass(m.AffectedSopClassUID)
	return s
}

// NewResponse builds the response skeleton answering req.
func NewResponse(req *Message, status Status) *Message {
	return &Message{
		CommandField:              req.CommandField.Response(),
		MessageIDBeingRespondedTo: req.MessageID,
		AffectedSopClassUID:       req.AffectedSopClassUID,
		AffectedSopInstanceUID:    req.AffectedSopInstanceUID,
		Status:                    status,
	}
}
