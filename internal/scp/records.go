package scp

import (
	"slices"
	"sync"
	"time"

	"github.com/danmuck/scpd/internal/dicom"
)

// StorageInstance describes one object received over an association.
type StorageInstance struct {
	SopClass          dicom.SopClass       `json:"sop_class"`
	SopInstanceUID    string               `json:"sop_instance_uid"`
	TransferSyntax    dicom.TransferSyntax `json:"transfer_syntax"`
	StudyInstanceUID  string               `json:"study_instance_uid,omitempty"`
	SeriesInstanceUID string               `json:"series_instance_uid,omitempty"`
	PatientID         string               `json:"patient_id,omitempty"`
	PresentationID    byte                 `json:"pcid"`
	Streamed          bool                 `json:"streamed"`
	Bytes             int                  `json:"bytes"`
	ReceivedAt        time.Time            `json:"received_at"`
}

func newStorageInstance(assoc *dicom.AssociationParameters, pcid byte, msg *dicom.Message, streamed bool) StorageInstance {
	ts, _ := assoc.AcceptedTransferSyntax(pcid)
	rec := StorageInstance{
		SopClass:       msg.SopClass(),
		SopInstanceUID: msg.AffectedSopInstanceUID,
		TransferSyntax: ts,
		PresentationID: pcid,
		Streamed:       streamed,
		Bytes:          len(msg.Payload),
		ReceivedAt:     time.Now(),
	}
	rec.StudyInstanceUID, _ = msg.DataSet.Get(dicom.TagStudyInstanceUID)
	rec.SeriesInstanceUID, _ = msg.DataSet.Get(dicom.TagSeriesInstanceUID)
	rec.PatientID, _ = msg.DataSet.Get(dicom.TagPatientID)
	if rec.SopInstanceUID == "" {
		rec.SopInstanceUID, _ = msg.DataSet.Get(dicom.TagSOPInstanceUID)
	}
	return rec
}

func isStoreRequest(msg *dicom.Message) bool {
	return msg != nil && msg.CommandField == dicom.CStoreRequest
}

// recordList is appended to from concurrently running operations.
type recordList struct {
	mu    sync.Mutex
	items []StorageInstance
}

func (l *recordList) add(rec StorageInstance) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.items = append(l.items, rec)
}

func (l *recordList) snapshot() []StorageInstance {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.items)
}

func (l *recordList) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}
