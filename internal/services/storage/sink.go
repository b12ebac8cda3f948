package storage

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/danmuck/scpd/internal/dicom"
	"github.com/danmuck/scpd/internal/network"
	"github.com/danmuck/scpd/internal/services"
	"github.com/rs/zerolog/log"
)

// fileSink writes a streamed payload to a partial file and renames it into
// place once the last chunk arrives. A sink without a file discards data.
type fileSink struct {
	owner *Handler
	meta  objectMeta

	mu    sync.Mutex
	path  string
	file  *os.File
	bytes int
	done  bool
}

func (s *fileSink) open(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	s.path = path
	s.file = f
	return nil
}

func (s *fileSink) SaveStreamData(_ *dicom.Message, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bytes += len(data)
	if s.file == nil {
		return nil
	}
	_, err := s.file.Write(data)
	return err
}

func (s *fileSink) CompleteStream(srv network.Server, assoc *dicom.AssociationParameters, pcid byte, command *dicom.Message) error {
	defer s.owner.untrack(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done = true
	if s.file != nil {
		tmp := s.file.Name()
		err := s.file.Close()
		s.file = nil
		if err == nil {
			err = os.Rename(tmp, s.path)
		}
		if err != nil {
			_ = os.Remove(tmp)
			services.Respond(srv, pcid, command, dicom.StatusOutOfResources)
			return err
		}
	}
	log.Info().
		Str("calling_ae", assoc.CallingAE).
		Str("sop_instance", s.meta.instance).
		Str("path", s.path).
		Int("bytes", s.bytes).
		Msg("storage.received streamed")
	if !services.Respond(srv, pcid, command, dicom.StatusSuccess) {
		return errRespond
	}
	return nil
}

func (s *fileSink) CancelStream() {
	defer s.owner.untrack(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	if s.file == nil {
		return
	}
	tmp := s.file.Name()
	_ = s.file.Close()
	s.file = nil
	if err := os.Remove(tmp); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Str("path", tmp).Msg("storage.stream remove partial failed")
	}
	log.Debug().Str("sop_instance", s.meta.instance).Int("bytes", s.bytes).Msg("storage.stream cancelled")
}
