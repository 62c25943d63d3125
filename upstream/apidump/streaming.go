package apidump

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
)

// bodyDumper wraps a response body and copies everything read through it into
// a dump file, so the caller still consumes the body exactly once.
type bodyDumper struct {
	body       io.ReadCloser
	dumpPath   string
	headerData []byte
	onErr      func(err error)

	once    sync.Once
	file    *os.File
	initErr error
}

func (s *bodyDumper) init() {
	s.once.Do(func() {
		if err := os.MkdirAll(filepath.Dir(s.dumpPath), 0o755); err != nil {
			s.initErr = fmt.Errorf("create dump dir: %w", err)
			return
		}
		f, err := os.Create(s.dumpPath)
		if err != nil {
			s.initErr = fmt.Errorf("create dump file: %w", err)
			return
		}
		s.file = f
		if _, err := s.file.Write(s.headerData); err != nil {
			s.initErr = fmt.Errorf("write headers: %w", err)
			s.file.Close()
			s.file = nil
		}
		if s.initErr != nil && s.onErr != nil {
			s.onErr(s.initErr)
		}
	})
}

func (s *bodyDumper) Read(p []byte) (int, error) {
	s.init()
	n, err := s.body.Read(p)
	if n > 0 && s.file != nil {
		_, _ = s.file.Write(p[:n])
	}
	return n, err
}

func (s *bodyDumper) Close() error {
	// Responses closed without being read still get their headers dumped.
	s.init()
	var closeErr error
	if s.file != nil {
		closeErr = s.file.Close()
	}
	if err := s.body.Close(); err != nil {
		return err
	}
	return closeErr
}
