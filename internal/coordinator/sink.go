package coordinator

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// ReceivedFileExt is appended to the millisecond timestamp that names a
// stored file.
const ReceivedFileExt = ".rx"

const maxNameAttempts = 1000

// fileSink copies received files into dir.
type fileSink struct {
	dir string
	now func() time.Time
}

func BuildReceivedPath(dir string, ms int64) string {
	return filepath.Join(dir, strconv.FormatInt(ms, 10)+ReceivedFileExt)
}

// Store copies the content behind h to <dir>/<unix-millis>.rx and returns
// the path and the number of bytes written. A partially written file is
// removed. Store does not remove h.
func (s *fileSink) Store(h FileHandle) (string, int64, error) {
	if h == nil {
		return "", 0, errors.New("payload has no file handle")
	}

	src, err := h.Open()
	if err != nil {
		return "", 0, fmt.Errorf("open received file: %w", err)
	}
	defer func() { _ = src.Close() }()

	if err := os.MkdirAll(s.dir, 0o700); err != nil {
		return "", 0, err
	}

	dst, path, err := s.create()
	if err != nil {
		return "", 0, err
	}

	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = os.Remove(path)
		return "", n, fmt.Errorf("copy to %s: %w", path, err)
	}
	return path, n, nil
}

func (s *fileSink) create() (*os.File, string, error) {
	ms := s.now().UnixMilli()
	for i := int64(0); i < maxNameAttempts; i++ {
		path := BuildReceivedPath(s.dir, ms+i)
		f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if err == nil {
			return f, path, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", fmt.Errorf("no free file name in %s", s.dir)
}
