package coordinator

import (
	"io"
	"os"
)

type PayloadID uint64

type PayloadKind int

const (
	PayloadBytes PayloadKind = iota
	PayloadFile
)

func (k PayloadKind) String() string {
	if k == PayloadFile {
		return "file"
	}
	return "bytes"
}

type PayloadStatus int

const (
	StatusInFlight PayloadStatus = iota
	StatusCompleted
	StatusFailed
)

type TransferStatus int

const (
	TransferInProgress TransferStatus = iota
	TransferSuccess
	TransferFailure
	TransferCanceled
)

func (s TransferStatus) String() string {
	switch s {
	case TransferInProgress:
		return "in_progress"
	case TransferSuccess:
		return "success"
	case TransferFailure:
		return "failure"
	case TransferCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// FileHandle is the transient resource behind a received file. It stays
// valid until Remove is called.
type FileHandle interface {
	Open() (io.ReadCloser, error)
	Remove() error
}

// Payload is a unit of data exchanged with the peer. Bytes payloads carry
// their content inline; file payloads carry a handle and, when known, a size.
type Payload struct {
	ID     PayloadID
	Kind   PayloadKind
	Status PayloadStatus
	Bytes  []byte
	File   FileHandle
	Size   int64
}

// FileSource is an already opened stream handed to SendFile. Size is -1
// when unknown. The receiver of a FileSource owns Reader and closes it.
type FileSource struct {
	Name   string
	Reader io.ReadCloser
	Size   int64
}

func OpenFile(path string) (FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return FileSource{}, err
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return FileSource{}, err
	}
	if info.IsDir() {
		_ = f.Close()
		return FileSource{}, &os.PathError{Op: "open", Path: path, Err: os.ErrInvalid}
	}
	return FileSource{Name: info.Name(), Reader: f, Size: info.Size()}, nil
}
