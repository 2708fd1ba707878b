package core

import (
	"archive/zip"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ArchiveExt is the file extension of archives produced by BuildArchive.
const ArchiveExt = ".zip"

// Method selects how file entries are compressed inside the archive.
type Method string

const (
	MethodStore   Method = "store"   // No compression
	MethodDeflate Method = "deflate" // Standard zip deflate
	MethodLZ4     Method = "lz4"     // LZ4 frames, zipsend only
	MethodSnappy  Method = "snappy"  // Snappy framed stream, zipsend only
)

// Private zip method ids. Other zip tools will refuse these entries.
const (
	zipMethodLZ4    uint16 = 0x4c34
	zipMethodSnappy uint16 = 0x5350
)

// ParseMethod converts a configuration value into a Method.
func ParseMethod(name string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(name))); m {
	case "":
		return MethodStore, nil
	case MethodStore, MethodDeflate, MethodLZ4, MethodSnappy:
		return m, nil
	default:
		return "", errors.Errorf("unknown compression method %q", name)
	}
}

func (m Method) zipMethod() uint16 {
	switch m {
	case MethodDeflate:
		return zip.Deflate
	case MethodLZ4:
		return zipMethodLZ4
	case MethodSnappy:
		return zipMethodSnappy
	default:
		return zip.Store
	}
}

// ArchiveOptions controls BuildArchive and ExtractArchive.
type ArchiveOptions struct {
	// Copier moves all file content. Required.
	Copier *Copier
	// Dir receives the archive built by BuildArchive. Empty means the
	// current working directory.
	Dir string
	// Method is the compression method for file entries.
	Method Method
	// Log receives progress messages. Nil discards them.
	Log logrus.FieldLogger
}

func (o *ArchiveOptions) logger() logrus.FieldLogger {
	if o.Log != nil {
		return o.Log
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// Entry is one record of the archive: a directory marker or a file.
type Entry struct {
	RelPath  string // Slash separated path inside the archive
	FilePath string // Full path on disk
	Dir      bool
}

// archiveName returns the zip entry name for e.
func (e Entry) archiveName() string {
	if e.Dir {
		return e.RelPath + "/"
	}
	return e.RelPath
}

func registerWriterMethods(zw *zip.Writer) {
	zw.RegisterCompressor(zipMethodLZ4, func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	})
	zw.RegisterCompressor(zipMethodSnappy, func(w io.Writer) (io.WriteCloser, error) {
		return snappy.NewBufferedWriter(w), nil
	})
}

func registerReaderMethods(zr *zip.Reader) {
	zr.RegisterDecompressor(zipMethodLZ4, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(lz4.NewReader(r))
	})
	zr.RegisterDecompressor(zipMethodSnappy, func(r io.Reader) io.ReadCloser {
		return io.NopCloser(snappy.NewReader(r))
	})
}
