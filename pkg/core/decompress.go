package core

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ExtractArchive unpacks every entry of the zip archive at input below dest,
// in archive order. An empty dest means the current working directory.
// Extraction stops at the first failure; entries written so far stay.
func ExtractArchive(input, dest string, opts ArchiveOptions) error {
	if opts.Copier == nil {
		return errors.New("extract archive: no copier")
	}
	log := opts.logger()

	outputDir, err := determineOutputDir(dest)
	if err != nil {
		return err
	}

	zr, err := zip.OpenReader(input)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return fsError("open", input, err)
		}
		return newError(CorruptArchive, "open", input, err)
	}
	defer zr.Close()
	registerReaderMethods(&zr.Reader)

	var totalSize uint64
	for _, zf := range zr.File {
		totalSize += zf.UncompressedSize64
	}
	log.WithFields(logrus.Fields{
		"archive": input,
		"dest":    outputDir,
		"entries": len(zr.File),
		"size":    humanize.IBytes(totalSize),
	}).Info("extracting archive")

	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return fsError("mkdir", outputDir, err)
	}

	for _, zf := range zr.File {
		destPath, err := determineDestPath(outputDir, zf.Name)
		if err != nil {
			return err
		}

		if zf.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0755); err != nil {
				return fsError("mkdir", destPath, err)
			}
			continue
		}

		if err := decompressFileStreaming(zf, destPath, opts.Copier); err != nil {
			return errors.Wrapf(err, "extract %s", zf.Name)
		}
		log.WithField("entry", zf.Name).Debug("extracted")
	}

	log.WithField("dest", outputDir).Info("archive extracted")
	return nil
}

// determineOutputDir resolves the extraction root.
func determineOutputDir(dest string) (string, error) {
	if dest != "" {
		return dest, nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fsError("getwd", ".", err)
	}
	return wd, nil
}

// determineDestPath maps an archive entry name onto the filesystem below
// outputDir. Names that are absolute or climb out of outputDir are rejected.
// A backslash is an ordinary name character unless it is the local path
// separator.
func determineDestPath(outputDir, name string) (string, error) {
	clean := strings.TrimSuffix(name, "/")
	if clean == "" || strings.HasPrefix(clean, "/") ||
		(filepath.Separator == '\\' && strings.Contains(clean, "\\")) {
		return "", newError(CorruptArchive, "entry", name, errors.New("invalid entry name"))
	}

	rel := filepath.FromSlash(clean)
	if filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", newError(CorruptArchive, "entry", name, errors.New("absolute entry name"))
	}

	rel = filepath.Clean(rel)
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", newError(CorruptArchive, "entry", name, errors.New("entry escapes destination"))
	}

	return filepath.Join(outputDir, rel), nil
}

// decompressFileStreaming writes the content of zf to destPath.
func decompressFileStreaming(zf *zip.File, destPath string, copier *Copier) error {
	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fsError("mkdir", filepath.Dir(destPath), err)
	}

	rc, err := zf.Open()
	if err != nil {
		return newError(CorruptArchive, "open entry", zf.Name, err)
	}
	defer rc.Close()

	mode := zf.Mode().Perm()
	if mode == 0 {
		mode = 0644
	}
	f, err := os.OpenFile(destPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return fsError("create", destPath, err)
	}
	defer f.Close()

	n, err := copier.Copy(f, rc)
	if err != nil {
		var e *Error
		if errors.As(err, &e) && e.Op == "read" {
			return newError(CorruptArchive, "read entry", zf.Name, e.Err)
		}
		return fsError("write", destPath, err)
	}
	if uint64(n) != zf.UncompressedSize64 {
		return newError(CorruptArchive, "read entry", zf.Name,
			errors.Errorf("expected %d bytes, got %d", zf.UncompressedSize64, n))
	}

	return fsError("close", destPath, f.Close())
}

// VerifyArchive reads every entry of the archive at input and checks its
// checksum without writing anything to disk.
func VerifyArchive(input string, copier *Copier) error {
	zr, err := zip.OpenReader(input)
	if err != nil {
		if os.IsNotExist(err) || os.IsPermission(err) {
			return fsError("open", input, err)
		}
		return newError(CorruptArchive, "open", input, err)
	}
	defer zr.Close()
	registerReaderMethods(&zr.Reader)

	for _, zf := range zr.File {
		if _, err := determineDestPath(".", zf.Name); err != nil {
			return err
		}
		if zf.FileInfo().IsDir() {
			continue
		}

		rc, err := zf.Open()
		if err != nil {
			return newError(CorruptArchive, "open entry", zf.Name, err)
		}
		_, err = copier.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return newError(CorruptArchive, "read entry", zf.Name, errors.Cause(err))
		}
	}
	return nil
}
