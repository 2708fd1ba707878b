package core

import (
	"archive/zip"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// BuildArchive packs the file or directory at source into a new zip archive
// and returns the archive's path. A single file becomes one entry named by
// its base name; a directory contributes its contents, without its own name.
// The archive is written under a temporary name and only renamed into place
// once it is complete.
func BuildArchive(source string, opts ArchiveOptions) (string, error) {
	if opts.Copier == nil {
		return "", errors.New("build archive: no copier")
	}
	log := opts.logger()

	info, err := os.Stat(source)
	if err != nil {
		return "", fsError("stat", source, err)
	}

	var entries []Entry
	if info.IsDir() {
		entries, err = collectDirEntries(source, "", log)
		if err != nil {
			return "", errors.Wrap(err, "collect entries")
		}
	} else if info.Mode().IsRegular() {
		entries = []Entry{{RelPath: filepath.Base(source), FilePath: source}}
	} else {
		return "", newError(IoError, "stat", source, errors.New("not a regular file or directory"))
	}

	output, err := archivePath(opts.Dir, time.Now())
	if err != nil {
		return "", err
	}

	log.WithFields(logrus.Fields{
		"source":  source,
		"archive": output,
		"entries": len(entries),
		"size":    humanize.IBytes(calculateTotalSize(entries)),
	}).Info("building archive")

	partial := output + ".part"
	if err := compressFiles(entries, partial, opts, log); err != nil {
		os.Remove(partial)
		return "", err
	}

	if err := os.Rename(partial, output); err != nil {
		os.Remove(partial)
		return "", fsError("rename", partial, err)
	}

	log.WithField("archive", output).Info("archive created")
	return output, nil
}

// archivePath derives a fresh archive name from now inside dir.
func archivePath(dir string, now time.Time) (string, error) {
	if dir == "" {
		dir = "."
	}

	name := filepath.Join(dir, fmt.Sprintf("%d%s", now.Unix(), ArchiveExt))
	if _, err := os.Stat(name); os.IsNotExist(err) {
		return name, nil
	}

	// Two archives within the same second.
	name = filepath.Join(dir, fmt.Sprintf("%d-%09d%s", now.Unix(), now.Nanosecond(), ArchiveExt))
	if _, err := os.Stat(name); err == nil {
		return "", newError(IoError, "create", name, os.ErrExist)
	}
	return name, nil
}

// calculateTotalSize sums the size of all file entries.
func calculateTotalSize(entries []Entry) uint64 {
	var totalSize uint64
	for _, entry := range entries {
		if entry.Dir {
			continue
		}
		info, err := os.Stat(entry.FilePath)
		if err != nil {
			continue
		}
		totalSize += uint64(info.Size())
	}
	return totalSize
}

// collectDirEntries lists dir recursively. Every directory is listed before
// its contents; relPrefix is the slash path of dir inside the archive.
func collectDirEntries(dir, relPrefix string, log logrus.FieldLogger) ([]Entry, error) {
	children, err := os.ReadDir(dir)
	if err != nil {
		return nil, fsError("read dir", dir, err)
	}

	var entries []Entry
	for _, child := range children {
		fullPath := filepath.Join(dir, child.Name())
		relPath := path.Join(relPrefix, child.Name())

		switch {
		case child.IsDir():
			entries = append(entries, Entry{RelPath: relPath, FilePath: fullPath, Dir: true})
			sub, err := collectDirEntries(fullPath, relPath, log)
			if err != nil {
				return nil, err
			}
			entries = append(entries, sub...)
		case child.Type().IsRegular():
			entries = append(entries, Entry{RelPath: relPath, FilePath: fullPath})
		default:
			log.WithField("path", fullPath).Warn("skipping non-regular file")
		}
	}
	return entries, nil
}

// compressFiles writes all entries in order into a new zip file at output.
func compressFiles(entries []Entry, output string, opts ArchiveOptions, log logrus.FieldLogger) error {
	f, err := os.OpenFile(output, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return fsError("create", output, err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)
	registerWriterMethods(zw)

	for _, entry := range entries {
		if err := writeEntry(zw, entry, opts); err != nil {
			return errors.Wrapf(err, "add %s", entry.RelPath)
		}
		log.WithField("entry", entry.archiveName()).Debug("added")
	}

	if err := zw.Close(); err != nil {
		return fsError("finish", output, err)
	}
	if err := f.Sync(); err != nil {
		return fsError("sync", output, err)
	}
	return fsError("close", output, f.Close())
}

// writeEntry adds a single directory marker or file to zw.
func writeEntry(zw *zip.Writer, entry Entry, opts ArchiveOptions) error {
	info, err := os.Stat(entry.FilePath)
	if err != nil {
		return fsError("stat", entry.FilePath, err)
	}

	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return newError(IoError, "header", entry.FilePath, err)
	}
	hdr.Name = entry.archiveName()

	if entry.Dir {
		hdr.Method = zip.Store
		if _, err := zw.CreateHeader(hdr); err != nil {
			return newError(IoError, "write", entry.RelPath, err)
		}
		return nil
	}

	hdr.Method = opts.Method.zipMethod()
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return newError(IoError, "write", entry.RelPath, err)
	}

	src, err := os.Open(entry.FilePath)
	if err != nil {
		return fsError("open", entry.FilePath, err)
	}
	defer src.Close()

	if _, err := opts.Copier.Copy(w, src); err != nil {
		return err
	}
	return nil
}
