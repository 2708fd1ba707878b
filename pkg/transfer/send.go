package transfer

import (
	"net"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zipsend/pkg/core"
)

// Send archives input and streams the archive to the receiver at peer.
// The archive is complete before the connection is opened, so a bad input
// path fails without touching the network.
func (s *Session) Send(input, peer string) error {
	if s.role != RoleSender {
		return errors.Errorf("send called on a %s session", s.role)
	}
	s.log = s.log.WithField("peer", peer)

	if err := s.setState(Archiving); err != nil {
		return err
	}

	source, err := resolveInput(input)
	if err != nil {
		return s.fail(err)
	}

	archive, err := core.BuildArchive(source, s.archiveOptions())
	if err != nil {
		return s.fail(errors.Wrapf(err, "archive %s", input))
	}
	if !s.opts.KeepArchive {
		defer s.removeArchive(archive)
	}

	if err := s.setState(Connecting); err != nil {
		return s.fail(err)
	}

	conn, err := s.dial(peer)
	if err != nil {
		return s.fail(err)
	}
	defer conn.Close()
	s.log.WithField("local", conn.LocalAddr().String()).Info("connected")

	if err := s.setState(Transferring); err != nil {
		return s.fail(err)
	}

	n, err := s.sendArchive(conn, archive)
	if err != nil {
		return s.fail(errors.Wrapf(err, "send %s", archive))
	}

	if err := closeWrite(conn); err != nil {
		return s.fail(core.WrapConnError("close", peer, err))
	}

	s.log.WithField("bytes", n).Info("transfer complete")
	return s.setState(Done)
}

// resolveInput turns input into an absolute path below the current
// working directory, expanding a leading ~.
func resolveInput(input string) (string, error) {
	expanded, err := homedir.Expand(input)
	if err != nil {
		return "", errors.Wrapf(err, "expand %s", input)
	}

	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", errors.Wrapf(err, "resolve %s", input)
	}
	return abs, nil
}

func (s *Session) dial(peer string) (net.Conn, error) {
	d := net.Dialer{Timeout: s.opts.DialTimeout}
	conn, err := d.Dial("tcp", peer)
	if err != nil {
		return nil, core.WrapConnError("dial", peer, err)
	}
	return conn, nil
}

// sendArchive copies the whole archive file into conn.
func (s *Session) sendArchive(conn net.Conn, archive string) (int64, error) {
	f, err := os.Open(archive)
	if err != nil {
		return 0, core.WrapFSError("open", archive, err)
	}
	defer f.Close()

	var size uint64
	if info, err := f.Stat(); err == nil {
		size = uint64(info.Size())
	}

	s.log.WithFields(logrus.Fields{
		"archive": archive,
		"buffer":  s.copier.BufferSize(),
	}).Info("starting transfer")
	return s.copyWithProgress(conn, f, size)
}

// closeWrite half-closes conn so the receiver reads end of stream.
func closeWrite(conn net.Conn) error {
	if cw, ok := conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return conn.Close()
}

func (s *Session) removeArchive(archive string) {
	if err := os.Remove(archive); err != nil && !os.IsNotExist(err) {
		s.log.WithError(err).WithField("archive", archive).Warn("could not remove archive")
	}
}
