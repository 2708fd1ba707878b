package transfer

import (
	"net"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zipsend/pkg/core"
)

// Receiver accepts exactly one incoming transfer.
type Receiver struct {
	*Session
	ln net.Listener
}

// Listen binds addr and returns a Receiver waiting for one sender.
func Listen(addr string, opts Options) (*Receiver, error) {
	s, err := newSession(RoleReceiver, opts)
	if err != nil {
		return nil, err
	}

	if err := s.setState(Listening); err != nil {
		return nil, err
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, s.fail(core.WrapConnError("listen", addr, err))
	}

	s.log.WithField("addr", ln.Addr().String()).Info("listening")
	return &Receiver{Session: s, ln: ln}, nil
}

// Addr returns the address the receiver listens on.
func (r *Receiver) Addr() net.Addr {
	return r.ln.Addr()
}

// Close stops listening. It is safe to call after Receive.
func (r *Receiver) Close() error {
	err := r.ln.Close()
	if err != nil && errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

// Receive waits for one sender, stores the incoming archive in a temporary
// file and extracts it below output. An empty output extracts into the
// current working directory. No further connections are accepted.
func (r *Receiver) Receive(output string) error {
	if r.state != Listening {
		return errors.Errorf("receiver is %s, not listening", r.state)
	}

	conn, err := r.accept()
	if err != nil {
		return r.fail(err)
	}
	defer conn.Close()

	r.log = r.log.WithField("peer", conn.RemoteAddr().String())
	r.log.Info("connection accepted")

	if err := r.setState(Transferring); err != nil {
		return r.fail(err)
	}

	archive, err := r.receiveArchive(conn)
	if err != nil {
		return r.fail(err)
	}

	if err := r.setState(Extracting); err != nil {
		return r.fail(err)
	}

	if err := r.extract(archive, output); err != nil {
		r.log.WithField("archive", archive).Warn("archive left on disk")
		return r.fail(errors.Wrapf(err, "extract %s", archive))
	}

	if !r.opts.KeepArchive {
		r.removeArchive(archive)
	}
	return r.setState(Done)
}

// accept takes one connection and closes the listener.
func (r *Receiver) accept() (net.Conn, error) {
	defer r.Close()

	conn, err := r.ln.Accept()
	if err != nil {
		return nil, core.WrapConnError("accept", r.ln.Addr().String(), err)
	}
	return conn, nil
}

// receiveArchive copies the stream into a new temporary archive until the
// peer closes its side.
func (r *Receiver) receiveArchive(conn net.Conn) (string, error) {
	dir := r.opts.WorkDir
	if dir == "" {
		dir = "."
	}

	f, err := os.CreateTemp(dir, "zipsend-*"+core.ArchiveExt)
	if err != nil {
		return "", core.WrapFSError("create", dir, err)
	}
	defer f.Close()

	r.log.WithFields(logrus.Fields{
		"archive": f.Name(),
		"buffer":  r.copier.BufferSize(),
	}).Info("receiving archive")

	n, err := r.copyWithProgress(f, conn, 0)
	if err != nil {
		return f.Name(), errors.Wrapf(err, "receive into %s", f.Name())
	}

	if err := f.Sync(); err != nil {
		return f.Name(), core.WrapFSError("sync", f.Name(), err)
	}
	if err := f.Close(); err != nil {
		return f.Name(), core.WrapFSError("close", f.Name(), err)
	}

	r.log.WithField("bytes", n).Info("archive received")
	return f.Name(), nil
}

// extract checks the whole archive before writing anything below output.
func (r *Receiver) extract(archive, output string) error {
	if err := core.VerifyArchive(archive, r.copier); err != nil {
		return err
	}
	return core.ExtractArchive(archive, output, r.archiveOptions())
}
