// Package transfer moves an archive between two hosts over one TCP
// connection. The stream carries the raw archive bytes; the sender signals
// the end of the data by closing its side of the connection.
package transfer

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zipsend/pkg/core"
	"zipsend/pkg/progress"
)

// Role says which side of a transfer a Session plays.
type Role int

const (
	RoleSender Role = iota
	RoleReceiver
)

func (r Role) String() string {
	if r == RoleReceiver {
		return "receiver"
	}
	return "sender"
}

// State of a session. Done and Failed are terminal.
type State int

const (
	Idle State = iota
	Archiving
	Connecting
	Listening
	Transferring
	Extracting
	Done
	Failed
)

var stateNames = map[State]string{
	Idle:         "idle",
	Archiving:    "archiving",
	Connecting:   "connecting",
	Listening:    "listening",
	Transferring: "transferring",
	Extracting:   "extracting",
	Done:         "done",
	Failed:       "failed",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// transitions lists the legal successors of every state, per role.
// Failed is reachable from every non-terminal state.
var transitions = map[Role]map[State][]State{
	RoleSender: {
		Idle:         {Archiving},
		Archiving:    {Connecting},
		Connecting:   {Transferring},
		Transferring: {Done},
	},
	RoleReceiver: {
		Idle:         {Listening},
		Listening:    {Transferring},
		Transferring: {Extracting},
		Extracting:   {Done},
	},
}

// Options configure a Session.
type Options struct {
	// BufferSize of the single copy buffer. Defaults to core.DefaultBufferSize.
	BufferSize int
	// Method compresses file entries of archives built for sending.
	Method core.Method
	// WorkDir receives working archives. Empty means the current directory.
	WorkDir string
	// KeepArchive leaves working archives on disk after success.
	KeepArchive bool
	// DialTimeout bounds connection setup. Zero waits forever.
	DialTimeout time.Duration
	// ProgressInterval overrides the progress logging interval.
	ProgressInterval time.Duration
	// Quiet drops the periodic progress messages. The summary stays.
	Quiet bool
	// Log receives all messages. Nil discards them.
	Log logrus.FieldLogger
}

// Session is a single transfer, used exactly once.
type Session struct {
	role   Role
	opts   Options
	copier *core.Copier
	log    logrus.FieldLogger
	state  State
}

func newSession(role Role, opts Options) (*Session, error) {
	if opts.BufferSize == 0 {
		opts.BufferSize = core.DefaultBufferSize
	}

	copier, err := core.NewCopier(opts.BufferSize)
	if err != nil {
		return nil, err
	}

	log := opts.Log
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}

	return &Session{
		role:   role,
		opts:   opts,
		copier: copier,
		log:    log.WithField("role", role.String()),
		state:  Idle,
	}, nil
}

// NewSender returns a session that sends one file or directory.
func NewSender(opts Options) (*Session, error) {
	return newSession(RoleSender, opts)
}

// State returns the current state of the session.
func (s *Session) State() State { return s.state }

// setState moves the session to next, refusing moves the state machine
// does not allow.
func (s *Session) setState(next State) error {
	if s.state == Done || s.state == Failed {
		return errors.Errorf("%s session already %s", s.role, s.state)
	}

	if next != Failed {
		allowed := false
		for _, st := range transitions[s.role][s.state] {
			if st == next {
				allowed = true
				break
			}
		}
		if !allowed {
			return errors.Errorf("%s session cannot go from %s to %s", s.role, s.state, next)
		}
	}

	s.log.WithFields(logrus.Fields{"from": s.state, "to": next}).Debug("state change")
	s.state = next
	return nil
}

// fail moves the session to Failed and returns err unchanged.
func (s *Session) fail(err error) error {
	if s.state != Failed {
		s.log.WithField("state", s.state).WithError(err).Error("transfer failed")
		s.state = Failed
	}
	return err
}

func (s *Session) archiveOptions() core.ArchiveOptions {
	return core.ArchiveOptions{
		Copier: s.copier,
		Dir:    s.opts.WorkDir,
		Method: s.opts.Method,
		Log:    s.log,
	}
}

// copyWithProgress streams src into dst through the session's copier while
// a tracker reports the throughput.
func (s *Session) copyWithProgress(dst io.Writer, src io.Reader, total uint64) (int64, error) {
	tracker := progress.New(s.log, total)
	tracker.SetInterval(s.opts.ProgressInterval)
	tracker.SetQuiet(s.opts.Quiet)
	tracker.Start()
	defer tracker.Stop()

	return s.copier.Copy(tracker.Writer(dst), src)
}
