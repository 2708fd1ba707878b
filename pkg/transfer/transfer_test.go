package transfer

import (
	"bytes"
	"io"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"zipsend/pkg/core"
	"zipsend/pkg/testutil"
)

type result struct {
	err error
}

func testOptions(t *testing.T, method core.Method) Options {
	return Options{
		BufferSize:       32 * 1024,
		Method:           method,
		WorkDir:          testutil.TempDir(t, "zipsend-work-"),
		ProgressInterval: 10 * time.Millisecond,
	}
}

// startReceiver listens on a random loopback port and runs Receive in the
// background.
func startReceiver(t *testing.T, opts Options, output string) (*Receiver, <-chan result) {
	r, err := Listen("127.0.0.1:0", opts)
	require.NoError(t, err)
	require.Equal(t, Listening, r.State())

	done := make(chan result, 1)
	go func() {
		done <- result{err: r.Receive(output)}
	}()
	return r, done
}

func wait(t *testing.T, done <-chan result) error {
	select {
	case res := <-done:
		return res.err
	case <-time.After(30 * time.Second):
		t.Fatal("receiver did not finish")
		return nil
	}
}

func requireEmptyDir(t *testing.T, dir string) {
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestTransferLargeFile(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	content := testutil.CreateRandomDummyBuf(5*1024*1024, 42)
	input := filepath.Join(src, "payload.bin")
	require.NoError(t, os.WriteFile(input, content, 0644))

	output := filepath.Join(testutil.TempDir(t, "zipsend-dst-"), "target")
	recvOpts := testOptions(t, core.MethodStore)
	r, done := startReceiver(t, recvOpts, output)

	sendOpts := testOptions(t, core.MethodStore)
	s, err := NewSender(sendOpts)
	require.NoError(t, err)
	require.NoError(t, s.Send(input, r.Addr().String()))
	require.Equal(t, Done, s.State())

	require.NoError(t, wait(t, done))
	require.Equal(t, Done, r.State())

	got, err := os.ReadFile(filepath.Join(output, "payload.bin"))
	require.NoError(t, err)
	require.Equal(t, content, got)

	requireEmptyDir(t, sendOpts.WorkDir)
	requireEmptyDir(t, recvOpts.WorkDir)
}

func TestTransferDirectory(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	testutil.CreateTree(t, src, testutil.Tree{
		"a.txt":           testutil.CreateDummyBuf(100),
		"one/b.txt":       testutil.CreateRandomDummyBuf(70*1024, 7),
		"one/two/c.txt":   testutil.CreateRandomDummyBuf(3, 8),
		"one/two/empty/":  nil,
		"one/zero-length": {},
	})

	for _, method := range []core.Method{core.MethodStore, core.MethodDeflate, core.MethodLZ4, core.MethodSnappy} {
		t.Run(string(method), func(t *testing.T) {
			output := testutil.TempDir(t, "zipsend-dst-")
			r, done := startReceiver(t, testOptions(t, method), output)

			s, err := NewSender(testOptions(t, method))
			require.NoError(t, err)
			require.NoError(t, s.Send(src, r.Addr().String()))

			require.NoError(t, wait(t, done))
			testutil.RequireSameTree(t, src, output)
		})
	}
}

func TestKeepArchive(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	input := filepath.Join(src, "keep.txt")
	require.NoError(t, os.WriteFile(input, []byte("keep me"), 0644))

	recvOpts := testOptions(t, core.MethodStore)
	recvOpts.KeepArchive = true
	r, done := startReceiver(t, recvOpts, testutil.TempDir(t, "zipsend-dst-"))

	sendOpts := testOptions(t, core.MethodStore)
	sendOpts.KeepArchive = true
	s, err := NewSender(sendOpts)
	require.NoError(t, err)
	require.NoError(t, s.Send(input, r.Addr().String()))
	require.NoError(t, wait(t, done))

	for _, dir := range []string{sendOpts.WorkDir, recvOpts.WorkDir} {
		matches, err := filepath.Glob(filepath.Join(dir, "*"+core.ArchiveExt))
		require.NoError(t, err)
		require.Len(t, matches, 1)
		require.NoError(t, core.VerifyArchive(matches[0], s.copier))
	}
}

func TestSendMissingInputDoesNotConnect(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	accepted := make(chan struct{}, 1)
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		conn, err := ln.Accept()
		if err == nil {
			accepted <- struct{}{}
			conn.Close()
		}
	}()

	s, err := NewSender(testOptions(t, core.MethodStore))
	require.NoError(t, err)

	err = s.Send(filepath.Join(testutil.TempDir(t, "zipsend-src-"), "nope"), ln.Addr().String())
	require.Error(t, err)
	require.Equal(t, core.NotFound, core.KindOf(err))
	require.Equal(t, Failed, s.State())

	require.NoError(t, ln.Close())
	<-acceptDone
	require.Len(t, accepted, 0)
}

func TestSendConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	src := testutil.TempDir(t, "zipsend-src-")
	input := filepath.Join(src, "f")
	require.NoError(t, os.WriteFile(input, []byte("data"), 0644))

	opts := testOptions(t, core.MethodStore)
	s, err := NewSender(opts)
	require.NoError(t, err)

	err = s.Send(input, addr)
	require.Equal(t, core.ConnectionError, core.KindOf(err))
	require.Equal(t, Failed, s.State())
	requireEmptyDir(t, opts.WorkDir)
}

func TestListenAddressInUse(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, err = Listen(ln.Addr().String(), testOptions(t, core.MethodStore))
	require.Error(t, err)
	require.Equal(t, core.ConnectionError, core.KindOf(err))
}

func TestReceiveTruncatedStream(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	input := filepath.Join(src, "payload.bin")
	require.NoError(t, os.WriteFile(input, testutil.CreateRandomDummyBuf(512*1024, 9), 0644))

	c, err := core.NewCopier(4096)
	require.NoError(t, err)
	archive, err := core.BuildArchive(input, core.ArchiveOptions{Copier: c, Dir: src})
	require.NoError(t, err)
	data, err := os.ReadFile(archive)
	require.NoError(t, err)

	output := filepath.Join(testutil.TempDir(t, "zipsend-dst-"), "out")
	recvOpts := testOptions(t, core.MethodStore)
	r, done := startReceiver(t, recvOpts, output)

	// Drop the connection halfway through the archive.
	conn, err := net.Dial("tcp", r.Addr().String())
	require.NoError(t, err)
	_, err = conn.Write(data[:len(data)/2])
	require.NoError(t, err)
	require.NoError(t, conn.Close())

	err = wait(t, done)
	require.Error(t, err)
	require.Equal(t, core.CorruptArchive, core.KindOf(err))
	require.Equal(t, Failed, r.State())

	// Nothing was extracted and the partial archive is left for inspection.
	_, err = os.Stat(output)
	require.True(t, os.IsNotExist(err))
	matches, err := filepath.Glob(filepath.Join(recvOpts.WorkDir, "*"+core.ArchiveExt))
	require.NoError(t, err)
	require.Len(t, matches, 1)
}

func TestReceiverAcceptsOnlyOnce(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	input := filepath.Join(src, "once.txt")
	require.NoError(t, os.WriteFile(input, []byte("once"), 0644))

	r, done := startReceiver(t, testOptions(t, core.MethodStore), testutil.TempDir(t, "zipsend-dst-"))
	addr := r.Addr().String()

	s, err := NewSender(testOptions(t, core.MethodStore))
	require.NoError(t, err)
	require.NoError(t, s.Send(input, addr))
	require.NoError(t, wait(t, done))

	_, err = net.DialTimeout("tcp", addr, time.Second)
	require.Error(t, err)

	// A second Receive on the same receiver fails instead of accepting.
	err = r.Receive(testutil.TempDir(t, "zipsend-dst-"))
	require.Error(t, err)
}

func TestSessionIsSingleUse(t *testing.T) {
	src := testutil.TempDir(t, "zipsend-src-")
	input := filepath.Join(src, "x")
	require.NoError(t, os.WriteFile(input, []byte("x"), 0644))

	r, done := startReceiver(t, testOptions(t, core.MethodStore), testutil.TempDir(t, "zipsend-dst-"))

	s, err := NewSender(testOptions(t, core.MethodStore))
	require.NoError(t, err)
	require.NoError(t, s.Send(input, r.Addr().String()))
	require.NoError(t, wait(t, done))

	err = s.Send(input, r.Addr().String())
	require.Error(t, err)
	require.Equal(t, Done, s.State())
}

func TestStateMachine(t *testing.T) {
	s, err := NewSender(Options{})
	require.NoError(t, err)
	require.Equal(t, core.DefaultBufferSize, s.copier.BufferSize())

	require.Error(t, s.setState(Transferring))
	require.Error(t, s.setState(Listening))
	require.NoError(t, s.setState(Archiving))
	require.NoError(t, s.setState(Connecting))
	require.NoError(t, s.setState(Failed))
	require.Error(t, s.setState(Transferring))
	require.Equal(t, Failed, s.State())

	_, err = NewSender(Options{BufferSize: -1})
	require.Error(t, err)
}

func TestResolveInput(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)

	abs, err := resolveInput("some/relative/path")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(wd, "some/relative/path"), abs)

	abs, err = resolveInput("/already/absolute")
	require.NoError(t, err)
	require.Equal(t, "/already/absolute", abs)
}

func TestSessionLogsRoleAndPeer(t *testing.T) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	opts := testOptions(t, core.MethodStore)
	opts.Log = logger
	s, err := NewSender(opts)
	require.NoError(t, err)

	err = s.Send(filepath.Join(testutil.TempDir(t, "zipsend-src-"), "missing"), "127.0.0.1:1")
	require.Error(t, err)

	last := hook.LastEntry()
	require.NotNil(t, last)
	require.Equal(t, logrus.ErrorLevel, last.Level)
	require.Equal(t, "sender", last.Data["role"])
	require.Equal(t, "127.0.0.1:1", last.Data["peer"])
}

// slowReader hands out its data in small chunks with a pause between them.
type slowReader struct {
	r     io.Reader
	delay time.Duration
}

func (sr *slowReader) Read(p []byte) (int, error) {
	time.Sleep(sr.delay)
	if len(p) > 1024 {
		p = p[:1024]
	}
	return sr.r.Read(p)
}

func countMessages(hook *test.Hook, msg string) int {
	n := 0
	for _, entry := range hook.AllEntries() {
		if entry.Message == msg {
			n++
		}
	}
	return n
}

func TestQuietSuppressesProgress(t *testing.T) {
	for _, quiet := range []bool{false, true} {
		logger, hook := test.NewNullLogger()
		opts := testOptions(t, core.MethodStore)
		opts.Quiet = quiet
		opts.Log = logger

		s, err := NewSender(opts)
		require.NoError(t, err)

		src := &slowReader{r: bytes.NewReader(testutil.CreateDummyBuf(8 * 1024)), delay: 10 * time.Millisecond}
		n, err := s.copyWithProgress(io.Discard, src, 8*1024)
		require.NoError(t, err)
		require.Equal(t, int64(8*1024), n)

		require.Equal(t, 1, countMessages(hook, "completed"))
		if quiet {
			require.Zero(t, countMessages(hook, "progress"))
		} else {
			require.NotZero(t, countMessages(hook, "progress"))
		}
	}
}
