// Package lib ties configuration, logging and the transfer sessions
// together for the command line tool.
package lib

import (
	"github.com/sirupsen/logrus"

	"zipsend/pkg/config"
	"zipsend/pkg/core"
	"zipsend/pkg/transfer"
)

// ErrorKind classifies transfer failures.
type ErrorKind = core.Kind

// Error kinds re-exported from core
const (
	NotFound        = core.NotFound
	AccessDenied    = core.AccessDenied
	IoError         = core.IoError
	CorruptArchive  = core.CorruptArchive
	ConnectionError = core.ConnectionError
)

// KindOf is core.KindOf
var KindOf = core.KindOf

// Options derives session options from cfg.
func Options(cfg *config.Config, log logrus.FieldLogger) (transfer.Options, error) {
	if err := cfg.Validate(); err != nil {
		return transfer.Options{}, err
	}

	bufferSize, err := cfg.BufferBytes()
	if err != nil {
		return transfer.Options{}, err
	}
	method, err := cfg.Method()
	if err != nil {
		return transfer.Options{}, err
	}
	workDir, err := cfg.WorkDirPath()
	if err != nil {
		return transfer.Options{}, err
	}

	return transfer.Options{
		BufferSize:  bufferSize,
		Method:      method,
		WorkDir:     workDir,
		KeepArchive: cfg.KeepArchive,
		DialTimeout: cfg.DialTimeout,
		Quiet:       cfg.Quiet,
		Log:         log,
	}, nil
}

// Send archives input and sends it to the receiver at addr.
func Send(cfg *config.Config, log logrus.FieldLogger, input, addr string) error {
	opts, err := Options(cfg, log)
	if err != nil {
		return err
	}

	s, err := transfer.NewSender(opts)
	if err != nil {
		return err
	}
	return s.Send(input, addr)
}

// Receive listens on cfg.BindAddress, accepts one transfer and extracts it
// below output.
func Receive(cfg *config.Config, log logrus.FieldLogger, output string) error {
	opts, err := Options(cfg, log)
	if err != nil {
		return err
	}

	r, err := transfer.Listen(cfg.BindAddress, opts)
	if err != nil {
		return err
	}
	defer r.Close()

	return r.Receive(output)
}
