package main

import (
	"fmt"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli"

	"zipsend/lib"
	"zipsend/pkg/config"
	zlog "zipsend/pkg/log"
)

const (
	// Success is the same as EXIT_SUCCESS in C
	Success = iota

	// BadArgs passed to cli; not our fault.
	BadArgs

	// TransferFailed means archiving, sending, receiving or extracting failed.
	TransferFailed
)

func main() {
	os.Exit(run(os.Args))
}

func run(args []string) int {
	app := cli.NewApp()
	app.Name = "zipsend"
	app.Usage = "Send a file or directory to a peer as a zip archive over TCP"
	app.Version = "0.1.0"
	// Exit codes are handled below, not inside app.Run.
	app.ExitErrHandler = func(*cli.Context, error) {}

	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "listen, l",
			Usage: "Receive one transfer and extract it",
		},
		cli.BoolFlag{
			Name:  "connect, c",
			Usage: "Send --input to the receiver at --address",
		},
		cli.StringFlag{
			Name:  "address, a",
			Usage: "Address of the receiver (connect mode)",
		},
		cli.StringFlag{
			Name:  "input, i",
			Usage: "File or directory to send (connect mode)",
		},
		cli.StringFlag{
			Name:  "output, o",
			Usage: "Directory to extract into (listen mode)",
		},
		cli.StringFlag{
			Name:  "bind, b",
			Usage: "Address to listen on (listen mode)",
		},
		cli.StringFlag{
			Name:   "config",
			Usage:  "Path of a YAML config file",
			EnvVar: "ZIPSEND_CONFIG",
		},
		cli.StringFlag{
			Name:  "buffer-size",
			Usage: "Copy buffer size, e.g. 64KiB or 1MiB",
		},
		cli.StringFlag{
			Name:  "compression",
			Usage: "Entry compression: store, deflate, lz4 or snappy",
		},
		cli.StringFlag{
			Name:  "work-dir",
			Usage: "Where working archives are written",
		},
		cli.BoolFlag{
			Name:  "quiet, q",
			Usage: "Only log the summary of each copy, not its progress",
		},
		cli.BoolFlag{
			Name:  "keep-archive",
			Usage: "Do not delete working archives after success",
		},
		cli.DurationFlag{
			Name:  "dial-timeout",
			Usage: "Give up connecting after this long (0 waits forever)",
		},
		cli.StringFlag{
			Name:  "log-level",
			Usage: "One of debug, info, warn, error",
		},
		cli.StringFlag{
			Name:  "log-file",
			Usage: "Where to output the log. May be 'stderr' (default), 'stdout' or a path",
		},
	}

	app.Action = handleTransfer

	if err := app.Run(args); err != nil {
		if exitErr, ok := err.(cli.ExitCoder); ok {
			if msg := exitErr.Error(); msg != "" {
				fmt.Fprintln(os.Stderr, "Error:", msg)
			}
			return exitErr.ExitCode()
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return BadArgs
	}
	return Success
}

// checkMode validates that exactly one mode and its arguments are given.
func checkMode(ctx *cli.Context) error {
	listen, connect := ctx.Bool("listen"), ctx.Bool("connect")
	switch {
	case listen == connect:
		return fmt.Errorf("exactly one of --listen or --connect is required")
	case listen && ctx.String("output") == "":
		return fmt.Errorf("--listen requires --output")
	case listen && (ctx.String("address") != "" || ctx.String("input") != ""):
		return fmt.Errorf("--address and --input only apply to --connect")
	case connect && (ctx.String("address") == "" || ctx.String("input") == ""):
		return fmt.Errorf("--connect requires --address and --input")
	case connect && (ctx.String("output") != "" || ctx.String("bind") != ""):
		return fmt.Errorf("--output and --bind only apply to --listen")
	}
	return nil
}

// loadConfig reads the config file and applies command line overrides.
func loadConfig(ctx *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(ctx.String("config"))
	if err != nil {
		return nil, err
	}

	if v := ctx.String("buffer-size"); v != "" {
		cfg.BufferSize = v
	}
	if v := ctx.String("compression"); v != "" {
		cfg.Compression = v
	}
	if v := ctx.String("work-dir"); v != "" {
		cfg.WorkDir = v
	}
	if v := ctx.String("bind"); v != "" {
		cfg.BindAddress = v
	}
	if v := ctx.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := ctx.String("log-file"); v != "" {
		cfg.Log.File = v
	}
	if ctx.IsSet("dial-timeout") {
		cfg.DialTimeout = ctx.Duration("dial-timeout")
	}
	if ctx.Bool("keep-archive") {
		cfg.KeepArchive = true
	}
	if ctx.Bool("quiet") {
		cfg.Quiet = true
	}

	return cfg, cfg.Validate()
}

func handleTransfer(ctx *cli.Context) error {
	if err := checkMode(ctx); err != nil {
		cli.ShowAppHelp(ctx)
		return cli.NewExitError(err.Error(), BadArgs)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		return cli.NewExitError(err.Error(), BadArgs)
	}

	log, closer, err := zlog.New(cfg.Log)
	if err != nil {
		return cli.NewExitError(err.Error(), BadArgs)
	}
	defer closer.Close()

	start := time.Now()
	if ctx.Bool("listen") {
		err = handleReceive(ctx, cfg, log)
	} else {
		err = handleSend(ctx, cfg, log)
	}

	if err != nil {
		kind := lib.KindOf(err)
		log.WithField("kind", kind).Error(err)
		if hint := kindHint(kind); hint != "" {
			return cli.NewExitError(err.Error()+"\n"+hint, TransferFailed)
		}
		return cli.NewExitError(err.Error(), TransferFailed)
	}

	log.WithField("took", time.Since(start).Round(time.Millisecond)).Info("done")
	return nil
}

// kindHint suggests what to check for a failure of the given kind.
func kindHint(kind lib.ErrorKind) string {
	switch kind {
	case lib.NotFound:
		return "Hint: check that the input path exists."
	case lib.AccessDenied:
		return "Hint: check the permissions of the input, output and work directory."
	case lib.IoError:
		return "Hint: the disk may be full or the connection was reset."
	case lib.CorruptArchive:
		return "Hint: the transfer was cut short or damaged; the received archive was kept in the work directory."
	case lib.ConnectionError:
		return "Hint: check the address and that the receiver is listening."
	}
	return ""
}

func handleSend(ctx *cli.Context, cfg *config.Config, log *logrus.Logger) error {
	log.Info("send mode")
	return lib.Send(cfg, log, ctx.String("input"), ctx.String("address"))
}

func handleReceive(ctx *cli.Context, cfg *config.Config, log *logrus.Logger) error {
	log.Info("listen mode")
	output, err := homedir.Expand(ctx.String("output"))
	if err != nil {
		return err
	}
	return lib.Receive(cfg, log, output)
}
