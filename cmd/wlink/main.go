// Command wlink is the wBPF static linker's command-line front end: it
// drives the global linker (internal/wlink) over a set of relocatable
// object files and, separately, exercises the external device-driver
// collaborator (internal/wdevice) for loading and controlling images on
// real hardware (linux only).
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/xyproto/env/v2"
)

const versionString = "wlink 0.1.0"

func main() {
	var (
		devicePath = flag.String("d", env.Str("WBPF_DEVICE", ""), "path to the wBPF character device")
		verbose    = flag.Bool("v", env.Bool("WBPF_VERBOSE"), "verbose mode (debug-level logging)")
		quiet      = flag.Bool("q", false, "quiet mode (errors only)")
		version    = flag.Bool("version", false, "print version information and exit")
	)
	flag.Parse()

	if *version {
		fmt.Println(versionString)
		os.Exit(0)
	}

	log := newLogger(*verbose, *quiet)

	if err := RunCLI(flag.Args(), *devicePath, log); err != nil {
		fmt.Fprintf(os.Stderr, "wlink: %v\n", err)
		os.Exit(1)
	}
}

// newLogger builds the slog.Logger the rest of wlink threads through, at
// a level gated by -v/-q the way the rest of the ambient stack expects.
func newLogger(verbose, quiet bool) *slog.Logger {
	level := slog.LevelInfo
	switch {
	case verbose:
		level = slog.LevelDebug
	case quiet:
		level = slog.LevelError
	}
	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}
