//go:build !linux

package main

import (
	"fmt"

	"github.com/wbpf/wlink/internal/wdevice"
)

// openDevice has no real device to open outside Linux; hardware control
// subcommands fail with a clear message rather than compiling out.
func openDevice(path string) (wdevice.Controller, error) {
	return nil, fmt.Errorf("opening wBPF device %q: hardware control is only supported on linux", path)
}
