//go:build linux

package main

import "github.com/wbpf/wlink/internal/wdevice"

// openDevice opens the real wBPF character device at path.
func openDevice(path string) (wdevice.Controller, error) {
	return wdevice.Open(path)
}
