package wconfig

import (
	"log/slog"

	"github.com/wbpf/wlink/internal/wimage"
	"github.com/wbpf/wlink/internal/wlink"
)

// LinkerOptions converts the parsed configuration into wlink.Options,
// using log for the linker's non-fatal warnings.
func (cfg *LinkConfig) LinkerOptions(log *slog.Logger) wlink.Options {
	return wlink.Options{
		TargetMachine: wimage.TargetMachine{
			Name:    cfg.TargetMachine.Name,
			Helpers: cfg.TargetMachine.Helpers,
		},
		HostPlatform: wimage.HostPlatform{
			DataOffset: cfg.HostPlatform.DataOffset,
			Helpers:    cfg.HostPlatform.Helpers,
		},
		DCERoots: cfg.DCERoots,
		Logger:   log,
	}
}
