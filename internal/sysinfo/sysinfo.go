// Package sysinfo prints a short identity block for the inspection target:
// the target kernel's utsname when the backend exposes it, otherwise the host
// the tool is running on (the live-inspection case, where target and host are
// the same machine). Individual probe failures render "unknown" rather than
// failing the report.
package sysinfo

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/modules"
)

const unknown = "unknown"

// Module prints the target summary.
type Module struct {
	logger *zap.Logger
}

var _ modules.Module = (*Module)(nil)

// New creates the sysinfo module.
func New(logger *zap.Logger) *Module {
	return &Module{logger: logger}
}

// Name returns the dispatch name.
func (m *Module) Name() string { return "sysinfo" }

// Synopsis returns the one-line description.
func (m *Module) Synopsis() string { return "Print basic information about the inspection target" }

// Flags registers nothing.
func (m *Module) Flags(fs *pflag.FlagSet) {}

// Run prints the utsname block from the target when available, falling back
// to host information.
func (m *Module) Run(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	if uts, ok := k.Uname(); ok {
		fmt.Fprintf(out, "NODENAME: %s\n", orUnknown(uts.Nodename))
		fmt.Fprintf(out, "KERNEL:   %s %s\n", orUnknown(uts.Sysname), orUnknown(uts.Release))
		fmt.Fprintf(out, "VERSION:  %s\n", orUnknown(uts.Version))
		fmt.Fprintf(out, "ARCH:     %s\n", orUnknown(uts.Machine))
		return nil
	}

	m.logger.Debug("Target exposes no utsname, reporting local host")
	hostname, kernel, uptime := unknown, unknown, unknown
	if info, err := host.InfoWithContext(ctx); err == nil {
		hostname = info.Hostname
		kernel = fmt.Sprintf("%s %s", info.OS, info.KernelVersion)
		uptime = (time.Duration(info.Uptime) * time.Second).String()
	}
	arch := unknown
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		arch = charsToString(uts.Machine[:])
	}
	memory := unknown
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		memory = fmt.Sprintf("%s total, %s used", humanize.IBytes(vm.Total), humanize.IBytes(vm.Used))
	}

	fmt.Fprintf(out, "NODENAME: %s\n", hostname)
	fmt.Fprintf(out, "KERNEL:   %s\n", kernel)
	fmt.Fprintf(out, "ARCH:     %s\n", arch)
	fmt.Fprintf(out, "UPTIME:   %s\n", uptime)
	fmt.Fprintf(out, "MEMORY:   %s\n", memory)
	return nil
}

func orUnknown(s string) string {
	if s == "" {
		return unknown
	}
	return s
}

func charsToString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}
