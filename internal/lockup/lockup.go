// Package lockup reports tasks that have been hogging a CPU for too long, and
// tasks found waiting on events that commonly back up behind such hogs: RCU
// grace periods, contended spinlocks, and fsnotify flag updates.
package lockup

import (
	"context"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/format"
	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/modules"
)

// Marker functions: a task with any of these on its stack is waiting on the
// corresponding event.
var (
	rcuGPFuncs = []string{
		"percpu_ref_switch_to_atomic_sync",
		"__wait_rcu_gp",
	}
	spinlockFuncs = []string{
		"__pv_queued_spin_lock_slowpath",
		"native_queued_spin_lock_slowpath",
		"queued_spin_lock_slowpath",
	}
	fsnotifyFuncs = []string{
		"__fsnotify_update_child_dentry_flags",
	}
)

// Module scans for long-running on-CPU tasks.
type Module struct {
	logger         *zap.Logger
	minRunSeconds  float64
	includeSwapper bool
}

var _ modules.Module = (*Module)(nil)

// New creates the lockup module. defaultMinRunSeconds seeds the --time flag.
func New(logger *zap.Logger, defaultMinRunSeconds float64) *Module {
	return &Module{logger: logger, minRunSeconds: defaultMinRunSeconds}
}

// Name returns the dispatch name.
func (m *Module) Name() string { return "lockup" }

// Synopsis returns the one-line description.
func (m *Module) Synopsis() string {
	return "Print tasks on-CPU for too long and tasks waiting on RCU, spinlocks or fsnotify"
}

// Flags registers the runtime threshold and swapper handling.
func (m *Module) Flags(fs *pflag.FlagSet) {
	fs.Float64VarP(&m.minRunSeconds, "time", "t", m.minRunSeconds,
		"list all the processes that have been running more than <time> seconds")
	fs.BoolVar(&m.includeSwapper, "include-swapper", false,
		"report idle (swapper) tasks as well")
}

// Run scans every online CPU's current task, then the three waiting-task
// classes.
func (m *Module) Run(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	threshNS := uint64(m.minRunSeconds * 1e9)

	cpus, err := k.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("enumerating online CPUs: %w", err)
	}

	hogs := 0
	for _, cpu := range cpus {
		curr, err := k.CPUCurrentTask(cpu)
		if err != nil {
			return fmt.Errorf("cpu %d current task: %w", cpu, err)
		}
		snap, err := curr.Snapshot()
		if err != nil {
			return fmt.Errorf("cpu %d current task snapshot: %w", cpu, err)
		}
		if snap.RuntimeNS < threshNS {
			continue
		}
		comm := format.EscapeASCII(snap.Comm, false)
		if !m.includeSwapper && comm == fmt.Sprintf("swapper/%d", cpu) {
			continue
		}
		hogs++
		fmt.Fprintf(out, "CPU %d\n", cpu)
		fmt.Fprintf(out, "  PID: %-6d  TASK: %x  PRIO: %d  COMMAND: \"%s\"  LOCKUP TIME: %s\n",
			snap.PID, curr.Addr(), snap.Prio, comm, format.TimestampStr(snap.RuntimeNS))
		fmt.Fprintln(out, "\nCalltrace:")
		frames, err := k.StackTrace(curr)
		if err != nil {
			return fmt.Errorf("unwinding pid %d: %w", snap.PID, err)
		}
		for i, frame := range frames {
			fmt.Fprintf(out, "  #%d  %s at 0x%x\n", i, frame.Name, frame.PC)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "We found %d processes running more than %g seconds\n", hogs, m.minRunSeconds)

	if err := m.dumpWaiting(ctx, k, threshNS, rcuGPFuncs, "rcu grace period", out); err != nil {
		return err
	}
	if err := m.dumpWaiting(ctx, k, threshNS, spinlockFuncs, "spinlock", out); err != nil {
		return err
	}
	return m.dumpWaiting(ctx, k, threshNS, fsnotifyFuncs, "fsnotify", out)
}

// dumpWaiting scans every task's stack for the marker functions and prints a
// table of the ones pending past the threshold, deduplicated by PID.
func (m *Module) dumpWaiting(ctx context.Context, k kcore.Kernel, threshNS uint64, markers []string, desc string, out io.Writer) error {
	markerSet := make(map[string]struct{}, len(markers))
	for _, name := range markers {
		markerSet[name] = struct{}{}
	}

	tasks, err := k.Tasks()
	if err != nil {
		return fmt.Errorf("enumerating tasks: %w", err)
	}

	fmt.Fprintln(out)
	fmt.Fprintf(out, "We found below tasks waiting for %s over %g seconds:\n",
		desc, float64(threshNS)/1e9)

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"TASK", "NAME", "PID", "PENDING_TIME"})
	seen := make(map[int]struct{})
	for _, task := range tasks {
		if err := ctx.Err(); err != nil {
			return err
		}
		frames, err := k.StackTrace(task)
		if err != nil {
			// Some tasks cannot be unwound (e.g. running on another CPU of a
			// live target); they just don't take part in this scan.
			m.logger.Debug("Skipping task with failed unwind", zap.Error(err))
			continue
		}
		if !hasAnyFrame(frames, markerSet) {
			continue
		}
		snap, err := task.Snapshot()
		if err != nil {
			return fmt.Errorf("task snapshot: %w", err)
		}
		if _, dup := seen[snap.PID]; dup {
			continue
		}
		if snap.RuntimeNS <= threshNS {
			continue
		}
		seen[snap.PID] = struct{}{}
		table.Append([]string{
			fmt.Sprintf("0x%x", task.Addr()),
			format.EscapeASCII(snap.Comm, false),
			fmt.Sprintf("%d", snap.PID),
			format.TimestampStr(snap.RuntimeNS),
		})
	}
	table.Render()
	return nil
}

func hasAnyFrame(frames []kcore.StackFrame, markers map[string]struct{}) bool {
	for _, frame := range frames {
		if _, ok := markers[frame.Name]; ok {
			return true
		}
	}
	return false
}
