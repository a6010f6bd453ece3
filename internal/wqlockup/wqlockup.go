// Package wqlockup scans every online CPU's worker pools for workers whose
// current work item has been running longer than the workqueue watchdog
// threshold, and prints a diagnostic block per stuck worker.
package wqlockup

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/format"
	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/modules"
)

// defaultThreshSeconds applies when the kernel was built without the
// workqueue watchdog, so the wq_watchdog_thresh symbol is absent.
const defaultThreshSeconds = 30

// rtPrioCutoff separates real-time priorities from fair-class ones. Display
// only; the scan itself does not care about scheduling class.
const rtPrioCutoff = 100

// Module detects workqueue lockups.
type Module struct {
	logger *zap.Logger
}

var _ modules.Module = (*Module)(nil)

// New creates the workqueue-lockup module.
func New(logger *zap.Logger) *Module {
	return &Module{logger: logger}
}

// Name returns the dispatch name.
func (m *Module) Name() string { return "workqueue-lockup" }

// Synopsis returns the one-line description.
func (m *Module) Synopsis() string { return "Detect workqueue lockup issues" }

// Flags registers nothing; the scan takes no options.
func (m *Module) Flags(fs *pflag.FlagSet) {}

// Run reports the watchdog threshold, scans all worker pools, and ends with a
// one-line summary.
func (m *Module) Run(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	threshSeconds, err := watchdogThreshSeconds(k)
	if err != nil {
		return err
	}
	threshNS := threshSeconds * 1_000_000_000
	fmt.Fprintf(out, "Workqueue watchdog threshold: %d seconds\n\n", threshSeconds)

	cpus, err := k.OnlineCPUs()
	if err != nil {
		return fmt.Errorf("enumerating online CPUs: %w", err)
	}

	lockups := 0
	for _, cpu := range cpus {
		pools, err := k.WorkerPools(cpu)
		if err != nil {
			return fmt.Errorf("cpu %d worker pools: %w", cpu, err)
		}
		for _, pool := range pools {
			workers, err := pool.Workers()
			if err != nil {
				return fmt.Errorf("cpu %d pool %d workers: %w", cpu, pool.ID(), err)
			}
			for _, worker := range workers {
				stuck, err := m.reportWorker(k, cpu, pool, worker, threshNS, out)
				if err != nil {
					return err
				}
				if stuck {
					lockups++
				}
			}
		}
	}

	if lockups == 0 {
		fmt.Fprintln(out, "Workqueue lockup not detected. No workqueue workers appear to be stuck past watchdog threshold.")
	} else {
		fmt.Fprintf(out, "Workqueue lockup detected! Found %d workqueue workers past watchdog threshold.\n", lockups)
	}
	return nil
}

// watchdogThreshSeconds reads wq_watchdog_thresh, defaulting when the symbol
// does not exist on this build.
func watchdogThreshSeconds(k kcore.Kernel) (uint64, error) {
	v, err := k.ReadUint("wq_watchdog_thresh")
	if err != nil {
		var notFound *kcore.SymbolNotFoundError
		if errors.As(err, &notFound) {
			return defaultThreshSeconds, nil
		}
		return 0, err
	}
	return v, nil
}

// reportWorker evaluates one worker against the threshold and prints its
// diagnostic block when stuck. Only strictly-exceeding runtimes count; a
// worker exactly at the threshold is left alone.
func (m *Module) reportWorker(k kcore.Kernel, cpu int, pool kcore.WorkerPool, worker kcore.Worker, threshNS uint64, out io.Writer) (bool, error) {
	snap, err := worker.Snapshot()
	if err != nil {
		return false, fmt.Errorf("worker snapshot: %w", err)
	}
	if snap.CurrentWork == 0 {
		// Idle worker.
		return false, nil
	}
	task := worker.Task()
	taskSnap, err := task.Snapshot()
	if err != nil {
		return false, fmt.Errorf("worker task snapshot: %w", err)
	}
	if taskSnap.RuntimeNS <= threshNS {
		return false, nil
	}

	wqName := "unknown"
	var pwqAddr uint64
	if pwq, ok := worker.PoolWorkqueue(); ok {
		pwqAddr = pwq.Addr()
		if name, err := pwq.WorkqueueName(); err == nil {
			wqName = format.EscapeASCII(name, true)
		}
	}

	funcName, err := k.SymbolAt(snap.CurrentFunc)
	if err != nil {
		funcName = fmt.Sprintf("UNKNOWN: 0x%x", snap.CurrentFunc)
	}

	fmt.Fprintf(out, "CPU %d pool %d workqueue: %s pwq: 0x%x\n",
		taskSnap.CPU, pool.ID(), wqName, pwqAddr)

	curr, err := k.CPUCurrentTask(cpu)
	if err != nil {
		return false, fmt.Errorf("cpu %d current task: %w", cpu, err)
	}
	currSnap, err := curr.Snapshot()
	if err != nil {
		return false, fmt.Errorf("cpu %d current task snapshot: %w", cpu, err)
	}
	fmt.Fprintf(out, "  CURRENT_TASK_ON_CPU: PID: %-6d  TASK: %x  PRIO: %d (%s)  COMMAND: \"%s\"\n",
		currSnap.PID, curr.Addr(), currSnap.Prio, schedClass(currSnap.Prio),
		format.EscapeASCII(currSnap.Comm, false))
	fmt.Fprintln(out)

	fmt.Fprintf(out, "  CURRENT_WORKER_TASK:   PID: %-6d  TASK: %x  PRIO: %d (%s)  COMMAND: \"%s\"\n",
		taskSnap.PID, task.Addr(), taskSnap.Prio, schedClass(taskSnap.Prio),
		format.EscapeASCII(taskSnap.Comm, false))
	fmt.Fprintf(out, "  WORK:      0x%x  FUNC: %s\n", snap.CurrentWork, funcName)
	fmt.Fprintf(out, "  RUNTIME: %s\n", format.TimestampStr(taskSnap.RuntimeNS))
	fmt.Fprintln(out, "  Calltrace:")
	frames, err := k.StackTrace(task)
	if err != nil {
		return false, fmt.Errorf("unwinding pid %d: %w", taskSnap.PID, err)
	}
	for i, frame := range frames {
		fmt.Fprintf(out, "    #%d  %s at 0x%x\n", i, frame.Name, frame.PC)
	}
	fmt.Fprintln(out)

	m.logger.Debug("Stuck worker",
		zap.Int("cpu", cpu),
		zap.Int("pid", taskSnap.PID),
		zap.String("workqueue", wqName))
	return true, nil
}

func schedClass(prio int) string {
	if prio < rtPrioCutoff {
		return "RT"
	}
	return "CFS"
}
