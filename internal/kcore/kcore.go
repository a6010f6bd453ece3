// Package kcore declares the kernel-introspection capability surface that
// diagnostic modules consume. Implementations read a live kernel or a
// postmortem capture; this package only defines the contract.
//
// Mutable kernel state is exposed twice: as a live reference (Request, Worker,
// Task) and as a value snapshot (RequestSnapshot, WorkerSnapshot,
// TaskSnapshot). Reporting code snapshots once and then works on values only,
// so a live target changing underneath cannot tear the fields printed on one
// line.
package kcore

// Kernel is the root handle onto one inspection target. All methods are
// read-only; errors indicate the target could not be read, not that the
// inspected condition is absent.
type Kernel interface {
	// Constant resolves a kernel enum/macro constant by name.
	// Returns *SymbolNotFoundError when the name does not exist on this build.
	Constant(name string) (uint64, error)

	// ReadUint reads a global integer variable by symbol name.
	// Returns *SymbolNotFoundError when the symbol is absent.
	ReadUint(symbol string) (uint64, error)

	// SymbolAt resolves the symbol covering the given address.
	SymbolAt(addr uint64) (string, error)

	// Disks enumerates registered block devices.
	Disks() ([]Disk, error)

	// NVMeControllers enumerates NVMe controllers.
	NVMeControllers() ([]NVMeController, error)

	// OnlineCPUs returns the online CPU numbers in ascending order.
	OnlineCPUs() ([]int, error)

	// WorkerPools returns the worker pools bound to one CPU.
	WorkerPools(cpu int) ([]WorkerPool, error)

	// CPUCurrentTask returns the task currently scheduled on a CPU.
	CPUCurrentTask(cpu int) (Task, error)

	// Tasks enumerates every task on the target.
	Tasks() ([]Task, error)

	// StackTrace unwinds the call stack of a task.
	StackTrace(task Task) ([]StackFrame, error)

	// Uname reports the target's utsname, when the backend can provide it.
	Uname() (Utsname, bool)
}

// Disk is a block device with its request queue.
type Disk interface {
	Name() string
	Addr() uint64
	Queue() RequestQueue
}

// RequestQueue enumerates the I/O requests pending at one queue, on both the
// multi-queue and the legacy single-queue submission paths.
type RequestQueue interface {
	PendingMQ() ([]MQPending, error)
	PendingSQ() ([]Request, error)
}

// MQPending is one pending request together with the hardware queue it sits on.
type MQPending struct {
	HWQueue HWQueue
	Request Request
}

// HWQueue is a live reference to a multi-queue hardware context.
type HWQueue interface {
	Addr() uint64
	Snapshot() (HWQueueSnapshot, error)
}

// HWQueueSnapshot is the value copy of the hardware-queue fields a report needs.
type HWQueueSnapshot struct {
	Flags uint64
}

// Request is a live reference to one block I/O request.
type Request interface {
	Addr() uint64
	Snapshot() (RequestSnapshot, error)
}

// RequestSnapshot is a read-once value copy of a request. Target is the
// address of the block device the request was issued against, used to filter
// hardware queues shared across sibling devices.
type RequestSnapshot struct {
	Op          string
	Flags       string
	Sector      uint64
	DataLen     uint64
	IssueCPU    int
	HasIssueCPU bool
	PendingNS   uint64
	Target      uint64
}

// NVMeController exposes an NVMe controller's management queues. The connect
// and fabrics queues only exist on some kernel versions; each accessor is a
// capability probe that reports false when the field is absent on this build
// or the pointer is null.
type NVMeController interface {
	Instance() int
	AdminQueue() (RequestQueue, bool)
	ConnectQueue() (RequestQueue, bool)
	FabricsQueue() (RequestQueue, bool)
}

// WorkerPool is one per-CPU pool of kernel worker threads.
type WorkerPool interface {
	ID() int
	Workers() ([]Worker, error)
}

// Worker is a live reference to one kernel worker thread.
type Worker interface {
	Snapshot() (WorkerSnapshot, error)
	Task() Task
	// PoolWorkqueue returns the pool/workqueue association for the worker's
	// current work item, when one is set.
	PoolWorkqueue() (PWQ, bool)
}

// WorkerSnapshot is the value copy of a worker's current assignment.
// CurrentWork is zero when the worker is idle.
type WorkerSnapshot struct {
	CurrentWork uint64
	CurrentFunc uint64
}

// PWQ links a worker pool to the workqueue that queued the current work item.
type PWQ interface {
	Addr() uint64
	WorkqueueName() (string, error)
}

// Task is a live reference to a kernel task.
type Task interface {
	Addr() uint64
	Snapshot() (TaskSnapshot, error)
}

// TaskSnapshot is the value copy of the task fields reports print. RuntimeNS
// is the time elapsed since the task last started running.
type TaskSnapshot struct {
	PID       int
	Comm      string
	Prio      int
	CPU       int
	RuntimeNS uint64
}

// StackFrame is one frame of an unwound call stack.
type StackFrame struct {
	Name string
	PC   uint64
}

// Utsname mirrors the kernel's utsname record.
type Utsname struct {
	Sysname  string
	Nodename string
	Release  string
	Version  string
	Machine  string
}
