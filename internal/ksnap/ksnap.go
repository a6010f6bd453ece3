// Package ksnap implements the kcore capability surface from a declarative
// YAML capture of kernel state. It is the in-tree backend for package tests
// and for replaying previously captured diagnostic state; it never touches
// kernel memory itself.
package ksnap

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/richl9/drgn-tools/internal/kcore"
)

type document struct {
	Constants map[string]uint64 `yaml:"constants"`
	Symbols   map[string]uint64 `yaml:"symbols"`
	Symtab    []symbolDoc       `yaml:"symtab"`
	Uname     *unameDoc         `yaml:"uname"`
	Disks     []diskDoc         `yaml:"disks"`
	NVMe      []nvmeDoc         `yaml:"nvme"`
	CPUs      []cpuDoc          `yaml:"cpus"`
	Tasks     []taskDoc         `yaml:"tasks"`
}

type symbolDoc struct {
	Addr uint64 `yaml:"addr"`
	Name string `yaml:"name"`
}

type unameDoc struct {
	Sysname  string `yaml:"sysname"`
	Nodename string `yaml:"nodename"`
	Release  string `yaml:"release"`
	Version  string `yaml:"version"`
	Machine  string `yaml:"machine"`
}

type diskDoc struct {
	Name  string   `yaml:"name"`
	Addr  uint64   `yaml:"addr"`
	Queue queueDoc `yaml:"queue"`
}

type queueDoc struct {
	MQ []hwqDoc     `yaml:"mq"`
	SQ []requestDoc `yaml:"sq"`
}

type hwqDoc struct {
	Addr     uint64       `yaml:"addr"`
	Flags    uint64       `yaml:"flags"`
	Requests []requestDoc `yaml:"requests"`
}

type requestDoc struct {
	Addr      uint64 `yaml:"addr"`
	Op        string `yaml:"op"`
	Flags     string `yaml:"flags"`
	Sector    uint64 `yaml:"sector"`
	Len       uint64 `yaml:"len"`
	CPU       *int   `yaml:"cpu"`
	PendingNS uint64 `yaml:"pending_ns"`
	Target    uint64 `yaml:"target"`
}

type nvmeDoc struct {
	Instance int       `yaml:"instance"`
	Admin    *queueDoc `yaml:"admin"`
	Connect  *queueDoc `yaml:"connect"`
	Fabrics  *queueDoc `yaml:"fabrics"`
}

type cpuDoc struct {
	CPU     int       `yaml:"cpu"`
	Current string    `yaml:"current"`
	Pools   []poolDoc `yaml:"pools"`
}

type poolDoc struct {
	ID      int         `yaml:"id"`
	Workers []workerDoc `yaml:"workers"`
}

type workerDoc struct {
	Task string  `yaml:"task"`
	Work uint64  `yaml:"work"`
	Func uint64  `yaml:"func"`
	PWQ  *pwqDoc `yaml:"pwq"`
}

type pwqDoc struct {
	Addr      uint64 `yaml:"addr"`
	Workqueue string `yaml:"workqueue"`
}

type taskDoc struct {
	ID        string     `yaml:"id"`
	Addr      uint64     `yaml:"addr"`
	PID       int        `yaml:"pid"`
	Comm      string     `yaml:"comm"`
	Prio      int        `yaml:"prio"`
	CPU       int        `yaml:"cpu"`
	RuntimeNS uint64     `yaml:"runtime_ns"`
	Stack     []frameDoc `yaml:"stack"`
}

type frameDoc struct {
	Name string `yaml:"name"`
	PC   uint64 `yaml:"pc"`
}

// Kernel is a kcore.Kernel backed by one parsed snapshot document.
type Kernel struct {
	doc     document
	tasksBy map[string]*task
	cpusBy  map[int]*cpuDoc
	symtab  map[uint64]string
}

var _ kcore.Kernel = (*Kernel)(nil)

// Load reads and parses a snapshot file.
func Load(path string) (*Kernel, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading snapshot: %w", err)
	}
	k, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", path, err)
	}
	return k, nil
}

// Parse builds a Kernel from snapshot YAML. Task references from CPUs and
// workers must resolve; dangling references are load-time errors.
func Parse(data []byte) (*Kernel, error) {
	var doc document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parsing snapshot: %w", err)
	}

	k := &Kernel{
		doc:     doc,
		tasksBy: make(map[string]*task, len(doc.Tasks)),
		cpusBy:  make(map[int]*cpuDoc, len(doc.CPUs)),
		symtab:  make(map[uint64]string, len(doc.Symtab)),
	}
	for i := range doc.Tasks {
		td := &doc.Tasks[i]
		if td.ID == "" {
			return nil, fmt.Errorf("task #%d has no id", i)
		}
		if _, dup := k.tasksBy[td.ID]; dup {
			return nil, fmt.Errorf("duplicate task id %q", td.ID)
		}
		k.tasksBy[td.ID] = &task{doc: td}
	}
	for i := range doc.CPUs {
		cd := &doc.CPUs[i]
		if _, dup := k.cpusBy[cd.CPU]; dup {
			return nil, fmt.Errorf("duplicate cpu %d", cd.CPU)
		}
		k.cpusBy[cd.CPU] = cd
		if cd.Current != "" {
			if _, ok := k.tasksBy[cd.Current]; !ok {
				return nil, fmt.Errorf("cpu %d: unknown current task %q", cd.CPU, cd.Current)
			}
		}
		for _, pool := range cd.Pools {
			for _, w := range pool.Workers {
				if _, ok := k.tasksBy[w.Task]; !ok {
					return nil, fmt.Errorf("cpu %d pool %d: unknown worker task %q", cd.CPU, pool.ID, w.Task)
				}
			}
		}
	}
	for _, s := range doc.Symtab {
		k.symtab[s.Addr] = s.Name
	}
	return k, nil
}

// Constant resolves a constant from the snapshot's constants table.
func (k *Kernel) Constant(name string) (uint64, error) {
	if v, ok := k.doc.Constants[name]; ok {
		return v, nil
	}
	return 0, &kcore.SymbolNotFoundError{Names: []string{name}}
}

// ReadUint reads a global variable from the snapshot's symbols table.
func (k *Kernel) ReadUint(symbol string) (uint64, error) {
	if v, ok := k.doc.Symbols[symbol]; ok {
		return v, nil
	}
	return 0, &kcore.SymbolNotFoundError{Names: []string{symbol}}
}

// SymbolAt resolves an address against the snapshot's symbol table.
func (k *Kernel) SymbolAt(addr uint64) (string, error) {
	if name, ok := k.symtab[addr]; ok {
		return name, nil
	}
	return "", &kcore.SymbolNotFoundError{Names: []string{fmt.Sprintf("0x%x", addr)}}
}

// Disks returns the snapshot's block devices.
func (k *Kernel) Disks() ([]kcore.Disk, error) {
	out := make([]kcore.Disk, 0, len(k.doc.Disks))
	for i := range k.doc.Disks {
		out = append(out, &disk{doc: &k.doc.Disks[i]})
	}
	return out, nil
}

// NVMeControllers returns the snapshot's NVMe controllers.
func (k *Kernel) NVMeControllers() ([]kcore.NVMeController, error) {
	out := make([]kcore.NVMeController, 0, len(k.doc.NVMe))
	for i := range k.doc.NVMe {
		out = append(out, &nvmeCtrl{doc: &k.doc.NVMe[i]})
	}
	return out, nil
}

// OnlineCPUs returns the snapshot's CPU numbers in ascending order.
func (k *Kernel) OnlineCPUs() ([]int, error) {
	cpus := make([]int, 0, len(k.cpusBy))
	for cpu := range k.cpusBy {
		cpus = append(cpus, cpu)
	}
	sort.Ints(cpus)
	return cpus, nil
}

// WorkerPools returns the worker pools recorded for one CPU.
func (k *Kernel) WorkerPools(cpu int) ([]kcore.WorkerPool, error) {
	cd, ok := k.cpusBy[cpu]
	if !ok {
		return nil, fmt.Errorf("cpu %d not in snapshot", cpu)
	}
	out := make([]kcore.WorkerPool, 0, len(cd.Pools))
	for i := range cd.Pools {
		out = append(out, &workerPool{k: k, doc: &cd.Pools[i]})
	}
	return out, nil
}

// CPUCurrentTask returns the task recorded as current on one CPU.
func (k *Kernel) CPUCurrentTask(cpu int) (kcore.Task, error) {
	cd, ok := k.cpusBy[cpu]
	if !ok {
		return nil, fmt.Errorf("cpu %d not in snapshot", cpu)
	}
	if cd.Current == "" {
		return nil, fmt.Errorf("cpu %d has no current task in snapshot", cpu)
	}
	return k.tasksBy[cd.Current], nil
}

// Tasks returns every task in the snapshot.
func (k *Kernel) Tasks() ([]kcore.Task, error) {
	out := make([]kcore.Task, 0, len(k.doc.Tasks))
	for i := range k.doc.Tasks {
		out = append(out, k.tasksBy[k.doc.Tasks[i].ID])
	}
	return out, nil
}

// StackTrace returns the recorded stack of a snapshot task.
func (k *Kernel) StackTrace(t kcore.Task) ([]kcore.StackFrame, error) {
	st, ok := t.(*task)
	if !ok {
		return nil, fmt.Errorf("task %x does not belong to this snapshot", t.Addr())
	}
	frames := make([]kcore.StackFrame, 0, len(st.doc.Stack))
	for _, f := range st.doc.Stack {
		frames = append(frames, kcore.StackFrame{Name: f.Name, PC: f.PC})
	}
	return frames, nil
}

// Uname reports the snapshot's utsname when one was captured.
func (k *Kernel) Uname() (kcore.Utsname, bool) {
	if k.doc.Uname == nil {
		return kcore.Utsname{}, false
	}
	u := k.doc.Uname
	return kcore.Utsname{
		Sysname:  u.Sysname,
		Nodename: u.Nodename,
		Release:  u.Release,
		Version:  u.Version,
		Machine:  u.Machine,
	}, true
}

type disk struct {
	doc *diskDoc
}

func (d *disk) Name() string              { return d.doc.Name }
func (d *disk) Addr() uint64              { return d.doc.Addr }
func (d *disk) Queue() kcore.RequestQueue { return &queue{doc: &d.doc.Queue, owner: d.doc.Addr} }

// queue serves both disk queues and NVMe management queues. owner is the
// default request target for disk queues, zero for management queues.
type queue struct {
	doc   *queueDoc
	owner uint64
}

func (q *queue) PendingMQ() ([]kcore.MQPending, error) {
	var out []kcore.MQPending
	for i := range q.doc.MQ {
		h := &q.doc.MQ[i]
		for j := range h.Requests {
			out = append(out, kcore.MQPending{
				HWQueue: &hwq{doc: h},
				Request: &request{doc: &h.Requests[j], owner: q.owner},
			})
		}
	}
	return out, nil
}

func (q *queue) PendingSQ() ([]kcore.Request, error) {
	out := make([]kcore.Request, 0, len(q.doc.SQ))
	for i := range q.doc.SQ {
		out = append(out, &request{doc: &q.doc.SQ[i], owner: q.owner})
	}
	return out, nil
}

type hwq struct {
	doc *hwqDoc
}

func (h *hwq) Addr() uint64 { return h.doc.Addr }
func (h *hwq) Snapshot() (kcore.HWQueueSnapshot, error) {
	return kcore.HWQueueSnapshot{Flags: h.doc.Flags}, nil
}

type request struct {
	doc   *requestDoc
	owner uint64
}

func (r *request) Addr() uint64 { return r.doc.Addr }

func (r *request) Snapshot() (kcore.RequestSnapshot, error) {
	snap := kcore.RequestSnapshot{
		Op:        r.doc.Op,
		Flags:     r.doc.Flags,
		Sector:    r.doc.Sector,
		DataLen:   r.doc.Len,
		PendingNS: r.doc.PendingNS,
		Target:    r.doc.Target,
	}
	if snap.Target == 0 {
		snap.Target = r.owner
	}
	if r.doc.CPU != nil {
		snap.IssueCPU = *r.doc.CPU
		snap.HasIssueCPU = true
	}
	return snap, nil
}

type nvmeCtrl struct {
	doc *nvmeDoc
}

func (c *nvmeCtrl) Instance() int { return c.doc.Instance }

func (c *nvmeCtrl) AdminQueue() (kcore.RequestQueue, bool)   { return c.queue(c.doc.Admin) }
func (c *nvmeCtrl) ConnectQueue() (kcore.RequestQueue, bool) { return c.queue(c.doc.Connect) }
func (c *nvmeCtrl) FabricsQueue() (kcore.RequestQueue, bool) { return c.queue(c.doc.Fabrics) }

func (c *nvmeCtrl) queue(doc *queueDoc) (kcore.RequestQueue, bool) {
	if doc == nil {
		return nil, false
	}
	return &queue{doc: doc}, true
}

type workerPool struct {
	k   *Kernel
	doc *poolDoc
}

func (p *workerPool) ID() int { return p.doc.ID }

func (p *workerPool) Workers() ([]kcore.Worker, error) {
	out := make([]kcore.Worker, 0, len(p.doc.Workers))
	for i := range p.doc.Workers {
		out = append(out, &worker{k: p.k, doc: &p.doc.Workers[i]})
	}
	return out, nil
}

type worker struct {
	k   *Kernel
	doc *workerDoc
}

func (w *worker) Snapshot() (kcore.WorkerSnapshot, error) {
	return kcore.WorkerSnapshot{CurrentWork: w.doc.Work, CurrentFunc: w.doc.Func}, nil
}

func (w *worker) Task() kcore.Task { return w.k.tasksBy[w.doc.Task] }

func (w *worker) PoolWorkqueue() (kcore.PWQ, bool) {
	if w.doc.PWQ == nil {
		return nil, false
	}
	return &pwq{doc: w.doc.PWQ}, true
}

type pwq struct {
	doc *pwqDoc
}

func (p *pwq) Addr() uint64 { return p.doc.Addr }

func (p *pwq) WorkqueueName() (string, error) {
	if p.doc.Workqueue == "" {
		return "", fmt.Errorf("workqueue name not captured for pwq 0x%x", p.doc.Addr)
	}
	return p.doc.Workqueue, nil
}

type task struct {
	doc *taskDoc
}

func (t *task) Addr() uint64 { return t.doc.Addr }

func (t *task) Snapshot() (kcore.TaskSnapshot, error) {
	return kcore.TaskSnapshot{
		PID:       t.doc.PID,
		Comm:      t.doc.Comm,
		Prio:      t.doc.Prio,
		CPU:       t.doc.CPU,
		RuntimeNS: t.doc.RuntimeNS,
	}, nil
}
