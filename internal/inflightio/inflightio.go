// Package inflightio reports block I/O requests that have been submitted to a
// device but not yet completed. It walks every disk's multi-queue and
// single-queue pending lists, plus the NVMe controllers' management queues,
// and prints one fixed-width record per request.
package inflightio

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/format"
	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/modules"
)

// AllDisks disables the device-name filter.
const AllDisks = "all"

// nvmeQueueTypes is the fixed order the management-queue section reports in.
var nvmeQueueTypes = []string{"admin", "connect", "fabrics"}

// Module dumps inflight I/O. Zero or one disk may be selected by name;
// selecting a disk suppresses the NVMe management-queue section.
type Module struct {
	logger   *zap.Logger
	diskname string
}

var _ modules.Module = (*Module)(nil)

// New creates the inflight-io module. defaultDisk seeds the --diskname flag;
// pass AllDisks for no filter.
func New(logger *zap.Logger, defaultDisk string) *Module {
	if defaultDisk == "" {
		defaultDisk = AllDisks
	}
	return &Module{logger: logger, diskname: defaultDisk}
}

// Name returns the dispatch name.
func (m *Module) Name() string { return "inflight-io" }

// Synopsis returns the one-line description.
func (m *Module) Synopsis() string { return "Display I/O requests that are currently pending" }

// Flags registers the disk-name filter.
func (m *Module) Flags(fs *pflag.FlagSet) {
	fs.StringVar(&m.diskname, "diskname", m.diskname, "dump in-flight IO from a single disk")
}

// Run prints the report header, then the per-disk pending requests, then the
// NVMe management-queue section when no disk filter is in effect.
func (m *Module) Run(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	fmt.Fprintf(out, "%-20s %-20s %-20s %-16s %-16s\n%-20s %-20s %-20s %-16s\n",
		"device", "hwq", "request", "cpu", "op",
		"flags", "offset", "len", "inflight-time")

	// Renamed in v5.10 from BLK_MQ_F_TAG_SHARED to BLK_MQ_F_TAG_QUEUE_SHARED.
	tagShared, err := kcore.LookupConstant(k, "BLK_MQ_F_TAG_SHARED", "BLK_MQ_F_TAG_QUEUE_SHARED")
	if err != nil {
		return err
	}

	disks, err := k.Disks()
	if err != nil {
		return fmt.Errorf("enumerating disks: %w", err)
	}
	m.logger.Debug("Scanning block devices",
		zap.Int("count", len(disks)),
		zap.String("filter", m.diskname))
	for _, disk := range disks {
		if m.diskname != AllDisks && m.diskname != disk.Name() {
			continue
		}
		if err := m.dumpDisk(disk, tagShared, out); err != nil {
			return fmt.Errorf("disk %s: %w", disk.Name(), err)
		}
	}

	if m.diskname == AllDisks {
		for _, qtype := range nvmeQueueTypes {
			if err := m.dumpNVMeMgmt(k, qtype, out); err != nil {
				return err
			}
		}
	}
	return nil
}

// mqRow is the read-once snapshot of one pending multi-queue request. On a
// live target the request keeps changing; every field printed together is
// copied out here first.
type mqRow struct {
	hwqAddr uint64
	hwq     kcore.HWQueueSnapshot
	rqAddr  uint64
	rq      kcore.RequestSnapshot
}

func snapshotMQ(q kcore.RequestQueue) ([]mqRow, error) {
	pending, err := q.PendingMQ()
	if err != nil {
		return nil, err
	}
	rows := make([]mqRow, 0, len(pending))
	for _, p := range pending {
		hwq, err := p.HWQueue.Snapshot()
		if err != nil {
			return nil, err
		}
		rq, err := p.Request.Snapshot()
		if err != nil {
			return nil, err
		}
		rows = append(rows, mqRow{
			hwqAddr: p.HWQueue.Addr(),
			hwq:     hwq,
			rqAddr:  p.Request.Addr(),
			rq:      rq,
		})
	}
	return rows, nil
}

func (m *Module) dumpDisk(disk kcore.Disk, tagShared uint64, out io.Writer) error {
	rows, err := snapshotMQ(disk.Queue())
	if err != nil {
		return err
	}
	for _, row := range rows {
		// A tag-shared hwq serves every sibling device on the controller;
		// keep only the requests targeting the disk being iterated, or each
		// sibling would report the others' I/O as well.
		if row.hwq.Flags&tagShared != 0 && row.rq.Target != disk.Addr() {
			continue
		}
		printRecord(out, disk.Name(), format.Hex(row.hwqAddr), row.rqAddr, row.rq)
	}

	sqPending, err := disk.Queue().PendingSQ()
	if err != nil {
		return err
	}
	sqRows := make([]mqRow, 0, len(sqPending))
	for _, req := range sqPending {
		rq, err := req.Snapshot()
		if err != nil {
			return err
		}
		sqRows = append(sqRows, mqRow{rqAddr: req.Addr(), rq: rq})
	}
	for _, row := range sqRows {
		// Single-queue requests carry no hwq or issuing CPU.
		row.rq.HasIssueCPU = false
		printRecord(out, disk.Name(), format.Placeholder, row.rqAddr, row.rq)
	}
	return nil
}

// dumpNVMeMgmt reports the pending requests on one management-queue type
// across all controllers. Controllers whose kernel build lacks the queue
// field, or whose queue pointer is null, contribute zero rows.
func (m *Module) dumpNVMeMgmt(k kcore.Kernel, qtype string, out io.Writer) error {
	ctrls, err := k.NVMeControllers()
	if err != nil {
		return fmt.Errorf("enumerating nvme controllers: %w", err)
	}
	for _, ctrl := range ctrls {
		q, ok := mgmtQueue(ctrl, qtype)
		if !ok {
			continue
		}
		name := fmt.Sprintf("nvme%d-%s", ctrl.Instance(), qtype)
		rows, err := snapshotMQ(q)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		// Management queues are never shared, no per-disk filtering here.
		for _, row := range rows {
			printRecord(out, name, format.Hex(row.hwqAddr), row.rqAddr, row.rq)
		}
	}
	return nil
}

func mgmtQueue(ctrl kcore.NVMeController, qtype string) (kcore.RequestQueue, bool) {
	switch qtype {
	case "admin":
		return ctrl.AdminQueue()
	case "connect":
		return ctrl.ConnectQueue()
	case "fabrics":
		return ctrl.FabricsQueue()
	}
	return nil, false
}

func printRecord(out io.Writer, device, hwq string, rqAddr uint64, rq kcore.RequestSnapshot) {
	fmt.Fprintf(out, "%-20s %-20s %-20x %-16s %-16s\n%-20s %-20d %-20d %-16s\n",
		device,
		hwq,
		rqAddr,
		format.CPUColumn(rq.IssueCPU, rq.HasIssueCPU),
		rq.Op,
		rq.Flags,
		rq.Sector,
		rq.DataLen,
		format.TimestampStr(rq.PendingNS),
	)
}
