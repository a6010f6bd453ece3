package inflightio

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/kcore"
	"github.com/richl9/drgn-tools/internal/ksnap"
)

func run(t *testing.T, snapshot string, args ...string) (string, error) {
	t.Helper()
	k, err := ksnap.Parse([]byte(snapshot))
	require.NoError(t, err)

	m := New(zap.NewNop(), AllDisks)
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	m.Flags(fs)
	require.NoError(t, fs.Parse(args))

	var buf bytes.Buffer
	runErr := m.Run(context.Background(), k, &buf)
	return buf.String(), runErr
}

const emptySnapshot = `
constants:
  BLK_MQ_F_TAG_SHARED: 0x8
disks:
  - name: sda
    addr: 0x100
`

func TestNoPendingRequests_HeaderOnly(t *testing.T) {
	out, err := run(t, emptySnapshot)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	require.Len(t, lines, 2, "expected only the two header lines")
	assert.True(t, strings.HasPrefix(lines[0], "device"))
	assert.Contains(t, lines[1], "inflight-time")
}

const sharedHWQSnapshot = `
constants:
  BLK_MQ_F_TAG_QUEUE_SHARED: 0x8
disks:
  - name: sda
    addr: 0x100
    queue:
      mq:
        - addr: 0xa10
          flags: 0x8
          requests:
            - {addr: 0xb01, op: READ, flags: "0x0", sector: 1, len: 4096, pending_ns: 1000000, target: 0x100}
            - {addr: 0xb02, op: WRITE, flags: "0x0", sector: 2, len: 4096, pending_ns: 1000000, target: 0x200}
  - name: sdb
    addr: 0x200
    queue:
      mq:
        - addr: 0xa10
          flags: 0x8
          requests:
            - {addr: 0xb01, op: READ, flags: "0x0", sector: 1, len: 4096, pending_ns: 1000000, target: 0x100}
            - {addr: 0xb02, op: WRITE, flags: "0x0", sector: 2, len: 4096, pending_ns: 1000000, target: 0x200}
`

func TestTagSharedQueue_FiltersSiblingRequests(t *testing.T) {
	out, err := run(t, sharedHWQSnapshot)
	require.NoError(t, err)

	// Each disk must report exactly its own request, not the sibling's.
	lines := strings.Split(out, "\n")
	var sdaRows, sdbRows []string
	for _, line := range lines {
		if strings.HasPrefix(line, "sda ") {
			sdaRows = append(sdaRows, line)
		}
		if strings.HasPrefix(line, "sdb ") {
			sdbRows = append(sdbRows, line)
		}
	}
	require.Len(t, sdaRows, 1)
	require.Len(t, sdbRows, 1)
	assert.Contains(t, sdaRows[0], "b01")
	assert.Contains(t, sdbRows[0], "b02")
}

func TestUnsharedQueue_NoFiltering(t *testing.T) {
	// Same layout but without the tag-shared flag: no filtering happens.
	snapshot := strings.ReplaceAll(sharedHWQSnapshot, "flags: 0x8", "flags: 0x0")
	out, err := run(t, snapshot)
	require.NoError(t, err)

	count := strings.Count(out, "\nsda ") + strings.Count(out, "\nsdb ")
	assert.Equal(t, 4, count)
}

const nvmeSnapshot = `
constants:
  BLK_MQ_F_TAG_SHARED: 0x8
disks:
  - name: sda
    addr: 0x100
    queue:
      sq:
        - {addr: 0xc01, op: WRITE, flags: "0x0", sector: 7, len: 512, pending_ns: 2000000}
nvme:
  - instance: 0
    admin:
      mq:
        - addr: 0xd10
          requests:
            - {addr: 0xd20, op: DRV_IN, flags: "0x0", sector: 0, len: 64, cpu: 0, pending_ns: 1000000}
  - instance: 1
    admin:
      mq:
        - addr: 0xe10
          requests:
            - {addr: 0xe20, op: DRV_OUT, flags: "0x0", sector: 0, len: 64, cpu: 1, pending_ns: 1000000}
    fabrics:
      mq:
        - addr: 0xe30
          requests:
            - {addr: 0xe40, op: DRV_OUT, flags: "0x0", sector: 0, len: 32, cpu: 1, pending_ns: 9000000}
`

func TestNVMeManagementQueues(t *testing.T) {
	out, err := run(t, nvmeSnapshot)
	require.NoError(t, err)

	assert.Contains(t, out, "nvme0-admin")
	assert.Contains(t, out, "nvme1-admin")
	// Controller 1 has a fabrics queue; controller 0 does not, and its
	// absence is not an error and produces no row.
	assert.Contains(t, out, "nvme1-fabrics")
	assert.NotContains(t, out, "nvme0-fabrics")
	assert.NotContains(t, out, "connect")
}

func TestDisknameFilter_SuppressesNVMeSection(t *testing.T) {
	out, err := run(t, nvmeSnapshot, "--diskname", "sda")
	require.NoError(t, err)

	assert.Contains(t, out, "sda")
	assert.NotContains(t, out, "nvme")
}

func TestDisknameFilter_OtherDisksExcluded(t *testing.T) {
	out, err := run(t, sharedHWQSnapshot, "--diskname", "sdb")
	require.NoError(t, err)

	assert.NotContains(t, out, "\nsda ")
	assert.Contains(t, out, "sdb")
}

func TestSingleQueueRow_UsesPlaceholders(t *testing.T) {
	out, err := run(t, nvmeSnapshot, "--diskname", "sda")
	require.NoError(t, err)

	var row string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "sda ") {
			row = line
		}
	}
	require.NotEmpty(t, row)
	fields := strings.Fields(row)
	// device, hwq, request, cpu, op
	require.Len(t, fields, 5)
	assert.Equal(t, "-", fields[1], "hwq column")
	assert.Equal(t, "c01", fields[2])
	assert.Equal(t, "-", fields[3], "cpu column")
	assert.Equal(t, "WRITE", fields[4])
}

func TestTagSharedConstant_FallbackName(t *testing.T) {
	// sharedHWQSnapshot only defines the newer constant name.
	_, err := run(t, sharedHWQSnapshot)
	assert.NoError(t, err)
}

func TestTagSharedConstant_BothMissingIsFatal(t *testing.T) {
	_, err := run(t, `
disks:
  - name: sda
    addr: 0x100
`)
	require.Error(t, err)
	var notFound *kcore.SymbolNotFoundError
	assert.True(t, errors.As(err, &notFound))
}
