package sysinfo

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/ksnap"
)

func TestTargetUtsnamePreferred(t *testing.T) {
	k, err := ksnap.Parse([]byte(`
uname:
  sysname: Linux
  nodename: db-node-07
  release: 5.15.0-204.el9uek.x86_64
  version: "#2 SMP Wed Mar 13 18:29:58 PDT 2024"
  machine: x86_64
`))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(zap.NewNop()).Run(context.Background(), k, &buf))
	out := buf.String()

	assert.Contains(t, out, "NODENAME: db-node-07")
	assert.Contains(t, out, "KERNEL:   Linux 5.15.0-204.el9uek.x86_64")
	assert.Contains(t, out, "ARCH:     x86_64")
}

func TestHostFallback_NeverFails(t *testing.T) {
	k, err := ksnap.Parse([]byte("constants: {}"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, New(zap.NewNop()).Run(context.Background(), k, &buf))
	out := buf.String()

	// Individual probes may or may not succeed in the test environment;
	// the block structure is always printed.
	assert.Contains(t, out, "NODENAME:")
	assert.Contains(t, out, "KERNEL:")
	assert.Contains(t, out, "UPTIME:")
	assert.Contains(t, out, "MEMORY:")
}
