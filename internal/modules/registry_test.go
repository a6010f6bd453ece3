package modules

import (
	"context"
	"io"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/richl9/drgn-tools/internal/kcore"
)

type fakeModule struct {
	name string
}

func (m *fakeModule) Name() string            { return m.name }
func (m *fakeModule) Synopsis() string        { return "fake" }
func (m *fakeModule) Flags(fs *pflag.FlagSet) {}
func (m *fakeModule) Run(ctx context.Context, k kcore.Kernel, out io.Writer) error {
	return nil
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(&fakeModule{name: "a"}))
	assert.Error(t, r.Register(&fakeModule{name: "a"}))
}

func TestRegistry_AllSortedByName(t *testing.T) {
	r := NewRegistry(zap.NewNop())
	require.NoError(t, r.Register(&fakeModule{name: "zeta"}))
	require.NoError(t, r.Register(&fakeModule{name: "alpha"}))
	require.NoError(t, r.Register(&fakeModule{name: "mid"}))

	var names []string
	for _, m := range r.All() {
		names = append(names, m.Name())
	}
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, names)

	got, ok := r.Get("mid")
	require.True(t, ok)
	assert.Equal(t, "mid", got.Name())

	_, ok = r.Get("missing")
	assert.False(t, ok)
}
