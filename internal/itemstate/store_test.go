package itemstate

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	opts = append([]Option{WithPrivilegeCheck(nil)}, opts...)
	return New(t.TempDir(), opts...)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	s := newStore(t)
	s.Load("host1")
	key := Key{CheckType: "kernel.util", Item: "", Name: "user"}
	s.Set(key, Record{Time: 100, Value: 42})
	s.Set(Key{CheckType: "df", Item: "/", Name: "trend"}, Record{Time: 1, Value: 2})
	require.NoError(t, s.Save("host1"))

	reloaded := New(s.dir, WithPrivilegeCheck(nil))
	reloaded.Load("host1")
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, Record{Time: 100, Value: 42}, reloaded.Get(key, Record{}))
}

func TestLoadCorruptFileStartsEmpty(t *testing.T) {
	s := newStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.dir, "host1"), []byte("{not json"), 0o644))

	s.Load("host1")

	assert.Equal(t, 0, s.Len())
	def := Record{Value: -1}
	assert.Equal(t, def, s.Get(Key{Name: "x"}, def))
}

func TestSaveSkipped(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
	}{
		{name: "dry run", opts: []Option{WithDryRun(true)}},
		{name: "privileged", opts: []Option{WithPrivilegeCheck(func() bool { return true })}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t, tt.opts...)
			s.Load("host1")
			s.Set(Key{Name: "x"}, Record{Time: 1, Value: 1})
			require.NoError(t, s.Save("host1"))

			_, err := os.Stat(filepath.Join(s.dir, "host1"))
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestClear(t *testing.T) {
	s := newStore(t)
	s.Load("host1")
	key := Key{CheckType: "a", Name: "b"}
	s.Set(key, Record{Time: 1, Value: 1})
	s.Clear(key)
	_, ok := s.Lookup(key)
	assert.False(t, ok)
}
