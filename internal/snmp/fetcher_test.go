package snmp

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-checker/internal/cachestore"
)

type fakeBackend struct {
	data  map[string][]Varbind
	errs  map[string]error
	calls int
}

func (b *fakeBackend) Walk(_ context.Context, _ Target, oid string) ([]Varbind, error) {
	b.calls++
	if err, ok := b.errs[oid]; ok {
		return nil, err
	}
	return append([]Varbind(nil), b.data[oid]...), nil
}

var ifTable = map[string][]Varbind{
	".1.3.6.1.2.1.2.2.1.2": {
		{OID: ".1.3.6.1.2.1.2.2.1.2.1", Value: "lo"},
		{OID: ".1.3.6.1.2.1.2.2.1.2.2", Value: "eth0"},
	},
	".1.3.6.1.2.1.2.2.1.8": {
		{OID: ".1.3.6.1.2.1.2.2.1.8.2", Value: "1"},
	},
}

func newCache(t *testing.T, mode cachestore.Mode) *cachestore.Store {
	t.Helper()
	return cachestore.New(t.TempDir(), mode, cachestore.WithPrivilegeCheck(func() bool { return false }))
}

var target = Target{Host: "switch1", Address: "192.0.2.10"}

func TestFetchTableAssemblesRows(t *testing.T) {
	backend := &fakeBackend{data: ifTable}
	f := NewFetcher(newCache(t, cachestore.Mode{}), backend)

	out, err := f.FetchTable(context.Background(), target, "if", Single(".1.3.6.1.2.1.2.2.1", OIDEnd, "2", "8"), cachestore.MaxAge, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	require.Len(t, out.Tables, 1)
	assert.Equal(t, Table{{"1", "lo", ""}, {"2", "eth0", "1"}}, out.Tables[0])
}

func TestFetchTableUsesCacheAndIntervalGate(t *testing.T) {
	dir := t.TempDir()
	noPriv := cachestore.WithPrivilegeCheck(func() bool { return false })
	backend := &fakeBackend{data: ifTable}
	spec := Single(".1.3.6.1.2.1.2.2.1", "2")

	f := NewFetcher(cachestore.New(dir, cachestore.Mode{}, noPriv), backend)
	_, err := f.FetchTable(context.Background(), target, "if", spec, cachestore.MaxAge, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls)

	// 缓存比检查间隔新，本周期跳过
	f = NewFetcher(cachestore.New(dir, cachestore.Mode{}, noPriv), backend)
	out, err := f.FetchTable(context.Background(), target, "if", spec, cachestore.MaxAge, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StatusSkip, out.Status)

	// --force 忽略间隔
	f = NewFetcher(cachestore.New(dir, cachestore.Mode{UseCache: true}, noPriv), backend, WithForce(true))
	out, err = f.FetchTable(context.Background(), target, "if", spec, time.Hour, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, StatusOK, out.Status)
	assert.Equal(t, Table{{"lo"}, {"eth0"}}, out.Tables[0])
	assert.Equal(t, 1, backend.calls, "served from cache")
}

func TestFetchTableMultiAllOrNothing(t *testing.T) {
	backend := &fakeBackend{
		data: ifTable,
		errs: map[string]error{".1.3.6.1.2.1.25.1.1": ErrNoSuchObject},
	}
	f := NewFetcher(newCache(t, cachestore.Mode{}), backend)
	spec := Spec{Multi: true, Tables: []TableSpec{
		{Base: ".1.3.6.1.2.1.2.2.1", Columns: []string{"2"}},
		{Base: ".1.3.6.1.2.1.25.1", Columns: []string{"1"}},
	}}

	out, err := f.FetchTable(context.Background(), target, "multi", spec, cachestore.MaxAge, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusMissing, out.Status)
	assert.Nil(t, out.Tables)
}

func TestFetchTableBrokenHostFailsFast(t *testing.T) {
	backend := &fakeBackend{errs: map[string]error{".1.3.6.1.2.1.1.3": errors.New("request timeout")}}
	f := NewFetcher(newCache(t, cachestore.Mode{}), backend)
	spec := Single(".1.3.6.1.2.1.1", "3")

	_, err := f.FetchTable(context.Background(), target, "snmp_uptime", spec, cachestore.MaxAge, 0)
	var unreachable *UnreachableError
	require.ErrorAs(t, err, &unreachable)
	assert.Equal(t, "request timeout", unreachable.Reason)
	assert.True(t, f.Broken("switch1"))

	_, err = f.FetchTable(context.Background(), target, "snmp_info", Single(".1.3.6.1.2.1.1", "1"), cachestore.MaxAge, 0)
	require.ErrorAs(t, err, &unreachable)
	assert.Empty(t, unreachable.Reason)
	assert.Equal(t, 1, backend.calls)
}

func TestWalkBackend(t *testing.T) {
	dir := t.TempDir()
	walk := strings.Join([]string{
		".1.3.6.1.2.1.1.5.0 \"switch1\"",
		".1.3.6.1.2.1.1.1.0 \"Cisco IOS\"",
		".1.3.6.1.2.1.1.10.0 x",
		".1.3.6.1.2.1.1.3.0 123456",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "switch1"), []byte(walk), 0o644))

	backend := &WalkBackend{Dir: dir}
	assert.True(t, backend.Offline())

	// 模拟模式下没有缓存也可以使用 walk
	f := NewFetcher(newCache(t, cachestore.Mode{Simulation: true}), backend)
	out, err := f.FetchTable(context.Background(), target, "snmp_info",
		Single(".1.3.6.1.2.1.1", "1.0", "5.0"), cachestore.MaxAge, 0)
	require.NoError(t, err)
	assert.Equal(t, Table{{"Cisco IOS", "switch1"}}, out.Tables[0])
}

func TestLessOID(t *testing.T) {
	assert.True(t, lessOID(".1.3.6.1.2", ".1.3.6.1.10"))
	assert.True(t, lessOID(".1.3", ".1.3.1"))
	assert.False(t, lessOID(".1.3.10", ".1.3.9"))
}
