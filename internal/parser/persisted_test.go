package parser

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistedSectionsMergedUntilExpiry(t *testing.T) {
	dir := t.TempDir()
	now := fixedNow
	clock := func() time.Time { return now }
	store := NewPersistedStore(dir, clock, func() bool { return false })
	p := New(WithClock(clock))

	first := p.Parse([]byte("<<<job:persist(1700000600)>>>\nbackup ok\n<<<uptime>>>\n1\n"), "host1")
	require.NoError(t, store.Merge("host1", &first, false))

	// 下一个周期 agent 未输出 job
	now = fixedNow.Add(5 * time.Minute)
	second := p.Parse([]byte("<<<uptime>>>\n2\n"), "host1")
	require.NoError(t, store.Merge("host1", &second, false))

	require.Contains(t, second.Sections, "job")
	assert.Equal(t, [][]string{{"backup", "ok"}}, second.Sections["job"].Rows)
	assert.Equal(t, CacheInfo{CachedAt: fixedNow.Unix(), Interval: 600}, second.CacheInfo["job"])

	// 过期后删除，文件为空时删除文件
	now = fixedNow.Add(20 * time.Minute)
	third := p.Parse([]byte("<<<uptime>>>\n3\n"), "host1")
	require.NoError(t, store.Merge("host1", &third, false))
	assert.NotContains(t, third.Sections, "job")
	_, err := os.Stat(filepath.Join(dir, "host1"))
	assert.True(t, os.IsNotExist(err))
}

func TestPersistedSectionsEnforced(t *testing.T) {
	dir := t.TempDir()
	now := fixedNow
	clock := func() time.Time { return now }
	store := NewPersistedStore(dir, clock, func() bool { return false })
	p := New(WithClock(clock))

	first := p.Parse([]byte("<<<job:persist(1700000060)>>>\nx\n"), "host1")
	require.NoError(t, store.Merge("host1", &first, false))

	now = fixedNow.Add(time.Hour)
	second := p.Parse([]byte(""), "host1")
	require.NoError(t, store.Merge("host1", &second, true))
	assert.Contains(t, second.Sections, "job")
}

func TestCurrentSectionWinsOverPersisted(t *testing.T) {
	dir := t.TempDir()
	clock := func() time.Time { return fixedNow }
	store := NewPersistedStore(dir, clock, func() bool { return false })
	p := New(WithClock(clock))

	first := p.Parse([]byte("<<<job:persist(1700000600)>>>\nold\n"), "host1")
	require.NoError(t, store.Merge("host1", &first, false))

	second := p.Parse([]byte("<<<job>>>\nnew\n"), "host1")
	require.NoError(t, store.Merge("host1", &second, false))
	assert.Equal(t, [][]string{{"new"}}, second.Sections["job"].Rows)
}
