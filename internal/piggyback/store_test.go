package piggyback

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreAndGet(t *testing.T) {
	s := New(t.TempDir())

	require.NoError(t, s.Store("host1", map[string][]string{
		"vm1": {"<<<uptime>>>", "123"},
		"vm2": {"<<<uptime>>>", "456"},
	}))
	require.NoError(t, s.Store("host2", map[string][]string{
		"vm1": {"<<<mem>>>", "MemTotal: 1 kB"},
	}))

	data, err := s.Get("vm1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "<<<uptime>>>\n123\n<<<mem>>>\nMemTotal: 1 kB\n", string(data))

	_, err = os.Stat(filepath.Join(s.Dir(), "vm2", "host1"))
	assert.NoError(t, err)
}

func TestStoreRemovesTargetsNoLongerForwarded(t *testing.T) {
	s := New(t.TempDir())
	require.NoError(t, s.Store("host1", map[string][]string{"vm1": {"a"}, "vm2": {"b"}}))
	require.NoError(t, s.Store("host2", map[string][]string{"vm2": {"c"}}))

	require.NoError(t, s.Store("host1", map[string][]string{"vm1": {"a2"}}))

	sources, err := s.Sources("vm2")
	require.NoError(t, err)
	assert.Equal(t, []string{"host2"}, sources)

	require.NoError(t, s.RemoveSource("host1"))
	sources, err = s.Sources("vm1")
	require.NoError(t, err)
	assert.Empty(t, sources)
}

func TestGetRemovesStaleBlobs(t *testing.T) {
	now := time.Now()
	s := New(t.TempDir(), WithClock(func() time.Time { return now }))
	require.NoError(t, s.Store("old", map[string][]string{"vm1": {"stale"}}))
	require.NoError(t, s.Store("new", map[string][]string{"vm1": {"fresh"}}))

	stalePath := filepath.Join(s.Dir(), "vm1", "old")
	past := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stalePath, past, past))

	data, err := s.Get("vm1", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n", string(data))

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err), "stale blob must be removed")
}

func TestGetUnknownTarget(t *testing.T) {
	s := New(t.TempDir())
	data, err := s.Get("nobody", time.Hour)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestStoreRejectsNamesOutsideDir(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "piggyback")
	s := New(dir)

	for _, target := range []string{"../x", "..", "a/../../x", ""} {
		err := s.Store("host1", map[string][]string{target: {"<<<x>>>", "foo"}})
		assert.ErrorIs(t, err, ErrInvalidName, target)
	}
	_, err := os.Stat(filepath.Join(root, "x"))
	assert.True(t, os.IsNotExist(err))

	_, err = s.Get("..", time.Hour)
	assert.ErrorIs(t, err, ErrInvalidName)
}

func TestTranslator(t *testing.T) {
	tr, err := NewTranslator(TranslationRules{
		Case:       "lower",
		DropDomain: true,
		Regex:      []RegexRule{{Pattern: "vm-(.*)", Replacement: "virt-$1"}},
		Mapping:    map[string]string{"virt-db": "database01"},
	})
	require.NoError(t, err)

	assert.Equal(t, "database01", tr.Translate("VM-DB.example.com"))
	assert.Equal(t, "virt-web", tr.Translate("vm-web"))
	assert.Equal(t, "10.0.0.1", tr.Translate("10.0.0.1"))
	assert.Equal(t, "plain", (*Translator)(nil).Translate("plain"))

	_, err = NewTranslator(TranslationRules{Regex: []RegexRule{{Pattern: "("}}})
	assert.Error(t, err)
}
