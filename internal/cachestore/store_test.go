package cachestore

import (
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unprivileged() bool { return false }

func TestWriteThenReadReturnsSameBytes(t *testing.T) {
	s := New(t.TempDir(), Mode{UseCache: true}, WithPrivilegeCheck(unprivileged))
	key := Key{Host: "host1"}

	require.NoError(t, s.Write(key, []byte("<<<check_mk>>>\nVersion: 2.0\n")))

	data, err := s.Read(key, MaxAge)
	require.NoError(t, err)
	assert.Equal(t, "<<<check_mk>>>\nVersion: 2.0\n", string(data))
}

func TestPrivilegedWriteIsSkipped(t *testing.T) {
	s := New(t.TempDir(), Mode{UseCache: true}, WithPrivilegeCheck(func() bool { return true }))
	key := Key{Host: "host1", Suffix: "if"}

	require.NoError(t, s.Write(key, []byte("data")))

	_, err := os.Stat(s.Path(key))
	assert.True(t, os.IsNotExist(err))
	_, err = s.Read(key, MaxAge)
	assert.ErrorIs(t, err, ErrNotAvailable)
}

func TestReadHonorsMaxAge(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	dir := t.TempDir()
	key := Key{Host: "host1"}

	writer := New(dir, Mode{}, WithPrivilegeCheck(unprivileged))
	require.NoError(t, writer.Write(key, []byte("payload")))
	old := now.Add(-10 * time.Minute)
	require.NoError(t, os.Chtimes(writer.Path(key), old, old))

	tests := []struct {
		name    string
		mode    Mode
		maxAge  time.Duration
		wantErr bool
	}{
		{name: "cache disabled", mode: Mode{}, maxAge: MaxAge, wantErr: true},
		{name: "fresh enough", mode: Mode{UseCache: true}, maxAge: time.Hour},
		{name: "too old", mode: Mode{UseCache: true}, maxAge: time.Minute, wantErr: true},
		{name: "use outdated", mode: Mode{UseCache: true, UseOutdated: true}, maxAge: time.Minute},
		{name: "simulation ignores age", mode: Mode{Simulation: true}, maxAge: time.Minute},
		{name: "no-cache wins over simulation", mode: Mode{Simulation: true, NoCache: true}, maxAge: MaxAge, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(dir, tt.mode, WithClock(clock), WithPrivilegeCheck(unprivileged))
			data, err := s.Read(key, tt.maxAge)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNotAvailable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "payload", string(data))
		})
	}
}

func TestReadWithoutFileAndNetworkDisabled(t *testing.T) {
	s := New(t.TempDir(), Mode{NoTCP: true}, WithPrivilegeCheck(unprivileged))

	_, err := s.Read(Key{Host: "nohost"}, MaxAge)

	var unreachable *UnreachableError
	require.True(t, errors.As(err, &unreachable))
	assert.Equal(t, "no cache file present", unreachable.Reason)
}

func TestReadAnyMissWithNetworkDisabledIsUnreachable(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	dir := t.TempDir()

	writer := New(dir, Mode{}, WithPrivilegeCheck(unprivileged))
	require.NoError(t, writer.Write(Key{Host: "stale"}, []byte("payload")))
	old := now.Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(writer.Path(Key{Host: "stale"}), old, old))
	require.NoError(t, os.WriteFile(writer.Path(Key{Host: "empty"}), nil, 0o644))

	tests := []struct {
		name string
		mode Mode
		key  Key
	}{
		{"stale with cache", Mode{NoTCP: true, UseCache: true}, Key{Host: "stale"}},
		{"present but cache not enabled", Mode{NoTCP: true}, Key{Host: "stale"}},
		{"empty in simulation", Mode{Simulation: true}, Key{Host: "empty"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(dir, tt.mode, WithClock(clock), WithPrivilegeCheck(unprivileged))
			_, err := s.Read(tt.key, time.Minute)
			var unreachable *UnreachableError
			require.ErrorAs(t, err, &unreachable)
			assert.ErrorIs(t, err, ErrNotAvailable)
		})
	}
}

func TestSimulationNeverWrites(t *testing.T) {
	s := New(t.TempDir(), Mode{Simulation: true}, WithPrivilegeCheck(unprivileged))
	key := Key{Host: "host1"}
	require.NoError(t, s.Write(key, []byte("data")))
	_, ok := s.Age(key)
	assert.False(t, ok)
}

func TestKeyPath(t *testing.T) {
	assert.Equal(t, "host1", Key{Host: "host1"}.String())
	assert.Equal(t, "host1.snmp_uptime", Key{Host: "host1", Suffix: "snmp_uptime"}.String())
}
