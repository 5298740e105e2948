package fetcher

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agent-checker/internal/cachestore"
	"github.com/agent-checker/internal/piggyback"
)

const sampleOutput = "<<<check_mk>>>\nVersion: 2.0\n<<<uptime>>>\n1234\n"

// serveOnce 在本地端口上发送一次 payload 后关闭连接
func serveOnce(t *testing.T, payload []byte) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			_, _ = conn.Write(payload)
			conn.Close()
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

func newFetcher(t *testing.T, mode cachestore.Mode) (*AgentFetcher, *cachestore.Store) {
	t.Helper()
	cache := cachestore.New(t.TempDir(), mode, cachestore.WithPrivilegeCheck(func() bool { return false }))
	return NewAgentFetcher(cache, piggyback.New(t.TempDir()), WithConnectTimeout(time.Second)), cache
}

func tcpSpec(port int) HostSpec {
	return HostSpec{Name: "host1", Address: "127.0.0.1", Datasource: DatasourceTCP, Port: port}
}

func TestFetchEmptyTCPOutput(t *testing.T) {
	port := serveOnce(t, nil)
	f, _ := newFetcher(t, cachestore.Mode{})

	_, err := f.Fetch(context.Background(), tcpSpec(port), cachestore.MaxAge)
	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.Equal(t, "Empty output from agent at TCP port "+strconv.Itoa(port), agentErr.Reason)
	assert.True(t, agentErr.Empty)
	assert.True(t, f.Broken("host1"))

	// 同一周期内不再重试
	_, err = f.Fetch(context.Background(), tcpSpec(port), cachestore.MaxAge)
	require.ErrorAs(t, err, &agentErr)
	assert.Empty(t, agentErr.Reason)
}

func TestFetchTooShortOutput(t *testing.T) {
	port := serveOnce(t, []byte("<<<x>>>\n"))
	f, _ := newFetcher(t, cachestore.Mode{})

	_, err := f.Fetch(context.Background(), tcpSpec(port), cachestore.MaxAge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Too short output from agent")
}

func TestFetchConnectionRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	f, _ := newFetcher(t, cachestore.Mode{})
	_, err = f.Fetch(context.Background(), tcpSpec(port), cachestore.MaxAge)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Cannot connect to")
}

func TestFetchWritesAndUsesCache(t *testing.T) {
	port := serveOnce(t, []byte(sampleOutput))
	dir := t.TempDir()
	noPriv := cachestore.WithPrivilegeCheck(func() bool { return false })

	f := NewAgentFetcher(cachestore.New(dir, cachestore.Mode{}, noPriv), nil)
	data, err := f.Fetch(context.Background(), tcpSpec(port), cachestore.MaxAge)
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, string(data))

	cached, err := os.ReadFile(filepath.Join(dir, "host1"))
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, string(cached))

	// 缓存命中时不访问网络
	f = NewAgentFetcher(cachestore.New(dir, cachestore.Mode{UseCache: true}, noPriv), nil,
		WithSourceFactory(func(HostSpec) (Source, error) {
			return nil, errors.New("source must not be used")
		}))
	data, err = f.Fetch(context.Background(), tcpSpec(1), time.Hour)
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, string(data))
}

func TestFetchWithoutCacheWhenNetworkDisabled(t *testing.T) {
	tests := []struct {
		name   string
		mode   cachestore.Mode
		reason string
	}{
		{"simulation", cachestore.Mode{Simulation: true}, "Simulation mode and no cachefile present."},
		{"no tcp", cachestore.Mode{NoTCP: true}, "Host is unreachable, no usable cache file present"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFetcher(t, tt.mode)
			_, err := f.Fetch(context.Background(), tcpSpec(1), cachestore.MaxAge)
			var agentErr *AgentError
			require.ErrorAs(t, err, &agentErr)
			assert.Equal(t, tt.reason, agentErr.Reason)
		})
	}
}

func TestFetchStaleOrEmptyCacheWhenNetworkDisabled(t *testing.T) {
	dir := t.TempDir()
	noPriv := cachestore.WithPrivilegeCheck(func() bool { return false })
	stale := filepath.Join(dir, "host1")
	require.NoError(t, os.WriteFile(stale, []byte(sampleOutput), 0o644))
	old := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(stale, old, old))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "host2"), nil, 0o644))

	tests := []struct {
		name   string
		mode   cachestore.Mode
		host   string
		reason string
	}{
		{"stale no tcp", cachestore.Mode{NoTCP: true}, "host1", "Host is unreachable, no usable cache file present"},
		{"stale no tcp with cache", cachestore.Mode{NoTCP: true, UseCache: true}, "host1", "Host is unreachable, no usable cache file present"},
		{"empty in simulation", cachestore.Mode{Simulation: true}, "host2", "Simulation mode and no cachefile present."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			contacted := false
			f := NewAgentFetcher(cachestore.New(dir, tt.mode, noPriv), nil,
				WithSourceFactory(func(HostSpec) (Source, error) {
					contacted = true
					return nil, errors.New("network contacted")
				}))
			spec := tcpSpec(1)
			spec.Name = tt.host
			_, err := f.Fetch(context.Background(), spec, time.Minute)

			var agentErr *AgentError
			require.ErrorAs(t, err, &agentErr)
			assert.Equal(t, tt.reason, agentErr.Reason)
			assert.False(t, contacted)
		})
	}
}

func TestFetchProgram(t *testing.T) {
	tests := []struct {
		name    string
		program string
		want    string
		errText string
	}{
		{"output with macros", "printf '<<<check_mk>>>\\nHost: %s\\n' <HOST>", "<<<check_mk>>>\nHost: host1\n", ""},
		{"not found", "no-such-agent-program-xyz", "", "Program 'no-such-agent-program-xyz' not found (exit code 127)"},
		{"non zero exit", "echo broken pipe >&2; exit 3", "", "Agent exited with code 3: broken pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, _ := newFetcher(t, cachestore.Mode{})
			spec := HostSpec{Name: "host1", Address: "10.0.0.1", Datasource: DatasourceProgram, Program: tt.program}
			data, err := f.Fetch(context.Background(), spec, cachestore.MaxAge)
			if tt.errText != "" {
				require.Error(t, err)
				assert.Equal(t, tt.errText, err.Error())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(data))
		})
	}
}

func TestFetchProgramTimeoutKillsGroup(t *testing.T) {
	f, _ := newFetcher(t, cachestore.Mode{})
	spec := HostSpec{Name: "host1", Datasource: DatasourceProgram, Program: "sleep 30 & sleep 30"}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := f.Fetch(ctx, spec, cachestore.MaxAge)
	var agentErr *AgentError
	require.ErrorAs(t, err, &agentErr)
	assert.True(t, agentErr.Timeout)
	assert.Less(t, time.Since(start), 10*time.Second)
}

func TestExpandMacros(t *testing.T) {
	got := ExpandMacros("agent --host <HOST> --ip <IP> $HOSTNAME$/$HOSTADDRESS$", "web01", "192.0.2.1")
	assert.Equal(t, "agent --host web01 --ip 192.0.2.1 web01/192.0.2.1", got)
}

func TestFetchPiggyback(t *testing.T) {
	pb := piggyback.New(t.TempDir())
	require.NoError(t, pb.Store("host1", map[string][]string{"host2": {"<<<foo>>>", "bar"}}))

	f := NewAgentFetcher(cachestore.New(t.TempDir(), cachestore.Mode{}), pb)
	data, err := f.FetchPiggyback("host2", time.Hour)
	require.NoError(t, err)
	assert.Equal(t, "<<<foo>>>\nbar\n", string(data))
}

// encryptForTest 按 agent 的格式加密：版本前缀 + AES-256-CBC + PKCS#7
func encryptForTest(t *testing.T, plain []byte, passphrase string) []byte {
	t.Helper()
	key, iv := deriveKeyAndIV([]byte(passphrase))
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	pad := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(pad)}, pad)...)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return append([]byte("00"), out...)
}

func TestApplyEncryption(t *testing.T) {
	plain := []byte(sampleOutput)
	encrypted := encryptForTest(t, plain, "secret")

	tests := []struct {
		name    string
		payload []byte
		enc     Encryption
		want    []byte
		errText string
	}{
		{"disabled passes through", encrypted, Encryption{Mode: EncryptionDisabled}, encrypted, ""},
		{"enforced decrypts", encrypted, Encryption{Mode: EncryptionEnforced, Passphrase: "secret"}, plain, ""},
		{"enforced rejects plaintext", plain, Encryption{Mode: EncryptionEnforced, Passphrase: "secret"}, nil,
			"Agent output is plaintext but encryption is enforced by configuration"},
		{"enforced garbage", []byte("00garbage-not-a-block"), Encryption{Mode: EncryptionEnforced, Passphrase: "secret"}, nil,
			"Failed to decrypt agent output"},
		{"opportunistic decrypts", encrypted, Encryption{Mode: EncryptionOpportunistic, Passphrase: "secret"}, plain, ""},
		{"opportunistic plaintext", plain, Encryption{Mode: EncryptionOpportunistic, Passphrase: "secret"}, plain, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyEncryption(tt.payload, tt.enc)
			if tt.errText != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errText)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFetchEncryptedTCP(t *testing.T) {
	port := serveOnce(t, encryptForTest(t, []byte(sampleOutput), "secret"))
	f, _ := newFetcher(t, cachestore.Mode{})
	spec := tcpSpec(port)
	spec.Encryption = Encryption{Mode: EncryptionEnforced, Passphrase: "secret"}

	data, err := f.Fetch(context.Background(), spec, cachestore.MaxAge)
	require.NoError(t, err)
	assert.Equal(t, sampleOutput, string(data))
}
