package snmp

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// WalkBackend 从保存的 walk 文件（<dir>/<host>，每行 "OID 值"）读取数据，不访问网络
type WalkBackend struct {
	Dir string

	mu    sync.Mutex
	walks map[string][]Varbind
}

// Offline 保存的 walk 不需要网络
func (b *WalkBackend) Offline() bool {
	return true
}

func (b *WalkBackend) load(host string) ([]Varbind, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if vbs, ok := b.walks[host]; ok {
		return vbs, nil
	}

	path := filepath.Join(b.Dir, host)
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read stored walk %s: %w", path, err)
	}
	defer file.Close()

	var vbs []Varbind
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		oid, value, _ := strings.Cut(line, " ")
		vbs = append(vbs, Varbind{OID: normalizeOID(oid), Value: unquote(strings.TrimSpace(value))})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("cannot read stored walk %s: %w", path, err)
	}
	sortOIDs(vbs)

	if b.walks == nil {
		b.walks = make(map[string][]Varbind)
	}
	b.walks[host] = vbs
	return vbs, nil
}

// Walk 返回 walk 文件中 oid 子树下的对象
func (b *WalkBackend) Walk(ctx context.Context, target Target, oid string) ([]Varbind, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	vbs, err := b.load(target.Host)
	if err != nil {
		return nil, err
	}
	oid = normalizeOID(oid)
	var out []Varbind
	for _, vb := range vbs {
		if _, ok := indexOf(vb.OID, oid); ok {
			out = append(out, vb)
		}
	}
	return out, nil
}

func unquote(v string) string {
	if len(v) >= 2 && v[0] == '"' && v[len(v)-1] == '"' {
		return v[1 : len(v)-1]
	}
	return v
}
