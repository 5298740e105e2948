package fetcher

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"time"
)

// DefaultAgentPort agent 默认 TCP 端口
const DefaultAgentPort = 6556

// tcpSource 通过 TCP 读取 agent 输出，读到 EOF 为止
type tcpSource struct {
	address        string
	port           int
	connectTimeout time.Duration
}

func (s *tcpSource) Describe() string {
	return fmt.Sprintf("TCP %s:%d", s.address, s.port)
}

func (s *tcpSource) Fetch(ctx context.Context) ([]byte, error) {
	dialer := net.Dialer{Timeout: s.connectTimeout}
	addr := net.JoinHostPort(s.address, strconv.Itoa(s.port))
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("Cannot connect to %s: %w", addr, err)
	}
	defer conn.Close()

	// 取消时关闭连接以中断阻塞的读
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(deadline)
	}

	data, err := io.ReadAll(conn)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("Communication failed with %s: %w", addr, err)
	}
	return data, nil
}
