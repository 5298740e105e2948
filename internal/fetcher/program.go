package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sys/unix"
)

// programWaitDelay 进程组收到 SIGTERM 后等待退出的时间，超时后发送 SIGKILL
const programWaitDelay = 2 * time.Second

// programSource 运行外部数据源程序，读取其标准输出
type programSource struct {
	commandLine string
}

// ExpandMacros 替换命令行中的 <IP> <HOST> $HOSTNAME$ $HOSTADDRESS$ 宏
func ExpandMacros(commandLine, host, address string) string {
	r := strings.NewReplacer(
		"<IP>", address,
		"<HOST>", host,
		"$HOSTNAME$", host,
		"$HOSTADDRESS$", address,
	)
	return r.Replace(commandLine)
}

func (s *programSource) Describe() string {
	return "program " + s.commandLine
}

func (s *programSource) Fetch(ctx context.Context) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "/bin/sh", "-c", s.commandLine)
	// 独立进程组，超时时整组终止，避免遗留子进程
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return killGroup(cmd, unix.SIGTERM)
	}
	cmd.WaitDelay = programWaitDelay

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	// 无论结果如何都清理残留的进程组成员
	_ = killGroup(cmd, unix.SIGKILL)

	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code := exitErr.ExitCode()
			if code == 127 {
				return nil, fmt.Errorf("Program '%s' not found (exit code 127)", s.commandLine)
			}
			return nil, fmt.Errorf("Agent exited with code %d: %s", code, strings.TrimSpace(stderr.String()))
		}
		return nil, fmt.Errorf("Cannot run program '%s': %w", s.commandLine, err)
	}
	return stdout.Bytes(), nil
}

func killGroup(cmd *exec.Cmd, sig unix.Signal) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, sig)
	if errors.Is(err, unix.ESRCH) {
		return nil
	}
	return err
}
