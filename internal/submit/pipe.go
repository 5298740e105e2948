package submit

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// pipeOpenTimeout 打开命令管道的超时（没有读端时 open 会阻塞）
const pipeOpenTimeout = 3 * time.Second

// PipeSink 通过核心的外部命令管道提交 PROCESS_SERVICE_CHECK_RESULT
type PipeSink struct {
	path string

	mu     sync.Mutex
	file   *os.File
	failed error
}

// NewPipeSink 创建命令管道接收端，管道在第一次提交时打开
func NewPipeSink(path string) *PipeSink {
	return &PipeSink{path: path}
}

func (p *PipeSink) open() error {
	if p.file != nil {
		return nil
	}
	if p.failed != nil {
		return p.failed
	}
	if _, err := os.Stat(p.path); err != nil {
		p.failed = fmt.Errorf("Missing core command pipe '%s'", p.path)
		return p.failed
	}

	type opened struct {
		file *os.File
		err  error
	}
	ch := make(chan opened, 1)
	go func() {
		f, err := os.OpenFile(p.path, os.O_WRONLY|os.O_APPEND, 0)
		ch <- opened{f, err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			p.failed = fmt.Errorf("Error writing to command pipe: %w", o.err)
			return p.failed
		}
		p.file = o.file
		return nil
	case <-time.After(pipeOpenTimeout):
		// 超时后若最终打开成功需要关闭，避免泄漏
		go func() {
			if o := <-ch; o.file != nil {
				o.file.Close()
			}
		}()
		p.failed = fmt.Errorf("Error writing to command pipe: timeout while opening %s", p.path)
		return p.failed
	}
}

// Submit 每条命令一次 write，核心要求命令完整地出现在一个写操作中
func (p *PipeSink) Submit(r Result) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.open(); err != nil {
		return err
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	msg := fmt.Sprintf("[%d] PROCESS_SERVICE_CHECK_RESULT;%s;%s;%d;%s\n",
		ts.Unix(), r.Host, r.Service, int(r.State), escapeNewlines(r.Output()))
	if _, err := p.file.Write([]byte(msg)); err != nil {
		return fmt.Errorf("Error writing to command pipe: %w", err)
	}
	return nil
}

func (p *PipeSink) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.file == nil {
		return nil
	}
	err := p.file.Close()
	p.file = nil
	return err
}
