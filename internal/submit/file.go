package submit

import (
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sync"
	"time"
)

const nameChars = "abcdefghijklmnopqrstuvwxyz0123456789_"

// FileSink 写入核心的检查结果目录：每个周期一个 c+6 位随机字符的文件，关闭时创建 .ok 标记
type FileSink struct {
	dir string

	mu   sync.Mutex
	file *os.File
}

// NewFileSink 创建检查结果文件接收端
func NewFileSink(dir string) *FileSink {
	return &FileSink{dir: dir}
}

func randomName() string {
	b := make([]byte, 6)
	for i := range b {
		b[i] = nameChars[rand.IntN(len(nameChars))]
	}
	return "c" + string(b)
}

func (s *FileSink) open() error {
	if s.file != nil {
		return nil
	}
	for range 1000 {
		path := filepath.Join(s.dir, randomName())
		f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return fmt.Errorf("Cannot create check result file in %s: %w", s.dir, err)
		}
		s.file = f
		return nil
	}
	return fmt.Errorf("Cannot create check result file in %s: no usable file name found", s.dir)
}

func (s *FileSink) Submit(r Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.open(); err != nil {
		return err
	}
	ts := r.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	now := float64(ts.UnixMilli()) / 1000
	_, err := fmt.Fprintf(s.file, "host_name=%s\nservice_description=%s\ncheck_type=1\ncheck_options=0\n"+
		"reschedule_check\nlatency=0.0\nstart_time=%.1f\nfinish_time=%.1f\nreturn_code=%d\noutput=%s\n\n",
		r.Host, r.Service, now, now, int(r.State), escapeNewlines(r.Output()))
	return err
}

// Close 关闭结果文件并创建 .ok 标记，核心只读取带标记的文件
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	path := s.file.Name()
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return err
	}
	return os.WriteFile(path+".ok", nil, 0o600)
}
