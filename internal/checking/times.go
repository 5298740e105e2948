package checking

import (
	"time"

	"golang.org/x/sys/unix"
)

// cpuTimes 进程及其子进程的 CPU 时间
type cpuTimes struct {
	user, system                 time.Duration
	childrenUser, childrenSystem time.Duration
}

func readCPUTimes() cpuTimes {
	var self, children unix.Rusage
	_ = unix.Getrusage(unix.RUSAGE_SELF, &self)
	_ = unix.Getrusage(unix.RUSAGE_CHILDREN, &children)
	return cpuTimes{
		user:           time.Duration(self.Utime.Nano()),
		system:         time.Duration(self.Stime.Nano()),
		childrenUser:   time.Duration(children.Utime.Nano()),
		childrenSystem: time.Duration(children.Stime.Nano()),
	}
}

func (t cpuTimes) sub(o cpuTimes) cpuTimes {
	return cpuTimes{
		user:           t.user - o.user,
		system:         t.system - o.system,
		childrenUser:   t.childrenUser - o.childrenUser,
		childrenSystem: t.childrenSystem - o.childrenSystem,
	}
}
