//go:build !windows

package sandbox

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"syscall"
	"time"
)

// Process is a running dev server.
type Process interface {
	Stop() error
}

// Starter launches command in dir with PORT set to port.
type Starter func(dir, command string, port int) (Process, error)

// ExecStarter runs command through "sh -c" in its own process group so
// Stop can terminate the whole tree (npm spawns node as a child).
func ExecStarter(dir, command string, port int) (Process, error) {
	cmd := exec.Command("sh", "-c", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.err = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	err  error
	once sync.Once
}

// Stop sends SIGTERM to the process group and SIGKILL after five seconds.
func (p *execProcess) Stop() error {
	var stopErr error
	p.once.Do(func() {
		pgid := -p.cmd.Process.Pid
		if err := syscall.Kill(pgid, syscall.SIGTERM); err != nil && !errors.Is(err, syscall.ESRCH) {
			stopErr = fmt.Errorf("terminate: %w", err)
			return
		}
		select {
		case <-p.done:
		case <-time.After(5 * time.Second):
			_ = syscall.Kill(pgid, syscall.SIGKILL)
			<-p.done
		}
	})
	return stopErr
}
