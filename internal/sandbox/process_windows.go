//go:build windows

package sandbox

import (
	"os"
	"os/exec"
	"strconv"
	"sync"
)

// Process is a running dev server.
type Process interface {
	Stop() error
}

// Starter launches command in dir with PORT set to port.
type Starter func(dir, command string, port int) (Process, error)

// ExecStarter runs command through "cmd /C".
func ExecStarter(dir, command string, port int) (Process, error) {
	cmd := exec.Command("cmd", "/C", command)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PORT="+strconv.Itoa(port))
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	p := &execProcess{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

type execProcess struct {
	cmd  *exec.Cmd
	done chan struct{}
	once sync.Once
}

func (p *execProcess) Stop() error {
	var err error
	p.once.Do(func() {
		err = p.cmd.Process.Kill()
		<-p.done
	})
	return err
}
