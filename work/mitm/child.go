package mitm

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"sfvip-launcher/work/cache"
	"sfvip-launcher/work/logger"
)

// EngineSubcommand is the argv[1] value that turns the launcher binary into
// the engine child.
const EngineSubcommand = "engine"

// ChildEvents receives the engine's asynchronous frames on the supervisor's
// reader goroutine; handlers must hand off to a job runner instead of
// blocking.
type ChildEvents struct {
	OnProgress  func(cache.Progress)
	OnEPGStatus func(status string)
}

// Child supervises one engine process.
type Child struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	writeMu sync.Mutex

	started chan startedInfo
	done    chan struct{}
	events  ChildEvents
}

// StartChild re-executes the current binary as an engine with cfg, and
// starts pumping its frames.
func StartChild(cfg *EngineConfig, events ChildEvents) (*Child, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("mitm: executable: %w", err)
	}
	cmd := exec.Command(exe, EngineSubcommand)
	cmd.Stderr = os.Stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("mitm: start engine: %w", err)
	}

	c := &Child{
		cmd:     cmd,
		stdin:   stdin,
		started: make(chan startedInfo, 1),
		done:    make(chan struct{}),
		events:  events,
	}
	if err := c.send(frame{Kind: frameConfig, Config: cfg}); err != nil {
		cmd.Process.Kill()
		return nil, err
	}
	go c.pump(stdout)
	return c, nil
}

// WaitRunning blocks until the engine reports its listeners are up, or the
// timeout elapses or the engine dies.
func (c *Child) WaitRunning(timeout time.Duration) bool {
	select {
	case info := <-c.started:
		if !info.OK {
			logger.Error("mitm: engine failed to start: %s", info.Err)
		}
		return info.OK
	case <-c.done:
		return false
	case <-time.After(timeout):
		return false
	}
}

// SetEPGURL forwards a new XMLTV source to the engine.
func (c *Child) SetEPGURL(url string) {
	c.send(frame{Kind: frameEPGURL, URL: url})
}

// SetConfidence forwards a new matching confidence to the engine.
func (c *Child) SetConfidence(confidence int) {
	c.send(frame{Kind: frameConfidence, Confidence: confidence})
}

// StopBuilds aborts every in-progress cache build in the engine.
func (c *Child) StopBuilds() {
	c.send(frame{Kind: frameStopBuilds})
}

// Stop asks the engine to exit and waits for it, killing after a grace
// period.
func (c *Child) Stop() {
	c.send(frame{Kind: frameStop})
	c.stdin.Close()
	select {
	case <-c.done:
	case <-time.After(3 * time.Second):
		c.cmd.Process.Kill()
		<-c.done
	}
}

func (c *Child) send(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return writeFrame(c.stdin, f)
}

// pump reads engine frames until the process closes its stdout.
func (c *Child) pump(stdout io.Reader) {
	defer close(c.done)
	defer c.cmd.Wait()

	reader := bufio.NewReader(stdout)
	for {
		f, err := readFrame(reader)
		if err != nil {
			return
		}
		switch f.Kind {
		case frameStarted:
			if f.Started != nil {
				select {
				case c.started <- *f.Started:
				default:
				}
			}
		case frameProgress:
			if f.Progress != nil && c.events.OnProgress != nil {
				c.events.OnProgress(*f.Progress)
			}
		case frameEPGStatus:
			if c.events.OnEPGStatus != nil {
				c.events.OnEPGStatus(f.EPGStatus)
			}
		}
	}
}
