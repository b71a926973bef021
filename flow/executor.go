package flow

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/venkisagunner93/conduit-go/internal/shm"
)

// DefaultShutdownGrace is how long a stopped node is given to exit after
// SIGINT before the executor escalates to SIGKILL.
const DefaultShutdownGrace = 5 * time.Second

// DefaultTopicPollInterval is the poll interval WaitTopics steps pass to
// shm.WatchUntilExists, which polls at ten times this interval alongside
// its fsnotify watch and at this interval if it falls back to polling.
const DefaultTopicPollInterval = 50 * time.Millisecond

// Options configures an Executor.
type Options struct {
	Logger         *zap.Logger
	ShutdownGrace  time.Duration
	TopicPollEvery time.Duration
}

func (o Options) withDefaults() Options {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.ShutdownGrace <= 0 {
		o.ShutdownGrace = DefaultShutdownGrace
	}
	if o.TopicPollEvery <= 0 {
		o.TopicPollEvery = DefaultTopicPollInterval
	}
	return o
}

type process struct {
	name string
	cmd  *exec.Cmd
	done chan struct{}
}

type exitEvent struct {
	name string
	err  error
}

// Executor runs a Config's startup sequence, supervises the spawned
// children, and runs the shutdown sequence once asked to stop or once a
// child exits unexpectedly. It does not restart crashed children and does
// not build a dependency graph beyond the declared sequence — it is a
// sequencer, not a supervisor.
type Executor struct {
	opts Options
	log  *zap.Logger

	mu        sync.Mutex
	processes []*process
	cancel    context.CancelFunc
}

// NewExecutor creates an Executor with the given options.
func NewExecutor(opts Options) *Executor {
	opts = opts.withDefaults()
	return &Executor{opts: opts, log: opts.Logger}
}

// RequestShutdown asks a running Run to begin its shutdown sequence. It is
// safe to call from a signal handler.
func (e *Executor) RequestShutdown() {
	e.mu.Lock()
	cancel := e.cancel
	e.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Run executes cfg's startup sequence, then blocks until ctx is canceled,
// RequestShutdown is called, or a spawned child exits on its own — at
// which point it runs cfg's shutdown sequence and returns.
func (e *Executor) Run(ctx context.Context, cfg Config) error {
	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	e.mu.Unlock()
	defer cancel()

	exitCh := make(chan exitEvent, 16)

	e.log.Info("startup")
	var startupErr error
	for _, step := range cfg.Startup {
		if runCtx.Err() != nil {
			break
		}
		if err := e.executeStartupStep(runCtx, step, exitCh); err != nil {
			startupErr = err
			break
		}
	}

	if startupErr != nil {
		e.log.Error("startup failed, killing spawned nodes", zap.Error(startupErr))
		e.killAll()
		return startupErr
	}

	if runCtx.Err() == nil {
		e.log.Info("all nodes running")
	}

	for runCtx.Err() == nil {
		select {
		case ev := <-exitCh:
			if ev.err != nil {
				e.log.Error("node exited unexpectedly", zap.String("name", ev.name), zap.Error(ev.err))
			} else {
				e.log.Error("node exited unexpectedly", zap.String("name", ev.name))
			}
			e.removeProcess(ev.name)
			e.log.Warn("node crashed, initiating shutdown")
			cancel()
		case <-runCtx.Done():
		}
	}

	e.log.Info("shutdown")
	for _, step := range cfg.Shutdown {
		e.executeShutdownStep(step)
	}

	e.forceStopRemaining()
	e.log.Info("shutdown complete")
	return nil
}

func (e *Executor) executeStartupStep(ctx context.Context, step Step, exitCh chan<- exitEvent) error {
	switch {
	case step.Node != nil:
		e.log.Info("starting", zap.String("name", step.Node.Name))
		proc, err := e.spawn(*step.Node, exitCh)
		if err != nil {
			return fmt.Errorf("flow: spawn %s: %w", step.Node.Name, err)
		}
		e.log.Info("started", zap.String("name", step.Node.Name), zap.Int("pid", proc.cmd.Process.Pid))
		return nil

	case step.Wait != nil:
		e.log.Info("waiting", zap.Duration("duration", step.Wait.Duration))
		select {
		case <-time.After(step.Wait.Duration):
		case <-ctx.Done():
		}
		return nil

	case step.Topic != nil:
		e.log.Info("waiting for topics")
		for _, topic := range step.Topic.Topics {
			e.log.Info("waiting", zap.String("topic", topic))
			waitCtx, cancel := context.WithTimeout(ctx, step.Topic.Timeout)
			ok := shm.WatchUntilExists(waitCtx, topic, e.opts.TopicPollEvery)
			cancel()
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("flow: timeout waiting for topic: %s", topic)
			}
			e.log.Info("ready", zap.String("topic", topic))
		}
		return nil

	case step.Group != nil:
		names := make([]string, len(step.Group.Nodes))
		for i, n := range step.Group.Nodes {
			names[i] = n.Name
		}
		e.log.Info("starting group", zap.Strings("nodes", names))
		for _, node := range step.Group.Nodes {
			proc, err := e.spawn(node, exitCh)
			if err != nil {
				return fmt.Errorf("flow: spawn %s: %w", node.Name, err)
			}
			e.log.Info("started", zap.String("name", node.Name), zap.Int("pid", proc.cmd.Process.Pid))
		}
		return nil
	}
	return nil
}

func (e *Executor) executeShutdownStep(step Step) {
	switch {
	case step.Node != nil:
		if proc := e.removeProcess(step.Node.Name); proc != nil {
			e.log.Info("stopping", zap.String("name", proc.name))
			e.stopProcess(proc)
		}

	case step.Wait != nil:
		e.log.Info("waiting", zap.Duration("duration", step.Wait.Duration))
		time.Sleep(step.Wait.Duration)

	case step.Group != nil:
		names := make([]string, len(step.Group.Nodes))
		for i, n := range step.Group.Nodes {
			names[i] = n.Name
		}
		e.log.Info("stopping group", zap.Strings("nodes", names))
		for _, node := range step.Group.Nodes {
			if proc := e.removeProcess(node.Name); proc != nil {
				e.stopProcess(proc)
			}
		}

	case step.Topic != nil:
		// no-op on the way down, matching conduit_flow's shutdown visitor.
	}
}

func (e *Executor) spawn(node NodeConfig, exitCh chan<- exitEvent) (*process, error) {
	cmd := exec.Command(node.Exec, node.Args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Dir = node.WorkingDir

	env := os.Environ()
	for k, v := range node.Env {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	proc := &process{name: node.Name, cmd: cmd, done: make(chan struct{})}

	e.mu.Lock()
	e.processes = append(e.processes, proc)
	e.mu.Unlock()

	go func() {
		err := cmd.Wait()
		close(proc.done)
		select {
		case exitCh <- exitEvent{name: proc.name, err: err}:
		default:
		}
	}()

	return proc, nil
}

func (e *Executor) stopProcess(proc *process) {
	_ = proc.cmd.Process.Signal(syscall.SIGINT)

	select {
	case <-proc.done:
		e.log.Info("exited", zap.String("name", proc.name))
	case <-time.After(e.opts.ShutdownGrace):
		e.log.Warn("did not stop, sending SIGKILL", zap.String("name", proc.name))
		_ = proc.cmd.Process.Kill()
		<-proc.done
	}
}

func (e *Executor) removeProcess(name string) *process {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i, p := range e.processes {
		if p.name == name {
			e.processes = append(e.processes[:i], e.processes[i+1:]...)
			return p
		}
	}
	return nil
}

func (e *Executor) killAll() {
	e.mu.Lock()
	procs := e.processes
	e.processes = nil
	e.mu.Unlock()

	for _, p := range procs {
		_ = p.cmd.Process.Kill()
	}
}

func (e *Executor) forceStopRemaining() {
	e.mu.Lock()
	procs := e.processes
	e.processes = nil
	e.mu.Unlock()

	for _, p := range procs {
		e.log.Warn("force stopping", zap.String("name", p.name))
		e.stopProcess(p)
	}
}
