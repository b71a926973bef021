// Package flow launches a set of cooperating processes from a declarative
// YAML description: an ordered startup sequence, an optional shutdown
// sequence (default: the reverse of startup, with wait steps dropped), and
// a handful of step kinds for sequencing and synchronization.
package flow

import "time"

// NodeConfig describes one child process to launch.
type NodeConfig struct {
	Name       string            `yaml:"name"`
	Exec       string            `yaml:"exec"`
	Args       []string          `yaml:"args"`
	Env        map[string]string `yaml:"env"`
	WorkingDir string            `yaml:"working_dir"`
}

// WaitDuration pauses the sequence for a fixed duration.
type WaitDuration struct {
	Duration time.Duration
}

// WaitTopics blocks until the named topics' shared-memory regions exist,
// or Timeout elapses.
type WaitTopics struct {
	Topics  []string
	Timeout time.Duration
}

// DefaultWaitTopicsTimeout matches the 30s default in conduit_flow.
const DefaultWaitTopicsTimeout = 30 * time.Second

// Group launches several nodes concurrently as a single step.
type Group struct {
	Nodes []NodeConfig
}

// Step is one entry in a startup or shutdown sequence. Exactly one of the
// fields is meaningful; ParseString/ParseFile never populate more than one.
type Step struct {
	Node  *NodeConfig
	Wait  *WaitDuration
	Topic *WaitTopics
	Group *Group
}

// Config is a complete flow: an ordered startup sequence and an ordered
// shutdown sequence.
type Config struct {
	Startup  []Step
	Shutdown []Step
}

// reverseStartup mirrors conduit_flow's reverse_steps: shutdown defaults to
// startup reversed, with wait steps dropped (there is nothing useful to
// "wait" for on the way down).
func reverseStartup(startup []Step) []Step {
	reversed := make([]Step, 0, len(startup))
	for i := len(startup) - 1; i >= 0; i-- {
		step := startup[i]
		if step.Wait != nil || step.Topic != nil {
			continue
		}
		reversed = append(reversed, step)
	}
	return reversed
}
