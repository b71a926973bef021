package flow

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrMissingStartup is returned when a flow document has no "startup" key.
var ErrMissingStartup = errors.New("flow: document has no 'startup' section")

var durationPattern = regexp.MustCompile(`^(\d+)\s*(ms|s|m)$`)

func parseDuration(s string) (time.Duration, error) {
	m := durationPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, fmt.Errorf("flow: invalid duration %q", s)
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("flow: invalid duration %q: %w", s, err)
	}
	switch m[2] {
	case "ms":
		return time.Duration(n) * time.Millisecond, nil
	case "s":
		return time.Duration(n) * time.Second, nil
	case "m":
		return time.Duration(n) * time.Minute, nil
	}
	return 0, fmt.Errorf("flow: unknown duration unit in %q", s)
}

func mapLookup(node *yaml.Node, key string) (*yaml.Node, bool) {
	if node.Kind != yaml.MappingNode {
		return nil, false
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1], true
		}
	}
	return nil, false
}

func parseNode(node *yaml.Node) (NodeConfig, error) {
	var cfg NodeConfig

	switch node.Kind {
	case yaml.ScalarNode:
		cfg.Name = node.Value
		cfg.Exec = node.Value
		return cfg, nil

	case yaml.MappingNode:
		nameNode, hasName := mapLookup(node, "name")
		execNode, hasExec := mapLookup(node, "exec")
		if !hasName && !hasExec {
			return cfg, errors.New("flow: node must have 'name' or 'exec'")
		}
		if hasName {
			cfg.Name = nameNode.Value
		}
		if hasExec {
			cfg.Exec = execNode.Value
		} else {
			cfg.Exec = cfg.Name
		}
		if cfg.Name == "" {
			cfg.Name = cfg.Exec
		}
		if argsNode, ok := mapLookup(node, "args"); ok {
			if err := argsNode.Decode(&cfg.Args); err != nil {
				return cfg, fmt.Errorf("flow: decode args: %w", err)
			}
		}
		if envNode, ok := mapLookup(node, "env"); ok {
			if err := envNode.Decode(&cfg.Env); err != nil {
				return cfg, fmt.Errorf("flow: decode env: %w", err)
			}
		}
		if wdNode, ok := mapLookup(node, "working_dir"); ok {
			cfg.WorkingDir = wdNode.Value
		}
		return cfg, nil

	default:
		return cfg, errors.New("flow: invalid node format")
	}
}

func parseWaitValue(value string) (Step, error) {
	if rest, ok := strings.CutPrefix(value, "topic:"); ok {
		return Step{Topic: &WaitTopics{Topics: []string{rest}, Timeout: DefaultWaitTopicsTimeout}}, nil
	}
	d, err := parseDuration(value)
	if err != nil {
		return Step{}, err
	}
	return Step{Wait: &WaitDuration{Duration: d}}, nil
}

func parseStep(node *yaml.Node) (Step, error) {
	if waitNode, ok := mapLookup(node, "wait"); ok {
		switch waitNode.Kind {
		case yaml.ScalarNode:
			return parseWaitValue(waitNode.Value)

		case yaml.SequenceNode:
			wt := WaitTopics{Timeout: DefaultWaitTopicsTimeout}
			for _, item := range waitNode.Content {
				rest, ok := strings.CutPrefix(item.Value, "topic:")
				if !ok {
					return Step{}, errors.New("flow: wait list must contain topic: entries")
				}
				wt.Topics = append(wt.Topics, rest)
			}
			return Step{Topic: &wt}, nil

		default:
			return Step{}, errors.New("flow: invalid 'wait' step")
		}
	}

	if groupNode, ok := mapLookup(node, "group"); ok {
		if groupNode.Kind != yaml.SequenceNode {
			return Step{}, errors.New("flow: 'group' must be a sequence of nodes")
		}
		group := Group{}
		for _, item := range groupNode.Content {
			n, err := parseNode(item)
			if err != nil {
				return Step{}, err
			}
			group.Nodes = append(group.Nodes, n)
		}
		return Step{Group: &group}, nil
	}

	n, err := parseNode(node)
	if err != nil {
		return Step{}, err
	}
	return Step{Node: &n}, nil
}

func parseSteps(node *yaml.Node) ([]Step, error) {
	if node == nil || node.Kind != yaml.SequenceNode {
		return nil, nil
	}
	steps := make([]Step, 0, len(node.Content))
	for _, item := range node.Content {
		step, err := parseStep(item)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// ParseString parses a flow document from a YAML string.
func ParseString(doc string) (Config, error) {
	var raw struct {
		Startup  yaml.Node `yaml:"startup"`
		Shutdown yaml.Node `yaml:"shutdown"`
	}
	if err := yaml.Unmarshal([]byte(doc), &raw); err != nil {
		return Config{}, fmt.Errorf("flow: %w", err)
	}

	if raw.Startup.Kind == 0 {
		return Config{}, ErrMissingStartup
	}

	startup, err := parseSteps(&raw.Startup)
	if err != nil {
		return Config{}, err
	}

	var shutdown []Step
	if raw.Shutdown.Kind != 0 {
		shutdown, err = parseSteps(&raw.Shutdown)
		if err != nil {
			return Config{}, err
		}
	} else {
		shutdown = reverseStartup(startup)
	}

	return Config{Startup: startup, Shutdown: shutdown}, nil
}

// ParseFile parses a flow document from a .flow.yaml file on disk.
func ParseFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("flow: read %s: %w", path, err)
	}
	return ParseString(string(data))
}
