package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/randomizedcoder/tga-worker/internal/tool"
)

// ToolConfigFile is the layout of the -tool-config YAML file. Options under
// "defaults" apply to every tool; options under "tools.<name>" apply to that
// tool only and win over the defaults. Tool names match case-insensitively.
//
//	defaults:
//	  cliArg: -Dminimize=false
//	tools:
//	  kex:
//	    mode: symbolic
type ToolConfigFile struct {
	Defaults map[string]string            `yaml:"defaults"`
	Tools    map[string]map[string]string `yaml:"tools"`
}

// LoadToolConfig reads path and returns the merged options for toolName.
// An empty path yields empty options.
func LoadToolConfig(path, toolName string) (tool.Options, error) {
	opts := tool.Options{}
	if path == "" {
		return opts, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool config: %w", err)
	}

	var file ToolConfigFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse tool config %s: %w", path, err)
	}

	for k, v := range file.Defaults {
		opts[k] = v
	}
	for name, toolOpts := range file.Tools {
		if !strings.EqualFold(name, toolName) {
			continue
		}
		for k, v := range toolOpts {
			opts[k] = v
		}
	}

	return opts, nil
}
