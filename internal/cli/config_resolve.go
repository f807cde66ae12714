package cli

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/agentpipeline/orchestrator/internal/config"
)

// resolveConfigPath returns flagConfig directly if set, otherwise walks up
// from the current directory looking for orchestrator.toml.
func resolveConfigPath() (string, error) {
	if flagConfig != "" {
		return flagConfig, nil
	}
	found, err := config.FindConfigFile(".")
	if err != nil {
		return "", errors.Wrap(err, "finding config file")
	}
	if found == "" {
		return "", fmt.Errorf("no %s found in cwd or any parent directory (pass --config)", config.ConfigFileName)
	}
	return found, nil
}

// loadConfig resolves a config path and loads it, returning the path alongside
// the parsed Config for commands that want to print it back.
func loadConfig() (string, *config.Config, error) {
	path, err := resolveConfigPath()
	if err != nil {
		return "", nil, err
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return path, nil, err
	}
	return path, cfg, nil
}
