package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvStatePath overrides the location of the state file.
const EnvStatePath = "EPIDATA_STATE"

// State is what the CLI remembers between runs.
type State struct {
	CurrentContext string `yaml:"current-context"`
}

// StatePath returns $EPIDATA_STATE or ~/.epidata/state.yaml.
func StatePath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(EnvStatePath)); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, DefaultConfigDir, "state.yaml"), nil
}

// LoadState reads the state file. A missing file is an empty state.
func LoadState() (*State, error) {
	path, err := StatePath()
	if err != nil {
		return &State{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &State{}, nil
		}
		return &State{}, err
	}
	var state State
	if err := yaml.Unmarshal(data, &state); err != nil {
		return &State{}, fmt.Errorf("parsing state file %s: %w", path, err)
	}
	return &state, nil
}

// SaveState writes the state file, creating its directory.
func SaveState(state *State) error {
	path, err := StatePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}

	data, err := yaml.Marshal(state)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

// UseContext makes id the current context after checking it exists in cc.
func (s *State) UseContext(cc *Config, id string) error {
	if _, ok := cc.Contexts[id]; !ok {
		return fmt.Errorf("%w: %s", ErrContextNotFound, id)
	}
	s.CurrentContext = id
	return nil
}
