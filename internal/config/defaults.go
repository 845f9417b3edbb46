package config

import (
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
)

// DefaultsPath is where a repository can keep default session knobs so a
// workflow doesn't have to repeat them.
const DefaultsPath = ".github/action-upterm.yml"

// LoadDefaults reads a YAML defaults file. A missing file is not an error:
// it returns a zero Raw, same as an empty or all-comment file.
func LoadDefaults(path string) (Raw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Raw{}, nil
		}
		return Raw{}, err
	}

	var raw Raw
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return Raw{}, err
	}
	return raw, nil
}
