package config

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// ReadConfigFiles returns the contents of path. A directory is walked and
// every .yml or .yaml file below it is read in lexical path order, a file
// named directly is read whatever its extension.
func ReadConfigFiles(path string) ([]string, error) {
	files, err := configFiles(path)
	if err != nil {
		return nil, err
	}

	if len(files) == 0 {
		return nil, fmt.Errorf("no config files found at %s", path)
	}

	read := make([]string, 0, len(files))
	for _, file := range files {
		b, err := os.ReadFile(file)
		if err != nil {
			return nil, err
		}
		read = append(read, string(b))
	}

	return read, nil
}

func configFiles(path string) ([]string, error) {
	i, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if !i.IsDir() {
		ap, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return []string{ap}, nil
	}

	// WalkDir does not descend into a symlinked root
	root, err := filepath.EvalSymlinks(path)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("problem while reading %s: %w", p, err)
		}
		if d.IsDir() || !isYAML(p) {
			return nil
		}

		ap, err := filepath.Abs(p)
		if err != nil {
			return err
		}
		files = append(files, ap)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return files, nil
}

func isYAML(p string) bool {
	switch filepath.Ext(p) {
	case ".yml", ".yaml":
		return true
	}
	return false
}
