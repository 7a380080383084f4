//
// Copyright (c) 2021, 2026 Aquila Data, Inc. All rights reserved.
//
// Licensed under the Universal Permissive License v 1.0 as shown at
//  https://opensource.org/licenses/UPL
//

package sdkutil

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path"
	"strings"
	"sync"
)

// Properties is used to read properties files. The properties in the file
// must be written in the form:
//
//	name=value
//
// This is used for credentials files that hold client ids and secrets.
type Properties struct {
	file  string
	props map[string]string
	err   error
	mu    sync.RWMutex
}

// NewProperties creates a Properties with the specified properties file.
func NewProperties(file string) (p *Properties, err error) {
	file, err = ExpandPath(file)
	if err != nil {
		return
	}

	if err = checkFile(file); err != nil {
		return
	}

	return &Properties{
		file:  file,
		props: make(map[string]string),
	}, nil
}

// Load reads properties from the file. If any errors occur during read,
// the error is reported in the Err() method.
//
// Empty lines and lines that start with the '#' mark are ignored.
func (p *Properties) Load() {
	p.err = nil
	p.mu.Lock()
	defer p.mu.Unlock()

	f, err := os.Open(p.file)
	if err != nil {
		p.err = err
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		idx := strings.Index(line, "=")
		if idx <= 0 {
			continue
		}

		if key := strings.TrimSpace(line[:idx]); len(key) > 0 {
			value := strings.TrimSpace(line[idx+1:])
			p.props[key] = value
		}
	}

	if err := scanner.Err(); err != nil {
		p.err = err
	}
}

// Err reports any error that occurred during Load().
func (p *Properties) Err() error {
	return p.err
}

// Get reads the property associated with key.
func (p *Properties) Get(key string) (string, error) {
	p.mu.RLock()
	v, ok := p.props[key]
	p.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("cannot find property %q from file %s", key, p.file)
	}
	return v, nil
}

func checkFile(file string) error {
	if file == "" {
		return errors.New("file path must be non-empty")
	}

	fileInfo, err := os.Stat(file)
	if err != nil {
		return err
	}

	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf("%s is not a regular file", file)
	}

	return nil
}

// ExpandPath cleans and expands the path if it contains a tilde, returns the
// expanded path or the input path as is if no expansion was performed.
func ExpandPath(filePath string) (string, error) {
	cleanedPath := path.Clean(filePath)
	expandedPath := cleanedPath
	if strings.HasPrefix(cleanedPath, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		expandedPath = path.Join(home, cleanedPath[1:])
	}
	return expandedPath, nil
}
