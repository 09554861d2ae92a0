// Copyright 2026 The go-micronir Contributors.
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package calibration

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// file is the on-disk form of a Set.
type file struct {
	Saved     time.Time `yaml:"saved"`
	Dark      []uint16  `yaml:"dark,flow,omitempty"`
	Reference []uint16  `yaml:"reference,flow,omitempty"`
}

// Save writes the captures to path as YAML, creating parent directories.
func (s *Set) Save(path string) error {
	s.mu.RLock()
	f := file{
		Saved:     time.Now().UTC(),
		Dark:      s.dark,
		Reference: s.reference,
	}
	data, err := yaml.Marshal(&f)
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal calibration: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create calibration directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("write calibration: %w", err)
	}
	return nil
}

// Load reads a set saved by Save. A missing file yields an empty set. Each
// stored capture is validated as if it had just been taken.
func Load(path string) (*Set, error) {
	s := NewSet()
	data, err := os.ReadFile(path) //nolint:gosec // path is operator supplied
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calibration: %w", err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse calibration %s: %w", path, err)
	}
	if f.Dark != nil {
		if err := s.SetDark(f.Dark); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	if f.Reference != nil {
		if err := s.SetReference(f.Reference); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	}
	return s, nil
}
