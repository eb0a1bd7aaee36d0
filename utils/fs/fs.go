/*
 * Copyright 2023 The RuleGo Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package fs finds and reads application definition files.
package fs

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"
)

// DefinitionPattern 默认定义文件匹配规则
const DefinitionPattern = "*.json"

// Pattern turns a folder into a definition file pattern. A path that already
// ends with a file pattern is returned unchanged.
func Pattern(path string) string {
	if strings.ContainsAny(filepath.Base(path), "*?[") {
		return path
	}
	if path == "" {
		path = "."
	}
	return filepath.Join(path, DefinitionPattern)
}

// ReadFile reads a definition file. Empty files are an error.
func ReadFile(path string) ([]byte, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	if len(strings.TrimSpace(string(buf))) == 0 {
		return nil, errors.Errorf("read %s: empty file", path)
	}
	return buf, nil
}

// Find walks the directory of pattern and returns the files whose name matches
// it, in lexical order. Directories and files matching excluded are skipped.
func Find(pattern string, excluded ...string) ([]string, error) {
	dir, name := filepath.Split(pattern)
	if dir == "" {
		dir = "."
	}
	root := filepath.Clean(dir)
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if matchAny(d.Name(), excluded) && path != root {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if ok, err := filepath.Match(name, d.Name()); err != nil {
			return err
		} else if ok {
			paths = append(paths, path)
		}
		return nil
	})
	return paths, err
}

func matchAny(name string, patterns []string) bool {
	for _, p := range patterns {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}
