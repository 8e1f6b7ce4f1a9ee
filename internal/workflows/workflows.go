// Copyright 2025 Tom Barlow
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

// Package workflows provides the built-in IBM i investigation workflows
// and the glue that lets the workflow executor drive the built-in agents.
package workflows

import (
	"embed"
	"fmt"
	"io/fs"
	"sort"
	"sync"

	"github.com/steward-project/steward/pkg/errors"
	"github.com/steward-project/steward/pkg/workflow"
)

// Workflow names for the built-in definitions.
const (
	SystemHealthAuditName        = "system-health-audit"
	PerformanceInvestigationName = "performance-investigation"
)

//go:embed defs/*.yaml
var defsFS embed.FS

var builtIn = sync.OnceValues(loadBuiltIn)

func loadBuiltIn() (map[string]*workflow.Definition, error) {
	entries, err := fs.Glob(defsFS, "defs/*.yaml")
	if err != nil {
		return nil, err
	}

	defs := make(map[string]*workflow.Definition, len(entries))
	for _, path := range entries {
		data, err := defsFS.ReadFile(path)
		if err != nil {
			return nil, err
		}
		def, err := workflow.ParseDefinition(data)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing embedded workflow %s", path)
		}
		if _, exists := defs[def.Name]; exists {
			return nil, fmt.Errorf("duplicate embedded workflow name %q", def.Name)
		}
		defs[def.Name] = def
	}
	return defs, nil
}

// BuiltIn returns the built-in workflow definitions sorted by name.
func BuiltIn() ([]*workflow.Definition, error) {
	defs, err := builtIn()
	if err != nil {
		return nil, err
	}
	list := make([]*workflow.Definition, 0, len(defs))
	for _, def := range defs {
		list = append(list, def)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
	return list, nil
}

// Get returns the built-in workflow with the given name.
func Get(name string) (*workflow.Definition, error) {
	defs, err := builtIn()
	if err != nil {
		return nil, err
	}
	def, ok := defs[name]
	if !ok {
		return nil, &errors.NotFoundError{Resource: "workflow", ID: name}
	}
	return def, nil
}

// Names returns the sorted names of the built-in workflows.
func Names() []string {
	defs, err := builtIn()
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(defs))
	for name := range defs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
