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

// Package shared holds flag state, exit handling, terminal styles, and
// the runtime wiring used by every steward subcommand.
package shared

// Global flag values, bound by the root command.
var (
	quietFlag  bool
	jsonFlag   bool
	debugFlag  bool
	configFlag string

	// Build-time version information, injected via ldflags.
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// RegisterFlagPointers returns pointers to the global flag variables for
// the root command to bind.
func RegisterFlagPointers() (quiet *bool, json *bool, debug *bool, config *string) {
	return &quietFlag, &jsonFlag, &debugFlag, &configFlag
}

// SetVersion sets the build-time version information (called from main).
func SetVersion(v, c, b string) {
	version = v
	commit = c
	buildDate = b
}

// GetVersion returns the build-time version information.
func GetVersion() (string, string, string) {
	return version, commit, buildDate
}

// GetQuiet returns the quiet flag value.
func GetQuiet() bool {
	return quietFlag
}

// GetJSON returns the JSON output flag value.
func GetJSON() bool {
	return jsonFlag
}

// GetDebug returns the debug logging flag value.
func GetDebug() bool {
	return debugFlag
}

// GetConfigPath returns the config file path flag value.
func GetConfigPath() string {
	return configFlag
}
