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

package providers

import (
	"github.com/steward-project/steward/pkg/llm"
)

// init registers all provider factories. Activation happens later, once
// credentials are resolved.
func init() {
	must(llm.RegisterFactory("anthropic", NewAnthropicWithCredentials))
	must(llm.RegisterFactory("openai", NewOpenAIWithCredentials))
	must(llm.RegisterFactory("ollama", NewOllamaWithCredentials))
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}
