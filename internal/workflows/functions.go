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

package workflows

import (
	"context"
	"fmt"

	"github.com/steward-project/steward/pkg/workflow"
)

// Truncation limits for synthesis prompts. Collection steps can return
// large reports; the analysis prompt only needs their leading sections.
const (
	metricsPromptLimit  = 1000
	servicesPromptLimit = 500
)

// Functions returns a registry holding the synthesis functions the
// built-in workflows reference.
func Functions() *workflow.FunctionRegistry {
	registry := workflow.NewFunctionRegistry()
	if err := registry.Register("prepare_deep_analysis", prepareDeepAnalysis); err != nil {
		panic(err)
	}
	return registry
}

// prepareDeepAnalysis assembles the deep-analysis prompt for the
// performance investigation from the fan-out collection steps.
func prepareDeepAnalysis(ctx context.Context, rc *workflow.RunContext) (workflow.StepOutput, error) {
	metrics := rc.StepTextTruncated("initial_metrics", metricsPromptLimit)
	services := rc.StepTextTruncated("monitoring_services", servicesPromptLimit)

	prompt := fmt.Sprintf(`Perform a deep performance analysis using all available data.

## INITIAL METRICS GATHERED
%s

## AVAILABLE MONITORING SERVICES
%s

## ANALYSIS TASKS

1. Pattern analysis: CPU usage versus job activity, memory pool
   utilization versus thread counts, I/O patterns and potential
   bottlenecks, temporal trends in the metrics.
2. Identify specific issues: resource contention, configuration
   problems, capacity limitations, workload imbalances. Consider
   multiple hypotheses for root causes before settling on one.
3. Assess severity and impact: critical issues requiring immediate
   action, degradation affecting users, efficiency improvements,
   preventive measures.

Show the reasoning behind each diagnosis.`, metrics, services)

	return workflow.StepOutput{
		Text: prompt,
		Data: map[string]interface{}{
			"metrics_chars":  len(metrics),
			"services_chars": len(services),
		},
	}, nil
}
