package expression

// BuildContext assembles the evaluation environment for condition
// expressions from workflow inputs and completed step outputs.
//
// Input values are hoisted to the top level as well, so short forms like
// `system_name != ""` work alongside `inputs.system_name != ""`.
func BuildContext(inputs map[string]interface{}, steps map[string]map[string]interface{}, env map[string]string) map[string]interface{} {
	ctx := make(map[string]interface{}, len(inputs)+3)

	for k, v := range inputs {
		ctx[k] = v
	}

	ctx["inputs"] = inputs

	stepsCtx := make(map[string]interface{}, len(steps))
	for id, output := range steps {
		stepsCtx[id] = output
	}
	ctx["steps"] = stepsCtx

	envCtx := make(map[string]interface{}, len(env))
	for k, v := range env {
		envCtx[k] = v
	}
	ctx["env"] = envCtx

	return ctx
}
