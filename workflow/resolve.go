package workflow

// ResolveInput computes the value a step receives. The order is fixed:
//
//  1. valid InputMap entries (non-empty name and source) build an object of
//     parameter name to source output; a single entry is passed bare;
//  2. no predecessors: the initial input stored under StartKey;
//  3. one predecessor: that predecessor's output;
//  4. several predecessors: an object keyed by predecessor id.
func ResolveInput(step Step, outputs map[string]any, predecessors []string) any {
	named := make(map[string]any, len(step.InputMap))
	var only any
	for param, src := range step.InputMap {
		if param == "" || src == "" {
			continue
		}
		named[param] = outputs[src]
		only = outputs[src]
	}
	switch len(named) {
	case 0:
	case 1:
		return only
	default:
		return named
	}

	switch len(predecessors) {
	case 0:
		return outputs[StartKey]
	case 1:
		return outputs[predecessors[0]]
	default:
		byID := make(map[string]any, len(predecessors))
		for _, p := range predecessors {
			byID[p] = outputs[p]
		}
		return byID
	}
}
