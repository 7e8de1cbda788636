package provider

// DefaultMachineConfig returns the built-in default create-machine config
// per spec §6: shared CPU class, 512MB memory, auto-destroy, a single TCP
// service mapping internal 8080 to external 80 over HTTP, region iad.
//
// Image is intentionally left to be set by the per-call override or by
// deployment configuration — the spec notes "image set by deployment".
func DefaultMachineConfig() map[string]interface{} {
	return map[string]interface{}{
		"config": map[string]interface{}{
			"auto_destroy": true,
			"restart": map[string]interface{}{
				"policy": "no",
			},
			"guest": map[string]interface{}{
				"cpu_kind":  "shared",
				"cpus":      1,
				"memory_mb": 512,
			},
			"services": []interface{}{
				map[string]interface{}{
					"protocol":      "tcp",
					"internal_port": 8080,
					"ports": []interface{}{
						map[string]interface{}{
							"port":     80,
							"handlers": []interface{}{"http"},
						},
					},
				},
			},
		},
		"region": "iad",
	}
}

// DeepMerge implements the merge semantics from spec §9: the result has the
// union of keys from base and override; on key collision, if both values
// are JSON objects they are merged recursively, otherwise override wins.
// Arrays and scalars are replaced wholesale, never concatenated.
func DeepMerge(base, override map[string]interface{}) map[string]interface{} {
	result := make(map[string]interface{}, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}

	for k, overrideVal := range override {
		baseVal, exists := result[k]
		if !exists {
			result[k] = overrideVal
			continue
		}

		baseMap, baseIsMap := baseVal.(map[string]interface{})
		overrideMap, overrideIsMap := overrideVal.(map[string]interface{})
		if baseIsMap && overrideIsMap {
			result[k] = DeepMerge(baseMap, overrideMap)
		} else {
			result[k] = overrideVal
		}
	}

	return result
}

// WorkspaceOverride builds the minimal per-call override the spec requires:
// environment variables USERNAME and REPO_NAME.
func WorkspaceOverride(user, repo string) map[string]interface{} {
	return map[string]interface{}{
		"config": map[string]interface{}{
			"env": map[string]interface{}{
				"USERNAME":  user,
				"REPO_NAME": repo,
			},
		},
	}
}
