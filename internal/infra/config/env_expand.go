package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// expandConfigEnv substitutes ${NAME} and ${NAME:-fallback} references in every
// string scalar of a YAML document. Unset names without a fallback expand to
// the empty string and are reported back sorted.
func expandConfigEnv(raw []byte) (string, []string, error) {
	var root yaml.Node
	if err := yaml.Unmarshal(raw, &root); err != nil {
		return "", nil, fmt.Errorf("parse config: %w", err)
	}

	missing := make(map[string]struct{})
	walkScalars(&root, func(node *yaml.Node) {
		rewriteScalar(node, missing)
	})

	out, err := yaml.Marshal(&root)
	if err != nil {
		return "", nil, fmt.Errorf("encode expanded config: %w", err)
	}

	names := make([]string, 0, len(missing))
	for name := range missing {
		names = append(names, name)
	}
	sort.Strings(names)
	if len(names) == 0 {
		names = nil
	}
	return string(out), names, nil
}

func walkScalars(node *yaml.Node, visit func(*yaml.Node)) {
	switch node.Kind {
	case yaml.ScalarNode:
		visit(node)
	case yaml.MappingNode:
		// Keys are never expanded.
		for i := 1; i < len(node.Content); i += 2 {
			walkScalars(node.Content[i], visit)
		}
	case yaml.AliasNode:
		if node.Alias != nil {
			walkScalars(node.Alias, visit)
		}
	default:
		for _, child := range node.Content {
			walkScalars(child, visit)
		}
	}
}

func rewriteScalar(node *yaml.Node, missing map[string]struct{}) {
	if node.Tag != "" && node.Tag != "!!str" {
		return
	}
	if !strings.Contains(node.Value, "$") {
		return
	}
	expanded := os.Expand(node.Value, func(ref string) string {
		name, fallback, hasFallback := strings.Cut(ref, ":-")
		if value, ok := os.LookupEnv(name); ok && value != "" {
			return value
		}
		if hasFallback {
			return fallback
		}
		missing[name] = struct{}{}
		return ""
	})
	if expanded == node.Value {
		return
	}
	node.Value = expanded
	// Quoted scalars stay strings; plain ones are re-typed so
	// "heartbeatIntervalSeconds: ${HB}" still decodes as an integer.
	if node.Style != 0 {
		node.Tag = "!!str"
		return
	}
	node.Tag = resolvePlainTag(expanded)
}

func resolvePlainTag(value string) string {
	if strings.TrimSpace(value) == "" {
		return "!!str"
	}
	var probe yaml.Node
	if err := yaml.Unmarshal([]byte(value), &probe); err != nil || len(probe.Content) != 1 {
		return "!!str"
	}
	scalar := probe.Content[0]
	if scalar.Kind != yaml.ScalarNode {
		return "!!str"
	}
	switch tag := scalar.ShortTag(); tag {
	case "!!int", "!!float", "!!bool", "!!null":
		return tag
	default:
		return "!!str"
	}
}
