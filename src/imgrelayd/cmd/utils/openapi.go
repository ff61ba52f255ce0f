package utils

import (
	_ "embed"
	"fmt"
	"log/slog"
	"slices"

	"github.com/q-controller/imgrelay/src/pkg/server"
	"github.com/q-controller/imgrelay/src/pkg/tool"
	"gopkg.in/yaml.v3"
)

const (
	ArtifactsTag = "ArtifactService"
	ToolsTag     = "ToolService"
)

//go:embed docs/openapi.yaml
var openAPISpecs string

// GenerateOpenAPISpecs merges the path fragments of every HTTP package
// into the embedded base document.
func GenerateOpenAPISpecs() (string, error) {
	var spec map[string]any
	if err := yaml.Unmarshal([]byte(openAPISpecs), &spec); err != nil {
		return "", fmt.Errorf("failed to parse OpenAPI spec: %w", err)
	}

	paths, ok := spec["paths"].(map[string]any)
	if !ok {
		paths = map[string]any{}
		spec["paths"] = paths
	}

	fragments := []struct {
		tag  string
		yaml string
	}{
		{tag: ArtifactsTag, yaml: server.GetOpenAPISpec(ArtifactsTag)},
		{tag: ToolsTag, yaml: tool.GetOpenAPISpec(tool.PathPrefix, ToolsTag)},
	}
	for _, fragment := range fragments {
		var fragmentPaths map[string]any
		if err := yaml.Unmarshal([]byte(fragment.yaml), &fragmentPaths); err != nil {
			slog.Warn("Failed to unmarshal OpenAPI fragment", "tag", fragment.tag, "error", err)
			continue
		}
		for k, v := range fragmentPaths {
			paths[k] = v
		}
		addTag(spec, fragment.tag)
	}

	bytes, bytesErr := yaml.Marshal(spec)
	if bytesErr != nil {
		return "", fmt.Errorf("failed to marshal OpenAPI spec: %w", bytesErr)
	}
	return string(bytes), nil
}

func addTag(spec map[string]any, tag string) {
	existing, _ := spec["tags"].([]any)
	if slices.ContainsFunc(existing, func(t any) bool {
		if m, ok := t.(map[string]any); ok {
			return m["name"] == tag
		}
		return t == tag
	}) {
		return
	}
	spec["tags"] = append(existing, map[string]any{"name": tag})
}
