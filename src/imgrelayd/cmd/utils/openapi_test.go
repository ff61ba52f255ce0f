package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestGenerateOpenAPISpecs(t *testing.T) {
	out, err := GenerateOpenAPISpecs()
	require.NoError(t, err)

	var spec map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &spec))

	paths, ok := spec["paths"].(map[string]any)
	require.True(t, ok)
	for _, p := range []string{"/artifact/{id}", "/artifacts", "/health", "/v1/tools/process_image", "/v1/tools"} {
		assert.Contains(t, paths, p)
	}

	tags, ok := spec["tags"].([]any)
	require.True(t, ok)
	assert.Len(t, tags, 2)

	schemas := spec["components"].(map[string]any)["schemas"].(map[string]any)
	assert.Contains(t, schemas, "Error")
	assert.Contains(t, schemas, "ProcessImageRequest")
}
