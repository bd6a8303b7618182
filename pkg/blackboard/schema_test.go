package blackboard

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoerceManifest(t *testing.T) {
	t.Run("valid payload normalizes to declared keys", func(t *testing.T) {
		got, err := coerceRecord("manifest", map[string]any{
			"file_path":   "nginx/deployment.yaml",
			"namespace":   "web",
			"description": "nginx deployment",
		})
		require.NoError(t, err)

		assert.Equal(t, "nginx/deployment.yaml", got["file_path"])
		assert.Equal(t, "web", got["namespace"])
		assert.Contains(t, got, "last_working_index_version")
	})

	t.Run("missing required key", func(t *testing.T) {
		_, err := coerceRecord("manifest", map[string]any{
			"file_path":   "nginx/deployment.yaml",
			"description": "nginx deployment",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), `field "namespace" is required`)
	})

	t.Run("unknown keys are dropped", func(t *testing.T) {
		got, err := coerceRecord("manifest", map[string]any{
			"file_path":   "nginx/deployment.yaml",
			"namespace":   "web",
			"description": "nginx deployment",
			"owner":       "someone",
		})
		require.NoError(t, err)
		assert.NotContains(t, got, "owner")
	})
}

func TestCoerceIssue(t *testing.T) {
	payload := func() map[string]any {
		return map[string]any{
			"issue":                       "crashloop",
			"severity":                    "HIGH",
			"problem_description":         "pod restarts",
			"possible_manifest_file_path": "nginx/deployment.yaml",
			"observations":                "exit code 1",
		}
	}

	t.Run("stamps created_at when absent", func(t *testing.T) {
		got, err := coerceRecord("issue", payload())
		require.NoError(t, err)

		created, ok := got["created_at"].(string)
		require.True(t, ok)
		ts, err := time.Parse(time.RFC3339, created)
		require.NoError(t, err)
		assert.WithinDuration(t, time.Now().UTC(), ts, time.Minute)
	})

	t.Run("keeps provided created_at", func(t *testing.T) {
		p := payload()
		p["created_at"] = "2026-08-20T10:00:00Z"
		got, err := coerceRecord("issue", p)
		require.NoError(t, err)
		assert.Equal(t, "2026-08-20T10:00:00Z", got["created_at"])
	})

	t.Run("invalid severity", func(t *testing.T) {
		p := payload()
		p["severity"] = "CRITICAL"
		_, err := coerceRecord("issue", p)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid severity")
	})
}

func TestCoerceRecordType(t *testing.T) {
	t.Run("invalid agent role", func(t *testing.T) {
		_, err := coerceRecord("record", map[string]any{
			"agent":            "project_manager",
			"task_name":        "plan",
			"task_description": "make a plan",
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "unknown agent role")
	})

	t.Run("mismatched field type", func(t *testing.T) {
		_, err := coerceRecord("image", map[string]any{
			"tag":                   "nginx:1.27",
			"repository":            "docker.io/library/nginx",
			"image_name":            "nginx",
			"version":               "1.27",
			"manifest_digest":       "sha256:aaa",
			"pullable_digest":       "sha256:bbb",
			"ports":                 "eighty",
			"volumes":               []string{},
			"environment_variables": []string{},
			"description":           "nginx",
		})
		assert.Error(t, err, "string payload must not coerce into a port list")
	})
}

func TestCoerceUnknownTagPassesThrough(t *testing.T) {
	payload := map[string]any{"anything": 1}
	got, err := coerceRecord("mystery", payload)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestListElemTag(t *testing.T) {
	for path, want := range map[string]string{
		"manifests":               "manifest",
		"manifests[0]":            "manifest",
		"issues":                  "issue",
		"general_info.namespaces": "",
		"phase":                   "",
	} {
		segs, err := parsePath(path)
		require.NoError(t, err)
		assert.Equal(t, want, listElemTag(segs), "path %q", path)
	}
}

// TestSchemaRegistryComplete guards the registry against a field being
// declared structured without a schema to coerce it.
func TestSchemaRegistryComplete(t *testing.T) {
	for field, desc := range rootFields {
		if desc.elem == "" {
			continue
		}
		_, ok := recordSchemas[desc.elem]
		assert.True(t, ok, "field %q names schema %q which is not registered", field, desc.elem)
	}
}
