// Copyright 2025 The DAGForge Authors
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

package suggester

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveSchemaDefaultsEvaluatesExpr(t *testing.T) {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":         "string",
				"default_expr": "intent",
			},
			"limit": map[string]any{
				"type": "number",
			},
		},
	}

	got := resolveSchemaDefaults(schema, "summarize the ticket")

	props := got["properties"].(map[string]any)
	query := props["query"].(map[string]any)
	assert.Equal(t, "summarize the ticket", query["default"])
	_, hasExpr := query["default_expr"]
	assert.False(t, hasExpr, "default_expr is consumed, not left in the resolved schema")

	limit := props["limit"].(map[string]any)
	_, hasDefault := limit["default"]
	assert.False(t, hasDefault, "a property without default_expr is untouched")
}

func TestResolveSchemaDefaultsHandlesNilAndMalformed(t *testing.T) {
	assert.Nil(t, resolveSchemaDefaults(nil, "x"))

	schema := map[string]any{"type": "string"}
	got := resolveSchemaDefaults(schema, "x")
	assert.Equal(t, schema, got, "a schema without a properties map is returned unchanged")
}

func TestResolveSchemaDefaultsReportsInvalidExpr(t *testing.T) {
	schema := map[string]any{
		"properties": map[string]any{
			"bad": map[string]any{"default_expr": "not.a.valid("},
		},
	}

	got := resolveSchemaDefaults(schema, "x")
	prop := got["properties"].(map[string]any)["bad"].(map[string]any)
	assert.Contains(t, prop["default"], "invalid default_expr")
}
