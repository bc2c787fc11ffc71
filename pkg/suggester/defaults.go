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
	"fmt"

	"github.com/expr-lang/expr"
)

// resolveSchemaDefaults rewrites any property in schema["properties"]
// that carries a "default_expr" key (an expr-lang expression, not part
// of JSON Schema proper) into a concrete "default" value, evaluated
// against intent — e.g. `default_expr: "intent"` to pre-fill a task's
// free-text argument with the triggering intent, or a literal
// expression for a constant computed default. Malformed schemas are
// left untouched; this never fails Suggest.
func resolveSchemaDefaults(schema map[string]any, intent string) map[string]any {
	if schema == nil {
		return nil
	}
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return schema
	}

	env := map[string]any{"intent": intent}
	for name, raw := range props {
		prop, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		defaultExpr, ok := prop["default_expr"].(string)
		if !ok || defaultExpr == "" {
			continue
		}

		value, err := expr.Eval(defaultExpr, env)
		if err != nil {
			value = fmt.Sprintf("<invalid default_expr: %v>", err)
		}
		prop["default"] = value
		delete(prop, "default_expr")
		props[name] = prop
	}
	schema["properties"] = props
	return schema
}
