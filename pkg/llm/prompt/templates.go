/*
 * Copyright (c) 2025, bin2nlp authors. All rights reserved.
 * See LICENSE for license information.
 */

package prompt

import (
	"strings"
	"text/template"

	"github.com/Onegaishimas/bin2nlp-sub003/pkg/errors"
	"github.com/Onegaishimas/bin2nlp-sub003/pkg/model"
)

type Operation string

const (
	OpTranslateFunction Operation = "translate_function"
	OpExplainImports    Operation = "explain_imports"
	OpInterpretStrings  Operation = "interpret_strings"
	OpOverallSummary    Operation = "overall_summary"
)

// Template couples a system prompt, a user-prompt template and the context
// variables the template requires. Missing variables fail before any
// network I/O.
type Template struct {
	System   string
	Body     *template.Template
	Required []string
}

var detailGuidance = map[model.TranslationDetail]string{
	model.DetailBrief:         "Answer in one or two sentences.",
	model.DetailStandard:      "Answer in one short paragraph.",
	model.DetailComprehensive: "Answer thoroughly, covering behavior, side effects and likely intent.",
}

var templates = map[Operation]*Template{
	OpTranslateFunction: {
		System: "You are a reverse engineering assistant. You explain what disassembled functions do in plain language, without speculation beyond the evidence.",
		Body: mustParse("translate_function", `Explain the purpose of this function from a {{.platform}} {{.format}} binary.

Function: {{.name}} at {{.address}} ({{.size}} bytes)
{{- if .callees}}
Calls: {{.callees}}
{{- end}}
{{- if .imports}}
Uses imports: {{.imports}}
{{- end}}
{{- if .assembly}}
Assembly:
{{.assembly}}
{{- end}}

{{.guidance}}`),
		Required: []string{"name", "address", "size", "platform", "format", "guidance"},
	},
	OpExplainImports: {
		System: "You are a reverse engineering assistant. You explain what imported library functions are used for.",
		Body: mustParse("explain_imports", `Explain what the following functions imported from {{.library}} are typically used for, and what their combined use suggests about the program.

Functions: {{.functions}}

{{.guidance}}`),
		Required: []string{"library", "functions", "guidance"},
	},
	OpInterpretStrings: {
		System: "You are a reverse engineering assistant. You interpret string constants found in binaries.",
		Body: mustParse("interpret_strings", `Interpret the following strings extracted from a binary. Group related strings and state what they reveal about the program's behavior.

Strings:
{{.strings}}

{{.guidance}}`),
		Required: []string{"strings", "guidance"},
	},
	OpOverallSummary: {
		System: "You are a reverse engineering assistant. You summarize the overall purpose of a binary from its extracted structure.",
		Body: mustParse("overall_summary", `Summarize the likely purpose of this {{.platform}} {{.format}} binary.

Functions analyzed: {{.function_count}}
{{- if .function_names}}
Notable functions: {{.function_names}}
{{- end}}
{{- if .libraries}}
Imported libraries: {{.libraries}}
{{- end}}
{{- if .string_count}}
Strings extracted: {{.string_count}}
{{- end}}

{{.guidance}}`),
		Required: []string{"platform", "format", "function_count", "guidance"},
	},
}

func mustParse(name, body string) *template.Template {
	return template.Must(template.New(name).Parse(body))
}

// Guidance returns the instruction line for a detail level.
func Guidance(detail model.TranslationDetail) string {
	if g, ok := detailGuidance[detail]; ok {
		return g
	}
	return detailGuidance[model.DetailStandard]
}

// Render produces the (system, user) prompt pair for an operation. Every
// required variable must be present and non-empty.
func Render(op Operation, vars map[string]interface{}) (string, string, error) {
	tpl, ok := templates[op]
	if !ok {
		return "", "", errors.NewInternal("unknown prompt operation").WithDetail("operation", string(op))
	}
	for _, key := range tpl.Required {
		val, present := vars[key]
		if !present || val == nil || val == "" {
			return "", "", errors.NewInternal("missing template variable").
				WithDetail("operation", string(op)).
				WithDetail("variable", key)
		}
	}
	var sb strings.Builder
	if err := tpl.Body.Execute(&sb, vars); err != nil {
		return "", "", errors.WrapError(err, "render prompt", errors.TypeInternal)
	}
	return tpl.System, sb.String(), nil
}
