package extract

import "encoding/json"

// responseSchema is the JSON schema the model's extraction output must
// conform to. Kept permissive where the model is unreliable (marks,
// difficulty) and strict on structure (questions array, option shape).
var responseSchema = mustMarshal(map[string]any{
	"type": "object",
	"properties": map[string]any{
		"questions": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"question": map[string]any{
						"type":        "string",
						"description": "Full question text, LaTeX in $...$ delimiters",
					},
					"type": map[string]any{
						"type": "string",
						"enum": []string{"single_choice", "multiple_choice", "integer", "paragraph"},
					},
					"options": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"label":      map[string]any{"type": "string"},
								"text":       map[string]any{"type": "string"},
								"is_correct": map[string]any{"type": "boolean"},
							},
							"required": []string{"label", "text"},
						},
					},
					"correct_value": map[string]any{
						"type":        []string{"number", "null"},
						"description": "Scalar answer for integer-type questions, null when not stated",
					},
					"unit":       map[string]any{"type": []string{"string", "null"}},
					"difficulty": map[string]any{"type": []string{"string", "null"}},
					"positive_marks": map[string]any{
						"type":        []string{"number", "null"},
						"description": "Only when the page states its own marking scheme",
					},
					"negative_marks":   map[string]any{"type": []string{"number", "null"}},
					"duration_seconds": map[string]any{"type": []string{"number", "null"}},
					"hint":             map[string]any{"type": []string{"string", "null"}},
					"solution":         map[string]any{"type": []string{"string", "null"}},
					"tags": map[string]any{
						"type":  "array",
						"items": map[string]any{"type": "string"},
					},
					"subject": map[string]any{"type": []string{"string", "null"}},
					"chapter": map[string]any{"type": []string{"string", "null"}},
					"topic":   map[string]any{"type": []string{"string", "null"}},
					"images": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"purpose": map[string]any{
									"type": "string",
									"enum": []string{"question", "hint", "solution", "option"},
								},
								"option_label": map[string]any{"type": []string{"string", "null"}},
								"description":  map[string]any{"type": []string{"string", "null"}},
							},
							"required": []string{"purpose"},
						},
					},
					"continues_fragment": map[string]any{
						"type":        "boolean",
						"description": "True when this question completes the carried-over fragment",
					},
				},
				"required": []string{"question", "type"},
			},
		},
		"incomplete_question": map[string]any{
			"type": []string{"object", "null"},
			"properties": map[string]any{
				"question": map[string]any{"type": "string"},
				"options": map[string]any{
					"type": "array",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"label": map[string]any{"type": "string"},
							"text":  map[string]any{"type": "string"},
						},
					},
				},
			},
			"required": []string{"question"},
		},
	},
	"required": []string{"questions"},
})

func mustMarshal(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
