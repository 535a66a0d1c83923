package app

import (
	"fmt"
	"strings"

	"pygrounds-generation-service/internal/domain"
)

// Temperature policy: coding questions value determinism over variety (code
// correctness is brittle); non-coding questions get lexical variety.
const (
	codingTemperature    = 0.0
	nonCodingTemperature = 0.5
)

var codingSchemaKeys = []string{
	"question_text", "function_name", "starter_code", "solution",
	"sample_input", "sample_output", "hidden_tests", "explanation", "difficulty",
}

var nonCodingSchemaKeys = []string{
	"question_text", "answer", "explanation", "difficulty",
}

var preAssessmentSchemaKeys = []string{
	"question_text", "choices", "answer", "explanation", "difficulty",
}

// BuildPrompt renders a generation request from a task and its retrieved
// context. It is a pure function of its inputs: the same task and bundle
// always produce the same PromptSpec.
func BuildPrompt(task domain.Task, bundle domain.ContextBundle) domain.PromptSpec {
	keys := schemaKeys(task.GameType)
	schema := "JSON array of objects, each with exactly these keys: " + strings.Join(keys, ", ")

	names := task.UnitNames()
	var system strings.Builder
	switch task.GameType {
	case domain.GameTypeCoding:
		fmt.Fprintf(&system,
			"Generate %d Python DEBUGGING practice questions for %d subtopics: %s. Difficulty: %s. ",
			task.Count, len(names), strings.Join(names, ", "), task.Difficulty)
		fmt.Fprintf(&system,
			"EVERY item MUST include exactly these %d keys (spelling exact): %s. ",
			len(keys), strings.Join(keys, ", "))
		system.WriteString(
			`"starter_code" contains the buggy version, "solution" the corrected version, ` +
				`and "explanation" states the root cause and the fix in 20-40 words. ` +
				"If any key is missing or empty in any item, revise internally and output ONLY the JSON array.")
	case domain.GameTypePreAssessment:
		fmt.Fprintf(&system,
			"Generate %d multiple-choice Python assessment questions spanning these subtopics: %s. Difficulty: %s. ",
			task.Count, strings.Join(names, ", "), task.Difficulty)
		fmt.Fprintf(&system,
			`Output ONLY a JSON array; each item has keys %s, where "choices" holds 4 options and "answer" matches one of them exactly.`,
			strings.Join(keys, ", "))
	default:
		fmt.Fprintf(&system,
			"Generate %d Python knowledge questions for %d subtopics: %s. Difficulty: %s. ",
			task.Count, len(names), strings.Join(names, ", "), task.Difficulty)
		fmt.Fprintf(&system, "Output ONLY a JSON array; each item has keys: %s.", strings.Join(keys, ", "))
	}

	return domain.PromptSpec{
		System:         system.String(),
		User:           renderContext(task, bundle),
		Temperature:    temperatureFor(task.GameType),
		ResponseSchema: schema,
	}
}

func temperatureFor(gameType domain.GameType) float64 {
	if gameType == domain.GameTypeCoding {
		return codingTemperature
	}
	return nonCodingTemperature
}

func schemaKeys(gameType domain.GameType) []string {
	switch gameType {
	case domain.GameTypeCoding:
		return codingSchemaKeys
	case domain.GameTypePreAssessment:
		return preAssessmentSchemaKeys
	default:
		return nonCodingSchemaKeys
	}
}

// renderContext formats the retrieved fragments into the user prompt,
// grouped under a short header so the model can tell grounding material
// from instructions.
func renderContext(task domain.Task, bundle domain.ContextBundle) string {
	var b strings.Builder
	fmt.Fprintf(&b, "DIFFICULTY LEVEL: %s\n", strings.ToUpper(string(task.Difficulty)))
	fmt.Fprintf(&b, "SUBTOPICS: %s\n\nLEARNING CONTENT:\n", strings.Join(task.UnitNames(), " + "))
	for _, f := range bundle.Fragments {
		fragType := f.Type
		if fragType == "" {
			fragType = "content"
		}
		fmt.Fprintf(&b, "--- %s (confidence %.2f) ---\n%s\n\n", fragType, f.Confidence, strings.TrimSpace(f.Text))
	}
	fmt.Fprintf(&b, "Generate exactly %d %s questions grounded in the content above.", task.Count, task.Difficulty)
	return b.String()
}
