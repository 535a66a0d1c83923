package app

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"pygrounds-generation-service/internal/domain"
)

var errNoCandidates = errors.New("no candidates in response")

// parseCandidates extracts the JSON array of question objects from a raw LLM
// response. The model usually returns a plain array, but fenced code blocks,
// a {"questions": [...]} wrapper, and truncated trailing text all occur in
// practice and are recovered here.
func parseCandidates(raw string) ([]map[string]any, error) {
	clean := strings.TrimSpace(raw)

	if idx := strings.Index(clean, "```json"); idx != -1 {
		rest := clean[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			clean = strings.TrimSpace(rest[:end])
		}
	}

	if items, err := decodeCandidates([]byte(clean)); err == nil {
		return items, nil
	}

	// Recovery: balance-scan for the first complete top-level array.
	if start := strings.IndexByte(clean, '['); start != -1 {
		depth := 0
		for i := start; i < len(clean); i++ {
			switch clean[i] {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					return decodeCandidates([]byte(clean[start : i+1]))
				}
			}
		}
	}
	return nil, fmt.Errorf("response is not a JSON question array")
}

func decodeCandidates(data []byte) ([]map[string]any, error) {
	var parsed any
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, err
	}
	switch v := parsed.(type) {
	case map[string]any:
		if wrapped, ok := v["questions"].([]any); ok {
			return toObjectList(wrapped)
		}
		return []map[string]any{v}, nil
	case []any:
		return toObjectList(v)
	}
	return nil, fmt.Errorf("unexpected JSON shape")
}

func toObjectList(items []any) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	if len(out) == 0 {
		return nil, errNoCandidates
	}
	return out, nil
}

// buildQuestion validates one parsed object against the game type's schema
// and converts it into a candidate question. Missing or empty required
// fields reject the candidate; coercion is never attempted.
func buildQuestion(obj map[string]any, task domain.Task) (domain.Question, error) {
	q := domain.Question{
		GameType:     task.GameType,
		Difficulty:   task.Difficulty,
		SubtopicIDs:  unitIDs(task.Units),
		QuestionText: fieldString(obj, "question_text", "question"),
		Explanation:  fieldString(obj, "explanation"),
	}
	if q.QuestionText == "" {
		return q, fmt.Errorf("missing question_text")
	}

	switch task.GameType {
	case domain.GameTypeCoding:
		q.FunctionName = fieldString(obj, "function_name")
		q.StarterCode = fieldString(obj, "starter_code", "buggy_code")
		q.Solution = fieldString(obj, "solution", "correct_code")
		q.SampleInput = fieldString(obj, "sample_input")
		q.SampleOutput = fieldString(obj, "sample_output")
		q.HiddenTests = fieldStrings(obj, "hidden_tests")
		for name, val := range map[string]string{
			"function_name": q.FunctionName,
			"starter_code":  q.StarterCode,
			"solution":      q.Solution,
			"sample_input":  q.SampleInput,
			"sample_output": q.SampleOutput,
			"explanation":   q.Explanation,
		} {
			if val == "" {
				return q, fmt.Errorf("missing %s", name)
			}
		}
	case domain.GameTypePreAssessment:
		q.Answer = fieldString(obj, "answer", "correct_answer")
		q.Choices = fieldStrings(obj, "choices", "answer_options", "options")
		if q.Answer == "" {
			return q, fmt.Errorf("missing answer")
		}
		if len(q.Choices) < 2 {
			return q, fmt.Errorf("need at least 2 choices, got %d", len(q.Choices))
		}
	default:
		q.Answer = fieldString(obj, "answer", "correct_answer")
		q.Choices = fieldStrings(obj, "choices", "options")
		if q.Answer == "" {
			return q, fmt.Errorf("missing answer")
		}
	}

	q.Fingerprint = fingerprint(q)
	return q, nil
}

// fieldString reads the first non-empty key, stringifying scalars the model
// emits as numbers or booleans.
func fieldString(obj map[string]any, keys ...string) string {
	for _, key := range keys {
		switch v := obj[key].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func fieldStrings(obj map[string]any, keys ...string) []string {
	for _, key := range keys {
		items, ok := obj[key].([]any)
		if !ok {
			continue
		}
		out := make([]string, 0, len(items))
		for _, item := range items {
			switch v := item.(type) {
			case string:
				out = append(out, v)
			default:
				// Preserve structured test cases as compact JSON.
				if raw, err := json.Marshal(v); err == nil {
					out = append(out, string(raw))
				}
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}

// fingerprint produces the normalized dedup hash for a candidate. Non-coding
// questions hash the lower-cased prompt text; coding questions hash the
// whitespace/comment-stripped solution plus function name, so formatting-only
// variants of the same exercise collide.
func fingerprint(q domain.Question) string {
	ids := make([]string, 0, len(q.SubtopicIDs))
	for _, id := range q.SubtopicIDs {
		ids = append(ids, strconv.FormatInt(id, 10))
	}
	sort.Strings(ids)

	var essence string
	if q.GameType == domain.GameTypeCoding {
		essence = normalizeSource(q.Solution) + "|" + strings.ToLower(q.FunctionName)
	} else {
		essence = normalizeText(q.QuestionText)
	}

	sum := sha256.Sum256([]byte(essence + "|" + strings.Join(ids, ",") + "|" + string(q.GameType)))
	return hex.EncodeToString(sum[:])[:16]
}

// normalizeText lower-cases and collapses whitespace.
func normalizeText(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// normalizeSource strips comments and all whitespace so that layout changes
// do not defeat dedup.
func normalizeSource(src string) string {
	var b strings.Builder
	for _, line := range strings.Split(src, "\n") {
		if idx := strings.Index(line, "#"); idx != -1 {
			line = line[:idx]
		}
		for _, field := range strings.Fields(line) {
			b.WriteString(strings.ToLower(field))
		}
	}
	return b.String()
}

func unitIDs(units []domain.Subtopic) []int64 {
	ids := make([]int64, 0, len(units))
	for _, u := range units {
		ids = append(ids, u.ID)
	}
	return ids
}
