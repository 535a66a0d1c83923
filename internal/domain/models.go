package domain

import "time"

// Difficulty is one of the four progression levels questions are generated for.
type Difficulty string

const (
	DifficultyBeginner     Difficulty = "beginner"
	DifficultyIntermediate Difficulty = "intermediate"
	DifficultyAdvanced     Difficulty = "advanced"
	DifficultyMaster       Difficulty = "master"
)

// KnownDifficulties lists every valid difficulty in ascending order.
func KnownDifficulties() []Difficulty {
	return []Difficulty{DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyMaster}
}

// Valid reports whether d is a known difficulty level.
func (d Difficulty) Valid() bool {
	switch d {
	case DifficultyBeginner, DifficultyIntermediate, DifficultyAdvanced, DifficultyMaster:
		return true
	}
	return false
}

// GameType is the question format family.
type GameType string

const (
	GameTypeCoding        GameType = "coding"
	GameTypeNonCoding     GameType = "non_coding"
	GameTypePreAssessment GameType = "pre_assessment"
)

// Valid reports whether g is a known game type.
func (g GameType) Valid() bool {
	switch g {
	case GameTypeCoding, GameTypeNonCoding, GameTypePreAssessment:
		return true
	}
	return false
}

// Coding reports whether g belongs to the heavy (coding) load class.
// Coding calls are slower and hold downstream connections longer, so they
// run under a smaller worker pool.
func (g GameType) Coding() bool {
	return g == GameTypeCoding
}

// Subtopic is the smallest addressable content grouping a task targets.
type Subtopic struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Topic string `json:"topic"`
}

// Fragment is one ranked piece of content used to ground a prompt.
type Fragment struct {
	Text       string  `json:"text"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// ContextBundle is the ranked, confidence-filtered context for one task.
// It is built per task and never shared across tasks.
type ContextBundle struct {
	Units      []Subtopic `json:"units"`
	Difficulty Difficulty `json:"difficulty"`
	Fragments  []Fragment `json:"fragments"`
}

// PromptSpec is a fully rendered generation request for the LLM transport.
type PromptSpec struct {
	System         string
	User           string
	Temperature    float64
	ResponseSchema string
}

// Question is one accepted candidate. Coding questions carry the code
// fields; non-coding and pre-assessment questions carry answer/choices.
type Question struct {
	ID          int64      `json:"id,omitempty"`
	GameType    GameType   `json:"game_type"`
	Difficulty  Difficulty `json:"difficulty"`
	SubtopicIDs []int64    `json:"subtopic_ids"`

	QuestionText string `json:"question_text"`
	Explanation  string `json:"explanation,omitempty"`

	FunctionName string   `json:"function_name,omitempty"`
	StarterCode  string   `json:"starter_code,omitempty"`
	Solution     string   `json:"solution,omitempty"`
	SampleInput  string   `json:"sample_input,omitempty"`
	SampleOutput string   `json:"sample_output,omitempty"`
	HiddenTests  []string `json:"hidden_tests,omitempty"`

	Answer  string   `json:"answer,omitempty"`
	Choices []string `json:"choices,omitempty"`

	Fingerprint string    `json:"-"`
	CreatedAt   time.Time `json:"created_at,omitempty"`
}

// Task is one unit of work: generate Count questions for Units at Difficulty.
type Task struct {
	Units      []Subtopic
	Difficulty Difficulty
	GameType   GameType
	Count      int
}

// UnitNames returns the subtopic names of the task's scope units.
func (t Task) UnitNames() []string {
	names := make([]string, 0, len(t.Units))
	for _, u := range t.Units {
		names = append(names, u.Name)
	}
	return names
}

// SessionState is the lifecycle state of a generation session.
type SessionState string

const (
	SessionPending   SessionState = "PENDING"
	SessionRunning   SessionState = "RUNNING"
	SessionCancelled SessionState = "CANCELLED"
	SessionCompleted SessionState = "COMPLETED"
	SessionFailed    SessionState = "FAILED"
)

// Terminal reports whether the state is final.
func (s SessionState) Terminal() bool {
	return s == SessionCancelled || s == SessionCompleted || s == SessionFailed
}

// TaskState tracks one task's progress inside a session snapshot.
type TaskState string

const (
	TaskPending   TaskState = "pending"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskSkipped   TaskState = "skipped"
)

// TaskDetail is the per-task row exposed by status and worker-detail queries.
type TaskDetail struct {
	TaskID     int        `json:"taskId"`
	Units      []string   `json:"units"`
	Difficulty Difficulty `json:"difficulty"`
	State      TaskState  `json:"state"`
	Accepted   int        `json:"accepted"`
	Rejected   int        `json:"rejected"`
	Error      string     `json:"error,omitempty"`
}

// StatusSnapshot is a read-only view of a session for polling and streaming.
type StatusSnapshot struct {
	SessionID         string       `json:"sessionId"`
	State             SessionState `json:"state"`
	GameType          GameType     `json:"gameType"`
	TasksTotal        int          `json:"tasksTotal"`
	TasksDone         int          `json:"tasksDone"`
	TasksFailed       int          `json:"tasksFailed"`
	QuestionsAccepted int          `json:"questionsAccepted"`
	DuplicatesSkipped int          `json:"duplicatesSkipped"`
	Percent           float64      `json:"percent"`
	StartedAt         time.Time    `json:"startedAt"`
	UpdatedAt         time.Time    `json:"updatedAt"`
	Tasks             []TaskDetail `json:"tasks"`
}

// Estimate is the dry-run decomposition result for a generation request.
type Estimate struct {
	TaskCount        int               `json:"taskCount"`
	EstimatedSeconds float64           `json:"estimatedSeconds"`
	Workers          int               `json:"workers"`
	Breakdown        []DifficultyStats `json:"breakdown"`
}

// DifficultyStats summarizes the decomposition for one difficulty level.
type DifficultyStats struct {
	Difficulty       Difficulty `json:"difficulty"`
	Combinations     int        `json:"combinations"`
	Individuals      int        `json:"individuals"`
	Pairs            int        `json:"pairs"`
	Trios            int        `json:"trios"`
	QuestionsPerTask int        `json:"questionsPerTask"`
}
