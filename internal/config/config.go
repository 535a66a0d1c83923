package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`
	Redis struct {
		Addr     string `yaml:"addr"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
		TTL      string `yaml:"ttl"`
	} `yaml:"redis"`
	Postgres struct {
		URL string `yaml:"url"`
	} `yaml:"postgres"`
	LLM struct {
		BaseURL   string `yaml:"base_url"`
		APIKeyEnv string `yaml:"api_key_env"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"llm"`
	Output struct {
		Dir string `yaml:"dir"`
	} `yaml:"output"`
	Generation Generation `yaml:"generation"`
}

// Generation is the engine policy: pool sizes per load class, retry bounds,
// retrieval bands, estimate constants and combination rules. Everything here
// is a tunable table, not a runtime heuristic.
type Generation struct {
	CodingWorkers        int `yaml:"coding_workers"`
	NonCodingWorkers     int `yaml:"non_coding_workers"`
	PreAssessmentWorkers int `yaml:"pre_assessment_workers"`

	MaxAttempts int `yaml:"max_attempts"`

	CodingTaskSeconds    float64 `yaml:"coding_task_seconds"`
	NonCodingTaskSeconds float64 `yaml:"non_coding_task_seconds"`

	ContextTTL string `yaml:"context_ttl"`

	SessionRetention string `yaml:"session_retention"`

	Retrieval       map[string]RetrievalBand    `yaml:"retrieval"`
	DifficultyRules map[string]CombinationRule  `yaml:"difficulty_rules"`
}

// RetrievalBand bounds context retrieval for one difficulty: lower difficulty
// draws fewer, higher-confidence fragments; higher difficulty draws broader.
type RetrievalBand struct {
	MinConfidence float64 `yaml:"min_confidence"`
	MaxFragments  int     `yaml:"max_fragments"`
}

// CombinationRule drives pre-assessment task decomposition for one difficulty.
// The thresholds are a replaceable policy table.
type CombinationRule struct {
	IncludeIndividuals     bool `yaml:"include_individuals"`
	MaxSameTopicPairs      int  `yaml:"max_same_topic_pairs"`
	MaxCrossTopicPairs     int  `yaml:"max_cross_topic_pairs"`
	IncludeTrios           bool `yaml:"include_trios"`
	IncludeSameTopicTrios  bool `yaml:"include_same_topic_trios"`
	IncludeCrossTopicTrios bool `yaml:"include_cross_topic_trios"`
	MaxTrios               int  `yaml:"max_trios"`
}

// Load reads YAML config from path.
func Load(path string) (Config, error) {
	cfg := Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, err
	}
	cfg.Generation.applyDefaults()
	return cfg, nil
}

// TTLDuration parses a duration string or returns the fallback if empty.
func TTLDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	return fallback
}

// DefaultGeneration returns the engine policy with all defaults applied.
func DefaultGeneration() Generation {
	g := Generation{}
	g.applyDefaults()
	return g
}

func (g *Generation) applyDefaults() {
	if g.CodingWorkers <= 0 {
		g.CodingWorkers = 4
	}
	if g.NonCodingWorkers <= 0 {
		g.NonCodingWorkers = 16
	}
	if g.PreAssessmentWorkers <= 0 {
		g.PreAssessmentWorkers = 16
	}
	if g.MaxAttempts <= 0 {
		g.MaxAttempts = 2
	}
	if g.CodingTaskSeconds <= 0 {
		g.CodingTaskSeconds = 45
	}
	if g.NonCodingTaskSeconds <= 0 {
		g.NonCodingTaskSeconds = 20
	}
	if g.Retrieval == nil {
		g.Retrieval = map[string]RetrievalBand{
			"beginner":     {MinConfidence: 0.65, MaxFragments: 6},
			"intermediate": {MinConfidence: 0.55, MaxFragments: 10},
			"advanced":     {MinConfidence: 0.50, MaxFragments: 15},
			"master":       {MinConfidence: 0.40, MaxFragments: 20},
		}
	}
	if g.DifficultyRules == nil {
		g.DifficultyRules = map[string]CombinationRule{
			"beginner": {
				IncludeIndividuals: true,
				MaxSameTopicPairs:  2,
			},
			"intermediate": {
				IncludeIndividuals: true,
				MaxSameTopicPairs:  3,
				MaxCrossTopicPairs: 2,
			},
			"advanced": {
				MaxSameTopicPairs:     4,
				MaxCrossTopicPairs:    3,
				IncludeTrios:          true,
				IncludeSameTopicTrios: true,
				MaxTrios:              2,
			},
			"master": {
				MaxSameTopicPairs:      5,
				MaxCrossTopicPairs:     4,
				IncludeTrios:           true,
				IncludeSameTopicTrios:  true,
				IncludeCrossTopicTrios: true,
				MaxTrios:               3,
			},
		}
	}
}

// WorkersFor maps a game type's load class to its fixed pool size.
func (g Generation) WorkersFor(gameType string) int {
	switch gameType {
	case "coding":
		return g.CodingWorkers
	case "pre_assessment":
		return g.PreAssessmentWorkers
	default:
		return g.NonCodingWorkers
	}
}

// TaskSecondsFor returns the per-task wall-clock estimate constant for a game type.
func (g Generation) TaskSecondsFor(gameType string) float64 {
	if gameType == "coding" {
		return g.CodingTaskSeconds
	}
	return g.NonCodingTaskSeconds
}
