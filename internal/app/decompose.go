package app

import (
	"sort"
	"strconv"
	"strings"

	"pygrounds-generation-service/internal/config"
	"pygrounds-generation-service/internal/domain"
)

// decomposition is the shared output of Estimate and Start: both must produce
// the identical task list for the same request.
type decomposition struct {
	tasks []domain.Task
	stats []domain.DifficultyStats
}

// decompose turns a validated request into tasks. Bulk requests get one task
// per (unit, difficulty). Pre-assessment requests group units into
// combinations per the difficulty rules so that higher difficulty draws from
// broader combinations, then split the difficulty's question budget evenly
// across them.
func decompose(units []domain.Subtopic, gameType domain.GameType, difficulties []domain.Difficulty, countPerUnit int, policy config.Generation) decomposition {
	var d decomposition
	for _, diff := range difficulties {
		var combos [][]domain.Subtopic
		if gameType == domain.GameTypePreAssessment {
			combos = combineUnits(units, policy.DifficultyRules[string(diff)])
		} else {
			for _, u := range units {
				combos = append(combos, []domain.Subtopic{u})
			}
		}

		perTask := countPerUnit
		if gameType == domain.GameTypePreAssessment && len(combos) > 0 {
			// Each difficulty gets the full budget independently.
			budget := len(units) * countPerUnit
			perTask = budget / len(combos)
			if perTask < 1 {
				perTask = 1
			}
		}

		stats := domain.DifficultyStats{Difficulty: diff, Combinations: len(combos), QuestionsPerTask: perTask}
		for _, combo := range combos {
			switch len(combo) {
			case 1:
				stats.Individuals++
			case 2:
				stats.Pairs++
			case 3:
				stats.Trios++
			}
			d.tasks = append(d.tasks, domain.Task{
				Units:      combo,
				Difficulty: diff,
				GameType:   gameType,
				Count:      perTask,
			})
		}
		d.stats = append(d.stats, stats)
	}
	return d
}

// combineUnits builds individual/pair/trio combinations under one
// difficulty's rule. Grouping is deterministic (first-seen topic order) so
// repeated decompositions of the same request never diverge.
func combineUnits(units []domain.Subtopic, rule config.CombinationRule) [][]domain.Subtopic {
	groups := groupByTopic(units)

	var combos [][]domain.Subtopic

	if rule.IncludeIndividuals {
		for _, u := range units {
			combos = append(combos, []domain.Subtopic{u})
		}
	}

	// Same-topic pairs, capped across all topics.
	added := 0
	for _, g := range groups {
		if added >= rule.MaxSameTopicPairs {
			break
		}
		for i := 0; i < len(g.units) && added < rule.MaxSameTopicPairs; i++ {
			for j := i + 1; j < len(g.units) && added < rule.MaxSameTopicPairs; j++ {
				combos = append(combos, []domain.Subtopic{g.units[i], g.units[j]})
				added++
			}
		}
	}

	// Cross-topic pairs from one representative per topic.
	if rule.MaxCrossTopicPairs > 0 && len(groups) > 1 {
		reps := make([]domain.Subtopic, 0, len(groups))
		for _, g := range groups {
			reps = append(reps, g.units[0])
		}
		added = 0
		for i := 0; i < len(reps) && added < rule.MaxCrossTopicPairs; i++ {
			for j := i + 1; j < len(reps) && added < rule.MaxCrossTopicPairs; j++ {
				combos = append(combos, []domain.Subtopic{reps[i], reps[j]})
				added++
			}
		}
	}

	if rule.IncludeTrios && rule.MaxTrios > 0 && len(units) >= 3 {
		trios := 0
		if rule.IncludeSameTopicTrios {
			// One trio per topic with enough subtopics.
			for _, g := range groups {
				if trios >= rule.MaxTrios {
					break
				}
				if len(g.units) >= 3 {
					combos = append(combos, []domain.Subtopic{g.units[0], g.units[1], g.units[2]})
					trios++
				}
			}
		}
		if rule.IncludeCrossTopicTrios && len(groups) >= 3 && trios < rule.MaxTrios {
			combos = append(combos, []domain.Subtopic{groups[0].units[0], groups[1].units[0], groups[2].units[0]})
		}
	}

	return dedupeCombos(combos)
}

type topicGroup struct {
	topic string
	units []domain.Subtopic
}

func groupByTopic(units []domain.Subtopic) []topicGroup {
	index := make(map[string]int)
	var groups []topicGroup
	for _, u := range units {
		i, ok := index[u.Topic]
		if !ok {
			i = len(groups)
			index[u.Topic] = i
			groups = append(groups, topicGroup{topic: u.Topic})
		}
		groups[i].units = append(groups[i].units, u)
	}
	return groups
}

// dedupeCombos drops combinations covering the same unit set, preserving order.
func dedupeCombos(combos [][]domain.Subtopic) [][]domain.Subtopic {
	seen := make(map[string]struct{}, len(combos))
	out := combos[:0]
	for _, combo := range combos {
		ids := make([]string, 0, len(combo))
		for _, u := range combo {
			ids = append(ids, strconv.FormatInt(u.ID, 10))
		}
		sort.Strings(ids)
		key := strings.Join(ids, ",")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, combo)
	}
	return out
}
