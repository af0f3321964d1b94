package council

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/conclave-ai/conclave/pkg/models"
)

const rankingMarker = "FINAL RANKING:"

var (
	numberedLabelPattern = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelPattern         = regexp.MustCompile(`Response [A-Z]`)
)

// ParseRanking extracts the ordered response labels from a rater's
// free-form output. The section after the last ranking marker is
// preferred; within it, numbered entries win over bare labels. Without
// a marker, every label in the whole text is taken in order of
// appearance. Labels may repeat; callers that care keep only the first
// occurrence.
func ParseRanking(text string) []string {
	if idx := strings.LastIndex(text, rankingMarker); idx >= 0 {
		section := text[idx+len(rankingMarker):]
		if numbered := numberedLabelPattern.FindAllString(section, -1); len(numbered) > 0 {
			labels := make([]string, len(numbered))
			for i, m := range numbered {
				labels[i] = labelPattern.FindString(m)
			}
			return labels
		}
		return labelPattern.FindAllString(section, -1)
	}
	return labelPattern.FindAllString(text, -1)
}

// AggregateRanking is one model's averaged stage-2 placement.
type AggregateRanking struct {
	Model         string  `json:"model"`
	AverageRank   float64 `json:"average_rank"`
	RankingsCount int     `json:"rankings_count"`
}

// AggregateRankings averages each model's 1-based position across all
// raters. Only the first occurrence of a label per rater counts, and
// labels outside the mapping are ignored. The result is sorted best
// first, with rank count and model name as tie breakers.
func AggregateRankings(stage2 []models.ModelRanking, labelToModel map[string]string) []AggregateRanking {
	positions := make(map[string][]int)
	var order []string

	for _, rater := range stage2 {
		seen := make(map[string]bool)
		position := 0
		for _, label := range ParseRanking(rater.Ranking) {
			model, ok := labelToModel[label]
			if !ok || seen[label] {
				continue
			}
			seen[label] = true
			position++
			if _, known := positions[model]; !known {
				order = append(order, model)
			}
			positions[model] = append(positions[model], position)
		}
	}

	aggregate := make([]AggregateRanking, 0, len(order))
	for _, model := range order {
		ranks := positions[model]
		sum := 0
		for _, r := range ranks {
			sum += r
		}
		avg := float64(sum) / float64(len(ranks))
		aggregate = append(aggregate, AggregateRanking{
			Model:         model,
			AverageRank:   math.Round(avg*100) / 100,
			RankingsCount: len(ranks),
		})
	}

	sort.SliceStable(aggregate, func(i, j int) bool {
		if aggregate[i].AverageRank != aggregate[j].AverageRank {
			return aggregate[i].AverageRank < aggregate[j].AverageRank
		}
		if aggregate[i].RankingsCount != aggregate[j].RankingsCount {
			return aggregate[i].RankingsCount > aggregate[j].RankingsCount
		}
		return aggregate[i].Model < aggregate[j].Model
	})

	return aggregate
}
