package council

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/conclave-ai/conclave/pkg/models"
)

func TestParseRanking(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name: "numbered list after marker",
			text: "Response A is thorough.\nResponse B is shallow.\n\nFINAL RANKING:\n1. Response B\n2. Response A",
			expected: []string{
				"Response B", "Response A",
			},
		},
		{
			name:     "bare labels after marker",
			text:     "FINAL RANKING:\nResponse C, Response A, Response B",
			expected: []string{"Response C", "Response A", "Response B"},
		},
		{
			name:     "numbered entries win over bare labels",
			text:     "FINAL RANKING:\nBest is Response C overall.\n1. Response A\n2. Response B",
			expected: []string{"Response A", "Response B"},
		},
		{
			name:     "last marker is used",
			text:     "FINAL RANKING:\n1. Response A\n\nOn reflection:\n\nFINAL RANKING:\n1. Response B\n2. Response A",
			expected: []string{"Response B", "Response A"},
		},
		{
			name:     "no marker falls back to whole text",
			text:     "I prefer Response B to Response A.",
			expected: []string{"Response B", "Response A"},
		},
		{
			name:     "marker with empty section",
			text:     "Response A wins.\n\nFINAL RANKING:",
			expected: []string{},
		},
		{
			name:     "no labels at all",
			text:     "I cannot rank these.",
			expected: []string{},
		},
		{
			name:     "whitespace between number and label",
			text:     "FINAL RANKING:\n1.Response A\n2.   Response B",
			expected: []string{"Response A", "Response B"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseRanking(tt.text)
			if len(tt.expected) == 0 {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestAggregateRankings(t *testing.T) {
	labelToModel := map[string]string{
		"Response A": "model-a",
		"Response B": "model-b",
		"Response C": "model-c",
	}

	stage2 := []models.ModelRanking{
		{Model: "model-a", Ranking: "FINAL RANKING:\n1. Response B\n2. Response A\n3. Response C"},
		{Model: "model-b", Ranking: "FINAL RANKING:\n1. Response B\n2. Response C\n3. Response A"},
		{Model: "model-c", Ranking: "FINAL RANKING:\n1. Response A\n2. Response B\n3. Response C"},
	}

	got := AggregateRankings(stage2, labelToModel)
	assert.Equal(t, []AggregateRanking{
		{Model: "model-b", AverageRank: 1.33, RankingsCount: 3},
		{Model: "model-a", AverageRank: 2.33, RankingsCount: 3},
		{Model: "model-c", AverageRank: 2.33, RankingsCount: 3},
	}, got)
}

func TestAggregateRankingsFirstOccurrenceWins(t *testing.T) {
	labelToModel := map[string]string{"Response A": "model-a", "Response B": "model-b"}
	stage2 := []models.ModelRanking{
		{Model: "rater", Ranking: "FINAL RANKING:\nResponse A Response B Response A"},
	}

	got := AggregateRankings(stage2, labelToModel)
	assert.Equal(t, []AggregateRanking{
		{Model: "model-a", AverageRank: 1, RankingsCount: 1},
		{Model: "model-b", AverageRank: 2, RankingsCount: 1},
	}, got)
}

func TestAggregateRankingsIgnoresUnknownLabels(t *testing.T) {
	labelToModel := map[string]string{"Response A": "model-a"}
	stage2 := []models.ModelRanking{
		{Model: "rater", Ranking: "FINAL RANKING:\n1. Response Z\n2. Response A"},
	}

	got := AggregateRankings(stage2, labelToModel)
	assert.Equal(t, []AggregateRanking{
		{Model: "model-a", AverageRank: 1, RankingsCount: 1},
	}, got)
}

func TestAggregateRankingsTieBreaksOnCountThenName(t *testing.T) {
	labelToModel := map[string]string{"Response A": "model-a", "Response B": "model-b"}
	stage2 := []models.ModelRanking{
		{Model: "r1", Ranking: "FINAL RANKING:\n1. Response A\n2. Response B"},
		{Model: "r2", Ranking: "FINAL RANKING:\n1. Response B\n2. Response A"},
		{Model: "r3", Ranking: "FINAL RANKING:\n1. Response A"},
	}

	// model-a: positions 1,2,1 -> 1.33 over 3 raters
	// model-b: positions 2,1 -> 1.5 over 2 raters
	got := AggregateRankings(stage2, labelToModel)
	assert.Equal(t, []AggregateRanking{
		{Model: "model-a", AverageRank: 1.33, RankingsCount: 3},
		{Model: "model-b", AverageRank: 1.5, RankingsCount: 2},
	}, got)
}

func TestAggregateRankingsEmpty(t *testing.T) {
	got := AggregateRankings(nil, map[string]string{})
	assert.Empty(t, got)
}

func TestAggregateSingleMember(t *testing.T) {
	labelToModel := map[string]string{"Response A": "only"}
	stage2 := []models.ModelRanking{
		{Model: "only", Ranking: "FINAL RANKING:\n1. Response A"},
	}
	got := AggregateRankings(stage2, labelToModel)
	assert.Equal(t, []AggregateRanking{{Model: "only", AverageRank: 1, RankingsCount: 1}}, got)
}
