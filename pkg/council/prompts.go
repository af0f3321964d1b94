package council

import (
	"fmt"
	"strings"

	"github.com/conclave-ai/conclave/pkg/models"
	"github.com/conclave-ai/conclave/pkg/provider"
)

// ResponseLabel returns the anonymized label for stage-1 result i:
// "Response A", "Response B" and so on.
func ResponseLabel(i int) string {
	return fmt.Sprintf("Response %c", rune('A'+i))
}

// BuildLabelMap assigns anonymized labels to stage-1 results in order
// and returns the label-to-model mapping used to de-anonymize
// rankings.
func BuildLabelMap(stage1 []models.ModelResponse) map[string]string {
	labelToModel := make(map[string]string, len(stage1))
	for i, r := range stage1 {
		labelToModel[ResponseLabel(i)] = r.Model
	}
	return labelToModel
}

// buildStage1Messages assembles the chat history sent to council
// members. Structured prior messages are passed through with the query
// appended; a flattened context string is prepended to the query in a
// single user turn.
func buildStage1Messages(query, priorContext string, priorMessages []provider.Message) []provider.Message {
	if len(priorMessages) > 0 {
		msgs := make([]provider.Message, 0, len(priorMessages)+1)
		msgs = append(msgs, priorMessages...)
		return append(msgs, provider.Message{Role: provider.RoleUser, Content: query})
	}
	if priorContext != "" {
		return []provider.Message{{Role: provider.RoleUser, Content: priorContext + "\n\n" + query}}
	}
	return []provider.Message{{Role: provider.RoleUser, Content: query}}
}

// buildRankingPrompt produces the stage-2 evaluation prompt over the
// anonymized stage-1 responses.
func buildRankingPrompt(query string, stage1 []models.ModelResponse) string {
	blocks := make([]string, len(stage1))
	for i, r := range stage1 {
		blocks[i] = fmt.Sprintf("%s:\n%s", ResponseLabel(i), r.Response)
	}

	return fmt.Sprintf(`You are evaluating different responses to the following question:

Question: %s

Here are the responses from different models (anonymized):

%s

Your task:
1. First, evaluate each response individually. For each response, explain what it does well and what it does poorly.
2. Then, at the very end of your response, provide a final ranking.

IMPORTANT: Your final ranking MUST be formatted EXACTLY as follows:
- Start with the line "FINAL RANKING:" (all caps, with colon)
- Then list the responses from best to worst as a numbered list
- Each line should be: number, period, space, then ONLY the response label (e.g., "1. Response A")
- Do not add any other text or explanations in the ranking section

Example of the correct format for your ENTIRE response:

Response A provides good detail on X but misses Y...
Response B is accurate but lacks depth on Z...
Response C offers the most comprehensive answer...

FINAL RANKING:
1. Response C
2. Response A
3. Response B

Now provide your evaluation and ranking:`, query, strings.Join(blocks, "\n\n"))
}

// buildChairmanPrompt produces the stage-3 synthesis prompt from the
// de-anonymized stage-1 answers and stage-2 rankings.
func buildChairmanPrompt(query string, stage1 []models.ModelResponse, stage2 []models.ModelRanking) string {
	stage1Blocks := make([]string, len(stage1))
	for i, r := range stage1 {
		stage1Blocks[i] = fmt.Sprintf("Model: %s\nResponse: %s", r.Model, r.Response)
	}
	stage2Blocks := make([]string, len(stage2))
	for i, r := range stage2 {
		stage2Blocks[i] = fmt.Sprintf("Model: %s\nRanking: %s", r.Model, r.Ranking)
	}

	return fmt.Sprintf(`You are the Chairman of an LLM Council. Multiple AI models have provided responses to a user's question, and then ranked each other's responses.

Original Question: %s

STAGE 1 - Individual Responses:
%s

STAGE 2 - Peer Rankings:
%s

Your task as Chairman is to synthesize all of this information into a single, comprehensive, accurate answer to the user's original question. Consider:
- The individual responses and their insights
- The peer rankings and what they reveal about response quality
- Any patterns of agreement or disagreement

Provide a clear, well-reasoned final answer that represents the council's collective wisdom:`,
		query, strings.Join(stage1Blocks, "\n\n"), strings.Join(stage2Blocks, "\n\n"))
}

// buildTitlePrompt asks for a short conversation title.
func buildTitlePrompt(query string) string {
	return fmt.Sprintf(`Generate a very short title (3-5 words maximum) that summarizes the following question.
The title should be concise and descriptive. Do not use quotes or punctuation in the title.

Question: %s

Title:`, query)
}

// buildSummaryPrompt asks the chairman to compact older final answers.
func buildSummaryPrompt(finals []string) string {
	var b strings.Builder
	b.WriteString("Summarize the following previous final answers into a concise paragraph (one paragraph, keep it short):\n\n")
	for i, p := range finals {
		fmt.Fprintf(&b, "Answer %d: %s\n\n", i+1, p)
	}
	return b.String()
}
