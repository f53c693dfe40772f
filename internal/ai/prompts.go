package ai

import (
	"fmt"
	"strings"
)

const questionsSystemPrompt = `You help people make decisions. Before analysing a decision you ask a few short clarifying questions about the user's situation. Respond with JSON only.`

const analysisSystemPrompt = `You are a decision analysis assistant. You weigh each option on its merits and return strictly formatted JSON.`

func buildQuestionsPrompt(input QuestionsInput) string {
	var b strings.Builder
	b.WriteString("The user needs to choose between options. Ask 2-4 clarifying questions first so the recommendation can be personalised.\n\n")
	writeQuestionAndOptions(&b, input.Question, input.Options)
	if ctx := strings.TrimSpace(input.AnswerContext); ctx != "" {
		b.WriteString("\n\n")
		b.WriteString(ctx)
	}
	b.WriteString(`

Generate 2-4 clarifying questions specific to this decision. They should uncover the user's context, constraints, goals or preferences.

Respond with JSON only:
{
  "questions": [
    {"question": "Question 1 here?", "defaultAnswer": "Previous answer if applicable, otherwise empty string"},
    {"question": "Question 2 here?", "defaultAnswer": ""}
  ]
}

Keep questions concise. Never ask more than 4.`)
	return b.String()
}

func buildAnalysisPrompt(input AnalysisInput) string {
	var b strings.Builder
	b.WriteString("A user is trying to decide between options and needs your help.\n\n")
	writeQuestionAndOptions(&b, input.Question, input.Options)
	if len(input.ClarifyingAnswers) > 0 {
		pairs := make([]string, 0, len(input.ClarifyingAnswers))
		for _, qa := range input.ClarifyingAnswers {
			pairs = append(pairs, fmt.Sprintf("Q: %s\nA: %s", qa.Question, qa.Answer))
		}
		b.WriteString("\n\nUser's Context:\n")
		b.WriteString(strings.Join(pairs, "\n\n"))
	}
	history := strings.TrimSpace(input.DecisionContext)
	if history != "" {
		b.WriteString("\n\n")
		b.WriteString(history)
	}
	b.WriteString(`

Analyse this decision and provide:
1. A brief analysis of each option (2-3 sentences per option)
2. A weight for each option based on logic; weights must total 100
3. Key factors to consider
4. A final recommendation
5. Best-case and worst-case outcomes for each option
`)
	if history != "" {
		b.WriteString("\nUse the user's past similar decisions to spot patterns in their preferences and personalise the recommendation.\n")
	}
	b.WriteString(`
Respond with JSON only, using every option label exactly as written above:
{
  "analysis": "Overall analysis of the situation",
  "optionAnalyses": [
    {
      "option": "option 1",
      "analysis": "analysis of option 1",
      "weight": 40,
      "bestCase": "Best possible outcome",
      "worstCase": "Worst possible outcome"
    }
  ],
  "keyFactors": ["factor 1", "factor 2"],
  "recommendation": "Final recommendation with reasoning"
}

Higher weight means a stronger recommendation.`)
	return b.String()
}

func writeQuestionAndOptions(b *strings.Builder, question string, options []string) {
	b.WriteString("Question: ")
	b.WriteString(strings.TrimSpace(question))
	b.WriteString("\n\nOptions:")
	for i, opt := range options {
		fmt.Fprintf(b, "\n%d. %s", i+1, opt)
	}
}
