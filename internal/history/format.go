package history

import (
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"decision-flip/backend/internal/store"
)

// TimestampLayout renders times like "Feb 3, 2026 2:30 PM".
const TimestampLayout = "Jan 2, 2006 3:04 PM"

const (
	answersHeader      = "User's Previous Answers to Similar Questions:"
	answersInstruction = `When generating questions, reference these previous answers where relevant (e.g., "Last time on [date] you mentioned X. Is that still the case?"). Check the timestamps to assess whether the information is still current, and include the previous answer as a default value in your response.`

	decisionsHeader      = "User's Past Similar Decisions:"
	decisionsInstruction = "Consider the dates of these decisions: recent choices reflect the user's current preferences better than old ones, so reuse their patterns as defaults when weighing the options."
)

// Formatter renders history records as prompt context.
type Formatter struct {
	Location *time.Location
}

// NewFormatter returns a formatter rendering timestamps in loc (local time when nil).
func NewFormatter(loc *time.Location) Formatter {
	return Formatter{Location: loc}
}

// FormatTimestamp renders t on a 12-hour clock with an abbreviated month.
func (f Formatter) FormatTimestamp(t time.Time) string {
	loc := f.Location
	if loc == nil {
		loc = time.Local
	}
	return t.In(loc).Format(TimestampLayout)
}

// FormatAnswerContext renders records with their clarifying answers. Records whose
// stored answers cannot be decoded are skipped. Returns "" when nothing renders.
func (f Formatter) FormatAnswerContext(records []store.Decision) string {
	blocks := make([]string, 0, len(records))
	for i := range records {
		record := &records[i]
		answers, err := record.DecodeClarifyingAnswers()
		if err != nil {
			logrus.WithError(err).WithField("decision_id", record.ID).Warn("skip history record with malformed answers")
			continue
		}
		if len(answers) == 0 {
			continue
		}
		b := &strings.Builder{}
		fmt.Fprintf(b, "[%s] \"%s\":", f.FormatTimestamp(record.CreatedAt), record.Question)
		for _, qa := range answers {
			fmt.Fprintf(b, "\n  %s: %s", qa.Question, qa.Answer)
		}
		blocks = append(blocks, b.String())
	}
	return assemble(answersHeader, blocks, answersInstruction)
}

// FormatDecisionContext renders records as "question → final choice" lines.
func (f Formatter) FormatDecisionContext(records []store.Decision) string {
	blocks := make([]string, 0, len(records))
	for i := range records {
		record := &records[i]
		if !record.Finalized() {
			continue
		}
		blocks = append(blocks, fmt.Sprintf("[%s] %s → %s", f.FormatTimestamp(record.CreatedAt), record.Question, record.FinalChoice))
	}
	return assemble(decisionsHeader, blocks, decisionsInstruction)
}

// FormatAnswerContext renders answer history in local time.
func FormatAnswerContext(records []store.Decision) string {
	return Formatter{}.FormatAnswerContext(records)
}

// FormatDecisionContext renders decision history in local time.
func FormatDecisionContext(records []store.Decision) string {
	return Formatter{}.FormatDecisionContext(records)
}

func assemble(header string, blocks []string, instruction string) string {
	if len(blocks) == 0 {
		return ""
	}
	return header + "\n" + strings.Join(blocks, "\n\n") + "\n\n" + instruction
}
