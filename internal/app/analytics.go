package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strconv"

	"formhub/api/internal/policy"
	"formhub/api/internal/store"
)

type AnswerFrequency struct {
	Value string `json:"value"`
	Count int    `json:"count"`
}

// QuestionStats aggregates submitted answers per question. Which fields are
// populated depends on the question type: integer questions get an average,
// checkbox questions true/false counts, text questions the most frequent
// answers.
type QuestionStats struct {
	Question    QuestionView      `json:"question"`
	AnswerCount int               `json:"answerCount"`
	Average     *float64          `json:"average,omitempty"`
	TrueCount   *int              `json:"trueCount,omitempty"`
	FalseCount  *int              `json:"falseCount,omitempty"`
	TopAnswers  []AnswerFrequency `json:"topAnswers,omitempty"`
}

type TemplateAnalytics struct {
	TemplateID      string          `json:"templateId"`
	SubmissionCount int             `json:"submissionCount"`
	Questions       []QuestionStats `json:"questions"`
}

const topAnswerLimit = 5

// TemplateAnalytics aggregates responses for the template owner. Questions
// flagged out of results are excluded entirely.
func (s *Service) TemplateAnalytics(ctx context.Context, caller *store.User, templateID string) (TemplateAnalytics, error) {
	if caller == nil {
		return TemplateAnalytics{}, errUnauthorized()
	}
	tpl, err := s.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return TemplateAnalytics{}, errNotFound("Template")
		}
		return TemplateAnalytics{}, fmt.Errorf("load template: %w", err)
	}
	if !policy.CanViewTemplateForms(callerOf(caller), tpl.OwnerID) {
		return TemplateAnalytics{}, errForbidden()
	}

	submissions, err := s.store.CountTemplateForms(ctx, templateID)
	if err != nil {
		return TemplateAnalytics{}, fmt.Errorf("count submissions: %w", err)
	}

	perQuestion, err := s.store.TemplateResultAnswers(ctx, templateID)
	if err != nil {
		return TemplateAnalytics{}, fmt.Errorf("load answers: %w", err)
	}

	stats := make([]QuestionStats, 0, len(perQuestion))
	for _, qa := range perQuestion {
		stats = append(stats, questionStats(qa))
	}
	return TemplateAnalytics{
		TemplateID:      templateID,
		SubmissionCount: submissions,
		Questions:       stats,
	}, nil
}

func questionStats(qa store.QuestionAnswers) QuestionStats {
	views := questionViews([]store.Question{qa.Question})
	stat := QuestionStats{Question: views[0]}

	values := make([]string, 0, len(qa.Values))
	for _, v := range qa.Values {
		if v != nil && *v != "" {
			values = append(values, *v)
		}
	}
	stat.AnswerCount = len(values)

	switch qa.Question.Type {
	case "integer":
		sum, counted := 0, 0
		for _, v := range values {
			if n, err := strconv.Atoi(v); err == nil {
				sum += n
				counted++
			}
		}
		if counted > 0 {
			avg := float64(sum) / float64(counted)
			stat.Average = &avg
		}
	case "checkbox":
		trueCount, falseCount := 0, 0
		for _, v := range values {
			if v == "true" {
				trueCount++
			} else {
				falseCount++
			}
		}
		stat.TrueCount = &trueCount
		stat.FalseCount = &falseCount
	default:
		stat.TopAnswers = topAnswers(values)
	}
	return stat
}

// topAnswers ranks distinct values by frequency, ties broken alphabetically
// so the output is deterministic.
func topAnswers(values []string) []AnswerFrequency {
	if len(values) == 0 {
		return nil
	}
	counts := make(map[string]int)
	for _, v := range values {
		counts[v]++
	}
	ranked := make([]AnswerFrequency, 0, len(counts))
	for value, count := range counts {
		ranked = append(ranked, AnswerFrequency{Value: value, Count: count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Value < ranked[j].Value
	})
	if len(ranked) > topAnswerLimit {
		ranked = ranked[:topAnswerLimit]
	}
	return ranked
}
