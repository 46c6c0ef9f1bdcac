package services

import (
	"strings"
	"unicode"

	"financerag/models"
)

// Classifier assigns a history category to a question and its answer.
type Classifier interface {
	Classify(question, answer string) string
}

// KeywordClassifier picks the category whose keywords occur most often in
// the question. Ties go to the earlier category; no match is general.
type KeywordClassifier struct {
	keywords map[string][]string
}

var defaultKeywords = map[string][]string{
	models.CategoryRevenue: {
		"revenue", "revenues", "sales", "turnover", "income", "top line", "topline",
		"bookings", "arr", "mrr", "billings",
	},
	models.CategoryExpenses: {
		"expense", "expenses", "cost", "costs", "spending", "opex", "capex",
		"overhead", "cogs", "expenditure", "payroll",
	},
	models.CategoryRisks: {
		"risk", "risks", "exposure", "uncertainty", "litigation", "lawsuit",
		"regulatory", "default", "volatility", "threat", "liability", "liabilities",
	},
	models.CategoryPerformance: {
		"performance", "growth", "margin", "margins", "profit", "profitability",
		"ebitda", "eps", "earnings", "return", "roe", "roi", "yoy", "guidance",
	},
}

func NewKeywordClassifier() *KeywordClassifier {
	return &KeywordClassifier{keywords: defaultKeywords}
}

func (k *KeywordClassifier) Classify(question, _ string) string {
	text := " " + normalizeWords(question) + " "
	best, bestScore := models.CategoryGeneral, 0
	for _, category := range models.Categories {
		score := 0
		for _, kw := range k.keywords[category] {
			score += strings.Count(text, " "+kw+" ")
		}
		if score > bestScore {
			best, bestScore = category, score
		}
	}
	return best
}

// normalizeWords lowercases s and replaces punctuation with single spaces.
func normalizeWords(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
