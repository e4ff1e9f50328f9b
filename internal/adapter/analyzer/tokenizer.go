package analyzer

import (
	"strings"
	"unicode"
)

// Tokenizer turns free-text queries into lower-cased terms, dropping
// stopwords and optionally folding simple English plurals.
type Tokenizer struct {
	stopwords map[string]struct{}
	fold      bool
}

func NewTokenizer(foldPlurals bool) *Tokenizer {
	return &Tokenizer{
		stopwords: defaultStopwords(),
		fold:      foldPlurals,
	}
}

func (t *Tokenizer) Tokenize(text string) []string {
	words := splitWords(text)
	tokens := make([]string, 0, len(words))

	for _, word := range words {
		word = strings.ToLower(word)
		if len(word) < 2 {
			continue
		}
		if _, isStop := t.stopwords[word]; isStop {
			continue
		}
		if t.fold {
			word = FoldPlural(word)
		}
		tokens = append(tokens, word)
	}

	return tokens
}

// FoldPlural reduces "cats", "boxes" and "puppies" to their singular form.
// Words of three letters or fewer are returned unchanged.
func FoldPlural(word string) string {
	if len(word) <= 3 || strings.HasSuffix(word, "ss") {
		return word
	}
	switch {
	case strings.HasSuffix(word, "ies") && len(word) > 4:
		return word[:len(word)-3] + "y"
	case strings.HasSuffix(word, "ches"), strings.HasSuffix(word, "shes"),
		strings.HasSuffix(word, "sses"), strings.HasSuffix(word, "xes"):
		return word[:len(word)-2]
	case strings.HasSuffix(word, "s"):
		return word[:len(word)-1]
	}
	return word
}

func splitWords(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func defaultStopwords() map[string]struct{} {
	stops := []string{
		"a", "an", "and", "are", "as", "at", "be", "by", "for",
		"from", "has", "in", "is", "it", "its", "of", "on",
		"that", "the", "to", "with", "this", "some", "show", "me",
		"find", "image", "images", "photo", "photos", "picture",
		"pictures", "like", "looks", "look", "very", "just", "or",
	}
	m := make(map[string]struct{}, len(stops))
	for _, s := range stops {
		m[s] = struct{}{}
	}
	return m
}
