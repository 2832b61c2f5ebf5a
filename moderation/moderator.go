package moderation

import (
	"unicode"

	"agent-town/errors"

	goahocorasick "github.com/anknown/ahocorasick"
)

// Moderator masks forbidden words in relayed chat before they reach a room.
// Matching runs on a normalized view of the text (lowercased, leet speak
// folded, punctuation stripped) so "f.u c-k" and "fuck" hit the same pattern,
// while masking is applied to the original runes to preserve layout.
type Moderator struct {
	machine *goahocorasick.Machine
	mask    rune
}

// textMapping links each normalized rune back to its index in the original.
type textMapping struct {
	runes   []rune
	origIdx []int
}

func NewModerator(forbiddenWords []string, mask rune) (Moderator, error) {
	if len(forbiddenWords) == 0 {
		return Moderator{}, errors.ErrEmptyWords
	}
	patterns := make([][]rune, len(forbiddenWords))
	for i, word := range forbiddenWords {
		patterns[i] = normalize(word).runes
	}

	machine := new(goahocorasick.Machine)
	if err := machine.Build(patterns); err != nil {
		return Moderator{}, err
	}
	return Moderator{machine: machine, mask: mask}, nil
}

// Censor replaces every rune covered by a forbidden pattern with the mask
// rune. Text without matches is returned untouched.
func (m *Moderator) Censor(text string) string {
	mapping := normalize(text)
	if len(mapping.runes) == 0 {
		return text
	}

	spans := m.machine.MultiPatternSearch(mapping.runes, false)
	if len(spans) == 0 {
		return text
	}

	original := []rune(text)
	for _, span := range spans {
		start := span.Pos
		end := start + len(span.Word)
		if start < 0 || end > len(mapping.origIdx) {
			continue
		}
		for i := mapping.origIdx[start]; i <= mapping.origIdx[end-1]; i++ {
			original[i] = m.mask
		}
	}
	return string(original)
}

func normalize(text string) textMapping {
	runes := []rune(text)
	mapping := textMapping{
		runes:   make([]rune, 0, len(runes)),
		origIdx: make([]int, 0, len(runes)),
	}
	for i, r := range runes {
		folded := foldLeet(r)
		if unicode.IsPunct(folded) || unicode.IsSpace(folded) || unicode.IsSymbol(folded) {
			continue
		}
		mapping.runes = append(mapping.runes, unicode.ToLower(folded))
		mapping.origIdx = append(mapping.origIdx, i)
	}
	return mapping
}

// foldLeet maps common character substitutions back to plain letters.
func foldLeet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	default:
		return r
	}
}
