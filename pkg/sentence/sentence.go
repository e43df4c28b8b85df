// Package sentence implements the text model shared by nodes and their
// editing sessions.
//
// A file's content is an ordered sequence of whitespace-delimited words. A
// sentence boundary falls after every word whose final character is '.',
// '!' or '?'; a trailing run of words with no terminal delimiter forms one
// additional sentence. All operations treat whitespace runs as single
// separators and reserialise with single spaces.
package sentence

import (
	"errors"
	"strings"
)

var (
	// ErrSentenceOutOfRange reports a sentence index outside the writable
	// range of the current content.
	ErrSentenceOutOfRange = errors.New("sentence index out of range")

	// ErrWordOutOfRange reports a word index outside [1, words+1] for the
	// target sentence.
	ErrWordOutOfRange = errors.New("word index out of range")
)

// isTerminated reports whether word ends a sentence.
func isTerminated(word string) bool {
	if word == "" {
		return false
	}
	switch word[len(word)-1] {
	case '.', '!', '?':
		return true
	}
	return false
}

// Fields splits content into words on whitespace.
func Fields(content string) []string {
	return strings.Fields(content)
}

// Split groups the words of content into sentences.
func Split(content string) [][]string {
	words := Fields(content)
	var sentences [][]string
	var current []string

	for _, w := range words {
		current = append(current, w)
		if isTerminated(w) {
			sentences = append(sentences, current)
			current = nil
		}
	}
	if len(current) > 0 {
		sentences = append(sentences, current)
	}
	return sentences
}

// Count returns the number of sentences in content.
func Count(content string) int {
	return len(Split(content))
}

// Sentence returns the words of the n-th (1-based) sentence.
func Sentence(content string, n int) ([]string, bool) {
	sentences := Split(content)
	if n < 1 || n > len(sentences) {
		return nil, false
	}
	return sentences[n-1], true
}

// MaxWritable returns the highest sentence index a write session may open.
// An empty file exposes slot 1. The slot one past the end is available only
// when the last sentence is delimiter-terminated.
func MaxWritable(content string) int {
	sentences := Split(content)
	if len(sentences) == 0 {
		return 1
	}
	last := sentences[len(sentences)-1]
	if isTerminated(last[len(last)-1]) {
		return len(sentences) + 1
	}
	return len(sentences)
}

// Insert places the words of text at the 1-based wordIdx inside sentence n
// of view and returns the reserialised content. view is the session's
// current edited state (swap content if present, live content otherwise).
//
// When n addresses the slot one past the last sentence, wordIdx must be 1
// and the new words are appended after the existing content.
func Insert(view string, n, wordIdx int, text string) (string, error) {
	insert := Fields(text)
	sentences := Split(view)

	// Empty file: only sentence 1, position 1 exists.
	if len(sentences) == 0 {
		if n != 1 {
			return "", ErrSentenceOutOfRange
		}
		if wordIdx != 1 {
			return "", ErrWordOutOfRange
		}
		return strings.Join(insert, " "), nil
	}

	// New sentence beyond the current end.
	if n > len(sentences) {
		if n != len(sentences)+1 {
			return "", ErrSentenceOutOfRange
		}
		if wordIdx != 1 {
			return "", ErrWordOutOfRange
		}
		words := Fields(view)
		return strings.Join(append(words, insert...), " "), nil
	}
	if n < 1 {
		return "", ErrSentenceOutOfRange
	}

	sent := append([]string(nil), sentences[n-1]...)

	// Detach the terminal delimiter from the last word so an insert at the
	// end lands before it.
	delim := ""
	last := sent[len(sent)-1]
	if isTerminated(last) {
		delim = last[len(last)-1:]
		trimmed := last[:len(last)-1]
		if trimmed == "" {
			sent = sent[:len(sent)-1]
		} else {
			sent[len(sent)-1] = trimmed
		}
	}

	if wordIdx < 1 || wordIdx > len(sent)+1 {
		return "", ErrWordOutOfRange
	}

	edited := make([]string, 0, len(sent)+len(insert))
	edited = append(edited, sent[:wordIdx-1]...)
	edited = append(edited, insert...)
	edited = append(edited, sent[wordIdx-1:]...)

	if delim != "" && len(edited) > 0 {
		edited[len(edited)-1] += delim
	}

	var out []string
	for i, s := range sentences {
		if i == n-1 {
			out = append(out, edited...)
		} else {
			out = append(out, s...)
		}
	}
	return strings.Join(out, " "), nil
}

// Merge composes the commit-time result for sentence n: sentences before n
// come from live, sentence n comes from swap, sentences after n come from
// live. When n exceeds the live sentence count, the swap's content from
// sentence n onward is appended after the live content.
func Merge(live, swap string, n int) string {
	liveSent := Split(live)
	swapSent := Split(swap)

	if len(liveSent) == 0 {
		return strings.Join(Fields(swap), " ")
	}

	if n > len(liveSent) {
		out := Fields(live)
		for i := n - 1; i < len(swapSent); i++ {
			out = append(out, swapSent[i]...)
		}
		return strings.Join(out, " ")
	}

	var out []string
	for i, s := range liveSent {
		if i == n-1 {
			if n <= len(swapSent) {
				out = append(out, swapSent[n-1]...)
			} else {
				out = append(out, s...)
			}
		} else {
			out = append(out, s...)
		}
	}
	return strings.Join(out, " ")
}

// Stats returns the word and character counts reported in file metadata.
func Stats(content string) (words int64, chars int64) {
	return int64(len(Fields(content))), int64(len(content))
}
