package flail

import "strings"

const (
	// StatementSeparator ends a statement within a line.
	StatementSeparator = ";"
	// CommentPrefix starts a comment running to the end of the statement.
	CommentPrefix = "#"
	// DefaultMaxLineLength is the longest source line accepted, in bytes.
	DefaultMaxLineLength = 255
)

// IsBlank reports whether a line holds nothing but whitespace.
func IsBlank(line string) bool {
	return strings.TrimSpace(line) == ""
}

// SplitStatements splits a line at ';'. Empty fragments are dropped.
func SplitStatements(line string) []string {
	parts := strings.Split(line, StatementSeparator)
	statements := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			statements = append(statements, part)
		}
	}
	return statements
}

// isWordDelimiter lists the characters separating words. Parentheses and
// commas carry no meaning beyond that.
func isWordDelimiter(r rune) bool {
	switch r {
	case ' ', '\t', '(', ')', ',', '\r', '\n':
		return true
	}
	return false
}

// SplitWords splits a statement into words. Empty fragments are dropped.
func SplitWords(statement string) []string {
	return strings.FieldsFunc(statement, isWordDelimiter)
}

// TruncateComment drops the first word starting with '#' and everything
// after it.
func TruncateComment(words []string) []string {
	for i, word := range words {
		if strings.HasPrefix(word, CommentPrefix) {
			return words[:i]
		}
	}
	return words
}

// Tokenize splits a line into the word lists of its statements. Comments are
// removed and statements left without words are skipped.
func Tokenize(line string) [][]string {
	if IsBlank(line) {
		return nil
	}
	var statements [][]string
	for _, stmt := range SplitStatements(line) {
		words := TruncateComment(SplitWords(stmt))
		if len(words) > 0 {
			statements = append(statements, words)
		}
	}
	return statements
}
