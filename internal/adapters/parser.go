package adapters

import (
	"regexp"
	"strings"
)

// ParsedCommand is the result of parsing one chat message
type ParsedCommand struct {
	Command string // lower-case, without slash or @botname; empty for plain chat
	Args    string
	RawText string
}

// CommandParser recognizes slash commands and the plain-word command forms
type CommandParser struct {
	slashPattern *regexp.Regexp
	wordPattern  *regexp.Regexp
	barePattern  *regexp.Regexp
}

// NewCommandParser creates a new command parser
func NewCommandParser() *CommandParser {
	return &CommandParser{
		slashPattern: regexp.MustCompile(`^/(\w+)(?:@\w+)?(?:\s+([\s\S]+))?$`),
		wordPattern:  regexp.MustCompile(`(?i)^(remember|search)\s*:?\s+([\s\S]+)$`),
		barePattern:  regexp.MustCompile(`(?i)^(clear|reset)[.!]?$`),
	}
}

// Parse extracts a command from message text
func (p *CommandParser) Parse(text string) ParsedCommand {
	trimmed := strings.TrimSpace(text)
	result := ParsedCommand{RawText: trimmed}

	if match := p.slashPattern.FindStringSubmatch(trimmed); match != nil {
		result.Command = strings.ToLower(match[1])
		result.Args = strings.TrimSpace(match[2])
		return result
	}

	if match := p.wordPattern.FindStringSubmatch(trimmed); match != nil {
		result.Command = strings.ToLower(match[1])
		result.Args = strings.TrimSpace(match[2])
		return result
	}

	if match := p.barePattern.FindStringSubmatch(trimmed); match != nil {
		result.Command = strings.ToLower(match[1])
	}
	return result
}
