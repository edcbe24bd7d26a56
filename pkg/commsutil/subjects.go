package commsutil

import (
	"fmt"
	"strings"
)

// Default COMMS subjects.
const (
	SubjectCommands    = "editor.bridge.v1.commands"
	SubjectChangeEvent = "editor.changed"
	QueueGroup         = "editor-bridge"
)

// BuildChangeSubject builds the granular change event subject for a command.
func BuildChangeSubject(subsystem, command string) string {
	return fmt.Sprintf("%s.%s.%s", SubjectChangeEvent, Token(subsystem), Token(command))
}

// Token makes s safe to use as a single subject token.
func Token(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r':
			return '_'
		}
		return r
	}, s)
}
