package session

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Confirmer decides whether to proceed past a metadata conflict
// (version downgrade or different app id). It is injected so the CLI
// can prompt interactively while tests supply a fixed answer.
type Confirmer interface {
	Confirm(prompt string) bool
}

// ConfirmerFunc adapts a function to the Confirmer interface.
type ConfirmerFunc func(prompt string) bool

func (f ConfirmerFunc) Confirm(prompt string) bool {
	return f(prompt)
}

// AlwaysConfirm always answers yes; useful for --downgrade/--newapp
// flags that pre-empt the prompt.
var AlwaysConfirm = ConfirmerFunc(func(string) bool { return true })

// NeverConfirm always answers no; useful for --nodowngrade/--nonewapp
// flags.
var NeverConfirm = ConfirmerFunc(func(string) bool { return false })

// TerminalConfirmer prompts on an io.Writer and reads a yes/no answer
// from an io.Reader. No pack example offers a TTY-prompt library for
// this narrow a surface, so it is a small bufio.Scanner wrapper rather
// than a dependency.
type TerminalConfirmer struct {
	In  io.Reader
	Out io.Writer
}

func (c *TerminalConfirmer) Confirm(prompt string) bool {
	fmt.Fprintf(c.Out, "%s [y/N]: ", prompt)
	scanner := bufio.NewScanner(c.In)
	if !scanner.Scan() {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(scanner.Text()))
	return answer == "y" || answer == "yes"
}
