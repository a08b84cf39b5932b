package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

var errNoTerminal = errors.New("--ask-password needs an interactive terminal")

// readPassword prompts on w and reads a masked line from fd.
func readPassword(w io.Writer, fd int) (string, error) {
	if !term.IsTerminal(fd) {
		return "", errNoTerminal
	}
	fmt.Fprint(w, "CouchDB password: ")
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	pw := strings.TrimSpace(string(b))
	if pw == "" {
		return "", errors.New("password cannot be empty")
	}
	return pw, nil
}

func stdinFD() int { return int(os.Stdin.Fd()) }
