package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// readPassword reads without echo; tests replace it.
var readPassword = term.ReadPassword

var errEmptyInput = errors.New("no input")

// ask prints "label: " and returns the next trimmed line. A final line
// without a newline still counts.
func (a *App) ask(label string) (string, error) {
	fmt.Fprintf(a.out, "%s: ", label)

	line, err := a.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", fmt.Errorf("%s: %w", strings.ToLower(label), errEmptyInput)
	}
	return line, nil
}

// askPassword reads a password from the terminal on stdin. The caller
// wipes the returned slice.
func (a *App) askPassword() ([]byte, error) {
	fmt.Fprint(a.out, "Password: ")
	pw, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(a.out)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	if len(pw) == 0 {
		return nil, fmt.Errorf("password: %w", errEmptyInput)
	}
	return pw, nil
}
