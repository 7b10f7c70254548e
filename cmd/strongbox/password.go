package main

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/term"
)

var (
	errPasswordMismatch = errors.New("passwords do not match")
	errPasswordEmpty    = errors.New("password cannot be empty")
)

func readPasswordSecure(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	if !term.IsTerminal(int(os.Stdin.Fd())) {
		reader := bufio.NewReader(os.Stdin)
		pw, err := reader.ReadString('\n')
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return strings.TrimRight(pw, "\r\n"), nil
	}

	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

// readPasswordFromStdin reads one line from stdin, for scripted/piped use
// with --password-stdin.
func readPasswordFromStdin() (string, error) {
	reader := bufio.NewReader(os.Stdin)
	pw, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading password from stdin: %w", err)
	}
	return strings.TrimRight(pw, "\r\n"), nil
}

// readPasswordInteractive prompts for a password, asking for confirmation
// when confirm is true (new backup passwords, not restore passwords).
func readPasswordInteractive(confirm bool) (string, error) {
	password, err := readPasswordSecure("Password: ")
	if err != nil {
		return "", err
	}
	if password == "" {
		return "", errPasswordEmpty
	}
	if confirm {
		again, err := readPasswordSecure("Confirm password: ")
		if err != nil {
			return "", err
		}
		if password != again {
			return "", errPasswordMismatch
		}
	}
	return password, nil
}
