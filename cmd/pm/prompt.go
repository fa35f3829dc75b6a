package main

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"

	"github.com/Hussein-Mazeh/passvault/krypto"
)

// prompter reads secrets without echo from a terminal, or line by line when
// input is piped.
type prompter struct {
	in    io.Reader
	lines *bufio.Reader
	out   io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, lines: bufio.NewReader(in), out: out}
}

func (p *prompter) terminal() (int, bool) {
	f, ok := p.in.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// Password prompts for a secret. The caller wipes it.
func (p *prompter) Password(prompt string) (krypto.Secret, error) {
	fmt.Fprint(p.out, prompt)
	if fd, ok := p.terminal(); ok {
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return nil, err
		}
		return krypto.Secret(pw), nil
	}

	line, err := p.lines.ReadBytes('\n')
	if err != nil && !(errors.Is(err, io.EOF) && len(line) > 0) {
		return nil, err
	}
	pw := bytes.TrimRight(line, "\r\n")
	out := make(krypto.Secret, len(pw))
	copy(out, pw)
	krypto.Wipe(line)
	return out, nil
}

// NewPassword prompts twice and fails if the entries differ.
func (p *prompter) NewPassword(prompt string) (krypto.Secret, error) {
	pw, err := p.Password(prompt)
	if err != nil {
		return nil, err
	}
	confirm, err := p.Password("Confirm: ")
	if err != nil {
		pw.Wipe()
		return nil, err
	}
	defer confirm.Wipe()

	if !bytes.Equal(pw, confirm) {
		pw.Wipe()
		return nil, userError{msg: "passwords do not match"}
	}
	return pw, nil
}

// Line reads one line of visible input.
func (p *prompter) Line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.lines.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
