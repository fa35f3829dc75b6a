package main

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Hussein-Mazeh/passvault/generator"
	"github.com/Hussein-Mazeh/passvault/internal/service"
)

func newShellCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Unlock once and run commands interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, "session unlocked; type 'help' for commands")
			return sessionLoop(a, svc)
		},
	}
}

func sessionLoop(a *app, svc *service.Service) error {
	for {
		line, err := a.prompt.Line("pm> ")
		if err != nil {
			if errors.Is(err, io.EOF) {
				fmt.Fprintln(a.out)
				return nil
			}
			return fmt.Errorf("read input: %w", err)
		}

		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		cmd, args := fields[0], fields[1:]

		if cmd == "exit" || cmd == "quit" {
			return nil
		}
		if err := runSessionCommand(a, svc, cmd, args); err != nil {
			handleSessionError(a.errOut, err)
		}
	}
}

func runSessionCommand(a *app, svc *service.Service, cmd string, args []string) error {
	switch cmd {
	case "help":
		printSessionHelp(a.out)
		return nil
	case "list", "ls":
		items, err := svc.List()
		if err != nil {
			return err
		}
		printSummaries(a.out, items)
		return nil
	case "find":
		if len(args) != 1 {
			return userError{msg: "usage: find <service>"}
		}
		items, err := svc.Find(args[0])
		if err != nil {
			return err
		}
		printSummaries(a.out, items)
		return nil
	case "show":
		if len(args) != 1 {
			return userError{msg: "usage: show <id>"}
		}
		return showEntries(a.out, svc, args, "")
	case "add":
		if len(args) < 1 || len(args) > 2 {
			return userError{msg: "usage: add <service> [username]"}
		}
		username := ""
		if len(args) == 2 {
			username = args[1]
		}
		pw, err := a.prompt.NewPassword("Password: ")
		if err != nil {
			return err
		}
		defer pw.Wipe()
		id, err := svc.Add(args[0], username, string(pw))
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, id)
		return nil
	case "rm":
		if len(args) != 1 {
			return userError{msg: "usage: rm <id>"}
		}
		if err := svc.Delete(args[0]); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "deleted", args[0])
		return nil
	case "gen":
		length := svc.DefaultLength()
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return userError{msg: "usage: gen [length]"}
			}
			length = n
		}
		pw, err := svc.Generate(length, generator.AllClasses())
		if err != nil {
			return err
		}
		fmt.Fprintln(a.out, pw)
		return nil
	case "verify":
		return runVerify(a.out, svc)
	case "reset":
		if err := svc.Reset(); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "vault reloaded from disk")
		return nil
	case "lock":
		svc.Lock()
		fmt.Fprintln(a.out, "locked")
		return nil
	case "unlock":
		pw, err := a.prompt.Password("Master password: ")
		if err != nil {
			return err
		}
		defer pw.Wipe()
		if err := svc.Login(pw); err != nil {
			return err
		}
		fmt.Fprintln(a.out, "unlocked")
		return nil
	default:
		return userError{msg: fmt.Sprintf("unknown command: %s", cmd)}
	}
}

func handleSessionError(w io.Writer, err error) {
	if err == nil {
		return
	}

	var uerr userError
	if errors.As(friendly(err), &uerr) {
		fmt.Fprintln(w, uerr.Error())
		return
	}

	fmt.Fprintf(w, "error: %v\n", err)
}

func printSessionHelp(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  list | ls")
	fmt.Fprintln(w, "  find <service>")
	fmt.Fprintln(w, "  show <id>")
	fmt.Fprintln(w, "  add <service> [username]")
	fmt.Fprintln(w, "  rm <id>")
	fmt.Fprintln(w, "  gen [length]")
	fmt.Fprintln(w, "  verify | reset")
	fmt.Fprintln(w, "  lock | unlock")
	fmt.Fprintln(w, "  exit | quit")
}
