package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Hussein-Mazeh/passvault/generator"
	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/service"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

func newInitCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Set the master password and create an empty vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			if svc.IsEnrolled() {
				return userError{msg: "master password already set; use pm passwd to change it"}
			}

			pw, err := a.prompt.NewPassword("New master password: ")
			if err != nil {
				return err
			}
			defer pw.Wipe()

			printStrength(a.errOut, svc, string(pw))
			if err := svc.Enroll(pw); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "vault created in %s\n", svc.Paths().Dir)
			return nil
		},
	}
	cmd.Flags().String("cipher", "", fmt.Sprintf("cipher for the new vault (%s)", strings.Join(krypto.SupportedCiphers(), ", ")))
	return cmd
}

func newPasswdCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "passwd",
		Short: "Change the master password and re-encrypt the vault",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}

			current, err := a.prompt.Password("Current master password: ")
			if err != nil {
				return fmt.Errorf("read master password: %w", err)
			}
			defer current.Wipe()

			next, err := a.prompt.NewPassword("New master password: ")
			if err != nil {
				return err
			}
			defer next.Wipe()

			printStrength(a.errOut, svc, string(next))
			if err := svc.ChangeMaster(current, next); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "master password changed")
			return nil
		},
	}
}

func newListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List stored credentials without passwords",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			items, err := svc.List()
			if err != nil {
				return err
			}
			printSummaries(a.out, items)
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	var serviceName string
	cmd := &cobra.Command{
		Use:   "show [id]",
		Short: "Print the password of an entry, or of every entry for --service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (serviceName == "") {
				return userError{msg: "show requires either an id or --service"}
			}
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			return showEntries(a.out, svc, args, serviceName)
		},
	}
	cmd.Flags().StringVarP(&serviceName, "service", "s", "", "service name")
	return cmd
}

func showEntries(w io.Writer, svc *service.Service, ids []string, serviceName string) error {
	if serviceName != "" {
		found, err := svc.Find(serviceName)
		if err != nil {
			return err
		}
		if len(found) == 0 {
			return userError{msg: fmt.Sprintf("no credentials found for %s", serviceName)}
		}
		for _, s := range found {
			ids = append(ids, s.ID)
		}
	}

	for _, id := range ids {
		pw, err := svc.Reveal(id)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\n", id, pw)
	}
	return nil
}

// passwordSource adds the flags shared by add and edit for choosing a
// password interactively or generating one.
type passwordSource struct {
	generate bool
	length   int
}

func (p *passwordSource) bind(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&p.generate, "generate", "g", false, "generate a random password")
	cmd.Flags().IntVarP(&p.length, "length", "l", 0, "generated password length (default from config)")
}

func (p *passwordSource) read(cmd *cobra.Command, a *app, svc *service.Service) (string, error) {
	if p.generate {
		pw, err := svc.Generate(lengthFlag(cmd, p.length, svc), generator.AllClasses())
		if err != nil {
			return "", err
		}
		fmt.Fprintf(a.errOut, "generated a %d-character password\n", len(pw))
		return pw, nil
	}
	pw, err := a.prompt.NewPassword("Password: ")
	if err != nil {
		return "", err
	}
	defer pw.Wipe()
	return string(pw), nil
}

// lengthFlag returns the --length value, or the configured default when the
// flag was not given.
func lengthFlag(cmd *cobra.Command, length int, svc *service.Service) int {
	if cmd.Flags().Changed("length") {
		return length
	}
	return svc.DefaultLength()
}

func newAddCmd(a *app) *cobra.Command {
	var (
		username string
		src      passwordSource
	)
	cmd := &cobra.Command{
		Use:   "add <service>",
		Short: "Store a new credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			pw, err := src.read(cmd, a, svc)
			if err != nil {
				return err
			}
			id, err := svc.Add(args[0], username, pw)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, id)
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "account username")
	src.bind(cmd)
	return cmd
}

func newEditCmd(a *app) *cobra.Command {
	var (
		username    string
		newPassword bool
		src         passwordSource
	)
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Change the username or password of an entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var ch vault.Changes
			if cmd.Flags().Changed("user") {
				ch.Username = &username
			}
			if !newPassword && !src.generate && ch.Username == nil {
				return userError{msg: "nothing to change: pass --user, --password or --generate"}
			}

			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			if newPassword || src.generate {
				pw, err := src.read(cmd, a, svc)
				if err != nil {
					return err
				}
				ch.Password = &pw
			}
			if err := svc.Update(args[0], ch); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "updated", args[0])
			return nil
		},
	}
	cmd.Flags().StringVarP(&username, "user", "u", "", "new username")
	cmd.Flags().BoolVarP(&newPassword, "password", "p", false, "prompt for a new password")
	src.bind(cmd)
	return cmd
}

func newRmCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete an entry",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			if err := svc.Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "deleted", args[0])
			return nil
		},
	}
}

func newGenCmd(a *app) *cobra.Command {
	var (
		length                             int
		noUpper, noLower, noDigit, noSpecl bool
	)
	cmd := &cobra.Command{
		Use:   "gen",
		Short: "Generate a random password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			classes := generator.Classes{
				Upper:   !noUpper,
				Lower:   !noLower,
				Digits:  !noDigit,
				Special: !noSpecl,
			}
			pw, err := svc.Generate(lengthFlag(cmd, length, svc), classes)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, pw)
			printStrength(a.errOut, svc, pw)
			return nil
		},
	}
	cmd.Flags().IntVarP(&length, "length", "l", 0, fmt.Sprintf("password length, %d-%d (default from config)", generator.MinLength, generator.MaxLength))
	cmd.Flags().BoolVar(&noUpper, "no-upper", false, "exclude uppercase letters")
	cmd.Flags().BoolVar(&noLower, "no-lower", false, "exclude lowercase letters")
	cmd.Flags().BoolVar(&noDigit, "no-digits", false, "exclude digits")
	cmd.Flags().BoolVar(&noSpecl, "no-special", false, "exclude special characters")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write an encrypted SQLite backup of the vault",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			n, err := svc.Export(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exported %d entries to %s\n", n, args[0])
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Add the entries of a backup made under the current master password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			ids, err := svc.Import(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "imported %d entries\n", len(ids))
			return nil
		},
	}
}

func newVerifyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Check every entry for tampering",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.unlocked()
			if err != nil {
				return err
			}
			return runVerify(a.out, svc)
		},
	}
}

func runVerify(w io.Writer, svc *service.Service) error {
	damaged, err := svc.Verify()
	if err != nil {
		return err
	}
	if len(damaged) == 0 {
		fmt.Fprintln(w, "all entries verified")
		return nil
	}
	for _, id := range damaged {
		fmt.Fprintln(w, "damaged:", id)
	}
	return userError{msg: fmt.Sprintf("%d entries failed authentication", len(damaged))}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:         "init",
		Short:       "Write the effective configuration to the config file",
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotCreatesConfig: "true"},
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.cfgFile
			if path == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				path = p
			}
			if _, err := os.Stat(path); err == nil && !force {
				return userError{msg: fmt.Sprintf("%s already exists; pass --force to overwrite", path)}
			}
			if err := config.WriteFile(path, a.cfg); err != nil {
				return err
			}
			fmt.Fprintln(a.out, "wrote", path)
			return nil
		},
	}
	initCmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")
	cmd.AddCommand(initCmd)
	return cmd
}

func printSummaries(w io.Writer, items []vault.Summary) {
	if len(items) == 0 {
		fmt.Fprintln(w, "no entries")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSERVICE\tUSERNAME\tUPDATED")
	for _, s := range items {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.Service, s.Username, s.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	tw.Flush()
}

func printStrength(w io.Writer, svc *service.Service, pw string) {
	s := svc.Strength(pw)
	fmt.Fprintf(w, "strength: %d/4, crack time %s\n", s.Score, s.CrackTime)
	for _, h := range s.Hints {
		fmt.Fprintln(w, "  hint:", h)
	}
}
