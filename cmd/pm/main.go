package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/awnumar/memguard"
	"github.com/spf13/cobra"

	"github.com/Hussein-Mazeh/passvault/auth"
	"github.com/Hussein-Mazeh/passvault/generator"
	"github.com/Hussein-Mazeh/passvault/internal/config"
	"github.com/Hussein-Mazeh/passvault/internal/db"
	"github.com/Hussein-Mazeh/passvault/internal/logging"
	"github.com/Hussein-Mazeh/passvault/internal/service"
	"github.com/Hussein-Mazeh/passvault/internal/vault"
	"github.com/Hussein-Mazeh/passvault/krypto"
)

var version = "dev" // set by the linker

const annotCreatesConfig = "creates-config"

type userError struct {
	msg string
}

func (e userError) Error() string { return e.msg }

func main() {
	memguard.CatchInterrupt()

	a := newApp(os.Stdin, os.Stdout, os.Stderr)
	err := newRootCmd(a).Execute()
	a.close()
	memguard.SafeExit(exitCode(a.errOut, err))
}

// exitCode prints err and maps it to the process status: 1 for errors the
// user can act on, 2 for anything unexpected.
func exitCode(w io.Writer, err error) int {
	if err == nil {
		return 0
	}

	var uerr userError
	if errors.As(friendly(err), &uerr) {
		fmt.Fprintln(w, uerr.Error())
		return 1
	}

	fmt.Fprintf(w, "unexpected error: %v\n", err)
	return 2
}

// friendly turns known domain errors into user-facing messages.
func friendly(err error) error {
	var uerr userError
	switch {
	case errors.As(err, &uerr):
		return uerr
	case errors.Is(err, auth.ErrWrongPassword):
		return userError{msg: "wrong master password"}
	case errors.Is(err, auth.ErrNotEnrolled):
		return userError{msg: "no master password set; run pm init first"}
	case errors.Is(err, auth.ErrPasswordTooWeak):
		return userError{msg: fmt.Sprintf("master password must be at least %d characters", auth.MinPasswordLength)}
	case errors.Is(err, service.ErrAlreadyEnrolled):
		return userError{msg: "master password already set; use pm passwd to change it"}
	case errors.Is(err, service.ErrOrphanedVault):
		return userError{msg: "a vault file exists without a master record; move it away before running pm init"}
	case errors.Is(err, vault.ErrEntryNotFound):
		return userError{msg: "entry not found"}
	case errors.Is(err, vault.ErrVaultInUse):
		return userError{msg: "vault is open in another session"}
	case errors.Is(err, vault.ErrVaultLocked):
		return userError{msg: "vault is locked"}
	case errors.Is(err, vault.ErrInvalidEntry):
		return userError{msg: "service name is required"}
	case errors.Is(err, db.ErrArchiveExists):
		return userError{msg: err.Error()}
	case errors.Is(err, krypto.ErrAuthenticationFailed):
		return userError{msg: "data failed authentication: wrong key or tampered file"}
	case errors.Is(err, generator.ErrGenerator):
		return userError{msg: err.Error()}
	}
	return err
}

// app carries the per-invocation state shared by commands.
type app struct {
	in      io.Reader
	out     io.Writer
	errOut  io.Writer
	prompt  *prompter
	cfgFile string
	cfg     config.Config
	svc     *service.Service
}

func newApp(in io.Reader, out, errOut io.Writer) *app {
	return &app{
		in:     in,
		out:    out,
		errOut: errOut,
		prompt: newPrompter(in, errOut),
	}
}

// service builds the service on first use.
func (a *app) service() (*service.Service, error) {
	if a.svc != nil {
		return a.svc, nil
	}
	svc, err := service.New(a.cfg)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	return svc, nil
}

// unlocked returns a service with the vault open, prompting for the master
// password when needed.
func (a *app) unlocked() (*service.Service, error) {
	svc, err := a.service()
	if err != nil {
		return nil, err
	}
	if svc.State() == auth.Unlocked {
		return svc, nil
	}
	if !svc.IsEnrolled() {
		return nil, auth.ErrNotEnrolled
	}

	pw, err := a.prompt.Password("Master password: ")
	if err != nil {
		return nil, fmt.Errorf("read master password: %w", err)
	}
	defer pw.Wipe()

	if err := svc.Login(pw); err != nil {
		return nil, err
	}
	return svc, nil
}

func (a *app) close() {
	if a.svc == nil {
		return
	}
	if err := a.svc.Close(); err != nil {
		logging.Warnf("close vault: %v", err)
	}
	a.svc = nil
}

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "pm",
		Short:         "pm is a local, encrypted password vault.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := a.cfgFile
			if _, err := os.Stat(cfgFile); err != nil && cmd.Annotations[annotCreatesConfig] != "" {
				// The file is about to be written from defaults.
				cfgFile = ""
			}
			cfg, err := config.Load(cmd, cfgFile)
			if err != nil {
				return userError{msg: err.Error()}
			}
			a.cfg = cfg
			return logging.SetLevel(cfg.Log.Level)
		},
	}
	cmd.SetIn(a.in)
	cmd.SetOut(a.out)
	cmd.SetErr(a.errOut)

	cmd.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is $XDG_CONFIG_HOME/passvault/passvault.yaml)")
	cmd.PersistentFlags().String("dir", "", "vault directory")
	cmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(a),
		newPasswdCmd(a),
		newListCmd(a),
		newShowCmd(a),
		newAddCmd(a),
		newEditCmd(a),
		newRmCmd(a),
		newGenCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newVerifyCmd(a),
		newConfigCmd(a),
		newShellCmd(a),
	)
	return cmd
}
