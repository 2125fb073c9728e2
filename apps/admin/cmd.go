package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"syscall"

	"golang.org/x/term"

	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
)

type commandLine struct {
	db        *sql.DB
	usrSvc    user.ServiceInterface
	schoolSvc *school.Service
	out       io.Writer
}

func (cli *commandLine) printf(format string, args ...interface{}) {
	out := cli.out
	if out == nil {
		out = os.Stdout
	}
	_, _ = fmt.Fprintf(out, format, args...)
}

func (cli *commandLine) printUsage() {
	cli.printf("Usage:\n")
	cli.printf("  migrate COMMAND [ARGS]                  - run a goose command (up, down, status, ...)\n")
	cli.printf("  createadmin -email EMAIL -name NAME [-staff] - create or update a user\n")
	cli.printf("  resetpassword -email EMAIL              - reset a user's password\n")
	cli.printf("  seed                                    - create the default classes\n")
}

// promptPassword reads a password and its confirmation from the terminal.
func (cli *commandLine) promptPassword() (string, string, error) {
	cli.printf("Enter password: ")
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", "", err
	}
	cli.printf("Confirm password: ")
	confirm, err := readPasswordFunc(int(syscall.Stdin))
	cli.printf("\n")
	if err != nil {
		return "", "", err
	}
	return string(pwd), string(confirm), nil
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	createAdminCmd := flag.NewFlagSet("createadmin", flag.ContinueOnError)
	createAdminEmail := createAdminCmd.String("email", "", "The user's email. The password will be prompted next.")
	createAdminName := createAdminCmd.String("name", "", "The user's full name.")
	createAdminStaff := createAdminCmd.Bool("staff", false, "Create a read-only STAFF user instead of an ADMIN.")

	resetPasswordCmd := flag.NewFlagSet("resetpassword", flag.ContinueOnError)
	resetPasswordEmail := resetPasswordCmd.String("email", "", "The user's email. The password will be prompted next.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "createadmin":
		if err := createAdminCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *createAdminEmail == "" || *createAdminName == "" {
			createAdminCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			createAdminCmd.Usage()
			return errHelp
		}
		role := user.RoleAdmin
		if *createAdminStaff {
			role = user.RoleStaff
		}
		return cli.createAdmin(*createAdminName, *createAdminEmail, role, pwd, confirm)

	case "resetpassword":
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return errHelp
		}
		if *resetPasswordEmail == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, confirm, err := cli.promptPassword()
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*resetPasswordEmail, pwd, confirm)

	case "seed":
		return cli.seed()

	default:
		cli.printUsage()
		return errHelp
	}
}
