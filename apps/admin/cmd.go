package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io"
	"syscall"

	"github.com/go-playground/validator/v10"
	"github.com/kat-co/vala"
	"golang.org/x/term"

	"github.com/benhuang0857/mclass/apps/di"
	"github.com/benhuang0857/mclass/core"
)

var (
	readPasswordFunc = term.ReadPassword // mockable

	errHelp = errors.New("help provided")
	errNoDB = errors.New("this command needs the postgres database engine")
)

type commandLine struct {
	conf     *core.Config
	logger   core.Logger
	db       *sql.DB // nil with the inmem engine
	svcs     *di.Services
	locker   core.Locker
	validate *validator.Validate
	out      io.Writer
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS]                         - run a goose command (up, down, status, create NAME sql, ...)")
	fmt.Fprintln(cli.out, "  seed [-demo]                                   - seed the catalog, plus demo accounts and courses with -demo")
	fmt.Fprintln(cli.out, "  createadmin -username USERNAME -email EMAIL    - create or promote an admin; the password is prompted")
	fmt.Fprintln(cli.out, "  resetpassword -username USERNAME|EMAIL         - reset user's password")
	fmt.Fprintln(cli.out, "  remind counseling|courses|tasks|all [-window D] - send the reminders due in the window")
	fmt.Fprintln(cli.out, "  expireorders [-ttl D]                          - cancel the orders pending for longer than ttl")
	fmt.Fprintln(cli.out, "  schedule                                       - run the reminder and expiry jobs on their cron specs")
}

// readPassword prompts for a password on stdin.
func (cli *commandLine) readPassword(prompt string) (string, error) {
	fmt.Fprint(cli.out, prompt)
	pwd, err := readPasswordFunc(int(syscall.Stdin))
	fmt.Fprintln(cli.out)
	if err != nil {
		return "", err
	}
	return string(pwd), nil
}

func newFlagSet(name string, out io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "seed":
		seedCmd := newFlagSet("seed", cli.out)
		demo := seedCmd.Bool("demo", false, "Also create demo accounts, a club course and a flip course.")
		if err := seedCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.seed(*demo)

	case "createadmin":
		createAdminCmd := newFlagSet("createadmin", cli.out)
		uname := createAdminCmd.String("username", "", "The admin's username.")
		email := createAdminCmd.String("email", "", "The admin's email. The password will be prompted next.")
		if err := createAdminCmd.Parse(args[2:]); err != nil {
			return err
		}
		if err := vala.BeginValidation().Validate(
			vala.StringNotEmpty(*uname, "username"),
			vala.StringNotEmpty(*email, "email"),
		).Check(); err != nil {
			fmt.Fprintln(cli.out, err)
			createAdminCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			createAdminCmd.Usage()
			return errHelp
		}
		return cli.createAdmin(*uname, *email, pwd)

	case "resetpassword":
		resetPasswordCmd := newFlagSet("resetpassword", cli.out)
		uname := resetPasswordCmd.String("username", "", "The user's username or email. The password will be prompted next.")
		if err := resetPasswordCmd.Parse(args[2:]); err != nil {
			return err
		}
		if err := vala.BeginValidation().Validate(vala.StringNotEmpty(*uname, "username")).Check(); err != nil {
			resetPasswordCmd.Usage()
			return errHelp
		}
		pwd, err := cli.readPassword("Enter password:")
		if err != nil {
			return err
		}
		if pwd == "" {
			resetPasswordCmd.Usage()
			return errHelp
		}
		return cli.resetPassword(*uname, pwd)

	case "remind":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		remindCmd := newFlagSet("remind", cli.out)
		window := remindCmd.Duration("window", 0, "Look-ahead window; defaults to the job's configured window.")
		if err := remindCmd.Parse(args[3:]); err != nil {
			return err
		}
		return cli.remind(args[2], *window)

	case "expireorders":
		expireCmd := newFlagSet("expireorders", cli.out)
		ttl := expireCmd.Duration("ttl", cli.conf.Reminders.PendingOrderTTL, "How long an order may stay pending.")
		if err := expireCmd.Parse(args[2:]); err != nil {
			return err
		}
		return cli.expireOrders(*ttl)

	case "schedule":
		return cli.schedule()

	default:
		cli.printUsage()
		return errHelp
	}
}
