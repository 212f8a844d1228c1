package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/user"
)

var errHelp = errors.New("help provided")

type commandLine struct {
	conf     *core.Config
	db       *sqlx.DB
	out      io.Writer
	usrRepo  user.Repository
	usrSvc   *user.Service
	classSvc *class.Service
	attSvc   *attendance.Service
}

func (cli *commandLine) printUsage() {
	fmt.Fprintln(cli.out, "Usage:")
	fmt.Fprintln(cli.out, "  migrate COMMAND [ARGS] - run a goose command (up, down, status, ...) on the embedded migrations")
	fmt.Fprintln(cli.out, "  adduser -username USERNAME -email EMAIL [-name NAME] [-admin] - create an agent, or an admin")
	fmt.Fprintln(cli.out, "  status -class ID -to STATUS -actor ID [-order NR] [-reason R] [-notes N] - change a class status")
	fmt.Fprintln(cli.out, "  sessions -class ID - print the sessions of a class")
	fmt.Fprintln(cli.out, "  token -user ID - print a signed API token for a user")
}

func (cli *commandLine) newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(cli.out)
	return fs
}

func (cli *commandLine) run(args []string) error {
	if len(args) < 2 {
		cli.printUsage()
		return errHelp
	}

	addUserCmd := cli.newFlagSet("adduser")
	addUserUname := addUserCmd.String("username", "", "The user's username.")
	addUserEmail := addUserCmd.String("email", "", "The user's email.")
	addUserName := addUserCmd.String("name", "", "The user's full name.")
	addUserAdmin := addUserCmd.Bool("admin", false, "Give the user every admin role.")

	statusCmd := cli.newFlagSet("status")
	statusClass := statusCmd.Int("class", 0, "The class ID.")
	statusTo := statusCmd.String("to", "", "The target status: draft, active or stopped.")
	statusActor := statusCmd.Int("actor", 0, "The ID of the admin performing the change.")
	statusOrder := statusCmd.String("order", "", "The order number, required on first activation.")
	statusReason := statusCmd.String("reason", "", "The stop reason: programme_ended, temporary_hold or annual_stop.")
	statusNotes := statusCmd.String("notes", "", "Free notes kept in the status history.")

	sessionsCmd := cli.newFlagSet("sessions")
	sessionsClass := sessionsCmd.Int("class", 0, "The class ID.")

	tokenCmd := cli.newFlagSet("token")
	tokenUser := tokenCmd.Int("user", 0, "The user ID.")

	switch args[1] {
	case "migrate":
		if len(args) < 3 {
			cli.printUsage()
			return errHelp
		}
		return cli.migrate(args[2:])

	case "adduser":
		if err := addUserCmd.Parse(args[2:]); err != nil {
			return err
		}
		if strings.TrimSpace(*addUserUname) == "" || strings.TrimSpace(*addUserEmail) == "" {
			addUserCmd.Usage()
			return errHelp
		}
		return cli.addUser(*addUserName, *addUserUname, *addUserEmail, *addUserAdmin)

	case "status":
		if err := statusCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *statusClass <= 0 || *statusTo == "" || *statusActor <= 0 {
			statusCmd.Usage()
			return errHelp
		}
		req := class.TransitionRequest{
			ClassID:    *statusClass,
			Target:     class.Status(*statusTo),
			OrderNr:    *statusOrder,
			StopReason: class.StopReason(*statusReason),
			Notes:      *statusNotes,
		}
		return cli.changeStatus(req, *statusActor)

	case "sessions":
		if err := sessionsCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *sessionsClass <= 0 {
			sessionsCmd.Usage()
			return errHelp
		}
		return cli.printSessions(*sessionsClass)

	case "token":
		if err := tokenCmd.Parse(args[2:]); err != nil {
			return err
		}
		if *tokenUser <= 0 {
			tokenCmd.Usage()
			return errHelp
		}
		return cli.printToken(*tokenUser)

	default:
		cli.printUsage()
		return errHelp
	}
}
