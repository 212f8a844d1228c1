package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/pkg/errors"

	echoapi "github.com/trezcool/classledger/apps/api/echo"
	"github.com/trezcool/classledger/core/class"
)

// changeStatus runs the class state machine on behalf of the actor.
func (cli *commandLine) changeStatus(req class.TransitionRequest, actorID int) error {
	ctx := context.Background()
	usr, err := cli.usrSvc.GetByID(ctx, actorID)
	if err != nil {
		return errors.Wrap(err, "finding actor")
	}

	status, err := cli.classSvc.RequestTransition(ctx, req, usr.Actor())
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "class %d is now %s\n", req.ClassID, status)
	return nil
}

func (cli *commandLine) printSessions(classID int) error {
	sessions, err := cli.attSvc.ListSessions(context.Background(), classID)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tHOURS\tSTATUS\tLEARNERS\tNOTES")
	for _, s := range sessions {
		notes := s.Notes
		if s.ExceptionType != "" {
			notes = fmt.Sprintf("%s %s", s.ExceptionType, notes)
		}
		if s.OffSchedule {
			notes += " (off schedule)"
		}
		fmt.Fprintf(w, "%s\t%.2f\t%s\t%d\t%s\n", s.Date, s.ScheduledHours, s.Status, s.LearnerCount, notes)
	}
	return w.Flush()
}

func (cli *commandLine) printToken(userID int) error {
	usr, err := cli.usrSvc.GetByID(context.Background(), userID)
	if err != nil {
		return errors.Wrap(err, "finding user")
	}
	token, err := echoapi.GenerateToken(echoapi.GetUserClaims(usr, cli.conf), cli.conf.SecretKey)
	if err != nil {
		return err
	}
	fmt.Fprintln(cli.out, token)
	return nil
}
