package main

import (
	"context"
	"fmt"
	"time"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/user"
)

// addUser creates an active agent, or an admin holding every role.
func (cli *commandLine) addUser(name, uname, email string, isAdmin bool) error {
	now := time.Now().UTC()
	usr := user.User{
		Name:      core.CleanString(name),
		Username:  core.CleanString(uname, true /* lower */),
		Email:     core.CleanString(email, true /* lower */),
		IsActive:  true,
		Roles:     user.AgentRoles,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if isAdmin {
		usr.Roles = user.AllRoles
	}

	usr, err := cli.usrRepo.CreateUser(context.Background(), usr)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "user %q created with ID %d\n", usr.Username, usr.ID)
	return nil
}
