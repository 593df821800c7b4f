package main

import (
	"context"
	"fmt"

	"github.com/pkg/errors"

	"github.com/benhuang0857/mclass/core"
	"github.com/benhuang0857/mclass/core/user"
)

func (cli *commandLine) resetPassword(uname, pwd string) error {
	ctx := context.Background()
	usr, err := cli.svcs.Users.GetByUsernameOrEmail(ctx, uname)
	if err != nil {
		return err
	}
	if _, err := cli.svcs.Users.SetPassword(ctx, usr, pwd); err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "password of %q updated\n", usr.Username)
	return nil
}

// createAdmin creates an owner admin, or promotes and resets the password of the matching user.
func (cli *commandLine) createAdmin(uname, email, pwd string) error {
	ctx := context.Background()
	uname = core.CleanString(uname, true /* lower */)
	email = core.CleanString(email, true /* lower */)

	usr, err := cli.svcs.Users.GetByUsernameOrEmail(ctx, uname)
	if errors.Cause(err) == user.ErrNotFound {
		usr, err = cli.svcs.Users.GetByUsernameOrEmail(ctx, email)
	}
	switch {
	case err == nil:
		roles := core.UniqueStrings(append(usr.Roles, user.RoleAdminOwner))
		active := true
		if _, err := cli.svcs.Users.Update(ctx, usr, user.UpdateUser{
			Name:     usr.Name,
			Username: usr.Username,
			Email:    usr.Email,
			IsActive: &active,
			Roles:    roles,
			Password: pwd,
		}); err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "user %q promoted to admin\n", usr.Username)
		return nil

	case errors.Cause(err) == user.ErrNotFound:
		if err := cli.svcs.Users.CheckUniqueness(ctx, uname, email); err != nil {
			return err
		}
		usr, err = cli.svcs.Users.Create(ctx, user.NewUser{
			Name:     uname,
			Username: uname,
			Email:    email,
			Password: pwd,
			Roles:    []string{user.RoleAdminOwner},
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.out, "admin %q created\n", usr.Username)
		return nil

	default:
		return err
	}
}
