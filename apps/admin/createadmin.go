package main

import (
	"context"

	"github.com/amboseli-lewis/sms/core/user"
)

// createAdmin updates or creates a user.User
func (cli *commandLine) createAdmin(name, email, role, pwd, confirm string) error {
	usr, err := cli.usrSvc.UpdateOrCreate(context.Background(), user.NewUser{
		Name:            name,
		Email:           email,
		Role:            role,
		Password:        pwd,
		PasswordConfirm: confirm,
	})
	if err != nil {
		return err
	}
	cli.printf("%s user %s <%s> saved.\n", usr.Role, usr.Name, usr.Email)
	return nil
}
