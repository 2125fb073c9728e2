package main

import (
	"context"

	"github.com/amboseli-lewis/sms/core/user"
)

func (cli *commandLine) resetPassword(email, pwd, confirm string) error {
	err := cli.usrSvc.ResetPassword(context.Background(), user.PasswordReset{
		Email:           email,
		Password:        pwd,
		PasswordConfirm: confirm,
	})
	if err != nil {
		return err
	}
	cli.printf("Password of %s updated.\n", email)
	return nil
}
