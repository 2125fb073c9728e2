package main

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"io/ioutil"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
	inmemdb "github.com/amboseli-lewis/sms/storage/database/inmem"
	"github.com/amboseli-lewis/sms/testutil"
)

var (
	usrRepo user.Repository
	store   *inmemdb.Store
)

func setup(t *testing.T) *commandLine {
	conf := testutil.NewConfig()
	validate, _ := testutil.NewValidator()

	db := inmemdb.Open()
	usrRepo = inmemdb.NewUserRepository(db)
	store = inmemdb.NewStore(db)

	return &commandLine{
		usrSvc:    user.NewService(usrRepo, validate),
		schoolSvc: school.NewService(store, validate, testutil.NewLogger(conf)),
		out:       ioutil.Discard,
	}
}

type cliTest struct {
	name       string
	args       []string // without program name
	wantErr    error
	wantErrStr string
	extra      interface{}
}

func (tt cliTest) check(t *testing.T, err error) {
	t.Helper()
	switch {
	case tt.wantErr != nil:
		assert.Equal(t, tt.wantErr, err)
	case tt.wantErrStr != "":
		if assert.Error(t, err) {
			assert.Equal(t, tt.wantErrStr, err.Error())
		}
	default:
		assert.NoError(t, err)
	}
}

// mockPasswords makes the password prompts read pwd then confirm.
func mockPasswords(pwd, confirm string) {
	calls := 0
	readPasswordFunc = func(fd int) ([]byte, error) {
		calls++
		if calls%2 == 1 {
			return []byte(pwd), nil
		}
		return []byte(confirm), nil
	}
}

func Test_commandLine_run(t *testing.T) {
	cli := setup(t)

	tests := []cliTest{
		{name: "no command", wantErr: errHelp},
		{name: "unknown command", args: []string{"lol"}, wantErr: errHelp},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_migrate(t *testing.T) {
	cli := setup(t)

	gooseRunFunc = func(command string, db *sql.DB, fsys fs.FS, dir string, args ...string) error {
		if dir != "migrations" {
			return fmt.Errorf("unexpected migrations dir %q", dir)
		}
		if _, err := fs.Stat(fsys, "migrations/00001_create_users.sql"); err != nil {
			return fmt.Errorf("migrations not embedded: %v", err)
		}
		switch command {
		case "up", "up-by-one", "down", "fix", "redo", "reset", "status", "version": // pass
		case "up-to":
			if len(args) == 0 {
				return fmt.Errorf("up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		case "create":
			if len(args) == 0 {
				return fmt.Errorf("create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]")
			}
		case "down-to":
			if len(args) == 0 {
				return fmt.Errorf("down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION")
			}
			if _, err := strconv.ParseInt(args[0], 10, 64); err != nil {
				return fmt.Errorf("version must be a number (got '%s')", args[0])
			}
		default:
			return fmt.Errorf("%q: no such command", command)
		}
		return nil
	}

	tests := []cliTest{
		{name: "no subcommand", args: []string{"migrate"}, wantErr: errHelp},
		{name: "unknown subcommand", args: []string{"migrate", "lol"}, wantErrStr: "\"lol\": no such command"},
		{name: "up-to: no args", args: []string{"migrate", "up-to"}, wantErrStr: "up-to must be of form: goose [OPTIONS] DRIVER DBSTRING up-to VERSION"},
		{name: "up-to: non-int arg", args: []string{"migrate", "up-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "create: no args", args: []string{"migrate", "create"}, wantErrStr: "create must be of form: goose [OPTIONS] DRIVER DBSTRING create NAME [go|sql]"},
		{name: "down-to: no args", args: []string{"migrate", "down-to"}, wantErrStr: "down-to must be of form: goose [OPTIONS] DRIVER DBSTRING down-to VERSION"},
		{name: "down-to: non-int arg", args: []string{"migrate", "down-to", "lol"}, wantErrStr: "version must be a number (got 'lol')"},
		{name: "up", args: []string{"migrate", "up"}},
		{name: "up-by-one", args: []string{"migrate", "up-by-one"}},
		{name: "up-to", args: []string{"migrate", "up-to", "2"}},
		{name: "down", args: []string{"migrate", "down"}},
		{name: "down-to", args: []string{"migrate", "down-to", "1"}},
		{name: "redo", args: []string{"migrate", "redo"}},
		{name: "reset", args: []string{"migrate", "reset"}},
		{name: "status", args: []string{"migrate", "status"}},
		{name: "version", args: []string{"migrate", "version"}},
		{name: "create", args: []string{"migrate", "create", "fee_discounts", "sql"}},
		{name: "fix", args: []string{"migrate", "fix"}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, cli.run(args))
		})
	}
}

func Test_commandLine_createAdmin(t *testing.T) {
	cli := setup(t)

	type extra struct {
		pwd, confirm string
		wantRole     string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"createadmin"}, wantErr: errHelp},
		{name: "email but no name", args: []string{"createadmin", "-email", "head@school.test"}, wantErr: errHelp},
		{name: "no password", args: []string{"createadmin", "-email", "head@school.test", "-name", "Head Teacher"}, wantErr: errHelp},
		{
			name:  "create admin",
			args:  []string{"createadmin", "-email", "head@school.test", "-name", "Head Teacher"},
			extra: extra{pwd: testutil.StrongPassword, confirm: testutil.StrongPassword, wantRole: user.RoleAdmin},
		},
		{
			name:  "update existing user as staff",
			args:  []string{"createadmin", "-email", "HEAD@school.test", "-name", "Head Teacher", "-staff"},
			extra: extra{pwd: testutil.StrongPassword, confirm: testutil.StrongPassword, wantRole: user.RoleStaff},
		},
		{
			name:       "passwords mismatch",
			args:       []string{"createadmin", "-email", "bursar@school.test", "-name", "Bursar"},
			extra:      extra{pwd: testutil.StrongPassword, confirm: "Zz8#qWe4!rTy"},
			wantErrStr: "Key: 'NewUser.passwordConfirm' Error:Field validation for 'passwordConfirm' failed on the 'eqfield' tag",
		},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		ex, hasExtra := tt.extra.(extra)
		mockPasswords(ex.pwd, ex.confirm)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err != nil || !hasExtra {
				return
			}
			usr, err := usrRepo.GetUser(context.Background(), user.GetFilter{Email: "head@school.test"})
			require.NoError(t, err)
			assert.Equal(t, "Head Teacher", usr.Name)
			assert.Equal(t, ex.wantRole, usr.Role)
			assert.True(t, usr.IsActive)
			assert.NoError(t, usr.CheckPassword(ex.pwd))
		})
	}
}

func Test_commandLine_resetPassword(t *testing.T) {
	cli := setup(t)

	usr := testutil.CreateUser(t, usrRepo, "Awe Admin", "awe@school.test", "Old#Pass9word", user.RoleAdmin, true)

	type extra struct {
		pwd string
	}
	tests := []cliTest{
		{name: "no args", args: []string{"resetpassword"}, wantErr: errHelp},
		{name: "email but no password", args: []string{"resetpassword", "-email", "lol@school.test"}, wantErr: errHelp},
		{name: "user not found", args: []string{"resetpassword", "-email", "lol@school.test"}, extra: extra{pwd: testutil.StrongPassword}, wantErr: user.ErrNotFound},
		{name: "reset", args: []string{"resetpassword", "-email", usr.Email}, extra: extra{pwd: testutil.StrongPassword}},
	}
	for _, tt := range tests {
		args := append([]string{"admin"}, tt.args...)
		ex, hasExtra := tt.extra.(extra)
		mockPasswords(ex.pwd, ex.pwd)

		t.Run(tt.name, func(t *testing.T) {
			err := cli.run(args)
			tt.check(t, err)
			if err != nil || !hasExtra {
				return
			}
			refreshedUsr, err := usrRepo.GetUser(context.Background(), user.GetFilter{ID: usr.ID})
			require.NoError(t, err)
			assert.False(t, bytes.Equal(refreshedUsr.PasswordHash, usr.PasswordHash), "failed to update new password")
			assert.NoError(t, refreshedUsr.CheckPassword(ex.pwd))
		})
	}
}

func Test_commandLine_seed(t *testing.T) {
	cli := setup(t)
	testutil.CreateClass(t, store, school.ClassForm1, 20000)

	require.NoError(t, cli.run([]string{"admin", "seed"}))
	classes, err := store.QueryClasses(context.Background())
	require.NoError(t, err)
	assert.Len(t, classes, len(school.DefaultClasses))
	for _, cls := range classes {
		if cls.Name == school.ClassForm1 {
			assert.Equal(t, "20000", cls.TermFee.String(), "existing fees are kept")
		}
	}

	// idempotent
	require.NoError(t, cli.run([]string{"admin", "seed"}))
	classes, err = store.QueryClasses(context.Background())
	require.NoError(t, err)
	assert.Len(t, classes, len(school.DefaultClasses))
}
