package main

import (
	"fmt"
	"log"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/user"
	logsvc "github.com/amboseli-lewis/sms/services/logger"
	"github.com/amboseli-lewis/sms/storage/database"
	sqlxrepos "github.com/amboseli-lewis/sms/storage/database/sqlx"
)

func main() {
	conf := core.NewConfig()
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(false)

	// set up DB
	if err := database.CreateIfNotExist(conf); err != nil {
		logger.Fatal(fmt.Sprintf("creating database: %v", err), err)
	}
	db, err := database.Open(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("opening database: %v", err), err)
	}

	validate := validator.New()
	translator, _ := ut.New(en.New()).GetTranslator("en")
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)

	// start CLI
	cli := commandLine{
		db:        db.DB,
		usrSvc:    user.NewService(sqlxrepos.NewUserRepository(db), validate),
		schoolSvc: school.NewService(sqlxrepos.NewStore(db), validate, logger),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			logger.Error(fmt.Sprintf("error: %v", err), err)
			if vErrs, ok := err.(validator.ValidationErrors); ok {
				for _, vErr := range vErrs {
					fmt.Printf("  %s: %s\n", vErr.Field(), vErr.Translate(translator))
				}
			}
		}
		os.Exit(1)
	}
}
