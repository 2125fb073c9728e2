package main

import (
	"context"
	"expvar"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"

	echoapi "github.com/amboseli-lewis/sms/apps/api/echo"
	"github.com/amboseli-lewis/sms/core"
	"github.com/amboseli-lewis/sms/core/school"
	"github.com/amboseli-lewis/sms/core/term"
	"github.com/amboseli-lewis/sms/core/user"
	emailsvc "github.com/amboseli-lewis/sms/services/email"
	logsvc "github.com/amboseli-lewis/sms/services/logger"
	"github.com/amboseli-lewis/sms/storage/database"
	inmemdb "github.com/amboseli-lewis/sms/storage/database/inmem"
	sqlxrepos "github.com/amboseli-lewis/sms/storage/database/sqlx"
)

const engineMemory = "memory"

func main() {
	// =========================================================================
	// Set up Dependencies

	conf := core.NewConfig()

	// set up loggers
	logger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "API : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	logger.Enable(!conf.Debug)
	defer logger.Close()

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)
	dbLogger.Enable(!conf.Debug)

	// set up DB
	store, usrRepo, db, err := setUpDB(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up database: %v", err), err)
	}
	defer func() {
		if err = db.Close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : version %q", conf.Build))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := newTranslator()
	core.InitValidators(validate, translator)
	user.InitValidators(validate, translator)
	school.InitValidators(validate, translator)

	core.ParseEmailTemplates(conf, logger)

	// set up services
	var mailSvc core.EmailService
	if conf.Debug {
		mailSvc = emailsvc.NewConsoleService(conf, logger)
	} else {
		mailSvc = emailsvc.NewService(conf, logger)
	}
	usrSvc := user.NewService(usrRepo, validate)
	schoolSvc := school.NewService(store, validate, logger)
	termSvc := term.NewService(store, validate, mailSvc, logger, term.Options{
		MaxWait: conf.Term.MaxWait,
		Timeout: conf.Term.Timeout,
	})

	// =========================================================================
	// Start Debug Service
	//
	// /debug/vars - Added to the default mux by importing the expvar package.

	// Expose important info under /debug/vars.
	expvar.NewString("build").Set(conf.Build)
	expvar.NewString("env").Set(conf.Env)
	expvar.NewString("dbEngine").Set(conf.Database.Engine)

	go func() {
		if err := http.ListenAndServe(conf.Server.DebugHost, http.DefaultServeMux); err != nil {
			logger.Error(fmt.Sprintf("debug server closed: %v", err), err)
		}
	}()

	// =========================================================================
	// Start API Service

	server := echoapi.NewServer(
		echoapi.ServerDeps{
			Conf:       conf,
			Logger:     logger,
			UserSvc:    usrSvc,
			SchoolSvc:  schoolSvc,
			TermSvc:    termSvc,
			Validate:   validate,
			Translator: translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Error(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Error(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// setUpDB opens the configured storage. The "memory" engine keeps everything in process and is meant for demos.
func setUpDB(conf *core.Config) (school.Store, user.Repository, io.Closer, error) {
	if conf.Database.Engine == engineMemory {
		db := inmemdb.Open()
		return inmemdb.NewStore(db), inmemdb.NewUserRepository(db), nopCloser{}, nil
	}

	if err := database.CreateIfNotExist(conf); err != nil {
		return nil, nil, nil, err
	}

	db, err := database.Open(conf)
	if err != nil {
		return nil, nil, nil, err
	}

	if err = database.Migrate(db.DB, "up"); err != nil {
		_ = db.Close()
		return nil, nil, nil, err
	}
	return sqlxrepos.NewStore(db), sqlxrepos.NewUserRepository(db), db, nil
}

func newTranslator() ut.Translator {
	_en := en.New()
	uni := ut.New(_en, _en)
	translator, _ := uni.GetTranslator("en")
	return translator
}
