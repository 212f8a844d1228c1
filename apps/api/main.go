package main

import (
	"context"
	"expvar"
	"fmt"
	"log"
	"net/http"
	_ "net/http/pprof" // /debug/pprof on the debug server
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	echoapi "github.com/trezcool/classledger/apps/api/echo"
	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/user"
	logsvc "github.com/trezcool/classledger/services/logger"
	"github.com/trezcool/classledger/storage/database"
	inmemdb "github.com/trezcool/classledger/storage/database/inmem"
	pgrepos "github.com/trezcool/classledger/storage/database/postgres"
)

// stores gathers the adapters the services run on.
type stores struct {
	users      user.Repository
	classes    class.Repository
	attendance attendance.Repository
	ledger     attendance.HoursLedger
	tx         core.Transactor
	close      func() error
}

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

	dbLogger := logsvc.NewRollbarLogger(
		log.New(os.Stdout, "DB : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile),
		conf,
	)

	// set up storage
	st, err := setUpStores(conf)
	if err != nil {
		logger.Fatal(fmt.Sprintf("setting up storage: %v", err), err)
	}
	defer func() {
		if err = st.close(); err != nil {
			dbLogger.Error("Failed to close", err)
		}
	}()

	// set up services
	clock := core.SystemClock{}
	usrSvc := user.NewService(st.users)
	classSvc := class.NewService(st.classes, st.tx, usrSvc, clock, logger)
	attSvc := attendance.NewService(st.attendance, st.classes, st.ledger, st.tx, clock, conf.Attendance, logger)

	// =========================================================================
	// Initialize App

	logger.Info(fmt.Sprintf("Application initializing : %s", conf))
	defer logger.Info("Application stopped")

	validate := validator.New()
	translator := core.NewTranslator()
	core.InitValidators(validate, translator)
	class.InitValidators(validate, translator)
	attendance.InitValidators(validate, translator)

	// =========================================================================
	// Start Debug Service
	//
	// /debug/pprof - Added to the default mux by importing the net/http/pprof package.
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
			Conf:          conf,
			Logger:        logger,
			UserSvc:       usrSvc,
			ClassSvc:      classSvc,
			AttendanceSvc: attSvc,
			Validate:      validate,
			Translator:    translator,
		},
	)

	go func() {
		server.Start()
	}()

	// =========================================================================
	// Shutdown

	select {
	case err = <-server.Errors():
		logger.Fatal(fmt.Sprintf("server error: %v", err), err)

	case sig := <-server.ShutdownSignal():
		logger.Info(fmt.Sprintf("%v: Start shutdown...", sig))

		// give outstanding requests a deadline for completion
		ctx, cancel := context.WithTimeout(context.Background(), conf.Server.ShutdownTimeout)
		defer cancel()

		// asking listener to shutdown and shed load
		if err = server.Shutdown(ctx); err != nil {
			logger.Error(fmt.Sprintf("could not stop server gracefully: %v", err), err)

			if err = server.Close(); err != nil {
				logger.Fatal(fmt.Sprintf("could not force stop server: %v", err), err)
			}
		}
	}
}

// setUpStores opens the storage engine named by the configuration.
// The memory engine keeps nothing across restarts and is meant for debug runs.
func setUpStores(conf *core.Config) (*stores, error) {
	switch conf.Database.Engine {
	case "memory":
		db := inmemdb.Open()
		return &stores{
			users:      inmemdb.NewUserRepository(db),
			classes:    inmemdb.NewClassRepository(db),
			attendance: inmemdb.NewAttendanceRepository(db),
			ledger:     inmemdb.NewHoursLedger(db),
			tx:         db,
			close:      func() error { return nil },
		}, nil

	case "postgres":
		if err := database.CreateIfNotExist(conf); err != nil {
			return nil, err
		}
		db, err := database.Open(conf)
		if err != nil {
			return nil, err
		}
		if err = database.Migrate(db, "up"); err != nil {
			_ = db.Close()
			return nil, err
		}
		return &stores{
			users:      pgrepos.NewUserRepository(db),
			classes:    pgrepos.NewClassRepository(db),
			attendance: pgrepos.NewAttendanceRepository(db),
			ledger:     pgrepos.NewHoursLedger(db),
			tx:         database.NewTransactor(db),
			close:      db.Close,
		}, nil
	}
	return nil, errors.Errorf("unknown database engine %q", conf.Database.Engine)
}
