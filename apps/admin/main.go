package main

import (
	"log"
	"os"

	"github.com/trezcool/classledger/core"
	"github.com/trezcool/classledger/core/attendance"
	"github.com/trezcool/classledger/core/class"
	"github.com/trezcool/classledger/core/user"
	logsvc "github.com/trezcool/classledger/services/logger"
	"github.com/trezcool/classledger/storage/database"
	pgrepos "github.com/trezcool/classledger/storage/database/postgres"
)

func main() {
	conf := core.NewConfig()
	std := log.New(os.Stdout, "ADMIN : ", log.LstdFlags|log.Lmicroseconds|log.Lshortfile)
	logger := logsvc.NewRollbarLogger(std, conf)
	logger.Enable(!conf.Debug)

	// set up DB
	db, err := database.Open(conf)
	if err != nil {
		std.Fatal(err)
	}
	if err = db.Ping(); err != nil {
		_ = db.Close()
		std.Fatal(err)
	}

	// set up services
	clock := core.SystemClock{}
	usrRepo := pgrepos.NewUserRepository(db)
	classRepo := pgrepos.NewClassRepository(db)
	tx := database.NewTransactor(db)
	usrSvc := user.NewService(usrRepo)

	// start CLI
	cli := commandLine{
		conf:     conf,
		db:       db,
		out:      os.Stdout,
		usrRepo:  usrRepo,
		usrSvc:   usrSvc,
		classSvc: class.NewService(classRepo, tx, usrSvc, clock, logger),
		attSvc: attendance.NewService(
			pgrepos.NewAttendanceRepository(db), classRepo, pgrepos.NewHoursLedger(db), tx, clock, conf.Attendance, logger,
		),
	}
	err = cli.run(os.Args)
	_ = db.Close()
	if err != nil {
		if err != errHelp {
			std.Printf("\nerror: %s\n", err)
		}
		os.Exit(1)
	}
}
