package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/cqusso/internal/app"
	"github.com/common-nighthawk/go-figure"
)

func main() {
	displayAppname("cqusso")

	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}
	defer application.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := application.Run(ctx)
	if err != nil {
		application.Close()
		log.Fatalf("application error: %v", err)
	}

	fmt.Printf("session:  %s\n", report.SessionID)
	fmt.Printf("restored: %t\n", report.Restored)
	fmt.Printf("granted:  %v\n", report.Granted)
	fmt.Printf("reused:   %v\n", report.Reused)
}

// displayAppname prints the banner to stderr so stdout carries only the report.
func displayAppname(appname string) {
	banner := figure.NewFigure(appname, "cybermedium", true)
	fmt.Fprintln(os.Stderr, banner.String())
}
