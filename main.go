// Entry point: load .env, load the YAML routing config named on the
// command line, build a Relay, and run its tick loop until a shutdown
// signal arrives. Grounded on the teacher's main.go (minimal, delegates
// everything to the server type) and original_source/Relay.cpp's
// SIGINT/SIGTERM/SIGUSR1 handling.

package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()
	// log.go read these toggles at package init, before .env was loaded.
	logDebugEnabled = os.Getenv("LOG_DEBUG") == "YES"
	logRequestsEnabled = os.Getenv("LOG_REQUESTS") != "NO"

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: rtmp-relay <config.yaml>")
		os.Exit(1)
	}

	cfg, err := LoadConfiguration(os.Args[1])
	if err != nil {
		logError(err)
		os.Exit(1)
	}
	SetLogLevel(cfg.LogLevel)

	relay, err := NewRelay(cfg)
	if err != nil {
		logError(err)
		os.Exit(1)
	}

	stop := make(chan struct{})
	signals := make(chan os.Signal, 4)
	signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGPIPE)

	go func() {
		for sig := range signals {
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				logInfo("shutting down")
				close(stop)
				return
			case syscall.SIGUSR1:
				dumpStatusToLog(relay)
			case syscall.SIGPIPE:
				logWarning("SIGPIPE received and ignored")
			}
		}
	}()

	logInfo("relay starting")
	if err := relay.Run(stop); err != nil {
		logError(err)
		os.Exit(1)
	}
}

func dumpStatusToLog(relay *Relay) {
	logInfo(Render(relay.Snapshot(), ReportText))
}
