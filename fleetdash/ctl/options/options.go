package options

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v2"

	"github.com/asnowfix/esp32-fleet/internal/global"
)

const COMMAND_DEFAULT_TIMEOUT time.Duration = 0 // No timeout by default (wait indefinitely)

const MDNS_LOOKUP_DEFAULT_TIMEOUT time.Duration = 5 * time.Second

const HISTORY_PRUNE_INTERVAL time.Duration = time.Hour

var Flags struct {
	ConfigFile     string
	Verbose        bool
	Debug          bool
	Quiet          bool
	Json           bool
	CommandTimeout time.Duration // the value taken by --command-timeout / -C
	MdnsTimeout    time.Duration // the value taken by --mdns-timeout / -M
}

// CommandLineContext creates the process context: cancelled on SIGINT/SIGTERM, carrying the
// logger, the version and the cancel function.
func CommandLineContext(ctx context.Context, log logr.Logger, timeout time.Duration, version string) context.Context {
	var cancel context.CancelFunc

	// Create the process-wide context that background services can use
	processCtx, processCancel := context.WithCancel(logr.NewContext(ctx, log))

	if timeout > 0 {
		ctx, cancel = context.WithTimeout(processCtx, timeout)
	} else {
		ctx, cancel = context.WithCancel(processCtx)
	}
	ctx = context.WithValue(ctx, global.CancelKey, cancel)
	ctx = context.WithValue(ctx, global.ProcessContextKey, processCtx)
	ctx = context.WithValue(ctx, global.VersionKey, version)

	go func() {
		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		select {
		case <-signals:
			log.Info("Received signal")
		case <-processCtx.Done():
		}
		// Cancel both the operation context and the process context
		cancel()
		processCancel()
	}()
	return ctx
}

func PrintResult(out any) error {
	if Flags.Json {
		s, err := json.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Println(string(s))
	} else {
		s, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		fmt.Print(string(s))
	}
	return nil
}
