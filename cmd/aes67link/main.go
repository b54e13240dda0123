package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/markmandel/aes67link"
	"github.com/markmandel/aes67link/internal/config"
)

// version is set by -ldflags at release build time; "dev" otherwise.
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	cfg, wantVersion, err := config.Parse(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if wantVersion {
		fmt.Println("aes67link " + version)
		return 0
	}

	if err := config.DropPrivileges(cfg); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.StampMilli}).
		With().Timestamp().Logger()
	if cfg.Verbose {
		log = log.Level(zerolog.DebugLevel)
	} else {
		log = log.Level(zerolog.InfoLevel)
	}

	bridge, err := aes67.New(cfg, aes67.WithLogger(log))
	if err != nil {
		log.Error().Err(err).Msg("aes67link: init failed")
		return 1
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go watchSignals(ctx, bridge, log)

	log.Info().Str("mode", cfg.Mode.String()).Str("address", fmt.Sprintf("%s:%d", cfg.Address, cfg.Port)).
		Msg("aes67link: starting")

	if err := bridge.Run(ctx); err != nil {
		log.Error().Err(err).Msg("aes67link: exited with error")
		return 1
	}
	return 0
}

// watchSignals prints a stats snapshot on SIGUSR1 and absorbs SIGUSR2 as a
// documented no-op, per §6.
func watchSignals(ctx context.Context, bridge *aes67.Bridge, log zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigs:
			switch sig {
			case syscall.SIGUSR1:
				snap := bridge.Stats().Snapshot()
				fmt.Fprintf(os.Stderr,
					"audio: drift=%d underrun=%d overrun=%d | rtp: packets=%d reordered=%d skipped=%d resynced=%d | ptp: masters=%d requests=%d general=%d event=%d\n",
					snap.AudioDrift, snap.AudioUnderrun, snap.AudioOverrun,
					snap.RTPPackets, snap.RTPReordered, snap.RTPSkipped, snap.RTPResynced,
					snap.PTPMasters, snap.PTPRequests, snap.PTPGeneral, snap.PTPEvent)
			case syscall.SIGUSR2:
				log.Debug().Msg("aes67link: SIGUSR2 received, no-op")
			}
		}
	}
}
