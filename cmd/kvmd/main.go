package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/openkvm-go/kvmd/internal/hub"
	"github.com/openkvm-go/kvmd/internal/input"
	"github.com/openkvm-go/kvmd/internal/logging"
	"github.com/openkvm-go/kvmd/internal/session"
	"github.com/openkvm-go/kvmd/internal/shutdown"
	"github.com/openkvm-go/kvmd/internal/tarfs"
	"github.com/openkvm-go/kvmd/internal/wsmux"
)

var log = logging.DefaultLogger.WithTag("main")

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		version()
		os.Exit(0)
	}

	if flagCertFile == "" || flagKeyFile == "" {
		fmt.Fprintln(os.Stderr, "kvmd: --cert and --key are required")
		os.Exit(1)
	}

	if flagNoEPaper {
		log.Info("skipping on-device status display")
	}

	sh := shutdown.New()

	kbdFile, err := os.OpenFile(flagHIDKeyboard, os.O_WRONLY, 0)
	if err != nil {
		log.Fatalf("open HID keyboard device: %v", err)
	}
	sh.Register(func() { kbdFile.Close() })

	mouseFile, err := os.OpenFile(flagHIDMouse, os.O_WRONLY, 0)
	if err != nil {
		log.Fatalf("open HID mouse device: %v", err)
	}
	sh.Register(func() { mouseFile.Close() })

	injector := input.New(kbdFile, mouseFile)

	assetsFile, err := os.Open(flagAssets)
	if err != nil {
		log.Fatalf("open assets archive %s: %v", flagAssets, err)
	}
	assets, err := tarfs.Load(assetsFile)
	assetsFile.Close()
	if err != nil {
		log.Fatalf("load assets archive %s: %v", flagAssets, err)
	}

	broadcastHub := hub.New()

	mux, err := wsmux.New(wsmux.Config{
		CertFile: flagCertFile,
		KeyFile:  flagKeyFile,
		Assets:   assets,
		Hub:      broadcastHub,
		OnText: func(_ *wsmux.Client, payload []byte) {
			injector.HandleMessage(payload)
		},
	})
	if err != nil {
		log.Fatalf("initialize TLS/WebSocket multiplexer: %v", err)
	}

	addr := fmt.Sprintf("%s:%d", flagListen, flagPort)
	go func() {
		if err := mux.ListenAndServe(addr); err != nil {
			log.Error("listener stopped: %v", err)
			sh.Shutdown()
		}
	}()

	supervisor := session.New(session.Config{
		CaptureDevice:  flagDevice,
		EncoderDevice:  flagEncoder,
		NumBuffers:     flagBuffers,
		NumCaptureBufs: flagCaptureBufs,
		Bitrate:        flagBitrate,
		GOPSize:        flagGOP,
		Hub:            broadcastHub,
	})

	go func() {
		if err := supervisor.Run(sh.Done()); err != nil {
			log.Error("session supervisor: %v", err)
			sh.Shutdown()
		}
	}()

	log.Info("kvmd listening on %s, capturing %s -> %s", addr, flagDevice, flagEncoder)
	sh.Wait()
	log.Info("shut down")
}
