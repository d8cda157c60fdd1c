package main

import (
	"fmt"

	"github.com/fatih/color"
	flag "github.com/spf13/pflag"
)

var (
	flagCertFile string
	flagKeyFile  string
	flagPort     int
	flagListen   string

	flagDevice  string
	flagEncoder string
	flagBitrate int

	flagAssets string

	flagHIDKeyboard string
	flagHIDMouse    string

	flagBuffers       int
	flagCaptureBufs   int
	flagGOP           int
	flagCodecProfile  string
	flagNoEPaper      bool

	flagHelp    bool
	flagVersion bool
)

func init() {
	flag.StringVarP(&flagCertFile, "cert", "", "", "TLS certificate path (required)")
	flag.StringVarP(&flagKeyFile, "key", "", "", "TLS private key path (required)")
	flag.IntVarP(&flagPort, "port", "p", 8443, "HTTPS/WebSocket listen port")
	flag.StringVarP(&flagListen, "listen", "", "0.0.0.0", "Listen address")

	flag.StringVarP(&flagDevice, "device", "d", "/dev/video0", "V4L2 capture device")
	flag.StringVarP(&flagEncoder, "encoder", "e", "/dev/video11", "V4L2 M2M encoder device")
	flag.IntVarP(&flagBitrate, "bitrate", "b", 1_000_000, "Encoder target bitrate, bits/s")

	flag.StringVarP(&flagAssets, "assets", "", "assets.tar", "Tar archive of static UI assets")

	flag.StringVarP(&flagHIDKeyboard, "hid-keyboard", "", "/dev/hidg0", "USB HID keyboard gadget device")
	flag.StringVarP(&flagHIDMouse, "hid-mouse", "", "/dev/hidg1", "USB HID mouse gadget device")

	flag.IntVarP(&flagBuffers, "buffers", "", 4, "Number of shared DMA-BUF capture buffers")
	flag.IntVarP(&flagCaptureBufs, "capture-buffers", "", 4, "Number of encoder CAPTURE mmap buffers")
	flag.IntVarP(&flagGOP, "gop", "", 3, "Encoder GOP size (frames between forced keyframes)")
	flag.StringVarP(&flagCodecProfile, "codec-profile", "", "constrained-baseline", "H.264 profile; only constrained-baseline is wired to hardware controls")
	flag.BoolVarP(&flagNoEPaper, "no-epaper", "", false, "Skip the on-device status display (display bring-up is external to this binary)")

	flag.BoolVarP(&flagHelp, "help", "h", false, "Print usage information and exit")
	flag.BoolVarP(&flagVersion, "version", "v", false, "Print version information and exit")
}

const helpString = `Single-box KVM-over-IP appliance

Usage: kvmd --cert=FILE --key=FILE [OPTION]...

TLS:
  --cert=FILE            TLS certificate path (required)
  --key=FILE             TLS private key path (required)
  -p, --port=NUM         HTTPS/WebSocket listen port (default: 8443)
      --listen=ADDR      Listen address (default: 0.0.0.0)

Video:
  -d, --device=FILE      V4L2 capture device (default: /dev/video0)
  -e, --encoder=FILE     V4L2 M2M encoder device (default: /dev/video11)
  -b, --bitrate=NUM      Encoder target bitrate, bits/s (default: 1000000)
      --buffers=NUM      Shared DMA-BUF capture buffers (default: 4)
      --capture-buffers=NUM
                         Encoder CAPTURE mmap buffers (default: 4)
      --gop=NUM          Encoder GOP size (default: 3)
      --codec-profile=NAME
                         H.264 profile (default: constrained-baseline)

Input:
      --hid-keyboard=FILE
                         USB HID keyboard gadget device (default: /dev/hidg0)
      --hid-mouse=FILE   USB HID mouse gadget device (default: /dev/hidg1)

Assets:
      --assets=FILE      Tar archive of static UI assets (default: assets.tar)

Miscellaneous:
      --no-epaper        Skip the on-device status display
  -h, --help             Prints this help message and exits
  -v, --version          Prints version information and exits

Please report bugs to the project issue tracker.`

func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//  _                         _
	// | | __ __   __ _ __ ___   __| |
	// | |/ / \ \ / /| '_ ` _ \ / _` |
	// |   <   \ V / | | | | | | (_| |
	// |_|\_\   \_/  |_| |_| |_|\__,_|

	r.Printf(" _            ")
	y.Printf("           ")
	b.Println("  _")

	r.Printf("| | __ __   __")
	y.Printf(" _ __ ___  ")
	b.Println(" __| |")

	r.Printf("| |/ / \\ \\ / /")
	y.Printf("| '_ ` _ \\ ")
	b.Println("/ _` |")

	r.Printf("|   <   \\ V / ")
	y.Printf("| | | | | |")
	b.Println(" (_| |")

	r.Printf("|_|\\_\\   \\_/  ")
	y.Printf("|_| |_| |_|")
	b.Println("\\__,_|")

	fmt.Println(helpString)
}

func version() {
	fmt.Println("kvmd (development build)")
}
