package main

import (
	"fmt"

	"github.com/fatih/color"
)

const helpString = `Play H.264 Annex B elementary streams through a decoder session

Usage: h264playd [OPTION]... [FILE]

Input:
  -i, --input=FILE            H.264 Annex B file (or give it as FILE)
      --mmap                  Map the file instead of reading it
  -x, --width=NUM             Picture width (default: 1280)
  -y, --height=NUM            Picture height (default: 720)

Output:
  -o, --output=FILE           Raw I420 output, "-" to discard (default: -)

Decoder:
  -d, --decoder=NAME          Decoder backend (default: ffmpeg)
      --ffmpeg=PATH           ffmpeg binary (default: search $PATH)
      --input-buffers=NUM     Input pool size (default: 4)
      --output-buffers=NUM    Output pool size (default: 4)
      --input-buffer-size=NUM Capacity of each input buffer (default: 1048576)
      --list-decoders         List decoder backends and exit

Feed loop:
      --timeout=DURATION      Wait for a free buffer (default: 10ms)
      --pace=DURATION         Delay between frames, 0 for none (default: 100ms)
      --flush-tail            Submit the final frame and drain (default: true)
      --drain-timeout=DURATION
                              Wait for the last outputs (default: 1s)
  -l, --loop                  Replay the file until interrupted

Miscellaneous:
  -c, --config=FILE           YAML configuration file
  -m, --monitor=ADDR          Serve feed events at ws://ADDR/events
      --log-level=DIRECTIVES  Logging levels, as for $LOGLEVEL
  -h, --help                  Prints this help message and exits
  -v, --version               Prints version information and exits

Command line options override the configuration file.

Please report bugs to <aloha@lanikailabs.com>. Mahalo!`

// help prints the banner and usage information.
func help() {
	r := color.New(color.FgRed)
	y := color.New(color.FgYellow)
	b := color.New(color.FgCyan)

	//  _     ____   __    _  _         _
	// | |__ |___ \ / /_  | || |  _ __ | |  __ _  _   _
	// | '_ \  __) | '_ \ | || |_| '_ \| | / _` || | | |
	// | | | |/ __/| (_) ||__   _| |_) | || (_| || |_| |
	// |_| |_|_____|\___/    |_| | .__/|_| \__,_| \__, |
	//                           |_|              |___/

	r.Printf(" _     ")
	y.Printf("____   __    _  _  ")
	b.Println("       _")

	r.Printf("| |__ ")
	y.Printf("|___ \\ / /_  | || | ")
	b.Println(" _ __ | |  __ _  _   _")

	r.Printf("| '_ \\ ")
	y.Printf(" __) | '_ \\ | || |_")
	b.Println("| '_ \\| | / _` || | | |")

	r.Printf("| | | |")
	y.Printf("/ __/| (_) ||__   _")
	b.Println("| |_) | || (_| || |_| |")

	r.Printf("|_| |_|")
	y.Printf("_____|\\___/    |_| ")
	b.Println("| .__/|_| \\__,_| \\__, |")

	r.Printf("       ")
	y.Printf("                   ")
	b.Println("|_|              |___/")

	fmt.Println()
	fmt.Println(helpString)
}

// Populated via -ldflags="-X ...".
var GitRevisionId string

func version() {
	fmt.Println("h264playd", GitRevisionId)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}
