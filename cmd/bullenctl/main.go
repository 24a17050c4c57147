package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/bullen/bullend/pkg/client"
	"github.com/bullen/bullend/pkg/verbose"
)

var (
	socketPath  = flag.String("socket", "/tmp/bullend.sock", "Unix socket path")
	command     = flag.String("cmd", "", "Command to send (e.g., 'STATUS', 'GAIN:3:-6.0')")
	verboseFlag = flag.Bool("verbose", false, "Verbose output")
)

func main() {
	flag.Parse()
	verbose.SetEnabled(*verboseFlag)

	if *socketPath == "" {
		fmt.Fprintf(os.Stderr, "Socket path is required\n")
		os.Exit(1)
	}

	// If no command specified, show interactive help
	if *command == "" {
		if len(flag.Args()) > 0 {
			*command = strings.Join(flag.Args(), " ")
		} else {
			showHelp()
			return
		}
	}

	client := client.NewSocketClient(*socketPath)

	verbose.Printf("sending %q to %s", *command, *socketPath)
	response, err := client.SendCommand(*command)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("%s\n", response.String())
	if !response.Success {
		os.Exit(1)
	}
}

func showHelp() {
	fmt.Println("bullenctl - Audio Console Daemon Control Tool")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Printf("  %s [options] <command>\n", os.Args[0])
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -socket <path>    Unix socket path (default: /tmp/bullend.sock)")
	fmt.Println("  -cmd <command>    Command to send")
	fmt.Println("  -verbose          Verbose output")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  STATUS                    Get daemon status")
	fmt.Println("  STATE                     Get full console state")
	fmt.Println("  SELECT:<ch>               Route channel to the monitor output")
	fmt.Println("  GAIN:<ch>:<db>            Set channel gain in dB")
	fmt.Println("  GAIN:<ch>:linear:<gain>   Set channel gain as linear factor")
	fmt.Println("  MUTE:<ch>:<on|off>        Mute or unmute a channel")
	fmt.Println("  DEVICES                   List discovered sound cards")
	fmt.Println("  TRANSPORT                 Show the live transport and its attempt trail")
	fmt.Println("  ATTEMPTS:<n>              Show the last n persisted attempts")
	fmt.Println("  RECORD:<start|stop>       Start or stop recording")
	fmt.Println("  PING                      Test connection")
	fmt.Println("  QUIT                      Ask the daemon to shut down")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Printf("  %s STATUS\n", os.Args[0])
	fmt.Printf("  %s 'GAIN:3:-6.0'\n", os.Args[0])
	fmt.Printf("  %s 'SELECT:2'\n", os.Args[0])
	fmt.Printf("  echo 'STATE' | nc -U /tmp/bullend.sock\n")
}
