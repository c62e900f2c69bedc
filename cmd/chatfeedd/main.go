package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/chatfeed/internal/daemon"
	"github.com/matheus3301/chatfeed/internal/profile"
	"go.uber.org/fx"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	listenFlag := flag.String("listen", "", "subscriber listen address (overrides config)")
	flag.Parse()

	profileName := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(profileName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{ProfileName: profileName, Listen: *listenFlag}),
	)

	app.Run()
}
