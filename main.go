// main.go
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/hostops/csf-unblocker/cmd"
)

func main() {
	startTime := time.Now()

	printBanner()

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\nTotal execution time: %s\n", time.Since(startTime).Round(time.Millisecond))
}

func printBanner() {
	banner := `
  _____        __        __  _   _ _   _ ____  _     ___   ____ _  __
 |  ___|       \ \      / / | | | | \ | | __ )| |   / _ \ / ___| |/ /
 | |_   _____   \ \ /\ / /  | | | |  \| |  _ \| |  | | | | |   | ' /
 |  _| |_____|   \ V  V /   | |_| | |\  | |_) | |__| |_| | |___| . \
 |_|              \_/\_/     \___/|_| \_|____/|_____\___/ \____|_|\_\

 CSF / DirectAdmin BFM firewall diagnosis
 Version: 1.0.0
 Started at: %s
`
	fmt.Fprintf(os.Stderr, banner, time.Now().Format("2006-01-02 15:04:05"))
}
