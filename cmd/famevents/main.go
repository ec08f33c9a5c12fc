package main

import "github.com/dukerupert/famevents/cmd/famevents/cmd"

func main() {
	cmd.Execute()
}
