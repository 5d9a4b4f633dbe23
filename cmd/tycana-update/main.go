package main

import "github.com/tycana/releases/cmd/tycana-update/cmd"

func main() {
	cmd.Execute()
}
