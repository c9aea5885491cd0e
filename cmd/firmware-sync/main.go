package main

import "github.com/subalpine-circuits/firmware-sync/cmd/firmware-sync/cmd"

func main() {
	cmd.Execute()
}
