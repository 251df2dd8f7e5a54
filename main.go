package main

import "github.com/hipchat/curler/cmd"

func main() {
	cmd.Execute()
}
