package main

import "github.com/relaychat/relay/cmd"

func main() {
	cmd.Execute()
}
