package main

import "github.com/chatsync/chatsync/cmd/chatsync/cmd"

func main() {
	cmd.Execute()
}
