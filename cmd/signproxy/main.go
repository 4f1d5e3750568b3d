package main

import "github.com/aweris/signproxy/cmd/signproxy/cmd"

func main() {
	cmd.Execute()
}
