package main

import "github.com/encodeous/dvrouter/cmd"

func main() {
	cmd.Execute()
}
