package main

import "github.com/yehezkieldio/avalon/cmd"

func main() {
	cmd.Execute()
}
