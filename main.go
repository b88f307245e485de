package main

import "github.com/jake-scott/iotctl/cmd"

func main() {
	cmd.Execute()
}
