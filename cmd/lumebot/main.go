package main

import (
	"github.com/lumebot/lumebot/pkg/cmd"
)

func main() {
	cmd.Execute()
}
