package main

import (
	"fmt"

	"github.com/driftsync/engine/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
