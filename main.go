package main

import (
	"fmt"

	"github.com/webitel/connector-manager/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
