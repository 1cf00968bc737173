package main

import (
	"os"

	"commentbox/service"
)

var exit = os.Exit

func main() {
	if err := service.Execute(); err != nil {
		exit(1)
	}
}
