package main

import (
	"os"

	"github.com/andrewhuhh/closet-try-on-sub000/cmd/closet/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
