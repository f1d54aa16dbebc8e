package main

import (
	"github.com/AzielCF/az-offline/cmd"
)

func main() {
	cmd.Execute()
}
