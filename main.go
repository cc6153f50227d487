package main

import (
	"github.com/ColonelBlimp/tickrate/cmd"
	"github.com/ColonelBlimp/tickrate/internal/recovery"
)

func main() {
	defer recovery.HandlePanic()
	cmd.Execute()
}
