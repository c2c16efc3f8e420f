/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>
*/
package main

import (
	"github.com/ssargent/ambertree/cmd/ambertree/cmd"
)

func main() {
	cmd.Execute()
}
