package main

import "github.com/BioHazard786/Warpcall/cli/cmd"

func main() {
	cmd.Execute()
}
