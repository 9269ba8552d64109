package main

import "github.com/JohnDoee/thomas/cmd/thomas/cmd"

func main() {
	cmd.Execute()
}
