package main

import "github.com/Steven867533/hce-backend/cmd"

func main() {
	cmd.Execute()
}
