package main

import "github.com/pdfchat/rolebroker/cmd/rolebroker/cmd"

func main() {
	cmd.Execute()
}
