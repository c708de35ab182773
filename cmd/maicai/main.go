package main

import "github.com/fentensoft/maicai/cmd"

func main() {
	cmd.Execute()
}
