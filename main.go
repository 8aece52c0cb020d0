package main

import "dashplay/cmd"

func main() {
	cmd.Execute()
}
