package main

import "ntfy2tg/cmd"

func main() {
	cmd.Execute()
}
