package main

import (
	"github.com/mengelbart/camloop/cmdmain"
	_ "github.com/mengelbart/camloop/subcmd"
)

func main() {
	cmdmain.Main()
}
