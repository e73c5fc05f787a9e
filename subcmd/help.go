package subcmd

import (
	"flag"
	"fmt"

	"github.com/mengelbart/camloop/cmdmain"
)

func init() {
	cmdmain.RegisterSubCmd("help", func() cmdmain.SubCmd { return new(help) })
}

type help struct{}

// Exec implements cmdmain.SubCmd.
func (h *help) Exec(cmd string, args []string) error {
	if len(args) == 0 {
		flag.Usage()
		return nil
	}
	sub, ok := cmdmain.Lookup(args[0])
	if !ok {
		return fmt.Errorf("unknown subcommand: %q", args[0])
	}
	return sub.Exec(cmd, []string{"-h"})
}

// Help implements cmdmain.SubCmd.
func (h *help) Help() string {
	return "Print help, or the help of a command"
}
