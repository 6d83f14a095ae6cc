package main

import (
	"os"

	mailctlcmd "github.com/telekom/lessonplan-mailer/pkg/mailctl/cmd"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	root := mailctlcmd.NewRootCommand(mailctlcmd.DefaultConfig())
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return 1
	}
	return 0
}
