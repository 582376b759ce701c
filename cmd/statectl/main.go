// Command statectl inspects and migrates statesync records kept in a bbolt
// file.
package main

import (
	"io"
	"os"

	"github.com/mitchellh/cli"
)

const version = "0.1.0"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	ui := &cli.BasicUi{Writer: stdout, ErrorWriter: stderr}
	meta := Meta{Ui: ui}

	runner := &cli.CLI{
		Name:    "statectl",
		Version: version,
		Args:    args,
		Commands: map[string]cli.CommandFactory{
			"keys": func() (cli.Command, error) {
				return &KeysCommand{Meta: meta}, nil
			},
			"get": func() (cli.Command, error) {
				return &GetCommand{Meta: meta}, nil
			},
			"rm": func() (cli.Command, error) {
				return &RmCommand{Meta: meta}, nil
			},
			"clear": func() (cli.Command, error) {
				return &ClearCommand{Meta: meta}, nil
			},
			"migrate": func() (cli.Command, error) {
				return &MigrateCommand{Meta: meta}, nil
			},
		},
		HelpWriter:  stderr,
		ErrorWriter: stderr,
	}

	code, err := runner.Run()
	if err != nil {
		ui.Error("Error executing CLI: " + err.Error())
		return 1
	}
	return code
}
