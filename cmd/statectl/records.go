package main

import (
	"fmt"
	"strings"

	"github.com/mitchellh/cli"
)

// KeysCommand lists stored keys.
type KeysCommand struct {
	Meta
}

func (c *KeysCommand) Run(args []string) int {
	fs := c.flagSet("keys")
	if err := fs.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	engine, closeEngine, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer closeEngine()

	ctx := commandContext()
	n, err := engine.Len(ctx).Await(ctx)
	if err != nil {
		return c.fail(err)
	}
	for i := 0; i < n; i++ {
		item, err := engine.Key(ctx, i).Await(ctx)
		if err != nil {
			return c.fail(err)
		}
		if item.Found {
			c.Ui.Output(item.Key)
		}
	}
	return 0
}

func (c *KeysCommand) Help() string {
	return helpText("Usage: statectl keys -db=path", "  Lists the keys of every stored record.")
}

func (c *KeysCommand) Synopsis() string {
	return "List stored keys"
}

// GetCommand prints one record.
type GetCommand struct {
	Meta
}

func (c *GetCommand) Run(args []string) int {
	fs := c.flagSet("get")
	if err := fs.Parse(args); err != nil || fs.NArg() != 1 {
		return cli.RunResultHelp
	}
	engine, closeEngine, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer closeEngine()

	ctx := commandContext()
	key := fs.Arg(0)
	item, err := engine.Get(ctx, key).Await(ctx)
	if err != nil {
		return c.fail(err)
	}
	if !item.Found {
		return c.fail(fmt.Errorf("no record stored under %q", key))
	}
	c.Ui.Output(string(item.Raw))
	return 0
}

func (c *GetCommand) Help() string {
	return helpText("Usage: statectl get -db=path KEY", "  Prints the raw record stored under KEY.")
}

func (c *GetCommand) Synopsis() string {
	return "Print a stored record"
}

// RmCommand removes records.
type RmCommand struct {
	Meta
}

func (c *RmCommand) Run(args []string) int {
	fs := c.flagSet("rm")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return cli.RunResultHelp
	}
	engine, closeEngine, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer closeEngine()

	ctx := commandContext()
	for _, key := range fs.Args() {
		if _, err := engine.Remove(ctx, key).Await(ctx); err != nil {
			return c.fail(err)
		}
	}
	c.Ui.Output(fmt.Sprintf("removed %s", strings.Join(fs.Args(), ", ")))
	return 0
}

func (c *RmCommand) Help() string {
	return helpText("Usage: statectl rm -db=path KEY...", "  Removes the records stored under each KEY.")
}

func (c *RmCommand) Synopsis() string {
	return "Remove stored records"
}

// ClearCommand removes every record.
type ClearCommand struct {
	Meta
}

func (c *ClearCommand) Run(args []string) int {
	fs := c.flagSet("clear")
	if err := fs.Parse(args); err != nil {
		return cli.RunResultHelp
	}
	engine, closeEngine, err := c.open()
	if err != nil {
		return c.fail(err)
	}
	defer closeEngine()

	ctx := commandContext()
	if _, err := engine.Clear(ctx).Await(ctx); err != nil {
		return c.fail(err)
	}
	return 0
}

func (c *ClearCommand) Help() string {
	return helpText("Usage: statectl clear -db=path", "  Removes every record in the bucket.")
}

func (c *ClearCommand) Synopsis() string {
	return "Remove all stored records"
}
