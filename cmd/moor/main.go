package main

import (
	"fmt"
	"log"
	"os"

	"github.com/urfave/cli"

	"github.com/Oliver2213/moor/builtins"
	"github.com/Oliver2213/moor/config"
	"github.com/Oliver2213/moor/db"
	"github.com/Oliver2213/moor/parser"
	"github.com/Oliver2213/moor/server"
	"github.com/Oliver2213/moor/types"
	"github.com/Oliver2213/moor/vm"
)

func main() {
	app := cli.NewApp()
	app.Name = "moor"
	app.Usage = "a LambdaMOO-compatible server"
	app.Version = builtins.ServerVersion

	app.Commands = []cli.Command{
		{
			Name:  "serve",
			Usage: "run the server",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "config, c", Value: "", Usage: "config file (YAML)"},
				cli.StringFlag{Name: "checkpoint", Value: "", Usage: "checkpoint directory to restore"},
				cli.StringFlag{Name: "dump", Value: "", Usage: "textdump to import on a fresh start"},
				cli.IntFlag{Name: "port, p", Value: 0, Usage: "listen port (overrides config)"},
			},
			Action: runServe,
		},
		{
			Name:      "import",
			Usage:     "import a textdump into a checkpoint",
			ArgsUsage: "<dumpfile> <checkpoint-dir>",
			Action:    runImport,
		},
		{
			Name:      "export",
			Usage:     "export a checkpoint as a textdump",
			ArgsUsage: "<checkpoint-dir> <dumpfile>",
			Action:    runExport,
		},
		{
			Name:      "eval",
			Usage:     "compile and run an expression against a checkpoint (read-only)",
			ArgsUsage: "<checkpoint-dir> <code>",
			Action:    runEval,
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if port := c.Int("port"); port != 0 {
		cfg.Port = port
	}
	return cfg, nil
}

func openWorld(checkpoint, dump string) (*db.Store, []db.TaskImage, error) {
	if checkpoint != "" {
		if _, err := os.Stat(checkpoint); err == nil {
			return db.Restore(checkpoint)
		}
	}
	store := db.NewStore()
	if dump != "" {
		f, err := os.Open(dump)
		if err != nil {
			return nil, nil, err
		}
		defer f.Close()
		d, err := db.ReadDump(f)
		if err != nil {
			return nil, nil, err
		}
		if err := store.Load(d); err != nil {
			return nil, nil, err
		}
		return store, d.Tasks, nil
	}
	return store, nil, nil
}

func runServe(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	ckpt := c.String("checkpoint")
	if ckpt != "" {
		cfg.CheckpointPath = ckpt
	}

	store, tasks, err := openWorld(cfg.CheckpointPath, c.String("dump"))
	if err != nil {
		return err
	}
	log.Printf("World loaded: max_object is #%d", maxObject(store))

	srv := server.New(cfg, store)
	for _, img := range tasks {
		if err := srv.Scheduler().RestoreSuspended(img); err != nil {
			log.Printf("dropping suspended task %d: %v", img.ID, err)
		}
	}
	return srv.Run()
}

func runImport(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: moor import <dumpfile> <checkpoint-dir>")
	}
	f, err := os.Open(c.Args().Get(0))
	if err != nil {
		return err
	}
	defer f.Close()
	d, err := db.ReadDump(f)
	if err != nil {
		return err
	}
	store := db.NewStore()
	if err := store.Load(d); err != nil {
		return err
	}
	if err := store.Checkpoint(c.Args().Get(1), d.Tasks); err != nil {
		return err
	}
	log.Printf("Imported %d objects, %d queued tasks", len(d.Objects), len(d.Tasks))
	return nil
}

func runExport(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: moor export <checkpoint-dir> <dumpfile>")
	}
	store, tasks, err := db.Restore(c.Args().Get(0))
	if err != nil {
		return err
	}
	f, err := os.Create(c.Args().Get(1))
	if err != nil {
		return err
	}
	defer f.Close()
	return store.WriteDump(f, tasks)
}

func runEval(c *cli.Context) error {
	if c.NArg() != 2 {
		return fmt.Errorf("usage: moor eval <checkpoint-dir> <code>")
	}
	store, _, err := db.Restore(c.Args().Get(0))
	if err != nil {
		return err
	}

	// Run as the first wizard found, or #-1 in an empty world.
	programmer := types.ObjNothing
	store.View(func(tx *db.Tx) {
		for _, id := range tx.AllObjects() {
			flags, _ := tx.Flags(id)
			if flags.Wizard {
				programmer = id
				return
			}
		}
	})

	tx := store.Begin()
	defer tx.Abort() // read-only: never committed
	machine := vm.NewVM(tx, builtins.Default(), &builtins.Context{TaskKind: "input"})
	if err := machine.PushSourceFrame(c.Args().Get(1), programmer, programmer); err != nil {
		if pe, ok := err.(*parser.ParseError); ok {
			return fmt.Errorf("parse error: %s", pe)
		}
		return err
	}
	out := machine.Run()
	switch out.Kind {
	case vm.OutcomeDone:
		fmt.Println(out.Value.String())
	case vm.OutcomeAbort:
		for _, line := range out.Err.Traceback {
			fmt.Fprintln(os.Stderr, line)
		}
		return fmt.Errorf("task aborted: %s", out.Err.Err)
	default:
		return fmt.Errorf("eval tasks may not suspend")
	}
	return nil
}

func maxObject(store *db.Store) int {
	max := -1
	store.View(func(tx *db.Tx) { max = int(tx.MaxObject()) })
	return max
}
