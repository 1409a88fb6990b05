package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/banshee-data/myo.mouse/internal/api"
	"github.com/banshee-data/myo.mouse/internal/db"
	"github.com/banshee-data/myo.mouse/internal/httputil"
	"github.com/banshee-data/myo.mouse/internal/security"
)

func runCommand(command string, args []string) error {
	switch command {
	case "migrate":
		return db.RunMigrateCommand(args, *dbPath, os.Stdout)
	case "ctl":
		return runCtl(args, nil, os.Stdout)
	case "export":
		database, err := db.OpenDB(*dbPath)
		if err != nil {
			return err
		}
		defer database.Close()
		return runExport(database, args, os.Stdout)
	case "help":
		printUsage(os.Stdout)
		return nil
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command %q", command)
	}
}

func printUsage(out io.Writer) {
	fmt.Fprint(out, `myo-mouse - EMG pointer control

Usage:
  myo-mouse [flags]                 train, then run the online pipeline
  myo-mouse migrate <action>        manage the database schema (up, down, status, force N)
  myo-mouse ctl [-server URL] <cmd> control a running instance (start, stop, state, status, session ID, retrain)
  myo-mouse export [-dir D] <id>    write a session's decision log to D/<id>_decisions.csv

Run myo-mouse -h for the flag list.
`)
}

// runCtl sends one control request to a running instance and prints the
// JSON reply. hc may be nil.
func runCtl(args []string, hc httputil.HTTPClient, out io.Writer) error {
	fs := flag.NewFlagSet("ctl", flag.ContinueOnError)
	fs.SetOutput(out)
	server := fs.String("server", "http://localhost:8080", "Base URL of the running instance")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("ctl: missing command (start, stop, state, status, session, retrain)")
	}

	c := api.NewClient(*server, hc)
	var (
		v   interface{}
		err error
	)
	switch cmd := fs.Arg(0); cmd {
	case "start":
		v, err = c.Start()
	case "stop":
		v, err = c.Stop()
	case "state":
		v, err = c.State()
	case "status":
		v, err = c.Status()
	case "session":
		if fs.NArg() < 2 {
			return fmt.Errorf("ctl session: missing session id")
		}
		v, err = c.Session(fs.Arg(1))
	case "retrain":
		v, err = c.Retrain()
	default:
		return fmt.Errorf("ctl: unknown command %q", cmd)
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// runExport writes one session's decisions as CSV into a directory, which
// must already exist.
func runExport(database *db.DB, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(out)
	dir := fs.String("dir", ".", "Directory to write the CSV into")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("export: expected one session id")
	}
	id := fs.Arg(0)

	path := filepath.Join(*dir, security.SanitizeFilename(id)+"_decisions.csv")
	if err := security.WithinDir(path, *dir); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := database.ExportDecisionsCSV(f, id)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return err
	}
	fmt.Fprintf(out, "wrote %d decisions to %s\n", n, path)
	return nil
}
