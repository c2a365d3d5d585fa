// Command localboxctl drives a single Maildir or MH mailbox directly off
// the filesystem, outside of any IMAP server: open/check/sync/stat,
// modelled on internal/cli/app.go's urfave/cli/v2 usage in the wider
// server.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/urfave/cli/v2"

	"github.com/localbox/mailstore/internal/mailmetrics"
	"github.com/localbox/mailstore/internal/mailstore"
	"github.com/localbox/mailstore/internal/mailstore/headercache"
	"github.com/localbox/mailstore/internal/mailstore/headerparse"
	"github.com/localbox/mailstore/internal/mailstore/maildirengine"
	"github.com/localbox/mailstore/internal/mailstore/mhengine"
	"github.com/localbox/mailstore/internal/mailstore/sortby"
)

// statsRegistry is gathered by the stats command after an engine open; it
// is package-level because mailmetrics' collectors are themselves
// package-level vars shared with the rest of the stack.
var statsRegistry = prometheus.NewRegistry()

func init() {
	mailmetrics.MustRegister(statsRegistry)
}

func openEngine(c *cli.Context) (mailstore.Engine, error) {
	path := c.Args().First()
	if path == "" {
		return nil, fmt.Errorf("localboxctl: mailbox path is required")
	}

	cfg := mailstore.DefaultConfig()
	cfg.MaildirTrash = c.Bool("maildir-trash")
	cfg.MHPurge = c.Bool("mh-purge")

	cache := headercache.NewSQLite(filepath.Join(path, ".header_cache.db"))

	var engine mailstore.Engine
	if c.String("kind") == "mh" {
		e := mhengine.New(path, cfg)
		e.Cache = cache
		e.ParseHeaders = headerparse.DefaultParseHeaders
		e.SortBy = sortby.Default
		engine = e
	} else {
		e := maildirengine.New(path, cfg)
		e.Cache = cache
		e.ParseHeaders = headerparse.DefaultParseHeaders
		e.SortBy = sortby.Default
		engine = e
	}

	if _, err := engine.Open(mailstore.NoCancel{}); err != nil {
		return nil, err
	}
	return engine, nil
}

// printCacheStats gathers the header-cache hit/miss counters recorded by
// the open above (mailmetrics.HeaderCacheHits) and prints their totals.
func printCacheStats() error {
	families, err := statsRegistry.Gather()
	if err != nil {
		return err
	}
	var hits, misses float64
	for _, fam := range families {
		if fam.GetName() != "mailstore_headercache_lookups_total" {
			continue
		}
		for _, m := range fam.Metric {
			outcome := labelValue(m, "outcome")
			switch outcome {
			case "hit":
				hits += m.GetCounter().GetValue()
			case "miss":
				misses += m.GetCounter().GetValue()
			}
		}
	}
	fmt.Printf("header cache hits: %.0f\n", hits)
	fmt.Printf("header cache misses: %.0f\n", misses)
	return nil
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.Label {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}

func printStat(mb *mailstore.Mailbox) {
	fmt.Printf("path: %s\n", mb.Path)
	fmt.Printf("kind: %s\n", mb.Kind)
	fmt.Printf("messages: %d\n", mb.MsgCount)
	fmt.Printf("unread: %d\n", mb.MsgUnread)
	fmt.Printf("flagged: %d\n", mb.MsgFlagged)
}

func main() {
	app := &cli.App{
		Name:  "localboxctl",
		Usage: "inspect and maintain a local Maildir or MH mailbox",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "kind", Value: "maildir", Usage: "maildir or mh"},
			&cli.BoolFlag{Name: "maildir-trash", Usage: "move deleted messages to Trash flag instead of unlinking"},
			&cli.BoolFlag{Name: "mh-purge", Usage: "permanently remove deleted MH messages instead of tombstoning"},
		},
		Commands: []*cli.Command{
			{
				Name:      "stat",
				Usage:     "print mailbox counters after an open",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					engine, err := openEngine(c)
					if err != nil {
						return err
					}
					defer engine.Close()
					printStat(engine.Mailbox())
					return nil
				},
			},
			{
				Name:      "check",
				Usage:     "run an incremental check and print the result",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					engine, err := openEngine(c)
					if err != nil {
						return err
					}
					defer engine.Close()
					res, err := engine.Check(mailstore.NoCancel{})
					if err != nil {
						return err
					}
					fmt.Println(res.String())
					return nil
				},
			},
			{
				Name:      "sync",
				Usage:     "flush pending deletes/renames and print the resulting counters",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					engine, err := openEngine(c)
					if err != nil {
						return err
					}
					defer engine.Close()
					if _, err := engine.Sync(); err != nil {
						return err
					}
					printStat(engine.Mailbox())
					return nil
				},
			},
			{
				Name:      "stats",
				Usage:     "open the mailbox and print header-cache hit/miss counters",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					engine, err := openEngine(c)
					if err != nil {
						return err
					}
					defer engine.Close()
					printStat(engine.Mailbox())
					return printCacheStats()
				},
			},
			{
				Name:      "list",
				Usage:     "list every message's path and flag state",
				ArgsUsage: "<path>",
				Action: func(c *cli.Context) error {
					engine, err := openEngine(c)
					if err != nil {
						return err
					}
					defer engine.Close()
					for _, e := range engine.Mailbox().Messages {
						fmt.Printf("%-40s read=%-5v flagged=%-5v replied=%-5v deleted=%-5v\n",
							e.Path, e.Read, e.Flagged, e.Replied, e.Deleted)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "localboxctl:", err)
		os.Exit(1)
	}
}
