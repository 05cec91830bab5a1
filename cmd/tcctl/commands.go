package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli"

	"tcbridge/internal/app"
	"tcbridge/internal/client"
	"tcbridge/internal/domain"
	"tcbridge/internal/mover"
	"tcbridge/internal/service"
)

var stdout io.Writer = os.Stdout

func selectedClient(c *cli.Context, a *app.App) (client.Client, error) {
	name := c.GlobalString(clientFlag)
	if name == "" {
		return nil, errors.New("--client is required")
	}
	return a.Client(name)
}

func infoHashArg(c *cli.Context) (string, error) {
	if c.NArg() != 1 {
		return "", fmt.Errorf("%s expects exactly one infohash", c.Command.Name)
	}
	return c.Args().First(), nil
}

func makeListCMD() cli.Command {
	return cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "Lists torrents",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "active", Usage: "only active torrents"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				var records []domain.TorrentRecord
				if c.Bool("active") {
					records, err = cl.ListActive(ctx)
				} else {
					records, err = cl.List(ctx)
				}
				if err != nil {
					return err
				}
				printRecords(stdout, records)
				return nil
			})
		},
	}
}

func printRecords(w io.Writer, records []domain.TorrentRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "INFOHASH\tNAME\tSIZE\tSTATE\tPROGRESS\tUPLOADED\tTRACKER\tADDED")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f%%\t%s\t%s\t%s\n",
			r.InfoHash,
			r.Name,
			humanize.Bytes(uint64(r.Size)),
			r.State,
			r.Progress,
			humanize.Bytes(uint64(r.Uploaded)),
			r.Tracker,
			humanize.Time(r.Added),
		)
	}
	tw.Flush()
}

func makeStateCMD(name, usage string) cli.Command {
	return cli.Command{
		Name:      name,
		Usage:     usage,
		ArgsUsage: "INFOHASH",
		Action: func(c *cli.Context) error {
			ih, err := infoHashArg(c)
			if err != nil {
				return err
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				switch name {
				case "start":
					return cl.Start(ctx, ih)
				case "stop":
					return cl.Stop(ctx, ih)
				default:
					return cl.Remove(ctx, ih)
				}
			})
		},
	}
}

func makeFilesCMD() cli.Command {
	return cli.Command{
		Name:      "files",
		Usage:     "Lists the files of a torrent",
		ArgsUsage: "INFOHASH",
		Action: func(c *cli.Context) error {
			ih, err := infoHashArg(c)
			if err != nil {
				return err
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				path, err := cl.GetDownloadPath(ctx, ih)
				if err != nil {
					return err
				}
				files, err := cl.GetFiles(ctx, ih)
				if err != nil {
					return err
				}
				fmt.Fprintf(stdout, "%s\n", path)
				tw := tabwriter.NewWriter(stdout, 0, 0, 2, ' ', 0)
				for _, f := range files {
					fmt.Fprintf(tw, "  %s\t%s\t%.1f%%\n", f.Path, humanize.Bytes(uint64(f.Size)), f.Progress)
				}
				return tw.Flush()
			})
		},
	}
}

func makeTestConnectionCMD() cli.Command {
	return cli.Command{
		Name:  "test-connection",
		Usage: "Checks that the client is reachable",
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				if !cl.TestConnection(ctx) {
					return cli.NewExitError("client unreachable", 1)
				}
				fmt.Fprintln(stdout, "ok")
				return nil
			})
		},
	}
}

func makeMoveCMD() cli.Command {
	return cli.Command{
		Name:      "move",
		Aliases:   []string{"mv"},
		Usage:     "Moves a torrent from --client to TARGET",
		ArgsUsage: "INFOHASH TARGET",
		Flags: []cli.Flag{
			cli.BoolFlag{Name: "fast-resume", Usage: "ask the target to trust data on disk"},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("move expects INFOHASH and TARGET")
			}
			source := c.GlobalString(clientFlag)
			if source == "" {
				return errors.New("--client is required")
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				record, err := a.Moves.Move(ctx, service.MoveRequest{
					InfoHash:   c.Args().Get(0),
					Source:     source,
					Target:     c.Args().Get(1),
					FastResume: c.Bool("fast-resume"),
				})
				if record != nil {
					printMoves(stdout, []domain.MoveRecord{*record})
				}
				return err
			})
		},
	}
}

func makeRelocateCMD() cli.Command {
	return cli.Command{
		Name:      "relocate",
		Usage:     "Moves the payload of a torrent to another directory on the same client",
		ArgsUsage: "INFOHASH DESTINATION",
		Action: func(c *cli.Context) error {
			if c.NArg() != 2 {
				return errors.New("relocate expects INFOHASH and DESTINATION")
			}
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				return mover.New(mover.Config{Logger: a.Logger}).MoveData(ctx, mover.DataRequest{
					InfoHash:    c.Args().Get(0),
					Client:      cl,
					Destination: c.Args().Get(1),
				})
			})
		},
	}
}

func makeSerializeCMD() cli.Command {
	return cli.Command{
		Name:  "serialize",
		Usage: "Prints the client url that reopens the client",
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				cl, err := selectedClient(c, a)
				if err != nil {
					return err
				}
				s, err := cl.SerializeConfiguration()
				if err != nil {
					return err
				}
				fmt.Fprintln(stdout, s)
				return nil
			})
		},
	}
}

func makeMovesCMD() cli.Command {
	return cli.Command{
		Name:  "moves",
		Usage: "Lists the move journal",
		Flags: []cli.Flag{
			cli.IntFlag{Name: "limit", Value: 20, Usage: "number of moves to show"},
			cli.BoolFlag{Name: "duplicates", Usage: "only moves that left the torrent on both clients"},
		},
		Action: func(c *cli.Context) error {
			return withApp(c, func(ctx context.Context, a *app.App) error {
				var (
					moves []domain.MoveRecord
					err   error
				)
				if c.Bool("duplicates") {
					moves, err = a.Moves.ListDuplicates(ctx)
				} else {
					moves, err = a.Moves.ListMoves(ctx, c.Int("limit"))
				}
				if err != nil {
					return err
				}
				printMoves(stdout, moves)
				return nil
			})
		},
	}
}

func printMoves(w io.Writer, moves []domain.MoveRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tINFOHASH\tSOURCE\tTARGET\tSTATUS\tSTARTED\tERROR")
	for _, m := range moves {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID, m.InfoHash, m.Source, m.Target, m.Status, humanize.Time(m.StartedAt), m.ErrorMessage)
	}
	tw.Flush()
}
