// Command parchment serves and inspects manuscripts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	parchmenthttp "parchment/internal/http"
	"parchment/pkg/metrics"
	"parchment/pkg/snapshot"
	"parchment/pkg/words"
)

// Globals are flags shared by every command.
type Globals struct {
	Config  string `short:"c" help:"Path to the YAML config" default:"config.yaml" type:"path"`
	Dir     string `short:"d" help:"Manuscript directory, overrides storage.path" type:"path"`
	Backend string `help:"Word store backend (mapped or streamed), overrides storage.backend"`
	Remote  string `help:"Base URL of a parchment server; page commands go over HTTP when set"`
}

type cli struct {
	Globals

	Serve     ServeCmd     `cmd:"" help:"Serve a manuscript over HTTP"`
	Append    AppendCmd    `cmd:"" help:"Append a page"`
	Get       GetCmd       `cmd:"" help:"Print a page"`
	Delete    DeleteCmd    `cmd:"" help:"Delete a page"`
	Ls        LsCmd        `cmd:"" help:"List index entries"`
	Recycling RecyclingCmd `cmd:"" help:"List recycled entries"`
	Export    ExportCmd    `cmd:"" help:"Write a snapshot of the manuscript"`
	Import    ImportCmd    `cmd:"" help:"Restore a snapshot into an empty directory"`
	Words     WordsCmd     `cmd:"" help:"Dump a raw word file"`
}

// ServeCmd runs the HTTP server until interrupted.
type ServeCmd struct {
	Port int `help:"HTTP port, overrides http-server.port"`
}

func (c *ServeCmd) Run(g *Globals) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	if c.Port != 0 {
		cfg.Server.Port = c.Port
	}
	initLogger(&cfg)

	reg := metrics.NewRegistry()
	m, err := openManuscript(cfg, reg)
	if err != nil {
		return err
	}
	defer m.Close()

	srv := parchmenthttp.NewServer(m, reg, cfg.Server.Port, cfg.Server.ReadHeaderTimeout())
	if err := srv.Start(); err != nil {
		return err
	}

	<-ctx.Done()
	return srv.Stop()
}

type AppendCmd struct {
	Values []uint64 `arg:"" help:"Words of the new page"`
}

func (c *AppendCmd) Run(g *Globals) error {
	svc, err := connect(g)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.Append(context.Background(), c.Values)
	if err != nil {
		return err
	}
	fmt.Printf("page %d at [%d, %d)\n", p.Number, p.Offset, p.Offset+p.Length)
	return nil
}

type GetCmd struct {
	Number uint64 `arg:"" help:"Page number"`
}

func (c *GetCmd) Run(g *Globals) error {
	svc, err := connect(g)
	if err != nil {
		return err
	}
	defer svc.Close()

	p, err := svc.Get(context.Background(), c.Number)
	if err != nil {
		return err
	}
	for _, v := range p.Values {
		fmt.Println(v)
	}
	return nil
}

type DeleteCmd struct {
	Number uint64 `arg:"" help:"Page number"`
}

func (c *DeleteCmd) Run(g *Globals) error {
	svc, err := connect(g)
	if err != nil {
		return err
	}
	defer svc.Close()

	return svc.Delete(context.Background(), c.Number)
}

type LsCmd struct{}

func (c *LsCmd) Run(g *Globals) error {
	svc, err := connect(g)
	if err != nil {
		return err
	}
	defer svc.Close()

	entries, err := svc.List(context.Background())
	if err != nil {
		return err
	}
	for _, e := range entries {
		state := "live"
		if e.Deleted {
			state = "deleted"
		}
		fmt.Printf("%d\t%d\t%d\t%s\n", e.Number, e.Offset, e.Length, state)
	}
	return nil
}

type RecyclingCmd struct{}

func (c *RecyclingCmd) Run(g *Globals) error {
	svc, err := connect(g)
	if err != nil {
		return err
	}
	defer svc.Close()

	entries, err := svc.Recycled(context.Background())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Printf("%d\t%d\t%d\n", e.Number, e.Offset, e.Length)
	}
	return nil
}

type ExportCmd struct {
	Output string `arg:"" help:"Snapshot file, - for stdout" default:"-"`
	Codec  string `help:"Archive compression (zstd or gzip)" default:"zstd" enum:"zstd,gzip"`
}

func (c *ExportCmd) Run(g *Globals) error {
	codec, err := snapshot.ParseCodec(c.Codec)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	initLogger(&cfg)

	m, err := openManuscript(cfg, metrics.Nop{})
	if err != nil {
		return err
	}
	defer m.Close()

	if c.Output == "-" {
		_, err := snapshot.Export(m, os.Stdout, snapshot.WithCodec(codec))
		return err
	}

	manifest, err := exportFile(m, c.Output, codec)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %s written to %s\n", manifest.ID, c.Output)
	return nil
}

// exportFile writes a snapshot to path. The file is synced and closed before
// success is reported, and removed when the export fails.
func exportFile(src snapshot.Freezer, path string, codec snapshot.Codec) (snapshot.Manifest, error) {
	f, err := os.Create(path)
	if err != nil {
		return snapshot.Manifest{}, fmt.Errorf("create %s: %w", path, err)
	}

	manifest, err := snapshot.Export(src, f, snapshot.WithCodec(codec))
	if err == nil {
		err = f.Sync()
	}
	if closeErr := f.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("close %s: %w", path, closeErr)
	}
	if err != nil {
		_ = os.Remove(path)
		return snapshot.Manifest{}, err
	}
	return manifest, nil
}

type ImportCmd struct {
	Input string `arg:"" help:"Snapshot file" type:"existingfile"`
}

func (c *ImportCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	initLogger(&cfg)

	f, err := os.Open(c.Input)
	if err != nil {
		return fmt.Errorf("open %s: %w", c.Input, err)
	}
	defer f.Close()

	manifest, err := snapshot.Import(f, cfg.Storage.Path)
	if err != nil {
		return err
	}
	fmt.Printf("snapshot %s restored into %s\n", manifest.ID, cfg.Storage.Path)
	return nil
}

// WordsCmd prints every word of a file, marking deleted slots.
type WordsCmd struct {
	File   string `arg:"" help:"Word file" type:"existingfile"`
	Offset uint64 `help:"First word of the window"`
	Count  int64  `help:"Window length in words, negative for the rest of the file" default:"-1"`
}

func (c *WordsCmd) Run(g *Globals) error {
	backend, err := words.ParseBackend(g.Backend)
	if err != nil {
		return err
	}
	window := words.From(c.Offset)
	if c.Count >= 0 {
		window = words.Span(c.Offset, uint64(c.Count))
	}
	s, err := words.Open(backend, c.File, window)
	if err != nil {
		return err
	}
	defer s.Close()

	for i := uint64(0); i < s.Size(); i++ {
		if v := words.At(s, i); v == words.Tombstone {
			fmt.Printf("%d\t-\n", i)
		} else {
			fmt.Printf("%d\t%d\n", i, v)
		}
	}
	return nil
}

func main() {
	var c cli
	ctx := kong.Parse(&c,
		kong.Name("parchment"),
		kong.Description("Page store on memory-mapped word files"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(&c.Globals)
	ctx.FatalIfErrorf(err)
}
