// chatgate is a multi-provider LLM chat gateway.
package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/alecthomas/kong"

	"github.com/roelfdiedericks/chatgate/internal/config"
	"github.com/roelfdiedericks/chatgate/internal/llm"
	. "github.com/roelfdiedericks/chatgate/internal/logging"
	"github.com/roelfdiedericks/chatgate/internal/paths"
	"github.com/roelfdiedericks/chatgate/internal/user"
)

// set with -ldflags "-X main.version=..."
var version = "dev"

// Globals are flags shared by every command
type Globals struct {
	Config string `help:"Config file (default: ./chatgate.json or ~/.chatgate/chatgate.json)." short:"c"`
	Debug  bool   `help:"Enable debug logging."`
}

type CLI struct {
	Globals

	Serve        ServeCmd        `cmd:"" default:"1" help:"Run the HTTP gateway."`
	Models       ModelsCmd       `cmd:"" help:"List the model catalogue and which models are configured."`
	Init         InitCmd         `cmd:"" help:"Write a default config file."`
	HashPassword HashPasswordCmd `cmd:"" name:"hash-password" help:"Print a bcrypt hash for a user's passwordHash."`
	Version      VersionCmd      `cmd:"" help:"Print the version."`
}

func main() {
	var cli CLI
	kctx := kong.Parse(&cli,
		kong.Name("chatgate"),
		kong.Description("Multi-provider LLM chat gateway with SSE streaming and fallback."),
		kong.UsageOnError(),
	)

	level := LevelInfo
	if cli.Debug {
		level = LevelDebug
	}
	Init(&Settings{Level: level})

	kctx.FatalIfErrorf(kctx.Run(&cli.Globals))
}

// loadConfig loads the config and applies its logging section
func loadConfig(g *Globals) (*config.Config, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return nil, err
	}
	level := ParseLevel(cfg.Logging.Level)
	if g.Debug {
		level = LevelDebug
	}
	Init(&Settings{Level: level, ShowCaller: cfg.Logging.ShowCaller})
	return cfg, nil
}

type ServeCmd struct{}

func (c *ServeCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	L_info("chatgate %s starting", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, g.Debug)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(); err != nil {
		return err
	}
	L_info("chatgate ready", "listen", cfg.HTTP.Listen)

	<-ctx.Done()
	L_info("chatgate: shutting down")
	return nil
}

type ModelsCmd struct{}

func (c *ModelsCmd) Run(g *Globals) error {
	cfg, err := loadConfig(g)
	if err != nil {
		return err
	}
	providers, err := buildProviders(cfg.Providers)
	if err != nil {
		return err
	}
	registry := llm.NewRegistry(llm.Catalogue(), providers, cfg.Pipeline.Priority)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROVIDER\tFEATURES\tCONFIGURED")
	for _, m := range registry.Models() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%v\n", m.ID, m.Provider, features(m.Features), registry.Available(m.ID))
	}
	return tw.Flush()
}

func features(f llm.Features) string {
	var out []string
	if f.Reasoning {
		out = append(out, "reasoning")
	}
	if f.Search {
		out = append(out, "search")
	}
	if f.Image {
		out = append(out, "image")
	}
	if f.Video {
		out = append(out, "video")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, ",")
}

type InitCmd struct {
	Force bool   `help:"Overwrite an existing config (the old one is kept as .bak)."`
	Path  string `arg:"" optional:"" help:"Where to write the config (default: ~/.chatgate/chatgate.json)."`
}

func (c *InitCmd) Run(g *Globals) error {
	path := c.Path
	if path == "" {
		path = g.Config
	}
	if path == "" {
		p, err := paths.DefaultConfigPath()
		if err != nil {
			return err
		}
		path = p
	}
	path, err := paths.ExpandHome(path)
	if err != nil {
		return err
	}
	if err := config.WriteDefault(path, c.Force); err != nil {
		return err
	}
	fmt.Printf("wrote %s\n", path)
	return nil
}

type HashPasswordCmd struct {
	Password string `arg:"" optional:"" help:"Password to hash (read from stdin when omitted)."`
}

func (c *HashPasswordCmd) Run(g *Globals) error {
	pw := c.Password
	if pw == "" {
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read password: %w", err)
		}
		pw = strings.TrimRight(line, "\r\n")
	}
	if pw == "" {
		return fmt.Errorf("password must not be empty")
	}
	hash, err := user.HashPassword(pw)
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

type VersionCmd struct{}

func (c *VersionCmd) Run(g *Globals) error {
	fmt.Printf("chatgate %s\n", version)
	return nil
}
