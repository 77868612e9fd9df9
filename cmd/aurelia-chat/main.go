// aurelia-chat is a minimal terminal harness around the chat engine: it
// wires the store, transports, dispatcher and router together and relays
// stdin turns. The real presentation layer lives elsewhere; this binary
// exists for development against a live backend.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/aurelia-ai/aurelia/pkg/channel"
	"github.com/aurelia-ai/aurelia/pkg/chat"
	"github.com/aurelia-ai/aurelia/pkg/config"
	"github.com/aurelia-ai/aurelia/pkg/dispatch"
	"github.com/aurelia-ai/aurelia/pkg/logging"
	"github.com/aurelia-ai/aurelia/pkg/persona"
	"github.com/aurelia-ai/aurelia/pkg/router"
	"github.com/aurelia-ai/aurelia/pkg/telemetry"
	"github.com/aurelia-ai/aurelia/pkg/transport"
)

var (
	configPath  string
	personaName string
	traceOut    bool
)

func main() {
	flag.StringVar(&configPath, "config", defaultConfigPath(), "path to config file")
	flag.StringVar(&personaName, "persona", "", "persona to start the session with")
	flag.BoolVar(&traceOut, "trace", false, "emit traces to stdout")
	flag.Parse()

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "aurelia-chat: %v\n", err)
		os.Exit(1)
	}
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "aurelia.yaml"
	}
	return home + "/.aurelia/config.yaml"
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		fmt.Println("\nInterrupted - closing session")
		cancel()
	}()

	if traceOut {
		tp, err := telemetry.NewTracerProvider("aurelia-chat")
		if err != nil {
			return err
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	registry, err := persona.NewRegistry(cfg.Personas)
	if err != nil {
		return err
	}
	active := registry.Default()
	if personaName != "" {
		if !registry.Has(personaName) {
			return fmt.Errorf("unknown persona %q (have: %s)", personaName, strings.Join(registry.Names(), ", "))
		}
		active = registry.Get(personaName)
	}

	store := chat.NewStore()
	sess := store.NewSession(active.Name)

	logger, err := logging.NewLogger(cfg.Logging.Dir, sess.LocalID)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.SetMinLevel(logging.Level(cfg.Logging.MinLevel))

	channelURL := cfg.Backend.ChannelURL
	if channelURL == "" {
		channelURL = channel.DeriveURL(cfg.Backend.BaseURL)
	}
	ch := channel.NewClient(channel.Options{
		URL:            channelURL,
		AuthToken:      cfg.Backend.AuthToken,
		DialTimeout:    cfg.Channel.DialTimeout,
		Keepalive:      cfg.Channel.Keepalive,
		ReadLimit:      cfg.Channel.ReadLimit,
		SendAckTimeout: cfg.Channel.SendAckTimeout,
	}, logger)
	defer ch.Close()

	hub := telemetry.NewHub()
	defer hub.Close()

	rt := router.New(store, registry, ch, hub, logger, func() bool {
		return cfg.Chat.ShowReasoning
	})
	rt.SetActiveSession(sess.LocalID)
	go rt.Run(ctx)

	disp := dispatch.New(
		store,
		registry,
		transport.NewChunkedClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken),
		transport.NewPersistenceClient(cfg.Backend.BaseURL, cfg.Backend.AuthToken),
		ch,
		rt,
		logger,
	)

	go printNotices(hub)
	go printResponses(ctx, store, sess.LocalID)

	fmt.Printf("Talking to %s. Type a message, /persona <name> to switch, /quit to exit.\n", active.Name)
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "/quit":
			return nil
		case strings.HasPrefix(line, "/persona "):
			name := strings.TrimSpace(strings.TrimPrefix(line, "/persona "))
			if err := rt.SwitchPersona(ctx, sess.LocalID, name); err != nil {
				fmt.Fprintf(os.Stderr, "persona switch failed: %v\n", err)
			} else {
				fmt.Printf("Now talking to %s.\n", name)
			}
		case line == "":
		default:
			err := disp.SubmitTurn(ctx, cfg.Snapshot(), sess.LocalID, dispatch.TurnInput{Text: line}, dispatch.NoEdit)
			if err != nil {
				fmt.Fprintf(os.Stderr, "send failed: %v\n", err)
			}
		}
		if ctx.Err() != nil {
			return nil
		}
	}
	return scanner.Err()
}

// printResponses tails the store and prints completed assistant turns.
func printResponses(ctx context.Context, store *chat.Store, sessionLocalID string) {
	changes, unsubscribe := store.Subscribe()
	defer unsubscribe()

	printed := make(map[string]bool)
	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			sess, ok := store.Session(sessionLocalID)
			if !ok {
				continue
			}
			for _, m := range sess.Messages {
				if m.FromUser || m.Text == "" || printed[m.LocalID] {
					continue
				}
				if m.ServerID != 0 || m.IsError {
					fmt.Printf("\n[%s] %s\n", m.Character, m.Text)
					printed[m.LocalID] = true
				}
			}
		}
	}
}

func printNotices(hub *telemetry.Hub) {
	notices, unsubscribe := hub.Subscribe()
	defer unsubscribe()
	for n := range notices {
		if n.Type == telemetry.NoticeNotification {
			fmt.Printf("\n* %s\n", n.Text)
		}
	}
}
