package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/koscakluka/scarlett-term/core/api"
	"github.com/koscakluka/scarlett-term/core/audio"
	"github.com/koscakluka/scarlett-term/core/audio/miniaudio"
	"github.com/koscakluka/scarlett-term/core/audio/portaudio"
	"github.com/koscakluka/scarlett-term/core/narration"
	"github.com/koscakluka/scarlett-term/core/turn"
	"github.com/koscakluka/scarlett-term/tui"
)

func main() {
	serverURL := flag.String("server", api.DefaultBaseURL, "assistant server base URL")
	audioBackend := flag.String("audio", "miniaudio", "playback backend: miniaudio, portaudio or none")
	noAutoNarration := flag.Bool("no-narration", false, "do not narrate finished replies automatically")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := api.NewClient(*serverURL)
	manager := turn.NewManager(client)

	var narrator *narration.Narrator
	player, err := newPlayer(*audioBackend)
	if err != nil {
		log.Printf("narration disabled: %v", err)
	} else if player != nil {
		defer player.Close()
		narrator = narration.NewNarrator(client, player)
	}

	var opts []tui.ModelOption
	if *noAutoNarration {
		opts = append(opts, tui.WithoutAutoNarration())
	}

	model := tui.NewModel(ctx, client, manager, narrator, opts...)
	program := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newPlayer(backend string) (audio.Player, error) {
	switch backend {
	case "miniaudio":
		return miniaudio.NewPlayer()
	case "portaudio":
		return portaudio.NewPlayer()
	case "none":
		return nil, nil
	}
	return nil, fmt.Errorf("unknown audio backend %q", backend)
}
