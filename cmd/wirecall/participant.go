package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vovakirdan/wirecall/internal/app"
	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/config"
)

type participantFlags struct {
	relayURL   string
	name       string
	role       string
	noAudio    bool
	noVideo    bool
	autoAnswer bool
}

func (f *participantFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.relayURL, "relay", "", "relay websocket url")
	cmd.Flags().StringVar(&f.name, "name", "", "display name shown to the other participant")
	cmd.Flags().StringVar(&f.role, "role", "", "participant role (doctor or patient)")
	cmd.Flags().BoolVar(&f.noAudio, "no-audio", false, "do not publish audio")
	cmd.Flags().BoolVar(&f.noVideo, "no-video", false, "do not publish video")
}

func newDialCmd(root *rootFlags) *cobra.Command {
	flags := &participantFlags{}
	cmd := &cobra.Command{
		Use:   "dial <identity>",
		Short: "Call another participant by identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParticipant(cmd.Context(), root, flags, args[0])
		},
	}
	flags.register(cmd)
	return cmd
}

func newListenCmd(root *rootFlags) *cobra.Command {
	flags := &participantFlags{}
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Wait for incoming calls",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runParticipant(cmd.Context(), root, flags, "")
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&flags.autoAnswer, "auto-answer", false, "accept incoming calls without asking")
	return cmd
}

// runParticipant connects to the relay and drives one machine from stdin.
// With a target it places a call once the identity arrives and exits when
// that call is over.
func runParticipant(ctx context.Context, root *rootFlags, flags *participantFlags, target string) error {
	cfg, logger, err := loadConfig(root)
	if err != nil {
		return err
	}
	cfg.UpdateFrom(config.Config{RelayURL: flags.relayURL, DisplayName: flags.name, Role: flags.role})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if flags.noAudio && flags.noVideo {
		return errors.New("--no-audio and --no-video leave nothing to publish")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	console := newConsole(os.Stdout, flags.autoAnswer, target != "")
	participant, err := app.NewParticipant(ctx, &cfg, app.ParticipantOptions{
		WantsAudio: !flags.noAudio,
		WantsVideo: !flags.noVideo,
		Observer:   console,
	}, logger)
	if err != nil {
		return err
	}
	machine := participant.Machine()
	console.attach(ctx, machine)

	runErr := make(chan error, 1)
	go func() { runErr <- participant.Run(ctx) }()

	if target != "" {
		select {
		case <-console.ready:
		case err := <-runErr:
			return err
		}
		if err := machine.PlaceCall(ctx, target); err != nil {
			cancel()
			<-runErr
			return fmt.Errorf("place call: %w", err)
		}
		console.printf("calling %s ...", target)
	}

	go console.readCommands(ctx, os.Stdin)

	select {
	case <-ctx.Done():
	case <-console.finished:
		cancel()
	case err := <-runErr:
		return err
	}
	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var _ call.Observer = (*console)(nil)
