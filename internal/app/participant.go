package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/wirecall/internal/call"
	"github.com/vovakirdan/wirecall/internal/config"
	"github.com/vovakirdan/wirecall/internal/media"
	"github.com/vovakirdan/wirecall/internal/peer"
	"github.com/vovakirdan/wirecall/internal/relayclient"
)

// ParticipantOptions selects what local media a participant publishes.
type ParticipantOptions struct {
	WantsAudio bool
	WantsVideo bool
	Observer   call.Observer
}

// Participant wires a call machine to the relay and to pion transports.
type Participant struct {
	machine *call.Machine
	relay   *relayclient.Client
	log     *zerolog.Logger
}

// NewParticipant connects to cfg.RelayURL and builds the call machine.
func NewParticipant(ctx context.Context, cfg *config.Config, opts ParticipantOptions, logger *zerolog.Logger) (*Participant, error) {
	factory, err := peer.NewFactory(logger)
	if err != nil {
		return nil, fmt.Errorf("init transport: %w", err)
	}

	relay, err := relayclient.Dial(ctx, cfg.RelayURL, cfg.DisplayName, logger)
	if err != nil {
		return nil, err
	}

	machine := call.NewMachine(call.Options{
		DisplayName:   cfg.DisplayName,
		Role:          cfg.Role,
		ICEServers:    cfg.ICEServers,
		AnswerTimeout: cfg.AnswerTimeout,
		WantsAudio:    opts.WantsAudio,
		WantsVideo:    opts.WantsVideo,
		Media: &media.Capability{
			AudioFile: cfg.AudioFile,
			VideoFile: cfg.VideoFile,
			Logger:    logger,
		},
		Transport: factory,
		Signaler:  relay,
		Observer:  opts.Observer,
		Logger:    logger,
	})

	return &Participant{machine: machine, relay: relay, log: logger}, nil
}

// Machine exposes the call machine for user commands.
func (p *Participant) Machine() *call.Machine { return p.machine }

// Run acquires media and serves relay traffic until ctx is cancelled or the
// relay connection drops. On exit the machine hangs up while the relay is
// still open, so the peer is notified.
func (p *Participant) Run(ctx context.Context) error {
	machineCtx, stopMachine := context.WithCancel(context.Background())
	defer stopMachine()
	machineDone := make(chan struct{})
	go func() {
		defer close(machineDone)
		_ = p.machine.Run(machineCtx)
	}()

	// A participant without media can still be rung; accepting reports the
	// failure to the caller.
	if err := p.machine.Start(ctx); err != nil {
		p.log.Warn().Err(err).Msg("continuing without local media")
	}

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()
	relayDone := make(chan error, 1)
	go func() { relayDone <- p.relay.Run(relayCtx, p.machine) }()

	var (
		relayErr    error
		relayClosed bool
	)
	select {
	case <-ctx.Done():
	case relayErr = <-relayDone:
		relayClosed = true
		if relayErr == nil {
			relayErr = fmt.Errorf("relay closed the connection")
		}
		p.log.Warn().Err(relayErr).Msg("relay connection lost")
	}

	stopMachine()
	<-machineDone

	_ = p.relay.Close()
	stopRelay()
	if !relayClosed {
		<-relayDone
	}
	return relayErr
}
