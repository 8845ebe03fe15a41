package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"sync"

	"github.com/spf13/cobra"

	"github.com/shek-hrd/dateherenow/internal/client"
	"github.com/shek-hrd/dateherenow/internal/config"
	"github.com/shek-hrd/dateherenow/internal/peerproto"
	"github.com/shek-hrd/dateherenow/internal/profile"
	"github.com/shek-hrd/dateherenow/internal/session"
	"github.com/shek-hrd/dateherenow/internal/webrtcpeer"
)

func joinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "join",
		Short: "Join the relay and talk to whoever is online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runJoin(ctx context.Context, in io.Reader, out io.Writer) error {
	local := profile.Profile{}
	if clientCfg.ProfilePath != "" {
		p, err := profile.Load(clientCfg.ProfilePath)
		if err != nil {
			return err
		}
		local = p
	}
	codec, err := peerproto.ByName(clientCfg.Codec)
	if err != nil {
		return err
	}

	api := webrtcpeer.NewAPI(webrtcpeer.APIOptions{
		IncludeLoopbackCandidates: clientCfg.IncludeLoopbackCandidates,
		Logger:                    logger,
	})
	relayClient := client.New(client.Options{
		URL:             clientCfg.RelayURL,
		MaxMessageBytes: config.DefaultMaxSignalingMessageBytes,
		MinBackoff:      clientCfg.ReconnectMinBackoff,
		MaxBackoff:      clientCfg.ReconnectMaxBackoff,
		Logger:          logger,
	})
	pr := newPrinter(out)
	reg := session.NewRegistry(session.Config{
		Local:            local,
		Codec:            codec,
		Factory:          webrtcpeer.NewFactory(api, clientCfg.ICEServers, logger),
		Signaler:         relayClient,
		Observer:         pr,
		Logger:           logger,
		HandshakeTimeout: clientCfg.HandshakeTimeout,
		StatsInterval:    clientCfg.StatsInterval,
		MaxMessageBytes:  clientCfg.MaxMessageBytes,
	})

	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := reg.Run(ctx); err != nil {
			logger.Error("session registry stopped", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		_ = relayClient.Run(ctx, reg)
	}()

	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	r := &repl{reg: reg, out: pr}
	pr.printf("connecting to %s (type help for commands)\n", clientCfg.RelayURL)
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			err := r.exec(ctx, line)
			if errors.Is(err, errQuit) {
				return nil
			}
			if err != nil {
				pr.printf("error: %v\n", err)
			}
		}
	}
}
