package cmd

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/afts/broker"
	"github.com/rustyeddy/afts/broker/oanda"
	"github.com/rustyeddy/afts/config"
	"github.com/rustyeddy/afts/execution"
	"github.com/rustyeddy/afts/feed"
	"github.com/rustyeddy/afts/gate"
	"github.com/rustyeddy/afts/internal/id"
	"github.com/rustyeddy/afts/internal/logger"
	"github.com/rustyeddy/afts/market"
	"github.com/rustyeddy/afts/sim"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Trade the profile against a live feed",
	Long: `Run the pipeline on live bars. Orders go to OANDA, or to a
simulated broker when live.paper is set. Real-money endpoints need
live.oanda.practice=false and live.oanda.allow_live=true.

The feed is chosen by live.feed:
  poll    poll OANDA candles every live.poll_interval
  stream  aggregate the OANDA pricing stream into bars
  ws      read bars from a websocket at live.ws_url

Example:
  afts live --profile ftmo_orb`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMode(cmd, config.ModeLive)
	},
}

var livePaper bool

func init() {
	rootCmd.AddCommand(liveCmd)

	liveCmd.Flags().BoolVar(&livePaper, "paper", false, "route orders to a simulated broker")
}

func runLive(ctx context.Context, cmd *cobra.Command, p *config.Profile) error {
	if livePaper {
		p.Live.Paper = true
	}
	lg := logger.New(p.Logging)
	var log logrus.FieldLogger = lg.Logrus()

	var oc *oanda.Client
	if !p.Live.Paper || p.Live.Feed != config.FeedWS {
		c, err := oanda.New(p.Live.OANDA, log)
		if err != nil {
			return err
		}
		oc = c
	}

	src, err := openLiveFeed(ctx, p, oc, log)
	if err != nil {
		return fmt.Errorf("open feed: %w", err)
	}
	defer src.Close()

	s, err := newSession(p, lg)
	if err != nil {
		return err
	}
	log = s.log
	loop, err := buildLoop(p, s.sink, nil, log)
	if err != nil {
		s.finish(execution.Result{})
		return err
	}

	opts := execution.LiveOptions{EnforceGate: p.Gate.Enforce}
	var client broker.Client
	var reader broker.AccountReader
	if p.Live.Paper {
		pb := sim.NewBroker(
			broker.NewAccount(p.Execution.Currency, p.Risk.InitialBalance),
			p.Assets, p.Execution.SimConfig(), p.Execution.Spread,
			id.NewGenerator(p.Seed), log)
		client, reader = pb, pb
		opts.OnBar = func(b market.Bar) { pb.Advance(b) }
	} else {
		rc := broker.NewRetryingClient(oc, p.Live.Retry, log)
		client, reader = rc, rc.Reader()
	}

	log.WithFields(logrus.Fields{
		"feed":  p.Live.Feed,
		"paper": p.Live.Paper,
	}).Info("live run started")
	lv := execution.NewLive(loop, client, reader, src, gate.New(p.Gate), opts, log)
	res, runErr := lv.Run(ctx)
	return settle(cmd, s, res, runErr)
}

// openLiveFeed returns the bar source named by live.feed.
func openLiveFeed(ctx context.Context, p *config.Profile, oc *oanda.Client, log logrus.FieldLogger) (feed.Feed, error) {
	switch p.Live.Feed {
	case config.FeedPoll:
		return feed.NewPoller(oc, feed.PollerConfig{
			Symbol:      p.Symbol,
			Granularity: p.Live.Granularity,
			Interval:    p.Live.PollInterval,
			RatePerSec:  p.Live.RatePerSec,
		}, log), nil
	case config.FeedStream:
		tf, err := market.Timeframe(p.Live.Granularity)
		if err != nil {
			return nil, err
		}
		return feed.StartTicks(ctx, oc, p.Symbol, tf, log), nil
	case config.FeedWS:
		return feed.DialWS(ctx, feed.WSConfig{
			URL:    p.Live.WSURL,
			Symbol: p.Symbol,
			Subscribe: map[string]string{
				"type":        "subscribe",
				"symbol":      p.Symbol,
				"granularity": p.Live.Granularity,
			},
		}, log)
	default:
		return nil, fmt.Errorf("unknown live feed %q", p.Live.Feed)
	}
}
