// Copyright 2025 The seg6 Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command seg6d binds SRv6 local segments from a TOML configuration and runs
// them over a TUN device.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/srv6proto/seg6/localsid"
	"github.com/srv6proto/seg6/pkg/log"
	"github.com/srv6proto/seg6/pkg/private/serrors"
	"github.com/srv6proto/seg6/private/fib"
)

func main() {
	var cfgPath string
	cmd := &cobra.Command{
		Use:           "seg6d",
		Short:         "SRv6 local segment daemon",
		Args:          cobra.NoArgs,
		SilenceErrors: true,
		SilenceUsage:  true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := log.Setup(cfg.Log); err != nil {
				return serrors.Wrap("setting up logging", err)
			}
			defer log.HandlePanic()
			ctx, cancel := signal.NotifyContext(context.Background(),
				os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return run(ctx, cfg)
		},
	}
	cmd.Flags().StringVar(&cfgPath, "config", "", "TOML config file (required)")
	cmd.MarkFlagRequired("config")
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *Config) error {
	dev, err := openDevice(cfg.Tun)
	if err != nil {
		return err
	}
	defer dev.Close()

	router := fib.NewRouter(func(p *localsid.Packet, e fib.Entry) error {
		_, err := dev.Write(p.Data())
		return err
	})
	router.Insert(0, defaultRoute6, fib.Entry{})
	router.Insert(0, defaultRoute4, fib.Entry{})

	co, vrf := collaborators(router)
	engine := localsid.NewEngine(
		localsid.Config{
			NumProcessors:  cfg.Engine.NumProcessors,
			NetfilterHooks: cfg.Engine.NetfilterHooks,
		},
		co,
	)

	sids := fib.NewSIDTable()
	defer sids.Close()
	headroom := 0
	for _, sc := range cfg.LocalSIDs {
		pfx, err := sc.Prefix()
		if err != nil {
			return err
		}
		msg, err := sc.Message()
		if err != nil {
			return serrors.Wrap("encoding localsid entry", err, "sid", pfx)
		}
		state, err := engine.BuildState(msg)
		if err != nil {
			return serrors.Wrap("building localsid entry", err, "sid", pfx)
		}
		bindLocalSID(sids, vrf, pfx, state)
		if h := state.Headroom(); h > headroom {
			headroom = h
		}
		if err := steerPrefix(dev, pfx); err != nil {
			return err
		}
		log.Info("Bound local SID", "sid", pfx, "behavior", state.Action(),
			"flavors", state.Flavors().Ops)
	}
	prometheus.MustRegister(localsid.NewCountersCollector(sids))

	g, errCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer log.HandlePanic()
		<-errCtx.Done()
		// Unblocks the reader.
		return dev.Close()
	})
	if cfg.Metrics.Prometheus != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server := &http.Server{Addr: cfg.Metrics.Prometheus, Handler: mux}
		g.Go(func() error {
			defer log.HandlePanic()
			<-errCtx.Done()
			return server.Close()
		})
		g.Go(func() error {
			defer log.HandlePanic()
			log.Info("Serving metrics", "addr", cfg.Metrics.Prometheus)
			err := server.ListenAndServe()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return serrors.Wrap("serving metrics", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		defer log.HandlePanic()
		return readLoop(errCtx, dev, engine, sids, cfg.Tun.MTU, headroom)
	})
	return g.Wait()
}

// bindLocalSID installs a built state into the SID table. When the state
// resolved a VRF device at build time, the device is bound to its routing
// table so packets handed to the forwarder find their way.
func bindLocalSID(sids *fib.SIDTable, vrf *fib.VRF, pfx netip.Prefix, state *localsid.State) {
	sids.Insert(pfx, state)
	if table, ifindex, ok := state.VRFDevice(); ok {
		vrf.Bind(ifindex, table)
	}
}

// readLoop pulls packets off the device and dispatches those addressed to a
// bound SID through the engine. Other packets pass through untouched.
func readLoop(ctx context.Context, dev device, engine *localsid.Engine,
	sids *fib.SIDTable, mtu, headroom int) error {

	logger := log.New("comp", "readloop")
	buf := make([]byte, headroom+mtu)
	for {
		n, err := dev.Read(buf[headroom:])
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return serrors.Wrap("reading packet", err)
		}
		raw := buf[headroom : headroom+n]
		dst, ok := ipv6Dst(raw)
		if !ok {
			continue
		}
		state, ok := sids.Lookup(dst)
		if !ok {
			continue
		}
		p := localsid.NewPacket(raw, headroom)
		if err := engine.Process(0, p, state); err != nil {
			if logger.Enabled(log.DebugLevel) {
				logger.Debug("packet dropped", "dst", dst, "err", err)
			}
		}
	}
}
