// Command rigd is the server binary: it loads the schema and rig catalog,
// brings up the Device Manager, reloads any persisted devices, and serves
// both client bus adapters until signalled to stop.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/openrigd/rigd/internal/apperror"
	"github.com/openrigd/rigd/internal/manager"
	"github.com/openrigd/rigd/internal/resources"
	"github.com/openrigd/rigd/internal/rigctld"
	"github.com/openrigd/rigd/internal/rigdconfig"
	"github.com/openrigd/rigd/internal/rigdlog"
	"github.com/openrigd/rigd/internal/rpcudp"
)

var (
	configPath      string
	rigctldDeviceID string
)

var rootCmd = &cobra.Command{
	Use:   "rigd",
	Short: "Programmable amateur-radio rig control hub",
	RunE:  run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to rigd's YAML config file (defaults to the user config directory)")
	rootCmd.Flags().StringVar(&rigctldDeviceID, "rigctld-device", "", "device id the rigctld adapter mirrors (defaults to the first loaded device)")
}

func run(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		resolved, err := rigdconfig.Path()
		if err != nil {
			return err
		}
		path = resolved
	}
	cfg, err := rigdconfig.Load(path)
	if err != nil {
		return err
	}
	rigdlog.SetLevel(cfg.LogLevel)
	log := rigdlog.For("rigd")

	res, rigErrs := resources.Load(cfg.SchemaPath, cfg.RigsDir)
	if res == nil {
		return fmt.Errorf("loading resources: %d fatal error(s), first: %v", len(rigErrs), rigErrs[0])
	}
	for _, e := range rigErrs {
		log.Warn().Err(e).Msg("rig excluded from catalog")
	}

	mgr := manager.New(res, manager.Config{
		StateFile:    cfg.StateFile,
		PollInterval: time.Duration(cfg.PollInterval),
		ReadTimeout:  time.Duration(cfg.ReadTimeout),
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := mgr.LoadPersisted(ctx); err != nil {
		return apperror.Wrap(apperror.KindConfig, "loading persisted devices", err)
	}
	go mgr.Run(ctx)
	mgr.PublishInitialState()

	udpSrv, err := rpcudp.New(mgr, cfg.RpcUdpAddr)
	if err != nil {
		return err
	}
	go udpSrv.Serve(ctx)
	log.Info().Str("addr", cfg.RpcUdpAddr).Msg("rpcudp adapter listening")

	deviceID := rigctldDeviceID
	if deviceID == "" {
		if devices := mgr.ListDevices(); len(devices) > 0 {
			deviceID = devices[0].DeviceID
		}
	}
	if deviceID != "" {
		tcpSrv, err := rigctld.New(mgr, deviceID, cfg.RigctldAddr)
		if err != nil {
			return err
		}
		go tcpSrv.Serve(ctx)
		log.Info().Str("addr", cfg.RigctldAddr).Str("device_id", deviceID).Msg("rigctld adapter listening")
	} else {
		log.Warn().Msg("no devices configured, rigctld adapter not started")
	}

	<-ctx.Done()
	log.Info().Msg("shutting down")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
