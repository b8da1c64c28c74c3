// Command rpma-ctl is a client for rpma servers: it resolves devices and
// fetches remote memory over the fabric.
package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/pmemlab/rpma"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	var debug bool

	rootCmd := &cobra.Command{
		Use:   "rpma-ctl",
		Short: "rpma-ctl - remote persistent memory access client",
		Long: `rpma-ctl talks to rpma-serve instances: it establishes a connection,
receives the served region's descriptor as private data and performs
remote reads against it.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
			zerolog.SetGlobalLevel(zerolog.WarnLevel)

			if debug {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
				log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
			}
		},
	}

	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")

	rootCmd.AddCommand(newReadCmd())
	rootCmd.AddCommand(newDevicesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newReadCmd() *cobra.Command {
	var (
		localAddr string
		offset    int
		length    int
	)

	cmd := &cobra.Command{
		Use:   "read <addr> <service>",
		Short: "Connect to a server and read from its exposed region",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRead(localAddr, args[0], args[1], offset, length)
		},
	}

	cmd.Flags().StringVar(&localAddr, "local-addr", "127.0.0.1", "Local address to resolve the device from")
	cmd.Flags().IntVar(&offset, "offset", 0, "Offset into the remote region")
	cmd.Flags().IntVar(&length, "length", 64, "Number of bytes to read")

	return cmd
}

func runRead(localAddr, addr, service string, offset, length int) error {
	dev, err := rpma.DeviceForAddr(localAddr)
	if err != nil {
		return err
	}

	peer, err := rpma.NewPeer(dev)
	if err != nil {
		return err
	}

	req, err := rpma.NewConnReq(peer, addr, service)
	if err != nil {
		return err
	}

	conn, err := req.Connect(nil, nil)
	if err != nil {
		return err
	}

	ev, err := conn.NextEvent()
	if err != nil {
		return err
	}

	if ev != rpma.ConnEstablished {
		return fmt.Errorf("unexpected connection event %s", ev)
	}

	src, err := rpma.MemoryRegionFromDescriptor(conn.PrivateData())
	if err != nil {
		return err
	}

	buf := make([]byte, length)

	dst, err := peer.RegisterMemory(buf, rpma.UsageReadDst, rpma.PlacementVolatile)
	if err != nil {
		return err
	}

	if err := conn.Read("rpma-ctl-read", dst, 0, src, offset, length, rpma.OpCompletion); err != nil {
		return err
	}

	cmpl, err := conn.NextCompletion()
	if err != nil {
		return err
	}

	if cmpl.Status != rpma.StatusSuccess {
		return fmt.Errorf("read completed with status %s", cmpl.Status)
	}

	fmt.Printf("remote region: %d bytes, read %d at offset %d\n", src.Size(), length, offset)
	fmt.Println(hex.Dump(buf))

	if err := conn.Disconnect(); err != nil {
		return err
	}

	for {
		ev, err := conn.NextEvent()
		if err != nil || ev == rpma.ConnClosed || ev == rpma.ConnLost {
			break
		}
	}

	if err := conn.Delete(); err != nil {
		return err
	}

	if err := dst.Deregister(); err != nil {
		return err
	}

	return peer.Delete()
}

func newDevicesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "devices <addr> [addr...]",
		Short: "Resolve RDMA devices for the given addresses",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, addr := range args {
				dev, err := rpma.DeviceForAddr(addr)
				if err != nil {
					return err
				}

				fmt.Printf("%s\t%s\n", addr, dev.Name())
			}

			return nil
		},
	}
}
