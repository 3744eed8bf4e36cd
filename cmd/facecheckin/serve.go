package main

import (
	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/server"
	"github.com/spf13/cobra"
)

var listenAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the capture API and live event stream",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenAddr, "listen", "", "Listen address (default from config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, "", true)
	if err != nil {
		return err
	}
	defer a.Close()

	hub := server.NewHub(64)
	a.orch.AddObserver(hub)

	addr := cfg.Server.Listen
	if listenAddr != "" {
		addr = listenAddr
	}

	manager := capture.NewManager(a.orch, profiles(cfg)...)
	srv := server.New(addr, manager, a.store, hub)
	if a.recorder != nil {
		srv.SetAttendance(a.recorder)
	}
	return srv.Run(cmd.Context())
}
