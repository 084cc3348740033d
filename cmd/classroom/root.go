package main

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "classroom",
	Short: "Headless classroom call client",
	Long: `classroom joins a virtual classroom as a participant: it connects to the
signaling server, negotiates WebRTC connections with every other participant
and publishes pre-encoded media from disk (IVF video, Ogg/Opus audio).`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(joinCmd)
}
