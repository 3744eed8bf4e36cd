package main

import (
	"fmt"
	"io"

	"github.com/MrCodeEU/facecheckin/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configYAML bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show current configuration",
	Long: `Show current configuration.

Configuration locations:
  System: /etc/facecheckin/facecheckin.yaml
  User:   ~/.config/facecheckin/facecheckin.yaml

Use --config to specify a custom config file.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if configYAML {
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(redacted(cfg))
		}
		printConfig(cmd.OutOrStdout(), cfg)
		return nil
	},
}

func init() {
	configCmd.Flags().BoolVar(&configYAML, "yaml", false, "Print the effective configuration as YAML")
	rootCmd.AddCommand(configCmd)
}

// redacted returns a copy of c without secrets.
func redacted(c *config.Config) *config.Config {
	out := *c
	if out.MQTT.Password != "" {
		out.MQTT.Password = "********"
	}
	return &out
}

func printConfig(w io.Writer, c *config.Config) {
	fmt.Fprintln(w, "Current Configuration:")
	fmt.Fprintln(w, "======================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Camera]")
	fmt.Fprintf(w, "  Source:          %s\n", c.Camera.Source)
	fmt.Fprintf(w, "  Device:          %s\n", c.Camera.Device)
	if c.Camera.Source == "replay" {
		fmt.Fprintf(w, "  Replay Dir:      %s\n", c.Camera.ReplayDir)
	}
	fmt.Fprintf(w, "  Resolution:      %dx%d @ %d FPS\n", c.Camera.Width, c.Camera.Height, c.Camera.FPS)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Detection]")
	fmt.Fprintf(w, "  Model Path:      %s\n", c.Detection.ModelPath)
	fmt.Fprintf(w, "  Min Confidence:  %.2f\n", c.Detection.MinConfidence)
	fmt.Fprintf(w, "  Timeout:         %d ms\n", c.Detection.TimeoutMS)
	fmt.Fprintf(w, "  CNN Detector:    %t\n", c.Detection.UseCNN)
	for _, p := range []struct {
		name string
		cfg  config.ProfileConfig
	}{
		{config.ProfileAttendance, c.Profiles.Attendance},
		{config.ProfileSelf, c.Profiles.Profile},
	} {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "[Profile: %s]\n", p.name)
		fmt.Fprintf(w, "  Luminance:       %.0f-%.0f\n", p.cfg.MinLuminance, p.cfg.MaxLuminance)
		fmt.Fprintf(w, "  Face Ratio:      %.2f-%.2f\n", p.cfg.MinFaceRatio, p.cfg.MaxFaceRatio)
		fmt.Fprintf(w, "  Quality:         %.1f\n", p.cfg.RequiredQuality)
		fmt.Fprintf(w, "  Samples:         %d of %d\n", p.cfg.MinAccepted, p.cfg.SampleCount)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Matching]")
	fmt.Fprintf(w, "  Threshold:       %.2f\n", c.Matching.Threshold)
	fmt.Fprintf(w, "  Index:           %s\n", c.Matching.Index)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Liveness]")
	fmt.Fprintf(w, "  Consistency:     %t\n", c.Liveness.ConsistencyCheck)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Storage]")
	fmt.Fprintf(w, "  Data Dir:        %s\n", c.Storage.DataDir)
	fmt.Fprintf(w, "  Encryption:      %t\n", c.Storage.EncryptionEnabled)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Attendance]")
	fmt.Fprintf(w, "  Enabled:         %t\n", c.Attendance.Enabled)
	fmt.Fprintf(w, "  Database:        %s\n", c.Attendance.DatabaseFile)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[MQTT]")
	fmt.Fprintf(w, "  Enabled:         %t\n", c.MQTT.Enabled)
	fmt.Fprintf(w, "  Broker:          %s:%d\n", c.MQTT.Broker, c.MQTT.Port)
	fmt.Fprintf(w, "  Topic Prefix:    %s\n", c.MQTT.TopicPrefix)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Server]")
	fmt.Fprintf(w, "  Listen:          %s\n", c.Server.Listen)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "[Logging]")
	fmt.Fprintf(w, "  Level:           %s\n", c.Logging.Level)
	fmt.Fprintf(w, "  File:            %s\n", c.Logging.File)
}
