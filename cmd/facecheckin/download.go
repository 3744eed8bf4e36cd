package main

import (
	"compress/bzip2"
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/recognition"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

const modelBaseURL = "http://dlib.net/files/"

var downloadCNN bool

var downloadCmd = &cobra.Command{
	Use:   "download-models [dir]",
	Short: "Download the dlib face models",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		modelDir := cfg.Detection.ModelPath
		if len(args) > 0 {
			modelDir = args[0]
		}
		names := recognition.RequiredModels
		if downloadCNN || cfg.Detection.UseCNN {
			names = append(append([]string{}, names...), recognition.CNNModel)
		}
		return downloadModels(cmd.Context(), modelBaseURL, modelDir, names, cmd.ErrOrStderr())
	},
}

func init() {
	downloadCmd.Flags().BoolVar(&downloadCNN, "cnn", false, "Also download the CNN face detector")
	rootCmd.AddCommand(downloadCmd)
}

// downloadModels fetches <baseURL><name>.bz2 for every missing model.
func downloadModels(ctx context.Context, baseURL, modelDir string, names []string, progress io.Writer) error {
	logging.Infof("Downloading models to: %s", modelDir)

	if err := os.MkdirAll(modelDir, 0755); err != nil {
		return fmt.Errorf("failed to create model directory: %w", err)
	}

	for _, name := range names {
		targetPath := filepath.Join(modelDir, name)
		if _, err := os.Stat(targetPath); err == nil {
			logging.Infof("Model %s already exists, skipping", name)
			continue
		}

		if err := downloadAndExtract(ctx, baseURL+name+".bz2", targetPath, name, progress); err != nil {
			return fmt.Errorf("failed to download %s: %w", name, err)
		}
		logging.Infof("Successfully downloaded %s", name)
	}

	logging.Info("All models downloaded successfully!")
	return nil
}

func downloadAndExtract(ctx context.Context, url, targetPath, name string, progress io.Writer) error {
	client := &http.Client{Timeout: 10 * time.Minute}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("bad status: %s", resp.Status)
	}

	bar := progressbar.NewOptions64(resp.ContentLength,
		progressbar.OptionSetDescription(name),
		progressbar.OptionSetWriter(progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionThrottle(100*time.Millisecond),
		progressbar.OptionOnCompletion(func() { fmt.Fprintln(progress) }),
	)
	defer bar.Close()

	// Extract to a temp file so an interrupted download is retried next time.
	tmpPath := targetPath + ".part"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}

	_, err = io.Copy(out, bzip2.NewReader(io.TeeReader(resp.Body, bar)))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, targetPath)
}
