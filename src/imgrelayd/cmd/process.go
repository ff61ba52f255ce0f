package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/q-controller/imgrelay/src/pkg/tool"
	"github.com/q-controller/imgrelay/src/pkg/transform"
	"github.com/spf13/cobra"
)

type toolClient struct {
	endpoint string
	cli      *http.Client
}

func createToolClient(server string, timeout time.Duration) *toolClient {
	return &toolClient{
		endpoint: strings.TrimSuffix(server, "/") + tool.PathPrefix + "/" + tool.Name,
		cli:      &http.Client{Timeout: timeout},
	}
}

func (c *toolClient) Process(ctx context.Context, req tool.Request) (resp *tool.Response, retErr error) {
	body, marshalErr := json.Marshal(req)
	if marshalErr != nil {
		return nil, fmt.Errorf("failed to encode request: %w", marshalErr)
	}

	httpReq, reqErr := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if reqErr != nil {
		return nil, reqErr
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, doErr := c.cli.Do(httpReq)
	if doErr != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", doErr)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			retErr = errors.Join(retErr, closeErr)
		}
	}()

	var out tool.Response
	if decodeErr := json.NewDecoder(io.LimitReader(httpResp.Body, 1<<20)).Decode(&out); decodeErr != nil {
		return nil, fmt.Errorf("unexpected response (%s): %w", httpResp.Status, decodeErr)
	}
	return &out, nil
}

// specFromFlags only sets the optional parts the user asked for.
func specFromFlags(cmd *cobra.Command) (transform.Spec, error) {
	flags := cmd.Flags()
	format, _ := flags.GetString("format")
	spec := transform.Spec{Conversion: &transform.Conversion{Format: transform.Format(format)}}

	if flags.Changed("width") || flags.Changed("height") || flags.Changed("fit") {
		spec.Resize = &transform.Resize{}
		if flags.Changed("width") {
			width, _ := flags.GetInt("width")
			spec.Resize.Width = &width
		}
		if flags.Changed("height") {
			height, _ := flags.GetInt("height")
			spec.Resize.Height = &height
		}
		fit, _ := flags.GetString("fit")
		spec.Resize.Fit = transform.Fit(fit)
	}

	if flags.Changed("quality") || flags.Changed("progressive") || flags.Changed("optimize-scans") {
		spec.Compression = &transform.Compression{}
		if flags.Changed("quality") {
			quality, _ := flags.GetInt("quality")
			spec.Compression.Quality = &quality
		}
		spec.Compression.Progressive, _ = flags.GetBool("progressive")
		spec.Compression.OptimizeScans, _ = flags.GetBool("optimize-scans")
	}

	return spec, spec.Validate()
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Asks a running server to process an image and prints the temporary URL",
	RunE: func(cmd *cobra.Command, args []string) error {
		server, _ := cmd.Flags().GetString("server")
		imageURL, _ := cmd.Flags().GetString("url")
		timeout, _ := cmd.Flags().GetDuration("timeout")

		spec, specErr := specFromFlags(cmd)
		if specErr != nil {
			return fmt.Errorf("invalid processing specs: %w", specErr)
		}

		resp, respErr := createToolClient(server, timeout).Process(cmd.Context(), tool.Request{
			ImageURL: imageURL,
			Specs:    &spec,
		})
		if respErr != nil {
			return respErr
		}
		if !resp.Success {
			return fmt.Errorf("processing failed: %s", resp.Error)
		}

		fmt.Fprintln(cmd.OutOrStdout(), resp.ProcessedImageURL)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(processCmd)

	flags := processCmd.Flags()
	flags.String("server", "http://localhost:3001", "Base URL of a running imgrelayd server")
	flags.String("url", "", "URL of the image to process")
	flags.String("format", "", "Output format: jpeg, png, webp, avif or tiff")
	flags.Int("width", 0, "Target width in pixels")
	flags.Int("height", 0, "Target height in pixels")
	flags.String("fit", "", "Resize fit: cover, contain, fill, inside or outside")
	flags.Int("quality", transform.DefaultQuality, "Output quality (1-100)")
	flags.Bool("progressive", false, "Request progressive encoding")
	flags.Bool("optimize-scans", false, "Spend more effort on compression")
	flags.Duration("timeout", 2*time.Minute, "Request timeout")

	for _, name := range []string{"url", "format"} {
		if err := processCmd.MarkFlagRequired(name); err != nil {
			panic(fmt.Errorf("failed to mark flag `%s` as required: %w", name, err))
		}
	}
}
