package cmd

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"firestige.xyz/sandtrace/internal/log"
	"firestige.xyz/sandtrace/internal/netlog"
	"firestige.xyz/sandtrace/internal/sink/console"
)

var decodeCmd = &cobra.Command{
	Use:   "decode",
	Short: "Decode a recorded event stream to JSON lines",
	Long: `Decode a recorded monitor event stream and print one JSON object per event.

Examples:
  sandtrace decode -f stream.bin --signatures signatures.yaml
  cat stream.bin | sandtrace decode -f -`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDecode(cmd.OutOrStdout())
	},
}

var decodeInput string

func init() {
	decodeCmd.Flags().StringVarP(&decodeInput, "file", "f", "-",
		"recorded stream to decode ('-' for stdin)")
}

func runDecode(out io.Writer) error {
	table, err := loadSignatures()
	if err != nil {
		return err
	}

	r, closeInput, err := openStream(decodeInput)
	if err != nil {
		return err
	}
	defer closeInput()

	w := bufio.NewWriter(out)
	defer w.Flush()

	cfg := netlog.Config{MaxStringLength: globalConfig.Netlog.MaxStringLength}
	stream := netlog.NewStream(r, table, cfg, console.NewSink(w))
	stream.SkipUnknownAPI = !globalConfig.Netlog.AbortOnUnknownAPI

	runErr := stream.Run()
	stats := stream.Stats()
	log.GetLogger().WithFields(map[string]interface{}{
		"messages":    stats.Messages,
		"processes":   stats.Processes,
		"threads":     stats.Threads,
		"calls":       stats.Calls,
		"decode_gaps": stats.DecodeGaps,
	}).Info("event stream decoded")
	return runErr
}

// openStream opens a recorded stream. Files are bounded by their size so
// the decoder can reject lengths running past the end.
func openStream(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return bufio.NewReader(os.Stdin), func() {}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open stream: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to stat stream: %w", err)
	}
	r := &io.LimitedReader{R: bufio.NewReader(f), N: info.Size()}
	return r, func() { f.Close() }, nil
}
