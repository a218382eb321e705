package cmd

import (
	"fmt"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap/zapcore"

	"github.com/pithecene-io/sluice/cli/render"
	"github.com/pithecene-io/sluice/cli/tui"
	"github.com/pithecene-io/sluice/iox"
	"github.com/pithecene-io/sluice/log"
	"github.com/pithecene-io/sluice/types"
)

// maxExtractInput bounds the text read by extract.
const maxExtractInput = 64 << 20

// ExtractCommand returns the extract command, which recovers records from a
// finished message.
func ExtractCommand() *cli.Command {
	flags := append(ConfigFlags(), ReadOnlyFlags()...)
	flags = append(flags, &cli.StringFlag{
		Name:     "input",
		Aliases:  []string{"i"},
		Usage:    "Text file holding model output (- for stdin)",
		Required: true,
	})
	return &cli.Command{
		Name:   "extract",
		Usage:  "Recover structured records from model output",
		Flags:  flags,
		Action: extractAction,
	}
}

func extractAction(c *cli.Context) error {
	r, err := render.NewRenderer(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fc, err := loadConfig(c)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	level, err := logLevel(c, fc, zapcore.WarnLevel)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	engine, err := buildEngine(fc.Recovery)
	if err != nil {
		return cli.Exit(fmt.Sprintf("invalid recovery config: %v", err), 1)
	}

	text, err := readInput(c.String("input"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	records, strategy := engine.ExtractWithStrategy(text)
	logger := log.NewServiceLogger("extract", level).WithOutput(c.App.ErrWriter)
	if strategy == "" {
		logger.Info("no records recovered", map[string]any{"input_bytes": len(text)})
	} else {
		logger.Info("records recovered", map[string]any{"strategy": strategy, "records": len(records)})
	}

	if c.Bool("tui") {
		return r.RenderTUI(tui.ViewRecords, records)
	}
	if records == nil {
		records = []types.Candidate{}
	}
	return r.Render(records)
}

func readInput(path string) (string, error) {
	in, closeIn, err := openInput(path)
	if err != nil {
		return "", err
	}
	defer closeIn()
	data, err := iox.ReadAllLimit(in, maxExtractInput)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
