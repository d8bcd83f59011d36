package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/star/orbitrack/internal/tle"
)

var importCmd = &cobra.Command{
	Use:   "import <catalogue.tle>",
	Short: "Load a 3-line element catalogue into the offline archive",
	Long: `Parses a name/line1/line2 catalogue (such as a CelesTrak group download)
and writes one archive file per satellite into ephemeris.archiveDir, so that
serve and state can run with ephemeris.offline=true.`,
	Args: cobra.ExactArgs(1),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(os.Stderr)
	if err != nil {
		return err
	}
	if cfg.Ephemeris.ArchiveDir == "" {
		return errors.New("ephemeris.archiveDir is not set")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	entries, err := tle.Parse(f, logger)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", args[0], err)
	}

	archive := tle.NewArchive(cfg.Ephemeris.ArchiveDir, cfg.Ephemeris.ArchiveMaxFiles)
	n, err := archive.Import(entries)
	if err != nil {
		return err
	}

	logger.Info("catalogue imported", "file", args[0], "entries", n, "archive_dir", archive.Dir())
	fmt.Fprintf(cmd.OutOrStdout(), "imported %d element sets into %s\n", n, archive.Dir())
	return nil
}
