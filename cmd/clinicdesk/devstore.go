package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TheMichaelB/clinicdesk/internal/blob"
	"github.com/TheMichaelB/clinicdesk/internal/devserver"
	"github.com/TheMichaelB/clinicdesk/internal/store"
)

var devstoreCmd = &cobra.Command{
	Use:         "devstore",
	Short:       "Run a local store emulator",
	GroupID:     "system",
	Annotations: map[string]string{skipClient: ""},
	Long: `Devstore serves the store and upload protocol on the configured address,
journaling every write to SQLite. Point store.url and blob.cloudinary at it
to run the console without the hosted services.`,
	Example: `  clinicdesk devstore
  clinicdesk devstore --addr :9000 --seed testdata/clinic.yaml`,
	RunE: runDevstore,
}

var (
	devAddr  string
	devSeed  string
	devToken string
)

func init() {
	rootCmd.AddCommand(devstoreCmd)
	devstoreCmd.Flags().StringVar(&devAddr, "addr", "", "Listen address (default from dev.addr)")
	devstoreCmd.Flags().StringVar(&devSeed, "seed", "", "YAML seed applied when the store is empty")
	devstoreCmd.Flags().StringVar(&devToken, "token", "", "Require this token on requests")
}

func runDevstore(cmd *cobra.Command, args []string) error {
	if devAddr != "" {
		cfg.Dev.Addr = devAddr
	}
	if devSeed != "" {
		cfg.Dev.Seed = devSeed
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	journal, err := store.NewSQLiteJournal(cfg.Dev.DBPath, logger)
	if err != nil {
		return err
	}
	mem, err := store.OpenMemory(journal, logger)
	if err != nil {
		journal.Close()
		return err
	}
	defer mem.Close()

	if cfg.Dev.Seed != "" && mem.Seq() == 0 {
		seed, err := devserver.LoadSeed(cfg.Dev.Seed)
		if err != nil {
			return err
		}
		if err := seed.Apply(ctx, mem); err != nil {
			return fmt.Errorf("apply seed: %w", err)
		}
		logger.WithField("entries", len(seed)).Info("Seed applied")
	}

	files, err := blob.NewLocalStore(cfg.Dev.UploadDir, logger)
	if err != nil {
		return err
	}

	srv := devserver.New(mem, files, devserver.Options{
		Addr:  cfg.Dev.Addr,
		Token: devToken,
	}, logger)

	printInfo("Store emulator on %s (journal %s)", cfg.Dev.Addr, cfg.Dev.DBPath)
	return srv.ListenAndServe(ctx)
}
