package cmd

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/AzielCF/az-wap/core/database"
	"github.com/AzielCF/az-wap/pkg/secretbox"
	"github.com/AzielCF/az-wap/store/gormstore"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply schema migrations and exit",
	Run:   runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(_ *cobra.Command, _ []string) {
	cfg := loadConfig()

	db, err := database.Open(cfg)
	if err != nil {
		logrus.Fatalf("[MIGRATE] failed to open database: %v", err)
	}

	// AutoMigrate doesn't touch sealed secrets, so an unset master key is
	// fine here — this command never reads or writes ciphertext.
	box, err := secretbox.New(cfg.Security.MasterEncryptionKey)
	if err != nil {
		logrus.Fatalf("[MIGRATE] failed to initialize secretbox: %v", err)
	}

	store := gormstore.New(db, box)
	if err := store.InitSchema(context.Background()); err != nil {
		logrus.Fatalf("[MIGRATE] schema migration failed: %v", err)
	}
	logrus.Info("[MIGRATE] schema is up to date")
}
