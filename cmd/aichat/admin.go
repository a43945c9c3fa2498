package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"

	"aichat/internal/catalog"
	"aichat/internal/config"
	"aichat/internal/storage"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if cfg.Backend != config.BackendSQL {
				return fmt.Errorf("migrate needs STORE_BACKEND=%s, got %q", config.BackendSQL, cfg.Backend)
			}
			b, err := openBackend(cmd.Context(), cfg, true)
			if err != nil {
				return err
			}
			defer b.Close()
			log.Info().Str("driver", cfg.DB.Driver).Msg("migrations applied")
			return nil
		},
	}
}

// seedFile is the TOML layout accepted by `aichat seed`:
//
//	[[models]]
//	id = "gpt-4o"
//	name = "GPT-4o"
//	provider = "openai"
//	api_key = "sk-..."
type seedFile struct {
	Models []catalog.ProviderConfig `toml:"models"`
}

func loadSeedFile(r io.Reader) ([]catalog.ProviderConfig, error) {
	var f seedFile
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse seed file: %w", err)
	}
	if err := catalog.Validate(f.Models); err != nil {
		return nil, err
	}
	return f.Models, nil
}

func newSeedCmd() *cobra.Command {
	var path string
	var force bool
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Import the provider list from a TOML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			fh, err := os.Open(path)
			if err != nil {
				return fmt.Errorf("open seed file: %w", err)
			}
			defer fh.Close()
			models, err := loadSeedFile(fh)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := openBackend(cmd.Context(), cfg, cfg.DB.AutoMigrate)
			if err != nil {
				return err
			}
			defer b.Close()

			version, err := seedModels(cmd.Context(), b.repo, models, force)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d models (version %d).\n", len(models), version)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "file", "models.toml", "Seed TOML path")
	cmd.Flags().BoolVar(&force, "force", false, "Replace a non-empty provider list")
	return cmd
}

var errListNotEmpty = errors.New("provider list is not empty; pass --force to replace it")

func seedModels(ctx context.Context, repo storage.Repository, models []catalog.ProviderConfig, force bool) (int64, error) {
	current, err := repo.Models(ctx)
	if err != nil {
		return 0, fmt.Errorf("read provider list: %w", err)
	}
	if len(current.Models) > 0 && !force {
		return 0, errListNotEmpty
	}
	// Pin the version read above so a concurrent dashboard save is not lost.
	version, err := repo.ReplaceModels(ctx, models, current.Version)
	if err != nil {
		return 0, fmt.Errorf("replace provider list: %w", err)
	}
	return version, nil
}

func newResealCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reseal",
		Short: "Re-encrypt stored API keys under the current master key",
		Long: "Re-encrypt every stored API key under MASTER_KEY_CURRENT_ID. Run it after adding a\n" +
			"new master key; old keys can be removed from the environment once it succeeds.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := openBackend(cmd.Context(), cfg, cfg.DB.AutoMigrate)
			if err != nil {
				return err
			}
			defer b.Close()

			st, err := resealKeys(cmd.Context(), b.repo)
			if err != nil {
				return err
			}
			log.Info().Str("key_id", cfg.Crypto.CurrentKeyID).Int("resealed", st.Resealed).Int("plaintext", st.Plaintext).Msg("api keys resealed")
			fmt.Fprintf(cmd.OutOrStdout(), "Resealed %d keys under %q (%d were stored in plaintext).\n", st.Resealed, cfg.Crypto.CurrentKeyID, st.Plaintext)
			return nil
		},
	}
}

func resealKeys(ctx context.Context, repo storage.Repository) (storage.ResealStats, error) {
	r, ok := repo.(storage.KeyResealer)
	if !ok {
		return storage.ResealStats{}, errors.New("configured store cannot reseal keys")
	}
	st, err := r.ResealKeys(ctx)
	if err != nil {
		return storage.ResealStats{}, fmt.Errorf("reseal keys: %w", err)
	}
	return st, nil
}

func newPasswdCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "passwd",
		Short: "Set the admin password",
		Long:  "Set the admin password. Reads it from --password, or from the first line of stdin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			pw := password
			if !cmd.Flags().Changed("password") {
				var err error
				if pw, err = readPassword(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if pw == "" {
				return errors.New("password cannot be empty")
			}
			if len(pw) > 72 {
				return errors.New("password must be at most 72 bytes")
			}
			hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			b, err := openBackend(cmd.Context(), cfg, cfg.DB.AutoMigrate)
			if err != nil {
				return err
			}
			defer b.Close()
			if err := b.repo.SetAdminPasswordHash(cmd.Context(), string(hash)); err != nil {
				return fmt.Errorf("store admin password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Admin password updated.")
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "New admin password")
	return cmd
}

func readPassword(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}
