package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/frahmantamala/tagfinder/internal/auth"
	authpg "github.com/frahmantamala/tagfinder/internal/auth/postgres"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/user"
	"github.com/frahmantamala/tagfinder/internal/core/datamodel/vcard"
	vcardpg "github.com/frahmantamala/tagfinder/internal/vcard/postgres"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

var (
	seedEmail    string
	seedPassword string
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with a demo user and an unpaid vCard",
	Long:  `Seed the database with sample data for development and testing purposes.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Database.Validate(); err != nil {
			return fmt.Errorf("database config: %w", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			return err
		}
		defer db.Close()

		gdb, err := initGorm(db)
		if err != nil {
			return err
		}
		users := authpg.NewUserRepository(gdb)
		cards := vcardpg.NewVCardRepository(gdb)

		u, err := users.GetByEmail(ctx, seedEmail)
		switch {
		case errors.Is(err, authpg.ErrUserNotFound):
			hash, err := auth.HashPassword(seedPassword, cfg.Security.BCryptCost)
			if err != nil {
				return fmt.Errorf("hash password: %w", err)
			}
			u = &user.User{
				Name:         "Demo User",
				Email:        seedEmail,
				Mobile:       "9999999999",
				PasswordHash: hash,
				Role:         user.RoleUser,
				IsActive:     true,
			}
			if err := users.Create(ctx, u); err != nil {
				return fmt.Errorf("insert user: %w", err)
			}
			fmt.Println("Seeded user:", seedEmail)
		case err != nil:
			return fmt.Errorf("lookup user: %w", err)
		default:
			fmt.Println("user already exists:", seedEmail)
		}

		card := &vcard.VCard{
			UserID:        u.ID,
			Name:          u.Name,
			Designation:   "Engineer",
			Mobile:        u.Mobile,
			Email:         u.Email,
			QRCode:        uuid.NewString(),
			PaymentStatus: vcard.PaymentStatusPending,
		}
		if err := cards.Create(ctx, card); err != nil {
			return fmt.Errorf("insert vcard: %w", err)
		}
		fmt.Printf("Seeded vcard %d for user %d\n", card.ID, u.ID)
		return nil
	},
}

func init() {
	seedCmd.Flags().StringVar(&seedEmail, "email", "demo@tagfinder.local", "demo user email")
	seedCmd.Flags().StringVar(&seedPassword, "password", "password", "demo user password")
}
