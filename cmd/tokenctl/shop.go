package main

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/spf13/cobra"

	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/realtime"
	"github.com/reach/reach-api/internal/domain/redemption"
	"github.com/reach/reach-api/internal/pkg/database"
	"github.com/reach/reach-api/internal/pkg/jwt"
)

func init() {
	rootCmd.AddCommand(redemptionCmd)
	for _, c := range []*cobra.Command{approveCmd, fulfillCmd, cancelCmd} {
		c.Flags().String("notes", "", "Notes stored on the redemption")
		redemptionCmd.AddCommand(c)
	}

	rootCmd.AddCommand(itemCmd)
	itemCmd.AddCommand(itemAddCmd)
	itemAddCmd.Flags().String("name", "", "Display name")
	itemAddCmd.Flags().String("category", "", "Category")
	itemAddCmd.Flags().Int64("price", 0, "Price in tokens")
	itemAddCmd.Flags().Int64("stock", -1, "Units in stock (-1 for unlimited)")
	_ = itemAddCmd.MarkFlagRequired("name")
	_ = itemAddCmd.MarkFlagRequired("price")

	rootCmd.AddCommand(tokenCmd)
	tokenCmd.Flags().String("role", jwt.RoleService, "Role claim (parent, teacher, admin, service)")
	tokenCmd.Flags().String("user", "", "Subject user ID (random when empty)")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")
}

// shop bundles the services the redemption commands need. Events go out
// through Redis when it is configured so running API instances still push
// them to connected parents.
type shop struct {
	redemptions *redemption.Service
	catalog     *catalog.Service
}

func withShop(fn func(ctx context.Context, s *shop) error) error {
	return withDB(func(ctx context.Context, db *sqlx.DB) error {
		redis, err := database.NewRedis(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer database.CloseRedis(redis)

		hub := realtime.NewHub(redis)
		defer hub.Shutdown()

		ledgerRepo := ledger.NewRepository(db)
		engine := ledger.NewEngine(ledgerRepo, hub)
		accounts := ledger.NewAccountManager(ledgerRepo)
		catalogService := catalog.NewService(catalog.NewRepository(db), redis, cfg.ShopCacheTTL)

		return fn(ctx, &shop{
			redemptions: redemption.NewService(redemption.NewRepository(db, engine), engine, accounts, catalogService, hub),
			catalog:     catalogService,
		})
	})
}

var redemptionCmd = &cobra.Command{
	Use:   "redemption",
	Short: "Move redemptions through their lifecycle",
}

var approveCmd = transitionCommand("approve", "Approve a requested redemption", (*redemption.Service).Approve)
var fulfillCmd = transitionCommand("fulfill", "Mark an approved redemption fulfilled", (*redemption.Service).Fulfill)
var cancelCmd = transitionCommand("cancel", "Cancel a redemption and refund its cost", (*redemption.Service).Cancel)

type transitionMethod func(s *redemption.Service, ctx context.Context, id uuid.UUID, actorID *uuid.UUID, notes string) (*redemption.WithItem, error)

func transitionCommand(use, short string, method transitionMethod) *cobra.Command {
	return &cobra.Command{
		Use:   use + " REDEMPTION_ID",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return err
			}
			notes, _ := cmd.Flags().GetString("notes")
			return withShop(func(ctx context.Context, s *shop) error {
				rd, err := method(s.redemptions, ctx, id, nil, notes)
				if err != nil {
					return err
				}
				cmd.Printf("redemption %s is now %s\n", rd.ID, rd.Status)
				return nil
			})
		},
	}
}

var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Manage the shop catalog",
}

var itemAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add an active shop item",
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		category, _ := cmd.Flags().GetString("category")
		price, _ := cmd.Flags().GetInt64("price")
		stock, _ := cmd.Flags().GetInt64("stock")

		item := &catalog.ShopItem{Name: name, Category: category, Price: price, IsActive: true}
		if stock >= 0 {
			item.InventoryQty = &stock
		}
		return withShop(func(ctx context.Context, s *shop) error {
			if err := s.catalog.Create(ctx, item); err != nil {
				return err
			}
			cmd.Printf("item %s created\n", item.ID)
			return nil
		})
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an access token signed with JWT_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")
		user, _ := cmd.Flags().GetString("user")
		ttl, _ := cmd.Flags().GetDuration("ttl")

		userID := uuid.New()
		if user != "" {
			var err error
			if userID, err = uuid.Parse(user); err != nil {
				return err
			}
		}

		token, err := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL).GenerateAccessTokenWithTTL(userID, role, ttl)
		if err != nil {
			return err
		}
		cmd.Println(token)
		return nil
	},
}
