package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shinyyama/marketplace-chat/internal/auth"
	"github.com/shinyyama/marketplace-chat/internal/config"
	"github.com/shinyyama/marketplace-chat/internal/db"
	"github.com/shinyyama/marketplace-chat/internal/model"
	"gorm.io/gorm"
)

// Seeds demo users and items for local chat development and, when
// AUTH_MODE=jwt, prints a websocket token for each user.
func main() {
	if err := run(); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gdb, err := db.Connect(cfg)
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	if err := gdb.AutoMigrate(&model.User{}, &model.Item{}, &model.Conversation{}, &model.Message{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	canSeed, err := shouldSeed(ctx, gdb)
	if err != nil {
		return err
	}
	if !canSeed {
		log.Printf("users already exist; skipping seed (set FORCE_SEED=true to override)")
		return nil
	}

	users := []model.User{
		{UID: "seed-seller", DisplayName: "出品者テスト", IconURL: ptr("https://picsum.photos/seed/seller/128/128")},
		{UID: "seed-buyer", DisplayName: "購入者テスト", IconURL: ptr("https://picsum.photos/seed/buyer/128/128")},
	}
	items := []model.Item{
		{Title: "リラックスフィットフーディ", Description: "新品に近い自宅保管品です。即購入OK、返品不可。", Price: 4200, SellerUID: "seed-seller", ImageURL: ptr("https://picsum.photos/seed/hoodie/600/600")},
		{Title: "ワイヤレスイヤホン", Description: "動作確認済み。箱・付属品あり。", Price: 7600, SellerUID: "seed-seller", ImageURL: ptr("https://picsum.photos/seed/earbuds/600/600")},
		{Title: "コンパクトチェア", Description: "キャンプで2回使用。目立つ傷なし。", Price: 9200, SellerUID: "seed-seller", ImageURL: ptr("https://picsum.photos/seed/chair/600/600")},
	}

	err = gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range users {
			if err := tx.Create(&users[i]).Error; err != nil {
				return fmt.Errorf("insert user %s: %w", users[i].UID, err)
			}
		}
		for i := range items {
			if err := tx.Create(&items[i]).Error; err != nil {
				return fmt.Errorf("insert item %q: %w", items[i].Title, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	log.Printf("seeded %d users and %d items", len(users), len(items))

	if cfg.AuthMode == "jwt" && cfg.JWTSecret != "" {
		for _, u := range users {
			token, err := auth.SignToken(cfg.JWTSecret, u.UID, 24*time.Hour)
			if err != nil {
				return fmt.Errorf("sign token for %s: %w", u.UID, err)
			}
			log.Printf("ws token for %s: /ws?token=%s", u.UID, token)
		}
	}
	return nil
}

func shouldSeed(ctx context.Context, gdb *gorm.DB) (bool, error) {
	var cnt int64
	if err := gdb.WithContext(ctx).Model(&model.User{}).Count(&cnt).Error; err != nil {
		return false, fmt.Errorf("count users: %w", err)
	}
	if cnt == 0 {
		return true, nil
	}
	return strings.EqualFold(os.Getenv("FORCE_SEED"), "true"), nil
}

func ptr(s string) *string {
	return &s
}
