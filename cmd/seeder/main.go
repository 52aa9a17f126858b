package main

import (
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/fixlyapp/fixly/internal/config"
	"github.com/fixlyapp/fixly/internal/model"
	"github.com/fixlyapp/fixly/pkg/auth"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Categories a marketplace customer actually sees
var categories = []string{"jobs", "payments", "messages", "reviews", "promotions"}

func main() {
	// Load config
	cfg := config.Load()

	// Force DB logging off to avoid noise
	db, err := gorm.Open(postgres.Open(cfg.DB.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		log.Fatalf("❌ Failed to connect to database: %v", err)
	}
	log.Println("✅ Connected to Database")

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Expiry)

	// Create 10 users' worth of preferences and sample notifications
	log.Println("🌱 Seeding 10 users of preference and notification data...")

	for i := 1; i <= 10; i++ {
		// Deterministic IDs so re-running the seeder stays idempotent
		userID := uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("fixly-demo-user-%d", i)))

		pref := model.DefaultPreference(userID)
		pref.Email = fmt.Sprintf("user%d@fixly.local", i)
		if i%3 == 0 {
			pref.MutedCategories = []string{"promotions"}
		}
		if i%4 == 0 {
			pref.QuietHours = model.QuietHours{
				Enabled:  true,
				Start:    "22:00",
				End:      "07:00",
				Timezone: "Europe/Berlin",
			}
		}
		if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(pref).Error; err != nil {
			log.Fatalf("❌ Failed to seed preference for user %d: %v", i, err)
		}

		for j, category := range categories[:3] {
			n := model.Notification{
				ID:       uuid.New(),
				UserID:   userID,
				Title:    fmt.Sprintf("Demo %s update #%d", category, j+1),
				Body:     fmt.Sprintf("Seeded notification %d for user %d", j+1, i),
				Category: category,
				Priority: model.PriorityNormal,
				Channels: []model.Channel{model.ChannelInApp},
				Status:   model.NotificationSent,
				Deliveries: []model.NotificationDelivery{{
					ID:      uuid.New(),
					Channel: model.ChannelInApp,
					Status:  model.DeliverySent,
				}},
			}
			sentAt := time.Now().Add(-time.Duration(j+1) * time.Hour)
			n.Deliveries[0].SentAt = &sentAt
			if err := db.Create(&n).Error; err != nil {
				log.Fatalf("❌ Failed to seed notification for user %d: %v", i, err)
			}
		}

		if i == 1 {
			token, err := jwtManager.GenerateToken(userID, pref.Email, "Demo User 1", "seed-device")
			if err != nil {
				log.Fatalf("❌ Failed to generate demo token: %v", err)
			}
			log.Printf("🔑 Demo JWT for user1 (%s):\n%s", userID, token)
		}
	}

	log.Println("✅ Seeding complete")
}
