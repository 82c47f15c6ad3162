package main

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/dinebook/reservation/internal/config"
	"github.com/dinebook/reservation/internal/database"
	"github.com/dinebook/reservation/internal/directory"
	"github.com/dinebook/reservation/internal/handler"
	"github.com/dinebook/reservation/internal/queue"
	"github.com/dinebook/reservation/internal/reaper"
	"github.com/dinebook/reservation/internal/repository"
	"github.com/dinebook/reservation/internal/router"
)

func main() {
	// .env is optional; real deployments set variables in the environment.
	_ = godotenv.Load()

	cfg := config.Load()

	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Println("redis unavailable, cache and rate limiting disabled")
	}

	repo := repository.NewReservationRepo(db)

	tables := directory.NewTableDirectory(cfg.TableServiceURL)
	users := directory.NewUserDirectory(cfg.IdentityServiceURL)
	restaurants := directory.NewRestaurantDirectory(cfg.RestaurantServiceURL)

	customer := handler.NewCustomerHandler(repo, tables, restaurants, cfg.DefaultDurationMins)
	staff := handler.NewStaffHandler(repo, tables, users, restaurants, cfg.TZOffset)

	rp := reaper.New(repo, time.Duration(cfg.PendingTTLMin)*time.Minute, cfg.ReaperInterval)
	rp.Start()
	defer rp.Stop()

	go queue.StartConfirmedConsumer()

	e := echo.New()
	e.HideBanner = true
	router.Register(e, cfg, customer, staff, rdb)

	log.Printf("reservation service listening on :%s (env=%s)", cfg.Port, cfg.Env)
	log.Fatal(e.Start(":" + cfg.Port))
}
