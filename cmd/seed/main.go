// Command main runs the database seeder for the campus comment service.
package main

import (
	"context"
	"flag"
	"log"

	"campus/internal/config"
	"campus/internal/database"
	"campus/internal/seed"
)

func main() {
	instructors := flag.Int("instructors", seed.DefaultOptions.Instructors, "Number of instructors (one course each)")
	students := flag.Int("students", seed.DefaultOptions.Students, "Number of students")
	lessons := flag.Int("lessons", seed.DefaultOptions.LessonsPerCourse, "Lessons per course")
	comments := flag.Int("comments", seed.DefaultOptions.CommentsPerThread, "Top-level comments per thread")
	replies := flag.Int("replies", seed.DefaultOptions.RepliesPerComment, "Maximum replies per comment")
	randSeed := flag.Int64("seed", 0, "Seed for reproducible content (0 = random)")
	shouldClean := flag.Bool("clean", true, "Clean database before seeding")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to seed a production database")
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if *shouldClean {
		if err := seed.ClearAll(db); err != nil {
			log.Fatalf("Cleanup failed: %v", err)
		}
	}

	s := seed.NewSeeder(db, seed.Options{
		Instructors:       *instructors,
		Students:          *students,
		LessonsPerCourse:  *lessons,
		CommentsPerThread: *comments,
		RepliesPerComment: *replies,
		Seed:              *randSeed,
	})
	if _, err := s.Run(context.Background()); err != nil {
		log.Fatalf("Seeding failed: %v", err)
	}

	log.Println("All done. Mint a token with: go run ./cmd/devtoken -user <id> -role <role>")
}
