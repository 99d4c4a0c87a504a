// Command seed loads a development dataset: one administrator, a few student
// accounts and a small course catalog. Existing rows with matching IDs are
// left untouched.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/opencampus/registrar-api/internal/models"
	"github.com/opencampus/registrar-api/pkg/config"
	"github.com/opencampus/registrar-api/pkg/database"
)

func main() {
	var password string
	flag.StringVar(&password, "password", "changeme123", "password assigned to every seeded account")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("failed to hash password: %v", err)
	}

	users := []models.User{
		{Username: "admin", Email: "admin@example.edu", FullName: "Site Administrator", Role: models.RoleAdministrator},
		{Username: "amara", Email: "amara@example.edu", FullName: "Amara Okafor", Role: models.RoleStudent},
		{Username: "jonas", Email: "jonas@example.edu", FullName: "Jonas Lindqvist", Role: models.RoleStudent},
		{Username: "mei", Email: "mei@example.edu", FullName: "Mei Tanaka", Role: models.RoleStudent},
	}

	courses := []models.Course{
		{
			ID: "CS101", Name: "Introduction to Computer Science", Credits: 4,
			Instructor: "Dr. Hopper", Room: "ENG-201", Capacity: 30,
			Schedule: mustSchedule([]string{"Monday", "Wednesday"}, "09:00", "10:30"),
		},
		{
			ID: "MATH201", Name: "Linear Algebra", Credits: 3,
			Instructor: "Dr. Noether", Room: "SCI-105", Capacity: 25,
			Schedule: mustSchedule([]string{"Tuesday", "Thursday"}, "11:00", "12:30"),
		},
		{
			ID: "PHYS150", Name: "Mechanics", Credits: 4,
			Instructor: "Dr. Curie", Room: "SCI-310", Capacity: 20,
			Schedule: mustSchedule([]string{"Monday", "Wednesday", "Friday"}, "13:00", "14:00"),
		},
		{
			ID: "HIST110", Name: "World History", Credits: 2,
			Instructor: "Dr. Herodotus", Room: "HUM-12", Capacity: 40,
			Schedule: mustSchedule([]string{"Friday"}, "10:00", "12:00"),
		},
	}

	if err := seed(ctx, db, users, courses, string(hash)); err != nil {
		log.Fatalf("seed failed: %v", err)
	}
	log.Printf("seeded %d users and %d courses", len(users), len(courses))
}

func seed(ctx context.Context, db *sqlx.DB, users []models.User, courses []models.Course, hash string) error {
	now := time.Now().UTC()

	const userQuery = `INSERT INTO users (id, username, email, password_hash, full_name, role, active, created_at, updated_at)
        VALUES (:id, :username, :email, :password_hash, :full_name, :role, TRUE, :created_at, :updated_at)
        ON CONFLICT DO NOTHING`
	for _, user := range users {
		user.ID = uuid.NewString()
		user.PasswordHash = hash
		user.CreatedAt = now
		user.UpdatedAt = now
		if _, err := db.NamedExecContext(ctx, userQuery, user); err != nil {
			return err
		}
	}

	const courseQuery = `INSERT INTO courses (id, name, description, credits, instructor, room, capacity, schedule_days, start_minutes, end_minutes, active, created_at, updated_at)
        VALUES (:id, :name, :description, :credits, :instructor, :room, :capacity, :schedule_days, :start_minutes, :end_minutes, TRUE, :created_at, :updated_at)
        ON CONFLICT (id) DO NOTHING`
	for _, course := range courses {
		course.CreatedAt = now
		course.UpdatedAt = now
		if _, err := db.NamedExecContext(ctx, courseQuery, course); err != nil {
			return err
		}
	}

	return nil
}

func mustSchedule(days []string, start, end string) models.Schedule {
	startClock, err := models.ParseClock(start)
	if err != nil {
		log.Fatalf("bad start time %q: %v", start, err)
	}
	endClock, err := models.ParseClock(end)
	if err != nil {
		log.Fatalf("bad end time %q: %v", end, err)
	}
	return models.Schedule{Days: models.DayList(days), Start: startClock, End: endClock}
}
