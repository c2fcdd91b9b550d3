package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"go.uber.org/zap"

	"github.com/DLMCQ/DermaClinic/internal/auth"
	"github.com/DLMCQ/DermaClinic/internal/clinic"
	"github.com/DLMCQ/DermaClinic/internal/config"
	"github.com/DLMCQ/DermaClinic/internal/db"
	"github.com/DLMCQ/DermaClinic/internal/logging"
)

var (
	treatments = []string{
		"Peeling químico",
		"Limpieza facial profunda",
		"Toxina botulínica",
		"Ácido hialurónico",
		"Láser fraccionado",
		"Crioterapia",
		"Mesoterapia",
		"Luz pulsada intensa",
	}
	products = []string{
		"Ácido glicólico 30%",
		"Retinol 0.5%",
		"Protector solar FPS 50",
		"Vitamina C sérum",
		"Niacinamida 10%",
	}
	reasons = []string{
		"Acné",
		"Manchas solares",
		"Rosácea",
		"Control de lunares",
		"Arrugas de expresión",
		"Cicatrices",
	}
	insurers = []string{"OSDE", "Swiss Medical", "Galeno", "Medifé", "IOMA"}
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.LogLevel, "console", "seed")
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("seed failed", zap.Error(err))
	}
	log.Info("seed complete")
}

func run(cfg config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	registry := db.Default()
	registry.SetLogger(log)
	opts := db.Options{Mode: db.Mode(cfg.Mode), SQLitePath: cfg.LocalDBPath, PostgresDSN: cfg.PostgresDSN}
	if cfg.MigrationsDir != "" {
		opts.Migrations = os.DirFS(cfg.MigrationsDir)
	}
	adapter, err := registry.Initialize(ctx, opts)
	if err != nil {
		return fmt.Errorf("database initialization: %w", err)
	}
	defer func() { _ = registry.Close(context.Background()) }()

	if !cfg.IsLocal() {
		if err := seedUsers(ctx, cfg, adapter, log); err != nil {
			return fmt.Errorf("seed users: %w", err)
		}
	}

	// 0 seeds from crypto/rand
	gofakeit.Seed(0)

	svc := clinic.NewService(clinic.NewSQLRepository(adapter), nil, !cfg.IsLocal(), log)
	return seedPatients(ctx, svc, getInt("SEED_PATIENTS", 40), getInt("SEED_MAX_SESSIONS", 5), log)
}

// seedUsers creates the administrator and a demo doctor if they are missing.
func seedUsers(ctx context.Context, cfg config.Config, adapter db.Adapter, log *zap.Logger) error {
	tokens, err := auth.NewTokenService(cfg.AccessSecret, cfg.RefreshSecret, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	if err != nil {
		return err
	}
	svc := auth.NewService(auth.NewSQLUserStore(adapter), auth.NewSQLRefreshTokenStore(adapter), tokens, log)

	admin, created, err := svc.EnsureAdmin(ctx,
		getEnv("SEED_ADMIN_USERNAME", "admin"),
		getEnv("SEED_ADMIN_PASSWORD", "Admin1234"),
		getEnv("SEED_ADMIN_NAME", "Administrador"),
	)
	if err != nil {
		return err
	}
	if created {
		log.Info("admin user created", zap.String("username", admin.Username))
	} else {
		log.Info("admin user already exists", zap.String("username", admin.Username))
	}

	actor := admin.Identity()
	demo, err := svc.CreateUser(ctx, &actor, auth.NewUser{
		Username: "demo",
		Password: getEnv("SEED_DEMO_PASSWORD", "Demo12345"),
		Name:     "Demo User",
		Role:     auth.RoleDoctor,
	})
	switch {
	case errors.Is(err, auth.ErrUsernameTaken):
		log.Info("demo user already exists")
	case err != nil:
		return err
	default:
		log.Info("demo user created", zap.String("username", demo.Username))
	}
	return nil
}

func seedPatients(ctx context.Context, svc *clinic.Service, count, maxSessions int, log *zap.Logger) error {
	log.Info("seeding patients", zap.Int("count", count))

	var created, sessions int
	for i := 0; i < count; i++ {
		p, err := svc.CreatePatient(ctx, fakePatient())
		if errors.Is(err, clinic.ErrNationalIDTaken) {
			continue
		}
		if err != nil {
			return err
		}
		created++

		for j := 0; j < gofakeit.Number(0, maxSessions); j++ {
			if _, err := svc.CreateSession(ctx, fakeSession(p.ID)); err != nil {
				return err
			}
			sessions++
		}
	}

	log.Info("patients seeded", zap.Int("patients", created), zap.Int("sessions", sessions))
	return nil
}

func fakePatient() clinic.Patient {
	birth := gofakeit.DateRange(time.Now().AddDate(-80, 0, 0), time.Now().AddDate(-16, 0, 0)).Format(clinic.DateLayout)
	phone := gofakeit.Phone()
	email := gofakeit.Email()
	address := gofakeit.Street()
	insurer := gofakeit.RandomString(insurers)
	number := strconv.Itoa(gofakeit.Number(100000, 999999))
	reason := gofakeit.RandomString(reasons)

	return clinic.Patient{
		FullName:           gofakeit.Name(),
		NationalID:         strconv.Itoa(gofakeit.Number(10000000, 49999999)),
		BirthDate:          &birth,
		Phone:              &phone,
		Email:              &email,
		Address:            &address,
		InsuranceProvider:  &insurer,
		InsuranceNumber:    &number,
		ConsultationReason: &reason,
	}
}

func fakeSession(patientID string) clinic.Session {
	used := gofakeit.RandomString(products)
	notes := "Buena tolerancia al tratamiento."
	return clinic.Session{
		PatientID: patientID,
		VisitDate: gofakeit.DateRange(time.Now().AddDate(-1, 0, 0), time.Now()).Format(clinic.DateLayout),
		Treatment: gofakeit.RandomString(treatments),
		Products:  &used,
		Notes:     &notes,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
