// Command audit checks stored reports for integrity problems: out-of-range
// fields, stale priorities, inconsistent timestamps and pairs of reports
// close enough that they should have been merged.
//
// Usage:
//
//	go run ./cmd/audit
//	go run ./cmd/audit -json reports.json -radius 50
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/jonboulle/clockwork"

	mysqladapter "github.com/couchcryptid/road-hazard-service/internal/adapter/mysql"
	"github.com/couchcryptid/road-hazard-service/internal/config"
	"github.com/couchcryptid/road-hazard-service/internal/dedup"
	"github.com/couchcryptid/road-hazard-service/internal/domain"
)

const defaultRadiusMeters = 50

// phase tracks pass/fail for one audit phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

func main() {
	jsonPath := flag.String("json", "", "audit a JSON array of reports instead of the configured store")
	radius := flag.Float64("radius", 0, "confirmation radius in metres (defaults to CONFIRMATION_RADIUS_METERS)")
	flag.Parse()

	reports, r, err := load(*jsonPath, *radius)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}

	if code := run(reports, r, clockwork.NewRealClock()); code != 0 {
		os.Exit(code)
	}
}

func load(jsonPath string, radius float64) ([]domain.Report, float64, error) {
	if jsonPath != "" {
		if radius <= 0 {
			radius = defaultRadiusMeters
		}
		reports, err := loadJSON(jsonPath)
		return reports, radius, err
	}

	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		return nil, 0, err
	}
	if cfg.StoreDriver != config.StoreMySQL {
		return nil, 0, fmt.Errorf("STORE_DRIVER must be %q to audit stored reports", config.StoreMySQL)
	}
	if radius <= 0 {
		radius = cfg.ConfirmationRadiusMeters
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := mysqladapter.Open(ctx, cfg.MySQLDSN)
	if err != nil {
		return nil, 0, err
	}
	defer db.Close()

	reports, err := mysqladapter.NewReportStore(db).Scan(ctx)
	return reports, radius, err
}

func loadJSON(path string) ([]domain.Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var reports []domain.Report
	if err := json.Unmarshal(data, &reports); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return reports, nil
}

func run(reports []domain.Report, radius float64, clock clockwork.Clock) int {
	fmt.Println("=== Road Hazard Report Audit ===")
	fmt.Println()

	phases := audit(reports, radius, clock.Now())

	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Reports: %d audited, confirmation radius %.1fm\n", len(reports), radius)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll checks passed.")
		return 0
	}
	fmt.Println("\nAudit FAILED.")
	return 1
}

func audit(reports []domain.Report, radius float64, now time.Time) []*phase {
	return []*phase{
		checkFields(reports),
		checkPriorities(reports),
		checkTimestamps(reports, now),
		checkSeparation(reports, radius),
	}
}

// ── Phases ──

func checkFields(reports []domain.Report) *phase {
	p := &phase{name: "Field ranges"}
	seen := make(map[string]bool, len(reports))
	for _, r := range reports {
		if r.ID == "" {
			p.errorf("report with empty id at %s", formatCoords(r.Location))
			continue
		}
		if seen[r.ID] {
			p.errorf("%s: duplicate id", r.ID)
		}
		seen[r.ID] = true

		if err := r.Location.Validate(); err != nil {
			p.errorf("%s: %v", r.ID, err)
		}
		if err := domain.ValidateSeverity(r.Severity); err != nil {
			p.errorf("%s: severity %d out of range", r.ID, r.Severity)
		}
		if _, err := domain.ParseStatus(string(r.Status)); err != nil {
			p.errorf("%s: %v", r.ID, err)
		}
		switch r.Source {
		case domain.SourceWeb, domain.SourceChat, domain.SourceAPI:
		default:
			p.errorf("%s: unknown source %q", r.ID, r.Source)
		}
		if r.SubmissionCount < 1 {
			p.errorf("%s: submission_count %d < 1", r.ID, r.SubmissionCount)
		}
		if r.Confidence != nil && (*r.Confidence < 0 || *r.Confidence > 1) {
			p.errorf("%s: confidence %.4f outside [0,1]", r.ID, *r.Confidence)
		}
	}
	return p
}

func checkPriorities(reports []domain.Report) *phase {
	p := &phase{name: "Priority derivation"}
	for _, r := range reports {
		if want := domain.DerivePriority(r.Severity, r.Confidence); r.Priority != want {
			p.errorf("%s: priority %q, severity %d implies %q", r.ID, r.Priority, r.Severity, want)
		}
	}
	return p
}

func checkTimestamps(reports []domain.Report, now time.Time) *phase {
	p := &phase{name: "Timestamps"}
	for _, r := range reports {
		if r.FirstSeen.IsZero() {
			p.errorf("%s: first_seen is not set", r.ID)
			continue
		}
		if r.LastSeen.Before(r.FirstSeen) {
			p.errorf("%s: last_seen %s before first_seen %s", r.ID,
				r.LastSeen.Format(time.RFC3339), r.FirstSeen.Format(time.RFC3339))
		}
		if r.UpdatedAt.Before(r.LastSeen) {
			p.errorf("%s: updated_at %s before last_seen %s", r.ID,
				r.UpdatedAt.Format(time.RFC3339), r.LastSeen.Format(time.RFC3339))
		}
		if r.UpdatedAt.After(now) {
			p.errorf("%s: updated_at %s is in the future", r.ID, r.UpdatedAt.Format(time.RFC3339))
		}
	}
	return p
}

// checkSeparation flags pairs of reports within the confirmation radius.
// Such pairs should have been merged into one report on intake.
func checkSeparation(reports []domain.Report, radius float64) *phase {
	p := &phase{name: "Report separation"}
	for i, r := range reports {
		for _, near := range dedup.Within(reports[i+1:], r.Location, radius) {
			p.errorf("%s and %s are %.1fm apart (radius %.1fm)",
				r.ID, near.Report.ID, near.DistanceMeters, radius)
		}
	}
	return p
}

func formatCoords(c domain.Coordinates) string {
	return fmt.Sprintf("(%.6f, %.6f)", c.Lat, c.Lon)
}
