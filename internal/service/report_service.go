package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"tasksync/internal/model"
	"tasksync/internal/repository"
)

// StatusReport is a snapshot of local task and sync state.
type StatusReport struct {
	Total       int
	ByStatus    map[model.Status]int
	Unsynced    int
	Overdue     []model.Task
	Online      bool
	GeneratedAt time.Time
}

// ReportService builds human-readable summaries of the local store: counts
// per status, the unsynced backlog, and overdue tasks.
type ReportService struct {
	repo *repository.TaskRepository
	net  Connectivity
}

func NewReportService(repo *repository.TaskRepository, net Connectivity) *ReportService {
	return &ReportService{repo: repo, net: net}
}

func (s *ReportService) Summary(ctx context.Context, now time.Time) (*StatusReport, error) {
	tasks, err := s.repo.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		ByStatus:    make(map[model.Status]int),
		Online:      s.net.Online(),
		GeneratedAt: now,
	}
	for _, task := range tasks {
		report.Total++
		report.ByStatus[task.Status]++
		if !task.IsSynced {
			report.Unsynced++
		}
		if task.Overdue(now) {
			report.Overdue = append(report.Overdue, task)
		}
	}

	sort.SliceStable(report.Overdue, func(i, j int) bool {
		return report.Overdue[i].DueDate.Before(*report.Overdue[j].DueDate)
	})
	return report, nil
}

// Format renders the report as plain text for the CLI.
func (s *ReportService) Format(report *StatusReport) string {
	var b strings.Builder

	state := "offline"
	if report.Online {
		state = "online"
	}
	fmt.Fprintf(&b, "Connectivity: %s\n", state)
	fmt.Fprintf(&b, "Tasks: %d total", report.Total)
	for _, status := range []model.Status{model.StatusPending, model.StatusInProgress, model.StatusCompleted, model.StatusCanceled} {
		if n := report.ByStatus[status]; n > 0 {
			fmt.Fprintf(&b, ", %d %s", n, strings.ToLower(string(status)))
		}
	}
	b.WriteByte('\n')

	if report.Unsynced > 0 {
		fmt.Fprintf(&b, "Pending sync: %d task(s) not yet pushed to the server\n", report.Unsynced)
	} else {
		b.WriteString("Pending sync: everything synced\n")
	}

	if len(report.Overdue) > 0 {
		fmt.Fprintf(&b, "Overdue:\n")
		for _, task := range report.Overdue {
			fmt.Fprintf(&b, "  - %s (due %s)\n", task.Title, task.DueDate.Format("2006-01-02"))
		}
	}
	return strings.TrimSpace(b.String())
}
