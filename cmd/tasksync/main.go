// Command tasksync is an offline-first task client. Tasks live in a local
// SQLite store and are reconciled with a remote task API whenever
// connectivity allows.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"tasksync/internal/connectivity"
	"tasksync/internal/gateway"
	"tasksync/internal/model"
	"tasksync/internal/repository"
	"tasksync/internal/service"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var a *app

	cmd := &cobra.Command{
		Use:           "tasksync",
		Short:         "Offline-first task client",
		Long:          "tasksync manages personal tasks against a remote API, with a local store that keeps working offline and syncs back when connectivity returns.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			a, err = newApp(cmd.Context())
			return err
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a != nil {
				a.close()
			}
		},
	}

	cmd.AddCommand(
		loginCmd(&a),
		registerCmd(&a),
		logoutCmd(&a),
		whoamiCmd(&a),
		addCmd(&a),
		listCmd(&a),
		showCmd(&a),
		editCmd(&a),
		doneCmd(&a),
		rmCmd(&a),
		syncCmd(&a),
		statusCmd(&a),
		watchCmd(&a),
	)
	return cmd
}

func loginCmd(a **app) *cobra.Command {
	var email, password string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session token",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			ctx := cmd.Context()
			if email == "" {
				email = prompt("Email: ")
			}
			if password == "" {
				password = prompt("Password: ")
			}

			token, err := app.gw.Login(ctx, email, password)
			if err != nil {
				return err
			}
			if err := app.tokens.Save(token); err != nil {
				return err
			}

			user, err := app.gw.Me(ctx)
			if err != nil {
				return err
			}
			if err := app.profiles.Save(ctx, user); err != nil {
				return err
			}
			fmt.Printf("Signed in as %s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func registerCmd(a **app) *cobra.Command {
	var name, email, password string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Create a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			if name == "" || email == "" || password == "" {
				return fmt.Errorf("--name, --email and --password are required")
			}
			err := (*a).gw.Register(cmd.Context(), gateway.RegisterInput{
				Name: name, Email: email, Password: password,
			})
			if err != nil {
				return err
			}
			fmt.Println("Account created. Run `tasksync login` to sign in.")
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Display name")
	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password")
	return cmd
}

func logoutCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Drop the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			if err := app.tokens.Clear(); err != nil {
				return err
			}
			if err := app.profiles.Clear(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Signed out.")
			return nil
		},
	}
}

func whoamiCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in account",
		RunE: func(cmd *cobra.Command, args []string) error {
			user, err := (*a).profiles.Load(cmd.Context())
			if errors.Is(err, gorm.ErrRecordNotFound) {
				fmt.Println("Not signed in.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Printf("%s <%s>\n", user.Name, user.Email)
			return nil
		},
	}
}

func addCmd(a **app) *cobra.Command {
	var desc, priority, status, due string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dueDate, err := parseDue(due)
			if err != nil {
				return err
			}
			task, err := (*a).tasks.CreateTask(cmd.Context(), service.TaskInput{
				Title:       strings.Join(args, " "),
				Description: desc,
				Status:      model.Status(status),
				Priority:    model.Priority(priority),
				DueDate:     dueDate,
			})
			var pushErr *service.PushError
			if errors.As(err, &pushErr) {
				fmt.Printf("Saved locally; will sync later (%v)\n", pushErr.Err)
				err = nil
			}
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
	cmd.Flags().StringVar(&desc, "desc", "", "Description")
	cmd.Flags().StringVar(&priority, "priority", "", "LOW, MEDIUM or HIGH")
	cmd.Flags().StringVar(&status, "status", "", "Initial status")
	cmd.Flags().StringVar(&due, "due", "", "Due date (YYYY-MM-DD or RFC3339)")
	return cmd
}

func listCmd(a **app) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			tasks, err := (*a).tasks.ListTasks(cmd.Context(), model.Status(status))
			if err != nil {
				return err
			}
			if len(tasks) == 0 {
				fmt.Println("No tasks.")
				return nil
			}
			for _, task := range tasks {
				printTaskLine(task)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	return cmd
}

func showCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := (*a).tasks.GetTask(cmd.Context(), args[0])
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func editCmd(a **app) *cobra.Command {
	var title, desc, priority, status, due string
	var clearDue bool
	cmd := &cobra.Command{
		Use:   "edit <id>",
		Short: "Edit a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var upd repository.TaskUpdate
			if cmd.Flags().Changed("title") {
				upd.Title = &title
			}
			if cmd.Flags().Changed("desc") {
				upd.Description = &desc
			}
			if cmd.Flags().Changed("priority") {
				p := model.Priority(priority)
				upd.Priority = &p
			}
			if cmd.Flags().Changed("status") {
				st := model.Status(status)
				upd.Status = &st
			}
			if cmd.Flags().Changed("due") {
				dueDate, err := parseDue(due)
				if err != nil {
					return err
				}
				upd.DueDate = dueDate
			}
			upd.ClearDue = clearDue

			task, err := (*a).tasks.UpdateTask(cmd.Context(), args[0], upd)
			var pushErr *service.PushError
			if errors.As(err, &pushErr) {
				fmt.Printf("Saved locally; will sync later (%v)\n", pushErr.Err)
				err = nil
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "New title")
	cmd.Flags().StringVar(&desc, "desc", "", "New description")
	cmd.Flags().StringVar(&priority, "priority", "", "New priority")
	cmd.Flags().StringVar(&status, "status", "", "New status")
	cmd.Flags().StringVar(&due, "due", "", "New due date")
	cmd.Flags().BoolVar(&clearDue, "clear-due", false, "Remove the due date")
	return cmd
}

func doneCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "done <id>",
		Short: "Mark a task completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := (*a).tasks.CompleteTask(cmd.Context(), args[0])
			var pushErr *service.PushError
			if errors.As(err, &pushErr) {
				fmt.Printf("Saved locally; will sync later (%v)\n", pushErr.Err)
				err = nil
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if err != nil {
				return err
			}
			printTask(task)
			return nil
		},
	}
}

func rmCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := (*a).tasks.DeleteTask(cmd.Context(), args[0])
			var pushErr *service.PushError
			if errors.As(err, &pushErr) {
				fmt.Printf("Deleted locally; will sync later (%v)\n", pushErr.Err)
				err = nil
			}
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if err != nil {
				return err
			}
			fmt.Println("Task deleted.")
			return nil
		},
	}
}

func syncCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "Push unsynced local changes to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			if !app.observer.Online() {
				return fmt.Errorf("server unreachable, try again later")
			}
			res, err := app.tasks.Drain(cmd.Context())
			if err != nil {
				return err
			}
			if res.Skipped {
				fmt.Println("Another sync is already running.")
				return nil
			}
			fmt.Printf("Synced %d of %d task(s).\n", res.Synced, res.Attempted)
			return nil
		},
	}
}

func statusCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show local task and sync state",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			report, err := app.reports.Summary(cmd.Context(), time.Now())
			if err != nil {
				return err
			}
			fmt.Println(app.reports.Format(report))
			return nil
		},
	}
}

func watchCmd(a **app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run in the background, syncing whenever connectivity returns",
		RunE: func(cmd *cobra.Command, args []string) error {
			app := *a
			ctx := cmd.Context()

			app.tasks.SetDrainHook(func(res service.DrainResult) {
				if res.Attempted > 0 {
					fmt.Printf("Sync finished: %d of %d task(s) pushed.\n", res.Synced, res.Attempted)
				}
			})

			scheduler := service.NewSchedulerService(time.Local)
			prober := connectivity.NewProber(
				app.observer, app.gw.Ping,
				app.cfg.ProbeInterval, app.cfg.HTTPTimeout, app.log,
			)
			if err := prober.Run(scheduler); err != nil {
				return fmt.Errorf("schedule probe: %w", err)
			}

			// Retry rows whose immediate push failed even if connectivity
			// never transitioned.
			if _, err := scheduler.ScheduleInterval(app.cfg.DrainRetryInterval, func() {
				if !app.observer.Online() {
					return
				}
				if _, err := app.tasks.Drain(ctx); err != nil {
					app.log.Error().Err(err).Msg("scheduled drain failed")
				}
			}); err != nil {
				return fmt.Errorf("schedule drain retry: %w", err)
			}

			if app.cfg.ReportTime != "" {
				if _, err := scheduler.ScheduleDaily(app.cfg.ReportTime, func() {
					report, err := app.reports.Summary(ctx, time.Now())
					if err != nil {
						app.log.Error().Err(err).Msg("daily summary failed")
						return
					}
					fmt.Println(app.reports.Format(report))
				}); err != nil {
					return fmt.Errorf("schedule daily report: %w", err)
				}
			}

			scheduler.Start()
			defer scheduler.Stop()

			app.log.Info().Bool("online", app.observer.Online()).Msg("watching for connectivity changes")
			app.tasks.Watch(ctx)
			return nil
		},
	}
}

func prompt(label string) string {
	fmt.Print(label)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	return strings.TrimSpace(line)
}

func parseDue(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid due date %q, expected YYYY-MM-DD or RFC3339", raw)
}

func printTask(task *model.Task) {
	fmt.Printf("%s\n", task.Title)
	fmt.Printf("  id:       %s\n", task.ID)
	fmt.Printf("  status:   %s\n", task.Status)
	fmt.Printf("  priority: %s\n", task.Priority)
	if task.Description != "" {
		fmt.Printf("  notes:    %s\n", task.Description)
	}
	if task.DueDate != nil {
		fmt.Printf("  due:      %s\n", task.DueDate.Format("2006-01-02"))
	}
	if !task.IsSynced {
		fmt.Printf("  sync:     pending\n")
	}
}

func printTaskLine(task model.Task) {
	marker := " "
	if !task.IsSynced {
		marker = "*"
	}
	due := ""
	if task.DueDate != nil {
		due = " due " + task.DueDate.Format("2006-01-02")
	}
	fmt.Printf("%s %-12s %-6s %s%s  [%s]\n", marker, task.Status, task.Priority, task.Title, due, task.ID)
}
