package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"teamline/internal/analytics"
	"teamline/internal/cicd"
	"teamline/internal/config"
	"teamline/internal/db"
	"teamline/internal/domain"
	"teamline/internal/engine"
	"teamline/internal/migrate"
	"teamline/internal/repo"
	"teamline/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "tl",
	Short: "Teamline CLI",
	Long: `Teamline coordinates a cross-functional product team in one place.
- Projects own tasks, PRDs, documents and deployments; every project has a key like WEB.
- Tasks flow backlog -> todo -> in_progress -> in_review/in_qa -> done and move between
  teammates with handoffs; a handoff to a QA engineer puts the task in QA automatically.
- PRDs collect approvals from their reviewers before they take effect.
- Pushes and pipelines from GitHub/GitLab link commits to tasks by [KEY-N] references
  and notify the roles that care about deployments.
- Notifications land in-app and, when configured, by email or Slack.
Most commands act as a user: pass --as with a user id or email.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("TEAMLINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("as", "", "acting user (id or email)")
	rootCmd.PersistentFlags().String("project", "", "project id or key")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("as", rootCmd.PersistentFlags().Lookup("as"))
	_ = viper.BindPFlag("project", rootCmd.PersistentFlags().Lookup("project"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(notificationCmd())
	rootCmd.AddCommand(logCmd())
}

func initCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfgPath := config.Path(workspace)
			if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
				if err := os.WriteFile(cfgPath, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", cfgPath)
			}
			fmt.Printf("Workspace ready, database at %s\n", db.Path(workspace))
			return nil
		},
	}
	return cmd
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := db.Open(db.Config{Workspace: viper.GetString("workspace")})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Println("migrations applied")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.Load(workspace)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{
				Engine:    e,
				CICD:      cicd.New(conn),
				Analytics: analytics.New(e.Repo),
				BasePath:  basePath,
				Auth: server.AuthConfig{
					JWTSecret:       cfg.Auth.JWTSecret,
					TokenTTLMinutes: cfg.Auth.TokenTTLMinutes,
					RefreshTTLHours: cfg.Auth.RefreshTTLHours,
				},
			})
			if err != nil {
				return err
			}
			if addr == "" {
				addr = fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Teamline API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to config server.host:port)")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

func seedCmd() *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Seed a demo team and project",
		Long:  "Creates a demo team (one user per core role), a DEMO project and a few tasks. Safe to run once per workspace.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if _, err := e.Repo.GetUserByEmail(ctx, "pm@demo.local"); err == nil {
					return fmt.Errorf("workspace already seeded (pm@demo.local exists)")
				} else if !errors.Is(err, repo.ErrNotFound) {
					return err
				}
				seedUsers := []struct {
					email, name, role string
				}{
					{"pm@demo.local", "Paula Marin", domain.RoleProductManager},
					{"design@demo.local", "Dana Sigurd", domain.RoleProductDesigner},
					{"backend@demo.local", "Boris Eklund", domain.RoleBackendDeveloper},
					{"frontend@demo.local", "Fay Ono", domain.RoleFrontendDeveloper},
					{"qa@demo.local", "Quinn Adler", domain.RoleQAEngineer},
					{"ops@demo.local", "Omar Patel", domain.RoleDevopsEngineer},
				}
				users := map[string]domain.User{}
				for _, su := range seedUsers {
					u, err := e.CreateUser(ctx, engine.UserCreateOptions{
						Email: su.email, Name: su.name, Role: su.role, Password: password,
					})
					if err != nil {
						return fmt.Errorf("seed user %s: %w", su.email, err)
					}
					users[su.role] = u
				}
				pm := users[domain.RoleProductManager]
				p, err := e.CreateProject(ctx, engine.ProjectCreateOptions{
					Key:         "DEMO",
					Name:        "Demo project",
					Description: "Seeded sandbox project",
					ActorID:     pm.ID,
				})
				if err != nil {
					return fmt.Errorf("seed project: %w", err)
				}
				for _, u := range users {
					if u.ID == pm.ID {
						continue
					}
					if _, err := e.AddTeamMember(ctx, p.ID, u.ID, "", pm); err != nil {
						return fmt.Errorf("seed team: %w", err)
					}
				}
				points := 3
				seedTasks := []engine.TaskCreateOptions{
					{Title: "Design checkout flow", AssigneeID: users[domain.RoleProductDesigner].ID, Priority: domain.PriorityHigh},
					{Title: "Cart API endpoints", AssigneeID: users[domain.RoleBackendDeveloper].ID, Sprint: "S1", StoryPoints: &points},
					{Title: "Cart page", AssigneeID: users[domain.RoleFrontendDeveloper].ID, Sprint: "S1"},
					{Title: "Staging deploy pipeline", AssigneeID: users[domain.RoleDevopsEngineer].ID},
					{Title: "Checkout regression suite"},
				}
				for _, opts := range seedTasks {
					opts.ProjectID = p.ID
					opts.ActorID = pm.ID
					if _, err := e.CreateTask(ctx, opts); err != nil {
						return fmt.Errorf("seed task %q: %w", opts.Title, err)
					}
				}
				fmt.Printf("Seeded project %s with %d users and %d tasks.\n", p.Key, len(seedUsers), len(seedTasks))
				fmt.Printf("Log in as pm@demo.local (password %q), or pass --as pm@demo.local to commands.\n", password)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&password, "password", "demo-password", "password for every seeded user")
	return cmd
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{
		Use:   "config",
		Short: "Inspect workspace config",
	}
	cfg.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(c)
		},
	})
	cfg.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate workspace config",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := config.Load(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			err = c.Validate()
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	})
	return cfg
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show project status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				counts, err := e.Repo.CountTasksByStatus(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{
						"project":     p,
						"task_counts": counts,
					})
				}
				fmt.Printf("Project: %s %s (%s)\n", p.Key, p.Name, p.Status)
				fmt.Println("Tasks:")
				for _, status := range domain.TaskStatuses {
					if counts[status] > 0 {
						fmt.Printf("  %s: %d\n", status, counts[status])
					}
				}
				return nil
			})
		},
	}
	return cmd
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage users"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userShowCmd())
	user.AddCommand(userDeactivateCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var opts engine.UserCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := e.CreateUser(ctx, opts)
				if err != nil {
					return err
				}
				u.PasswordHash = ""
				return printJSONOrTable(u)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.Name, "name", "", "display name")
	cmd.Flags().StringVar(&opts.Role, "role", "", "role ("+strings.Join(domain.Roles, ", ")+")")
	cmd.Flags().StringVar(&opts.Password, "password", "", "password (min 8 chars)")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("role")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var f repo.UserFilters
	var activeOnly bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			if activeOnly {
				t := true
				f.Active = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				users, err := e.Repo.ListUsers(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Active"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.Email, u.Name, u.Role, u.Active})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Role, "role", "", "role filter")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active users")
	return cmd
}

func userShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-email>",
		Short: "Show a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := lookupUser(ctx, e, args[0])
				if err != nil {
					return err
				}
				u.PasswordHash = ""
				return printJSONOrTable(u)
			})
		},
	}
	return cmd
}

func userDeactivateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "deactivate <id-or-email>",
		Short: "Deactivate a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				u, err := lookupUser(ctx, e, args[0])
				if err != nil {
					return err
				}
				u.Active = false
				u.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := e.Repo.UpdateUser(ctx, u); err != nil {
					return err
				}
				fmt.Printf("deactivated %s\n", u.Email)
				return nil
			})
		},
	}
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(teamCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				opts.ActorID = actor.ID
				p, err := e.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Key, "key", "", "project key, e.g. WEB")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.RepositoryURL, "repo-url", "", "repository URL for CI linking")
	cmd.Flags().StringVar(&opts.StartDate, "start-date", "", "start date (RFC3339)")
	cmd.Flags().StringVar(&opts.TargetDate, "target-date", "", "target date (RFC3339)")
	_ = cmd.MarkFlagRequired("key")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projects, err := e.Repo.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Name", "Status", "Owner", "ID"})
				for _, p := range projects {
					tw.AppendRow(table.Row{p.Key, p.Name, p.Status, p.OwnerID, p.ID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.OwnerID, "owner", "", "owner filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show a project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete a project and everything in it",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				return e.DeleteProject(ctx, p.ID, actor)
			})
		},
	}
	return cmd
}

func teamCmd() *cobra.Command {
	team := &cobra.Command{Use: "team", Short: "Manage project team"}
	team.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List team members",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				members, err := e.Repo.ListTeam(ctx, p.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(members)
			})
		},
	})
	var role string
	add := &cobra.Command{
		Use:   "add <user-id-or-email>",
		Short: "Add a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				u, err := lookupUser(ctx, e, args[0])
				if err != nil {
					return err
				}
				m, err := e.AddTeamMember(ctx, p.ID, u.ID, role, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	add.Flags().StringVar(&role, "role", "", "role on this project (defaults to the user's role)")
	team.AddCommand(add)
	team.AddCommand(&cobra.Command{
		Use:   "remove <user-id-or-email>",
		Short: "Remove a team member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				u, err := lookupUser(ctx, e, args[0])
				if err != nil {
					return err
				}
				return e.RemoveTeamMember(ctx, p.ID, u.ID, actor)
			})
		},
	})
	return team
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{
		Use:   "task",
		Short: "Manage tasks",
		Long:  "Tasks carry a project-scoped key like WEB-12. Commands accept either the task id or its key.",
	}
	task.AddCommand(taskCreateCmd())
	task.AddCommand(taskListCmd())
	task.AddCommand(taskShowCmd())
	task.AddCommand(taskUpdateCmd())
	task.AddCommand(taskHandoffCmd())
	task.AddCommand(taskCommentCmd())
	return task
}

func taskCreateCmd() *cobra.Command {
	var opts engine.TaskCreateOptions
	var assignee string
	var storyPoints int
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				opts.ProjectID = p.ID
				opts.ActorID = actor.ID
				if assignee != "" {
					u, err := lookupUser(ctx, e, assignee)
					if err != nil {
						return err
					}
					opts.AssigneeID = u.ID
				}
				if cmd.Flags().Changed("points") {
					opts.StoryPoints = &storyPoints
				}
				t, err := e.CreateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Title, "title", "", "title")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&opts.Type, "type", "", "type (feature, bug, enhancement, ...)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "initial status (defaults to backlog)")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "priority (low, medium, high, urgent)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee (id or email)")
	cmd.Flags().StringVar(&opts.Sprint, "sprint", "", "sprint name")
	cmd.Flags().IntVar(&storyPoints, "points", 0, "story points")
	cmd.Flags().StringArrayVar(&opts.Labels, "label", []string{}, "label (repeatable)")
	cmd.Flags().StringVar(&opts.DueDate, "due", "", "due date (RFC3339)")
	_ = cmd.MarkFlagRequired("title")
	return cmd
}

func taskListCmd() *cobra.Command {
	var f repo.TaskFilters
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := resolveProject(ctx, e)
				if err != nil {
					return err
				}
				f.ProjectID = p.ID
				tasks, err := e.Repo.ListTasks(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Title", "Status", "Priority", "Assignee", "Sprint"})
				for _, t := range tasks {
					tw.AppendRow(table.Row{t.Key, t.Title, t.Status, t.Priority, stringOrDash(t.AssigneeID), stringOrDash(t.Sprint)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	cmd.Flags().StringVar(&f.Priority, "priority", "", "priority filter")
	cmd.Flags().StringVar(&f.AssigneeID, "assignee", "", "assignee id filter")
	cmd.Flags().StringVar(&f.Sprint, "sprint", "", "sprint filter")
	cmd.Flags().StringVar(&f.CurrentRole, "role", "", "current role filter")
	return cmd
}

func taskShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <id-or-key>",
		Short: "Show a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				t, err := lookupTask(ctx, e, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(t)
			})
		},
	}
	return cmd
}

func taskUpdateCmd() *cobra.Command {
	var title, description, taskType, status, priority, assignee, sprint, due string
	var storyPoints int
	var labels []string
	cmd := &cobra.Command{
		Use:   "update <id-or-key>",
		Short: "Update a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				t, err := lookupTask(ctx, e, args[0])
				if err != nil {
					return err
				}
				opts := engine.TaskUpdateOptions{ID: t.ID, ActorID: actor.ID}
				changed := func(name string, dst **string, val *string) {
					if cmd.Flags().Changed(name) {
						*dst = val
					}
				}
				changed("title", &opts.Title, &title)
				changed("description", &opts.Description, &description)
				changed("type", &opts.Type, &taskType)
				changed("status", &opts.Status, &status)
				changed("priority", &opts.Priority, &priority)
				changed("sprint", &opts.Sprint, &sprint)
				changed("due", &opts.DueDate, &due)
				if cmd.Flags().Changed("assignee") {
					id := assignee
					if id != "" {
						u, err := lookupUser(ctx, e, assignee)
						if err != nil {
							return err
						}
						id = u.ID
					}
					opts.AssigneeID = &id
				}
				if cmd.Flags().Changed("points") {
					opts.StoryPoints = &storyPoints
				}
				if cmd.Flags().Changed("label") {
					opts.Labels = labels
				}
				out, err := e.UpdateTask(ctx, opts)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&description, "description", "", "new description")
	cmd.Flags().StringVar(&taskType, "type", "", "new type")
	cmd.Flags().StringVar(&status, "status", "", "new status")
	cmd.Flags().StringVar(&priority, "priority", "", "new priority")
	cmd.Flags().StringVar(&assignee, "assignee", "", "new assignee (id or email, empty clears)")
	cmd.Flags().StringVar(&sprint, "sprint", "", "new sprint (empty clears)")
	cmd.Flags().IntVar(&storyPoints, "points", 0, "story points")
	cmd.Flags().StringArrayVar(&labels, "label", []string{}, "replace labels (repeatable)")
	cmd.Flags().StringVar(&due, "due", "", "due date (empty clears)")
	return cmd
}

func taskHandoffCmd() *cobra.Command {
	var toRole, to, notes string
	cmd := &cobra.Command{
		Use:   "handoff <id-or-key>",
		Short: "Hand a task to the next role",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				t, err := lookupTask(ctx, e, args[0])
				if err != nil {
					return err
				}
				var toUserID string
				if to != "" {
					u, err := lookupUser(ctx, e, to)
					if err != nil {
						return err
					}
					toUserID = u.ID
				}
				out, err := e.HandoffTask(ctx, t.ID, toRole, toUserID, notes, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&toRole, "to-role", "", "receiving role")
	cmd.Flags().StringVar(&to, "to", "", "receiving user (id or email, optional)")
	cmd.Flags().StringVar(&notes, "notes", "", "handoff notes")
	_ = cmd.MarkFlagRequired("to-role")
	return cmd
}

func taskCommentCmd() *cobra.Command {
	var body string
	var mentions []string
	cmd := &cobra.Command{
		Use:   "comment <id-or-key>",
		Short: "Comment on a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				t, err := lookupTask(ctx, e, args[0])
				if err != nil {
					return err
				}
				var mentionIDs []string
				for _, m := range mentions {
					u, err := lookupUser(ctx, e, m)
					if err != nil {
						return err
					}
					mentionIDs = append(mentionIDs, u.ID)
				}
				c, err := e.AddComment(ctx, t.ID, actor.ID, body, mentionIDs)
				if err != nil {
					return err
				}
				return printJSONOrTable(c)
			})
		},
	}
	cmd.Flags().StringVar(&body, "body", "", "comment body")
	cmd.Flags().StringArrayVar(&mentions, "mention", []string{}, "mention a user (id or email, repeatable)")
	_ = cmd.MarkFlagRequired("body")
	return cmd
}

func notificationCmd() *cobra.Command {
	n := &cobra.Command{Use: "notification", Short: "Manage notifications", Aliases: []string{"inbox"}}
	var unread bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications for the acting user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListNotifications(ctx, repo.NotificationFilters{UserID: actor.ID, Unread: unread})
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Title", "Read", "At"})
				for _, item := range items {
					tw.AppendRow(table.Row{item.ID, item.Type, item.Title, item.Read, item.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&unread, "unread", false, "only unread")
	n.AddCommand(list)
	n.AddCommand(&cobra.Command{
		Use:   "read <id>",
		Short: "Mark a notification read",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				out, err := e.MarkNotificationRead(ctx, args[0], actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	})
	n.AddCommand(&cobra.Command{
		Use:   "read-all",
		Short: "Mark all notifications read",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				count, err := e.MarkAllNotificationsRead(ctx, actor)
				if err != nil {
					return err
				}
				fmt.Printf("marked %d read\n", count)
				return nil
			})
		},
	})
	return n
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				projectID := ""
				if viper.GetString("project") != "" {
					p, err := resolveProject(ctx, e)
					if err != nil {
						return err
					}
					projectID = p.ID
				}
				events, err := e.Repo.LatestEvents(ctx, n, projectID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(events)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "At", "Type", "Entity", "Actor"})
				for _, evt := range events {
					tw.AppendRow(table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + "/" + evt.EntityID, evt.ActorID})
				}
				tw.Render()
				return nil
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind filter")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id filter")
	log.AddCommand(tail)
	return log
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.Load(workspace)
	if err != nil {
		return err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn, cfg))
}

// resolveActor loads the user named by --as. Mutating commands need one.
func resolveActor(ctx context.Context, e engine.Engine) (domain.User, error) {
	as := strings.TrimSpace(viper.GetString("as"))
	if as == "" {
		return domain.User{}, fmt.Errorf("--as is required (user id or email)")
	}
	return lookupUser(ctx, e, as)
}

func lookupUser(ctx context.Context, e engine.Engine, idOrEmail string) (domain.User, error) {
	if strings.Contains(idOrEmail, "@") {
		return e.Repo.GetUserByEmail(ctx, strings.ToLower(idOrEmail))
	}
	return e.Repo.GetUser(ctx, idOrEmail)
}

// resolveProject accepts either a project id or its key via --project.
func resolveProject(ctx context.Context, e engine.Engine) (domain.Project, error) {
	target := strings.TrimSpace(viper.GetString("project"))
	if target == "" {
		return domain.Project{}, fmt.Errorf("--project is required (id or key)")
	}
	p, err := e.Repo.GetProject(ctx, target)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetProjectByKey(ctx, strings.ToUpper(target))
	}
	return p, err
}

func lookupTask(ctx context.Context, e engine.Engine, idOrKey string) (domain.Task, error) {
	t, err := e.Repo.GetTask(ctx, idOrKey)
	if errors.Is(err, repo.ErrNotFound) {
		return e.Repo.GetTaskByKey(ctx, strings.ToUpper(idOrKey))
	}
	return t, err
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func stringOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
