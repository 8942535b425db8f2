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

	"sitework/internal/config"
	"sitework/internal/db"
	"sitework/internal/domain"
	"sitework/internal/engine"
	"sitework/internal/migrate"
	"sitework/internal/policy"
	"sitework/internal/repo"
	"sitework/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "sw",
	Short: "Sitework CLI",
	Long: `Sitework tracks field-service work: projects, tasks, installations and
purchase requests, with role-based access for managers and workers.
Managers plan and approve; workers see and update their own assignments.`,
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
	viper.SetEnvPrefix("SITEWORK")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor", "", "act as this user (email or id)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor", rootCmd.PersistentFlags().Lookup("actor"))
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(userCmd())
	rootCmd.AddCommand(projectCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(installationCmd())
	rootCmd.AddCommand(purchaseCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func configCmd() *cobra.Command {
	cfg := &cobra.Command{Use: "config", Short: "Manage configuration"}
	cfg.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a default sitework.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.Path(viper.GetString("workspace"))
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
				return err
			}
			fmt.Println("wrote", path)
			return nil
		},
	})
	return cfg
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage accounts"}
	user.AddCommand(userCreateCmd())
	user.AddCommand(userListCmd())
	user.AddCommand(userAPIKeyCmd())
	return user
}

func userCreateCmd() *cobra.Command {
	var email, name, password, role string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				opts := engine.RegisterOptions{Email: email, Name: name, Password: password, Role: role}
				count, err := e.Repo.CountUsers(ctx)
				if err != nil {
					return err
				}
				var u domain.User
				if count == 0 {
					u, err = e.RegisterUser(ctx, opts)
				} else {
					var actor policy.Actor
					actor, err = resolveActor(ctx, e)
					if err != nil {
						return err
					}
					u, err = e.CreateUser(ctx, actor, opts)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.User{u}, userTable)
			})
		},
	}
	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&password, "password", "", "password")
	cmd.Flags().StringVar(&role, "role", "", "manager or worker")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func userListCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				users, err := e.ListUsers(ctx, actor, role)
				if err != nil {
					return err
				}
				return printJSONOrTable(users, userTable)
			})
		},
	}
	cmd.Flags().StringVar(&role, "role", "", "filter by role")
	return cmd
}

func userAPIKeyCmd() *cobra.Command {
	var forUser, name string
	cmd := &cobra.Command{
		Use:   "apikey",
		Short: "Issue an API key; the plaintext is printed once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				target := actor.UserID
				if forUser != "" {
					u, err := findUser(ctx, e, forUser)
					if err != nil {
						return err
					}
					target = u.ID
				}
				key, plaintext, err := e.IssueAPIKey(ctx, actor, target, name)
				if err != nil {
					return err
				}
				fmt.Printf("key id: %s\napi key: %s\n", key.ID, plaintext)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&forUser, "for", "", "issue for this user (email or id)")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List visible projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListProjects(ctx, actor)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, projectTable)
			})
		},
	})
	prj.AddCommand(projectCreateCmd())
	return prj
}

func projectCreateCmd() *cobra.Command {
	var name, desc string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				p, err := e.CreateProject(ctx, actor, engine.ProjectCreateOptions{Name: name, Description: desc})
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.Project{p}, projectTable)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func taskCmd() *cobra.Command {
	task := &cobra.Command{Use: "task", Short: "Manage tasks"}
	var projectID, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List visible tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListTasks(ctx, actor, repo.TaskFilters{ProjectID: projectID, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, taskTable)
			})
		},
	}
	list.Flags().StringVar(&projectID, "project", "", "filter by project")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	task.AddCommand(list)
	return task
}

func installationCmd() *cobra.Command {
	ins := &cobra.Command{Use: "installation", Short: "Manage installations"}
	var projectID, status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List visible installations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListInstallations(ctx, actor, repo.TaskFilters{ProjectID: projectID, Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, installationTable)
			})
		},
	}
	list.Flags().StringVar(&projectID, "project", "", "filter by project")
	list.Flags().StringVar(&status, "status", "", "filter by status")
	ins.AddCommand(list)
	return ins
}

func purchaseCmd() *cobra.Command {
	pur := &cobra.Command{Use: "purchase", Short: "Manage purchase requests"}
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List visible purchase requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				items, err := e.ListPurchaseRequests(ctx, actor, repo.PurchaseFilters{Status: status})
				if err != nil {
					return err
				}
				return printJSONOrTable(items, purchaseTable)
			})
		},
	}
	list.Flags().StringVar(&status, "status", "", "filter by status")
	pur.AddCommand(list)

	var decision string
	decide := &cobra.Command{
		Use:   "decide <request-id>",
		Short: "Approve or reject a pending purchase request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				pr, err := e.SetPurchaseStatus(ctx, actor, args[0], decision)
				if err != nil {
					return err
				}
				return printJSONOrTable([]domain.PurchaseRequest{pr}, purchaseTable)
			})
		},
	}
	decide.Flags().StringVar(&decision, "status", "", "approved or rejected")
	_ = decide.MarkFlagRequired("status")
	pur.AddCommand(decide)
	return pur
}

func logCmd() *cobra.Command {
	logc := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	var n int
	var evtType, entityKind, entityID string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				actor, err := resolveActor(ctx, e)
				if err != nil {
					return err
				}
				events, err := e.ListEvents(ctx, actor, n, repo.EventFilters{Type: evtType, EntityKind: entityKind, EntityID: entityID})
				if err != nil {
					return err
				}
				return printJSON(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	tail.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	tail.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	logc.AddCommand(tail)
	return logc
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			cfg, err := config.LoadOptional(workspace)
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
			e := engine.New(conn)
			secret := os.Getenv("SITEWORK_JWT_SECRET")
			if secret == "" {
				secret = cfg.Auth.JWTSecret
			}
			if secret == "" {
				return fmt.Errorf("SITEWORK_JWT_SECRET or config auth.jwt_secret is required")
			}
			if addr == "" {
				addr = cfg.Server.Addr
			}
			if basePath == "" {
				basePath = cfg.Server.BasePath
			}
			authCfg := server.AuthConfig{
				JWTSecret: secret,
				TokenTTL:  time.Duration(cfg.Auth.TokenTTLHours) * time.Hour,
			}
			handler, err := server.New(server.Config{
				Engine:   e,
				BasePath: basePath,
				Auth:     authCfg,
				Webhooks: cfg.Webhooks,
			})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Sitework API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "API base path (default from config)")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, engine.New(conn))
}

func findUser(ctx context.Context, e engine.Engine, ref string) (domain.User, error) {
	if strings.Contains(ref, "@") {
		return e.Repo.GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(ref)))
	}
	return e.Repo.GetUser(ctx, ref)
}

func resolveActor(ctx context.Context, e engine.Engine) (policy.Actor, error) {
	ref := strings.TrimSpace(viper.GetString("actor"))
	if ref == "" {
		return policy.Actor{}, fmt.Errorf("--actor (or SITEWORK_ACTOR) is required")
	}
	u, err := findUser(ctx, e, ref)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return policy.Actor{}, fmt.Errorf("unknown actor %q", ref)
		}
		return policy.Actor{}, err
	}
	return policy.Actor{UserID: u.ID, Role: u.Role}, nil
}

func printJSONOrTable[T any](items []T, render func(table.Writer, []T)) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	render(tw, items)
	tw.Render()
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func userTable(tw table.Writer, users []domain.User) {
	tw.AppendHeader(table.Row{"ID", "EMAIL", "NAME", "ROLE"})
	for _, u := range users {
		tw.AppendRow(table.Row{u.ID, u.Email, u.Name, u.Role})
	}
}

func projectTable(tw table.Writer, items []domain.Project) {
	tw.AppendHeader(table.Row{"ID", "NAME", "STATUS", "CREATED"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.CreatedAt})
	}
}

func taskTable(tw table.Writer, items []domain.Task) {
	tw.AppendHeader(table.Row{"ID", "PROJECT", "TITLE", "STATUS", "ASSIGNEE"})
	for _, t := range items {
		assignee := ""
		if t.AssigneeID != nil {
			assignee = *t.AssigneeID
		}
		tw.AppendRow(table.Row{t.ID, t.ProjectID, t.Title, t.Status, assignee})
	}
}

func installationTable(tw table.Writer, items []domain.Installation) {
	tw.AppendHeader(table.Row{"ID", "PROJECT", "TITLE", "STATUS", "ASSIGNEE", "SCHEDULED"})
	for _, ins := range items {
		assignee, scheduled := "", ""
		if ins.AssigneeID != nil {
			assignee = *ins.AssigneeID
		}
		if ins.ScheduledAt != nil {
			scheduled = *ins.ScheduledAt
		}
		tw.AppendRow(table.Row{ins.ID, ins.ProjectID, ins.Title, ins.Status, assignee, scheduled})
	}
}

func purchaseTable(tw table.Writer, items []domain.PurchaseRequest) {
	tw.AppendHeader(table.Row{"ID", "STATUS", "CREATED BY", "REF"})
	for _, pr := range items {
		ref := ""
		if pr.TaskID != nil {
			ref = "task:" + *pr.TaskID
		}
		if pr.InstallationID != nil {
			ref = "installation:" + *pr.InstallationID
		}
		tw.AppendRow(table.Row{pr.ID, pr.Status, pr.CreatedBy, ref})
	}
}
