package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ldi/casegen/internal/db"
	"github.com/ldi/casegen/internal/prompt"
	"github.com/ldi/casegen/pkg/models"
)

const configTemplate = `# casegen configuration. Environment variables (CASEGEN_*, VITE_API_BASE_URL,
# VITE_WS_BASE_URL) override these values.
api_base_url: http://localhost:8000
# ws_base_url defaults to the same origin as api_base_url.
# ws_base_url: ws://localhost:8000
user_id: ""
timeout: 30s
max_reconnect_attempts: 5
reconnect_delay: 3s
heartbeat_interval: 30s
poll_interval: 2s
retry_attempts: 3
retry_delay: 1s
workers: 3
log_level: info
# log_file: .casegen/casegen.log
export_dir: .
serve_addr: 127.0.0.1:7788
`

func runInit(ctx context.Context, a *app, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}

	dir := filepath.Join(targetDir, ".casegen")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create .casegen directory: %w", err)
	}
	fmt.Fprintln(a.out, "✓ Created .casegen/ directory")

	if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("casegen.db*\n*.log\n"), 0644); err != nil {
		return fmt.Errorf("failed to create .gitignore: %w", err)
	}
	fmt.Fprintln(a.out, "✓ Created .casegen/.gitignore")

	cfgFile := filepath.Join(dir, "casegen.yaml")
	if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
		if err := os.WriteFile(cfgFile, []byte(configTemplate), 0644); err != nil {
			return fmt.Errorf("failed to write config: %w", err)
		}
		fmt.Fprintln(a.out, "✓ Wrote .casegen/casegen.yaml")
	}

	finalDBPath := dbPath
	if finalDBPath == "" {
		finalDBPath = filepath.Join(dir, "casegen.db")
	}
	database, err := db.Open(finalDBPath)
	if err != nil {
		return err
	}
	defer database.Close()

	if err := database.Init(ctx); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	fmt.Fprintf(a.out, "✓ Initialized database at %s\n", finalDBPath)

	snapshot := filepath.Join(dir, "snapshot.jsonl")
	if _, err := os.Stat(snapshot); err == nil {
		if err := database.ImportSnapshot(ctx, snapshot); err != nil {
			return fmt.Errorf("failed to import snapshot: %w", err)
		}
		fmt.Fprintf(a.out, "✓ Imported snapshot from %s\n", snapshot)
	} else {
		added, err := database.Seed(ctx)
		if err != nil {
			return fmt.Errorf("failed to seed defaults: %w", err)
		}
		if added > 0 {
			fmt.Fprintf(a.out, "✓ Seeded %d default contexts and variables\n", added)
		}
	}

	fmt.Fprintln(a.out, "✓ casegen initialized successfully")
	return nil
}

func runStatus(ctx context.Context, a *app, args []string) error {
	fmt.Fprintln(a.out, "casegen status")
	fmt.Fprintln(a.out, "==============")
	fmt.Fprintf(a.out, "API:         %s\n", a.cfg.APIBaseURL)
	fmt.Fprintf(a.out, "WebSocket:   %s\n", a.cfg.WSBaseURL)
	fmt.Fprintf(a.out, "Database:    %s\n", a.cfg.DBPath)
	fmt.Fprintf(a.out, "Environment: %s\n", a.cfg.Environment)

	id, err := a.db.CurrentProjectID(ctx)
	if err != nil {
		return err
	}
	switch {
	case id == 0:
		fmt.Fprintln(a.out, "Project:     未选择")
	default:
		project, err := a.projects.Load(ctx)
		switch {
		case err != nil:
			fmt.Fprintf(a.out, "Project:     #%d (无法加载: %s)\n", id, a.errs.Handle(err, errOptions("load project")))
		case project == nil:
			fmt.Fprintln(a.out, "Project:     未选择 (原项目已不存在)")
		default:
			fmt.Fprintf(a.out, "Project:     %s (#%d)\n", project.Name, project.ID)
		}
	}

	sum, err := a.db.Summarize(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "\nContexts:    %d\n", sum.Contexts)
	fmt.Fprintf(a.out, "Variables:   %d\n", sum.Variables)
	fmt.Fprintf(a.out, "Tasks:       %d\n", sum.TaskTotal())
	fmt.Fprintf(a.out, "  Completed: %d\n", sum.Tasks[models.TaskStatusCompleted])
	fmt.Fprintf(a.out, "  Failed:    %d\n", sum.Tasks[models.TaskStatusFailed])
	fmt.Fprintf(a.out, "  Cancelled: %d\n", sum.Tasks[models.TaskStatusCancelled])
	return nil
}

func runContexts(ctx context.Context, a *app, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		fs := a.flags("contexts list")
		bt := fs.String("bt", "", "Filter by business type (global contexts always match)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		contexts, err := a.db.ListContexts(ctx, *bt)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-36s %-24s %-8s %s\n", "ID", "NAME", "BT", "CONTENT")
		fmt.Fprintln(a.out, strings.Repeat("-", 100))
		for _, c := range contexts {
			fmt.Fprintf(a.out, "%-36s %-24s %-8s %s\n", c.ID, c.Name, orDash(c.BusinessType), oneLine(c.Content, 40))
		}
		return nil

	case "add":
		fs := a.flags("contexts add")
		name := fs.String("name", "", "Context name")
		content := fs.String("content", "", "Context text")
		file := fs.String("file", "", "Read the context text from a file")
		bt := fs.String("bt", "", "Limit the context to a business type")
		if err := fs.Parse(args); err != nil {
			return err
		}
		text, err := textArg(*content, *file)
		if err != nil {
			return err
		}
		c := &models.HistoryContext{Name: *name, Content: text, BusinessType: *bt}
		if err := a.db.CreateContext(ctx, c); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Created context %s (%s)\n", c.Name, c.ID)
		return nil

	case "rm":
		if len(args) == 0 {
			return fmt.Errorf("usage: casegen contexts rm <id|name>")
		}
		c, err := findContext(ctx, a.db, args[0])
		if err != nil {
			return err
		}
		if err := a.db.DeleteContext(ctx, c.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Deleted context %s\n", c.Name)
		return nil

	case "export":
		path := a.snapshotPath()
		if len(args) > 0 {
			path = args[0]
		}
		if err := a.db.ExportSnapshot(ctx, path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Exported contexts and variables to %s\n", path)
		return nil

	case "import":
		path := a.snapshotPath()
		if len(args) > 0 {
			path = args[0]
		}
		if err := a.db.ImportSnapshot(ctx, path); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Imported contexts and variables from %s\n", path)
		return nil
	}
	return fmt.Errorf("unknown contexts command: %s", sub)
}

func findContext(ctx context.Context, database *db.DB, ref string) (*models.HistoryContext, error) {
	c, err := database.GetContext(ctx, ref)
	if err != nil {
		return nil, err
	}
	if c == nil {
		c, err = database.GetContextByName(ctx, ref)
		if err != nil {
			return nil, err
		}
	}
	if c == nil {
		return nil, fmt.Errorf("context %q not found", ref)
	}
	return c, nil
}

func runVariables(ctx context.Context, a *app, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		vars, err := a.db.ListVariables(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-20s %-10s %-9s %-20s %s\n", "NAME", "TYPE", "REQUIRED", "DEFAULT", "DESCRIPTION")
		fmt.Fprintln(a.out, strings.Repeat("-", 90))
		for _, v := range vars {
			def := v.DefaultValue
			if v.Type == models.VariableSelect {
				def = fmt.Sprintf("%s [%s]", def, strings.Join(v.Options, "|"))
			}
			fmt.Fprintf(a.out, "%-20s %-10s %-9t %-20s %s\n", v.Name, v.Type, v.Required, oneLine(def, 20), v.Description)
		}
		return nil

	case "add":
		fs := a.flags("variables add")
		name := fs.String("name", "", "Variable name")
		typ := fs.String("type", string(models.VariableText), "text, number, select or multiline")
		def := fs.String("default", "", "Default value")
		desc := fs.String("description", "", "Description")
		options := fs.String("options", "", "Comma-separated options for select variables")
		required := fs.Bool("required", false, "Rendering fails without a value")
		if err := fs.Parse(args); err != nil {
			return err
		}
		v := &models.TemplateVariable{
			Name:         *name,
			Type:         models.VariableType(*typ),
			DefaultValue: *def,
			Description:  *desc,
			Options:      splitList(*options),
			Required:     *required,
		}
		if err := a.db.CreateVariable(ctx, v); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Created variable %s\n", v.Name)
		return nil

	case "rm":
		if len(args) == 0 {
			return fmt.Errorf("usage: casegen variables rm <name>")
		}
		v, err := a.db.GetVariableByName(ctx, args[0])
		if err != nil {
			return err
		}
		if v == nil {
			return fmt.Errorf("variable %q not found", args[0])
		}
		if err := a.db.DeleteVariable(ctx, v.ID); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Deleted variable %s\n", v.Name)
		return nil
	}
	return fmt.Errorf("unknown variables command: %s", sub)
}

func runPreview(ctx context.Context, a *app, args []string) error {
	fs := a.flags("preview")
	bt := fs.String("bt", "", "Business type used by the backend to resolve variables")
	content := fs.String("content", "", "Template text")
	file := fs.String("file", "", "Read the template from a file")
	local := fs.Bool("local", false, "Render with local variables instead of asking the backend")
	values := kvFlag{}
	fs.Var(values, "set", "Variable value as name=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	text, err := textArg(*content, *file)
	if err != nil {
		return err
	}

	if *local {
		vars, err := a.db.ListVariables(ctx)
		if err != nil {
			return err
		}
		res := prompt.Render(text, values, vars)
		fmt.Fprintln(a.out, res.Content)
		if len(res.Unresolved) > 0 {
			fmt.Fprintf(a.errOut, "unresolved placeholders: %s\n", strings.Join(res.Unresolved, ", "))
		}
		if len(res.Missing) > 0 {
			return fmt.Errorf("missing required variables: %s", strings.Join(res.Missing, ", "))
		}
		return nil
	}

	if *bt == "" {
		return fmt.Errorf("--bt is required unless --local is set")
	}
	preview, err := a.svc.PreviewVariables(ctx, *bt, text)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, preview.RenderedContent)
	if len(preview.Variables) > 0 {
		names := make([]string, 0, len(preview.Variables))
		for k := range preview.Variables {
			names = append(names, k)
		}
		sort.Strings(names)
		fmt.Fprintln(a.errOut, "\nVariables:")
		for _, k := range names {
			fmt.Fprintf(a.errOut, "  %s = %s\n", k, oneLine(preview.Variables[k], 60))
		}
	}
	if len(preview.Missing) > 0 {
		return fmt.Errorf("missing variables: %s", strings.Join(preview.Missing, ", "))
	}
	return nil
}

// kvFlag collects repeated name=value flags.
type kvFlag map[string]string

func (f kvFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (f kvFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || strings.TrimSpace(k) == "" {
		return fmt.Errorf("expected name=value, got %q", s)
	}
	f[strings.TrimSpace(k)] = v
	return nil
}

func textArg(content, file string) (string, error) {
	if file == "" {
		if strings.TrimSpace(content) == "" {
			return "", fmt.Errorf("--content or --file is required")
		}
		return content, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", file, err)
	}
	return string(data), nil
}
