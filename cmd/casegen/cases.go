package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/glamour"

	"github.com/ldi/casegen/internal/api"
	"github.com/ldi/casegen/internal/errs"
	"github.com/ldi/casegen/pkg/models"
)

func runProjects(ctx context.Context, a *app, args []string) error {
	fs := a.flags("projects")
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 20, "Page size (max 100)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.svc.ListProjects(ctx, *page, *size)
	if err != nil {
		return err
	}
	current, err := a.db.CurrentProjectID(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "  %-6s %-30s %-8s %s\n", "ID", "NAME", "ACTIVE", "DESCRIPTION")
	fmt.Fprintln(a.out, strings.Repeat("-", 80))
	for _, p := range res.Items {
		mark := " "
		if p.ID == current {
			mark = "*"
		}
		fmt.Fprintf(a.out, "%s %-6d %-30s %-8t %s\n", mark, p.ID, p.Name, p.IsActive, oneLine(p.Description, 40))
	}
	printPage(a, res.Page, res.Pages, res.Total)
	return nil
}

func runUse(ctx context.Context, a *app, args []string) error {
	var project *models.Project
	if len(args) > 0 {
		id, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil || id <= 0 {
			return errs.Invalid("project_id", "invalid project id %q", args[0])
		}
		project, err = a.svc.GetProject(ctx, id)
		if err != nil {
			return err
		}
	} else {
		res, err := a.svc.ListProjects(ctx, 1, api.MaxSize)
		if err != nil {
			return err
		}
		current, err := a.db.CurrentProjectID(ctx)
		if err != nil {
			return err
		}
		project, err = pickProject(res.Items, current)
		if err != nil {
			return fmt.Errorf("failed to run project picker: %w", err)
		}
		if project == nil {
			return nil
		}
	}

	if err := a.projects.Select(ctx, project); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ Using project %s (#%d)\n", project.Name, project.ID)
	return nil
}

func runBusinessTypes(ctx context.Context, a *app, args []string) error {
	fs := a.flags("business-types")
	search := fs.String("search", "", "Search by code or name")
	active := fs.Bool("active", false, "Only active business types")
	catalogue := fs.Bool("generation", false, "List the business types available for generation")
	page := fs.Int("page", 1, "Page number")
	size := fs.Int("size", 50, "Page size (max 100)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	projectID := a.projectID(ctx)

	if *catalogue {
		types, err := a.svc.ListGenerationBusinessTypes(ctx, projectID)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-10s %-24s %s\n", "CODE", "NAME", "DESCRIPTION")
		fmt.Fprintln(a.out, strings.Repeat("-", 70))
		for _, bt := range types {
			fmt.Fprintf(a.out, "%-10s %-24s %s\n", bt.Code, bt.Name, oneLine(bt.Description, 40))
		}
		return nil
	}

	filter := models.BusinessTypeFilter{ProjectID: projectID, Search: *search, Page: *page, Size: *size}
	if *active {
		filter.IsActive = active
	}
	res, err := a.svc.ListBusinessTypes(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%-6s %-10s %-24s %-8s %s\n", "ID", "CODE", "NAME", "ACTIVE", "DESCRIPTION")
	fmt.Fprintln(a.out, strings.Repeat("-", 80))
	for _, bt := range res.Items {
		fmt.Fprintf(a.out, "%-6d %-10s %-24s %-8t %s\n", bt.ID, bt.Code, bt.Name, bt.IsActive, oneLine(bt.Description, 30))
	}
	printPage(a, res.Page, res.Pages, res.Total)
	return nil
}

type caseFlags struct {
	bt       *string
	status   *string
	priority *string
	keyword  *string
	points   *string
	page     *int
	size     *int
}

func newCaseFlags(a *app, name string, withPoints bool) (*caseFlags, func([]string) error) {
	fs := a.flags(name)
	cf := &caseFlags{
		bt:       fs.String("bt", "", "Business type code"),
		status:   fs.String("status", "", "draft, approved or completed"),
		priority: fs.String("priority", "", "low, medium or high"),
		keyword:  fs.String("keyword", "", "Search in names and descriptions"),
		page:     fs.Int("page", 1, "Page number"),
		size:     fs.Int("size", 20, "Page size (max 100)"),
	}
	empty := ""
	cf.points = &empty
	if withPoints {
		cf.points = fs.String("points", "", "Comma-separated test point ids")
	}
	return cf, fs.Parse
}

func (cf *caseFlags) filter(projectID int64) models.CaseFilter {
	return models.CaseFilter{
		ProjectID:    projectID,
		BusinessType: *cf.bt,
		Status:       models.CaseStatus(*cf.status),
		Priority:     models.Priority(*cf.priority),
		Keyword:      *cf.keyword,
		TestPointIDs: api.ParseIDs(splitList(*cf.points)),
		Page:         *cf.page,
		Size:         *cf.size,
	}
}

func runTestPoints(ctx context.Context, a *app, args []string) error {
	cf, parse := newCaseFlags(a, "test-points", false)
	if err := parse(args); err != nil {
		return err
	}
	res, err := a.svc.ListTestPoints(ctx, cf.filter(a.projectID(ctx)))
	if err != nil {
		return err
	}
	printCases(a, res)
	return nil
}

func runTestCases(ctx context.Context, a *app, args []string) error {
	cf, parse := newCaseFlags(a, "test-cases", true)
	if err := parse(args); err != nil {
		return err
	}
	res, err := a.svc.ListTestCases(ctx, cf.filter(a.projectID(ctx)))
	if err != nil {
		return err
	}
	printCases(a, res)
	return nil
}

func printCases(a *app, res *models.Page[models.UnifiedTestCase]) {
	fmt.Fprintf(a.out, "%-6s %-14s %-8s %-40s %-10s %s\n", "ID", "CASE_ID", "BT", "NAME", "STATUS", "PRIORITY")
	fmt.Fprintln(a.out, strings.Repeat("-", 96))
	for _, c := range res.Items {
		fmt.Fprintf(a.out, "%-6d %-14s %-8s %-40s %-10s %s\n",
			c.ID, orDash(c.CaseID), c.BusinessType, oneLine(c.Name, 40), c.Status, orDash(string(c.Priority)))
	}
	printPage(a, res.Page, res.Pages, res.Total)
}

func runShow(ctx context.Context, a *app, args []string) error {
	fs := a.flags("show")
	raw := fs.Bool("raw", false, "Print markdown without rendering")
	style := fs.String("style", "auto", "glamour style: auto, dark, light or notty")
	width := fs.Int("width", 100, "Word wrap width")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() == 0 {
		return fmt.Errorf("usage: casegen show <id>")
	}
	id, err := strconv.ParseInt(fs.Arg(0), 10, 64)
	if err != nil {
		return errs.Invalid("id", "invalid id %q", fs.Arg(0))
	}

	tc, err := a.svc.GetUnifiedTestCase(ctx, id)
	if err != nil {
		return err
	}
	md := caseMarkdown(tc)
	if *raw {
		fmt.Fprint(a.out, md)
		return nil
	}

	styleOpt := glamour.WithAutoStyle()
	if *style != "auto" {
		styleOpt = glamour.WithStandardStyle(*style)
	}
	r, err := glamour.NewTermRenderer(styleOpt, glamour.WithWordWrap(*width))
	if err != nil {
		return fmt.Errorf("failed to create renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("failed to render test case: %w", err)
	}
	fmt.Fprint(a.out, out)
	return nil
}

// caseMarkdown lays a record out the way the detail view shows it.
func caseMarkdown(tc *models.UnifiedTestCase) string {
	var sb strings.Builder
	kind := "测试点"
	if tc.Stage == models.StageTestCase {
		kind = "测试用例"
	}
	fmt.Fprintf(&sb, "# %s\n\n", tc.Name)
	fmt.Fprintf(&sb, "| 字段 | 值 |\n|---|---|\n")
	fmt.Fprintf(&sb, "| ID | %d |\n", tc.ID)
	if tc.CaseID != "" {
		fmt.Fprintf(&sb, "| 编号 | %s |\n", tc.CaseID)
	}
	fmt.Fprintf(&sb, "| 类型 | %s |\n", kind)
	fmt.Fprintf(&sb, "| 业务类型 | %s |\n", tc.BusinessType)
	fmt.Fprintf(&sb, "| 状态 | %s |\n", tc.Status)
	if tc.Priority != "" {
		fmt.Fprintf(&sb, "| 优先级 | %s |\n", tc.Priority)
	}
	if ids := tc.SourcePointIDs(); len(ids) > 0 {
		parts := make([]string, len(ids))
		for i, id := range ids {
			parts[i] = strconv.FormatInt(id, 10)
		}
		fmt.Fprintf(&sb, "| 关联测试点 | %s |\n", strings.Join(parts, ", "))
	}
	sb.WriteString("\n")

	if tc.Description != "" {
		fmt.Fprintf(&sb, "## 描述\n\n%s\n\n", tc.Description)
	}
	if tc.Preconditions != "" {
		fmt.Fprintf(&sb, "## 前置条件\n\n%s\n\n", tc.Preconditions)
	}
	if len(tc.Steps) > 0 {
		steps := append([]models.TestStep(nil), tc.Steps...)
		sort.SliceStable(steps, func(i, j int) bool { return steps[i].StepNumber < steps[j].StepNumber })
		sb.WriteString("## 测试步骤\n\n| # | 操作 | 预期 |\n|---|---|---|\n")
		for _, s := range steps {
			fmt.Fprintf(&sb, "| %d | %s | %s |\n", s.StepNumber, cell(s.Action), cell(s.Expected))
		}
		sb.WriteString("\n")
	}
	if tc.ExpectedResult != "" {
		fmt.Fprintf(&sb, "## 预期结果\n\n%s\n\n", tc.ExpectedResult)
	}
	if tc.Remarks != "" {
		fmt.Fprintf(&sb, "## 备注\n\n%s\n", tc.Remarks)
	}
	return sb.String()
}

func cell(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "|", "\\|"), "\n", "<br>")
}

func runDelete(ctx context.Context, a *app, args []string) error {
	ids, err := idArgs(args)
	if err != nil {
		return err
	}
	if len(ids) == 1 {
		if err := a.svc.DeleteUnifiedTestCase(ctx, ids[0]); err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ Deleted #%d\n", ids[0])
		return nil
	}
	res, err := a.svc.BatchDeleteUnifiedTestCases(ctx, ids)
	if err != nil {
		return err
	}
	printBatch(a, "Deleted", res)
	return nil
}

func runMark(ctx context.Context, a *app, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: casegen mark <draft|approved|completed> <id> [id...]")
	}
	status := models.CaseStatus(args[0])
	ids, err := idArgs(args[1:])
	if err != nil {
		return err
	}
	if len(ids) == 1 {
		tc, err := a.svc.UpdateUnifiedTestCaseStatus(ctx, ids[0], status)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "✓ #%d is now %s\n", tc.ID, tc.Status)
		return nil
	}
	res, err := a.svc.BatchUpdateStatus(ctx, ids, status)
	if err != nil {
		return err
	}
	printBatch(a, "Updated", res)
	return nil
}

func printBatch(a *app, verb string, res *models.BatchResult) {
	fmt.Fprintf(a.out, "✓ %s %d\n", verb, res.SuccessCount)
	if res.FailedCount > 0 {
		fmt.Fprintf(a.out, "✗ Failed %d %v\n", res.FailedCount, res.FailedIDs)
		for _, e := range res.Errors {
			fmt.Fprintf(a.out, "  - %s\n", e)
		}
	}
}

func runStats(ctx context.Context, a *app, args []string) error {
	fs := a.flags("stats")
	bt := fs.String("bt", "", "Business type code")
	if err := fs.Parse(args); err != nil {
		return err
	}
	stats, err := a.svc.GetStatistics(ctx, a.projectID(ctx), *bt)
	if err != nil {
		return err
	}

	fmt.Fprintln(a.out, "Test Case Statistics")
	fmt.Fprintln(a.out, "====================")
	fmt.Fprintf(a.out, "Total:       %d\n", stats.TotalCount)
	fmt.Fprintf(a.out, "Test points: %d\n", stats.TestPointCount)
	fmt.Fprintf(a.out, "Test cases:  %d\n", stats.TestCaseCount)
	printCounts(a, "By status", stats.ByStatus)
	printCounts(a, "By business type", stats.ByBusinessType)
	return nil
}

func printCounts(a *app, title string, counts map[string]int) {
	if len(counts) == 0 {
		return
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(a.out, "\n%s:\n", title)
	for _, k := range keys {
		fmt.Fprintf(a.out, "  %-12s %d\n", k, counts[k])
	}
}

func runExport(ctx context.Context, a *app, args []string) error {
	fs := a.flags("export")
	bt := fs.String("bt", "", "Business type code")
	stage := fs.String("stage", "", "test_point or test_case")
	status := fs.String("status", "", "draft, approved or completed")
	points := fs.String("points", "", "Comma-separated test point ids")
	dir := fs.String("dir", a.cfg.ExportDir, "Output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	dl, err := a.svc.ExportTestCases(ctx, models.CaseFilter{
		ProjectID:    a.projectID(ctx),
		BusinessType: *bt,
		Stage:        models.Stage(*stage),
		Status:       models.CaseStatus(*status),
		TestPointIDs: api.ParseIDs(splitList(*points)),
	})
	if err != nil {
		return err
	}
	path, err := dl.Save(*dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "✓ Exported %d bytes to %s\n", len(dl.Data), path)
	return nil
}

func runPrompts(ctx context.Context, a *app, args []string) error {
	sub := "list"
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		sub, args = args[0], args[1:]
	}

	switch sub {
	case "list":
		fs := a.flags("prompts list")
		typ := fs.String("type", "", "Prompt type")
		bt := fs.String("bt", "", "Business type code")
		status := fs.String("status", "", "draft, active or archived")
		search := fs.String("search", "", "Search by name")
		page := fs.Int("page", 1, "Page number")
		size := fs.Int("size", 20, "Page size (max 100)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		res, err := a.svc.ListPrompts(ctx, models.PromptFilter{
			Type: *typ, BusinessType: *bt, Status: models.PromptStatus(*status), Search: *search, Page: *page, Size: *size,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%-6s %-30s %-16s %-8s %-10s %s\n", "ID", "NAME", "TYPE", "BT", "STATUS", "VERSION")
		fmt.Fprintln(a.out, strings.Repeat("-", 86))
		for _, p := range res.Items {
			bt := "-"
			if p.BusinessType != nil {
				bt = *p.BusinessType
			}
			fmt.Fprintf(a.out, "%-6d %-30s %-16s %-8s %-10s %s\n", p.ID, oneLine(p.Name, 30), p.Type, bt, p.Status, orDash(p.Version))
		}
		printPage(a, res.Page, res.Pages, res.Total)
		return nil

	case "show":
		ids, err := idArgs(args)
		if err != nil {
			return err
		}
		p, err := a.svc.GetPrompt(ctx, ids[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "%s (#%d, %s, %s)\n", p.Name, p.ID, p.Type, p.Status)
		if len(p.Variables) > 0 {
			fmt.Fprintf(a.out, "Variables: %s\n", strings.Join(p.Variables, ", "))
		}
		fmt.Fprintf(a.out, "\n%s\n", p.Content)
		return nil

	case "versions":
		ids, err := idArgs(args)
		if err != nil {
			return err
		}
		versions, err := a.svc.ListPromptVersions(ctx, ids[0])
		if err != nil {
			return err
		}
		for _, v := range versions {
			fmt.Fprintf(a.out, "%-10s %s  %s\n", v.Version, v.CreatedAt.Format("2006-01-02 15:04"), v.ChangeLog)
		}
		return nil

	case "combinations":
		fs := a.flags("prompts combinations")
		bt := fs.String("bt", "", "Business type code")
		if err := fs.Parse(args); err != nil {
			return err
		}
		res, err := a.svc.ListPromptCombinations(ctx, *bt, 1, api.MaxSize)
		if err != nil {
			return err
		}
		for _, c := range res.Items {
			fmt.Fprintf(a.out, "%-6d %-30s %-8s active=%t prompts=%v\n", c.ID, c.Name, c.BusinessType, c.IsActive, c.PromptIDs)
		}
		return nil
	}
	return fmt.Errorf("unknown prompts command: %s", sub)
}

func idArgs(args []string) ([]int64, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("at least one id is required")
	}
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		for _, part := range splitList(arg) {
			id, err := strconv.ParseInt(part, 10, 64)
			if err != nil || id <= 0 {
				return nil, errs.Invalid("id", "invalid id %q", part)
			}
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func printPage(a *app, page, pages, total int) {
	if pages > 1 {
		fmt.Fprintf(a.out, "\nPage %d/%d, %d total\n", page, pages, total)
	} else {
		fmt.Fprintf(a.out, "\n%d total\n", total)
	}
}

func oneLine(s string, max int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > max {
		return string(r[:max-1]) + "…"
	}
	return s
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func errOptions(op string) errs.Options {
	return errs.Options{Context: op}
}
